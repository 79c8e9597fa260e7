// Package cmd provides CLI commands for the tproto binary.
package cmd

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/tproto/cli/config"
	"github.com/justapithecus/tproto/transport"
	"github.com/justapithecus/tproto/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitError     = 1
	exitFrame     = 2
	exitIntegrity = 3
)

// Shared flags.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// ConfigFlag points at a tproto.yaml file.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to tproto.yaml (flags override file values)",
		EnvVars: []string{"TPROTO_CONFIG"},
	}

	// LogLevelFlag sets the minimum log level.
	LogLevelFlag = &cli.StringFlag{
		Name:  "log-level",
		Usage: "Log level: debug, info, warn, error",
	}
)

// charsetFlags are shared by encode and send.
func charsetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Uint64Flag{
			Name:  "seq",
			Usage: "Sequence index of the first packet",
			Value: 1,
		},
		&cli.StringFlag{
			Name:  "charset",
			Usage: "Charset label carried in the header",
			Value: "utf-8",
		},
		&cli.BoolFlag{
			Name:  "text",
			Usage: "Transcode the payload from UTF-8 into --charset before encoding",
		},
	}
}

// transportFlags are shared by send and listen.
func transportFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "transport",
			Aliases: []string{"t"},
			Usage:   "Transport: tcp or quic",
		},
		&cli.StringFlag{
			Name:  "tls-cert",
			Usage: "PEM certificate file",
		},
		&cli.StringFlag{
			Name:  "tls-key",
			Usage: "PEM private key file",
		},
		&cli.StringFlag{
			Name:  "tls-ca",
			Usage: "PEM CA bundle (verifies peers; requires client certs when listening)",
		},
		&cli.BoolFlag{
			Name:  "tls-insecure",
			Usage: "Skip server certificate verification when dialing",
		},
	}
}

// loadConfig reads --config when set and returns an empty config otherwise.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// stringFlag returns the flag value when set on the command line, the
// config value when non-empty, and the flag default otherwise.
func stringFlag(c *cli.Context, name, fromConfig string) string {
	if c.IsSet(name) || fromConfig == "" {
		return c.String(name)
	}
	return fromConfig
}

func intFlag(c *cli.Context, name string, fromConfig int) int {
	if c.IsSet(name) || fromConfig == 0 {
		return c.Int(name)
	}
	return fromConfig
}

func durationFlag(c *cli.Context, name string, fromConfig config.Duration) time.Duration {
	if c.IsSet(name) || fromConfig.Duration == 0 {
		return c.Duration(name)
	}
	return fromConfig.Duration
}

// tlsFiles merges TLS flags over the config file.
func tlsFiles(c *cli.Context, cfg config.TLSConfig) transport.TLSFiles {
	return transport.TLSFiles{
		CertFile:           stringFlag(c, "tls-cert", cfg.CertFile),
		KeyFile:            stringFlag(c, "tls-key", cfg.KeyFile),
		CAFile:             stringFlag(c, "tls-ca", cfg.CAFile),
		InsecureSkipVerify: c.Bool("tls-insecure") || cfg.InsecureSkipVerify,
	}
}

// buildTLS resolves the TLS config for network. Listeners on quic without
// files get a self-signed certificate; dialers on quic must opt in.
func buildTLS(files transport.TLSFiles, network string, selfSigned, listening bool) (*tls.Config, error) {
	if files.CertFile != "" || files.KeyFile != "" || files.CAFile != "" || files.InsecureSkipVerify {
		if listening && files.CertFile == "" {
			return nil, errors.New("listening with TLS requires --tls-cert and --tls-key")
		}
		return transport.LoadTLS(files)
	}
	if listening && (selfSigned || network == types.TransportQUIC) {
		return transport.SelfSigned("localhost", "127.0.0.1", "::1")
	}
	if network == types.TransportQUIC {
		return nil, errors.New("quic requires TLS: pass --tls-ca or --tls-insecure")
	}
	return nil, nil
}

// network resolves --transport over the config value.
func network(c *cli.Context, fromConfig string) (string, error) {
	n := stringFlag(c, "transport", fromConfig)
	switch n {
	case "":
		return types.TransportTCP, nil
	case types.TransportTCP, types.TransportQUIC:
		return n, nil
	default:
		return "", fmt.Errorf("invalid transport %q (must be tcp or quic)", n)
	}
}

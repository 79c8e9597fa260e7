package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/tproto/cli/render"
	"github.com/justapithecus/tproto/iox"
	"github.com/justapithecus/tproto/log"
	"github.com/justapithecus/tproto/metrics"
	"github.com/justapithecus/tproto/session"
	"github.com/justapithecus/tproto/transport"
	"github.com/justapithecus/tproto/types"
)

// SendResponse summarizes a send command.
type SendResponse struct {
	Address   string `json:"address" yaml:"address"`
	Transport string `json:"transport" yaml:"transport"`
	FirstSeq  uint64 `json:"first_seq" yaml:"first_seq"`
	Packets   int64  `json:"packets" yaml:"packets"`
	Bytes     int    `json:"bytes" yaml:"bytes"`
}

// SendCommand returns the send command.
// Each payload argument becomes one packet; sequence indices count up from --seq.
func SendCommand() *cli.Command {
	flags := []cli.Flag{
		FormatFlag,
		ConfigFlag,
		LogLevelFlag,
		&cli.DurationFlag{
			Name:  "dial-timeout",
			Usage: "Connection timeout",
			Value: transport.DefaultDialTimeout,
		},
	}
	flags = append(flags, transportFlags()...)
	flags = append(flags, charsetFlags()...)

	return &cli.Command{
		Name:      "send",
		Usage:     "Dial a listener and send payloads as packets",
		ArgsUsage: "<addr> <payload|->...",
		Flags:     flags,
		Action:    sendAction,
	}
}

func sendAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	args := c.Args().Slice()
	addr := cfg.Dial.Address
	if len(args) > 0 {
		addr, args = args[0], args[1:]
	}
	if addr == "" {
		return cli.Exit("address required", exitError)
	}
	if len(args) == 0 {
		return cli.Exit("at least one payload required", exitError)
	}

	netw, err := network(c, cfg.Dial.Transport)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	tlsConf, err := buildTLS(tlsFiles(c, cfg.TLS), netw, false, false)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}

	logger, err := newLogger(c, cfg.Log.Level)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	defer iox.DiscardErr(logger.Sync)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stream, err := transport.Dial(ctx, transport.Config{
		Network:     netw,
		Address:     addr,
		TLS:         tlsConf,
		DialTimeout: durationFlag(c, "dial-timeout", cfg.Dial.DialTimeout),
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("dial %s: %v", addr, err), exitError)
	}

	collector := metrics.NewCollector(netw, nil)
	conn := session.New(stream, types.ConnMeta{
		Transport: netw,
		Peer:      stream.RemoteAddr().String(),
	}, session.Config{}, logger, collector)
	defer iox.DiscardClose(conn)

	resp := SendResponse{Address: addr, Transport: netw, FirstSeq: c.Uint64("seq")}
	start := time.Now()
	for i, arg := range args {
		payload, err := readPayloadArg(c, arg)
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}
		p, err := buildPacket(c, payload, resp.FirstSeq+uint64(i))
		if err != nil {
			return cli.Exit(err.Error(), exitError)
		}
		if err := conn.Send(p); err != nil {
			return cli.Exit(err.Error(), exitError)
		}
		resp.Bytes += p.PayloadLength
	}
	resp.Packets = collector.Snapshot().PacketsSent

	logger.Debug("send complete", map[string]any{
		"packets":  resp.Packets,
		"duration": time.Since(start).String(),
	})

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitError)
	}
	return r.Render(resp)
}

// newLogger builds a stderr logger at --log-level, falling back to the
// config level and then info.
func newLogger(c *cli.Context, fromConfig string) (*log.Logger, error) {
	level, err := log.ParseLevel(stringFlag(c, "log-level", fromConfig))
	if err != nil {
		return nil, err
	}
	return log.NewLogger(nil).WithLevel(level), nil
}

package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents a tproto.yaml configuration file.
// All values are optional and act as defaults for command flags.
// CLI flags always override config values.
type Config struct {
	Listen  EndpointConfig `yaml:"listen"`
	Dial    EndpointConfig `yaml:"dial"`
	TLS     TLSConfig      `yaml:"tls"`
	Session SessionConfig  `yaml:"session"`
	Log     LogConfig      `yaml:"log"`
	Adapter AdapterConfig  `yaml:"adapter"`
	Archive ArchiveConfig  `yaml:"archive"`
}

// EndpointConfig is a transport and address pair.
type EndpointConfig struct {
	Transport   string   `yaml:"transport"`
	Address     string   `yaml:"address"`
	DialTimeout Duration `yaml:"dial_timeout,omitempty"`
	IdleTimeout Duration `yaml:"idle_timeout,omitempty"`
	MaxConns    int      `yaml:"max_conns,omitempty"`
}

// TLSConfig names PEM files. Empty means plaintext TCP.
type TLSConfig struct {
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`

	// SelfSigned generates an ephemeral certificate when no files are set.
	SelfSigned bool `yaml:"self_signed"`
}

// Enabled reports whether any TLS setting is present.
func (c TLSConfig) Enabled() bool {
	return c.CertFile != "" || c.CAFile != "" || c.InsecureSkipVerify || c.SelfSigned
}

// SessionConfig holds per-connection defaults.
type SessionConfig struct {
	ReadBuffer     int    `yaml:"read_buffer"`
	ChecksumPolicy string `yaml:"checksum_policy"`
	MaxPayloadSize int    `yaml:"max_payload_size"`
	MaxFieldLength int    `yaml:"max_field_length"`
}

// LogConfig holds logging defaults.
type LogConfig struct {
	Level string `yaml:"level"`
}

// AdapterConfig holds relay adapter defaults.
type AdapterConfig struct {
	Type           string            `yaml:"type"`
	URL            string            `yaml:"url"`
	Channel        string            `yaml:"channel,omitempty"`
	ChannelPerConn bool              `yaml:"channel_per_conn,omitempty"`
	Headers        map[string]string `yaml:"headers,omitempty"`
	Encoding       string            `yaml:"encoding,omitempty"`
	Timeout        Duration          `yaml:"timeout,omitempty"`
	Retries        *int              `yaml:"retries,omitempty"`
}

// ArchiveConfig holds Lode archive defaults.
type ArchiveConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Dataset     string `yaml:"dataset"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	FlushCount  int    `yaml:"flush_count"`
}

// Validate checks enumerated values and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	for _, ep := range []struct {
		name      string
		transport string
	}{{"listen", c.Listen.Transport}, {"dial", c.Dial.Transport}} {
		switch ep.transport {
		case "", "tcp", "quic":
		default:
			errs = append(errs, fmt.Errorf("%s.transport: invalid value %q (must be tcp or quic)", ep.name, ep.transport))
		}
	}
	if c.TLS.CertFile != "" && c.TLS.KeyFile == "" {
		errs = append(errs, errors.New("tls.key_file is required with tls.cert_file"))
	}
	switch c.Session.ChecksumPolicy {
	case "", "deliver", "drop", "close":
	default:
		errs = append(errs, fmt.Errorf("session.checksum_policy: invalid value %q", c.Session.ChecksumPolicy))
	}
	switch c.Adapter.Type {
	case "":
	case "redis", "webhook":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for adapter type %q", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("adapter.type: invalid value %q (must be redis or webhook)", c.Adapter.Type))
	}
	switch c.Adapter.Encoding {
	case "", "json", "msgpack":
	default:
		errs = append(errs, fmt.Errorf("adapter.encoding: invalid value %q", c.Adapter.Encoding))
	}
	switch c.Archive.Backend {
	case "":
	case "fs", "s3":
		if c.Archive.Path == "" {
			errs = append(errs, fmt.Errorf("archive.path is required for backend %q", c.Archive.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend: invalid value %q (must be fs or s3)", c.Archive.Backend))
	}
	return errors.Join(errs...)
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

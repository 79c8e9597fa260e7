// Package transport provides the byte-stream transports packets travel on.
//
// Two networks are supported: plain or TLS-wrapped TCP, and QUIC with a
// single bidirectional stream per connection. Both hand the caller a
// Stream, which the session layer reads chunks from and writes frames to.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/justapithecus/tproto/types"
)

// ALPN is the application protocol negotiated over TLS and QUIC.
const ALPN = "tproto"

// Defaults.
const (
	DefaultDialTimeout = 10 * time.Second
	DefaultIdleTimeout = time.Minute
)

var (
	// ErrUnknownNetwork is returned for networks other than tcp and quic.
	ErrUnknownNetwork = errors.New("transport: unknown network")
	// ErrTLSRequired is returned when QUIC is requested without a TLS config.
	ErrTLSRequired = errors.New("transport: quic requires a TLS config")
	// ErrNoAddress is returned when Config.Address is empty.
	ErrNoAddress = errors.New("transport: address is required")
)

// Config selects and configures a transport.
type Config struct {
	// Network is "tcp" or "quic".
	Network string
	// Address is host:port to listen on or dial.
	Address string
	// TLS is optional for tcp and required for quic.
	TLS *tls.Config
	// DialTimeout bounds connection and stream establishment (default 10s).
	DialTimeout time.Duration
	// IdleTimeout closes idle QUIC connections (default 1m).
	IdleTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Network == "" {
		c.Network = types.TransportTCP
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	return c
}

func (c Config) validate() error {
	if c.Address == "" {
		return ErrNoAddress
	}
	switch c.Network {
	case types.TransportTCP:
		return nil
	case types.TransportQUIC:
		if c.TLS == nil {
			return ErrTLSRequired
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownNetwork, c.Network)
	}
}

// Stream is one bidirectional byte stream.
type Stream interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// Listener accepts inbound streams.
type Listener interface {
	// Accept blocks until a stream is available or ctx is done.
	Accept(ctx context.Context) (Stream, error)
	// Addr is the bound local address.
	Addr() net.Addr
	// Close stops accepting. Streams already accepted stay open.
	Close() error
	// Network reports "tcp" or "quic".
	Network() string
}

// Listen binds a listener for cfg.Network.
func Listen(ctx context.Context, cfg Config) (Listener, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Network == types.TransportQUIC {
		return listenQUIC(cfg)
	}
	return listenTCP(ctx, cfg)
}

// Dial opens a stream to cfg.Address.
func Dial(ctx context.Context, cfg Config) (Stream, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Network == types.TransportQUIC {
		return dialQUIC(ctx, cfg)
	}
	return dialTCP(ctx, cfg)
}

// withALPN returns a copy of conf advertising ALPN when it has no protocols.
func withALPN(conf *tls.Config) *tls.Config {
	if conf == nil {
		return nil
	}
	out := conf.Clone()
	if len(out.NextProtos) == 0 {
		out.NextProtos = []string{ALPN}
	}
	return out
}

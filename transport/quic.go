package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/justapithecus/tproto/types"
)

// Application error codes sent on QUIC connection close.
const (
	quicCodeNoError       quic.ApplicationErrorCode = 0x0
	quicCodeStreamTimeout quic.ApplicationErrorCode = 0x1
)

type quicListener struct {
	ln            *quic.Listener
	streamTimeout time.Duration

	// streams hands ready streams to Accept. Unbuffered so a stream is
	// never left behind in the channel after Close.
	streams chan *quicStream
	ctx     context.Context
	cancel  context.CancelFunc

	failed  chan struct{}
	failErr error

	closeOnce sync.Once
	closeErr  error
}

func quicConfig(cfg Config) *quic.Config {
	return &quic.Config{
		Versions:              []quic.Version{quic.Version2, quic.Version1},
		HandshakeIdleTimeout:  cfg.DialTimeout,
		MaxIdleTimeout:        cfg.IdleTimeout,
		KeepAlivePeriod:       cfg.IdleTimeout / 2,
		MaxIncomingStreams:    1,
		MaxIncomingUniStreams: -1,
	}
}

func listenQUIC(cfg Config) (*quicListener, error) {
	ln, err := quic.ListenAddr(cfg.Address, withALPN(cfg.TLS), quicConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("transport: quic listen %s: %w", cfg.Address, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &quicListener{
		ln:            ln,
		streamTimeout: cfg.DialTimeout,
		streams:       make(chan *quicStream),
		ctx:           ctx,
		cancel:        cancel,
		failed:        make(chan struct{}),
	}
	go l.acceptConns()
	return l, nil
}

// acceptConns accepts connections until the listener fails and waits for
// each connection's stream on its own goroutine.
func (l *quicListener) acceptConns() {
	for {
		conn, err := l.ln.Accept(l.ctx)
		if err != nil {
			l.failErr = err
			close(l.failed)
			return
		}
		go l.awaitStream(conn)
	}
}

// awaitStream waits up to streamTimeout for conn to open its stream, then
// offers the stream to Accept. A peer that never opens one is closed.
func (l *quicListener) awaitStream(conn quic.Connection) {
	ctx, cancel := context.WithTimeout(l.ctx, l.streamTimeout)
	defer cancel()

	str, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(quicCodeStreamTimeout, "no stream opened")
		return
	}

	select {
	case l.streams <- &quicStream{Stream: str, conn: conn}:
	case <-l.ctx.Done():
		_ = conn.CloseWithError(quicCodeNoError, "listener closed")
	}
}

// Accept returns the next connection whose stream is open. Connections
// still waiting for their stream never delay one that is ready.
func (l *quicListener) Accept(ctx context.Context) (Stream, error) {
	select {
	case s := <-l.streams:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.ctx.Done():
		return nil, fmt.Errorf("transport: quic accept: %w", net.ErrClosed)
	case <-l.failed:
		if l.ctx.Err() != nil {
			return nil, fmt.Errorf("transport: quic accept: %w", net.ErrClosed)
		}
		return nil, fmt.Errorf("transport: quic accept: %w", l.failErr)
	}
}

func (l *quicListener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting and closes connections still waiting to be
// handed out. Streams already returned by Accept stay open.
func (l *quicListener) Close() error {
	l.closeOnce.Do(func() {
		l.cancel()
		l.closeErr = l.ln.Close()
	})
	return l.closeErr
}

func (l *quicListener) Network() string { return types.TransportQUIC }

func dialQUIC(ctx context.Context, cfg Config) (Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	conn, err := quic.DialAddr(dialCtx, cfg.Address, withALPN(cfg.TLS), quicConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("transport: quic dial %s: %w", cfg.Address, err)
	}
	str, err := conn.OpenStreamSync(dialCtx)
	if err != nil {
		_ = conn.CloseWithError(quicCodeNoError, "")
		return nil, fmt.Errorf("transport: quic open stream: %w", err)
	}
	return &quicStream{Stream: str, conn: conn, linger: cfg.DialTimeout}, nil
}

// quicStream binds a stream to its connection so closing one closes both.
type quicStream struct {
	quic.Stream
	conn quic.Connection
	// linger is how long the dialing side waits for the peer to close
	// the connection after the write side is finished. Zero on the
	// accepting side.
	linger time.Duration
}

func (s *quicStream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Close finishes the write direction, lets the peer drain it, then
// closes the connection.
func (s *quicStream) Close() error {
	err := s.Stream.Close()
	if s.linger > 0 {
		select {
		case <-s.conn.Context().Done():
		case <-time.After(s.linger):
		}
	}
	_ = s.conn.CloseWithError(quicCodeNoError, "")
	return err
}

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/justapithecus/tproto/types"
)

type tcpListener struct {
	ln  net.Listener
	tcp *net.TCPListener
}

func listenTCP(ctx context.Context, cfg Config) (*tcpListener, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("transport: tcp listen %s: %w", cfg.Address, err)
	}
	l := &tcpListener{ln: ln}
	l.tcp, _ = ln.(*net.TCPListener)
	if cfg.TLS != nil {
		l.ln = tls.NewListener(ln, withALPN(cfg.TLS))
	}
	return l, nil
}

// Accept unblocks on ctx cancellation by expiring the listener deadline.
func (l *tcpListener) Accept(ctx context.Context) (Stream, error) {
	if l.tcp != nil {
		stop := context.AfterFunc(ctx, func() {
			_ = l.tcp.SetDeadline(time.Now())
		})
		defer func() {
			if stop() {
				return
			}
			_ = l.tcp.SetDeadline(time.Time{})
		}()
	}

	conn, err := l.ln.Accept()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, net.ErrClosed
		}
		return nil, fmt.Errorf("transport: tcp accept: %w", err)
	}
	return conn, nil
}

func (l *tcpListener) Addr() net.Addr { return l.ln.Addr() }

func (l *tcpListener) Close() error { return l.ln.Close() }

func (l *tcpListener) Network() string { return types.TransportTCP }

func dialTCP(ctx context.Context, cfg Config) (Stream, error) {
	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	if cfg.TLS != nil {
		td := &tls.Dialer{NetDialer: dialer, Config: withALPN(cfg.TLS)}
		conn, err := td.DialContext(ctx, "tcp", cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("transport: tls dial %s: %w", cfg.Address, err)
		}
		return conn, nil
	}

	conn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("transport: tcp dial %s: %w", cfg.Address, err)
	}
	return conn, nil
}

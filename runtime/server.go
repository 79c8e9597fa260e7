// Package runtime runs the receiving side: it accepts streams, drives a
// session per stream, and fans deliveries out to sinks.
package runtime

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/justapithecus/tproto/log"
	"github.com/justapithecus/tproto/metrics"
	"github.com/justapithecus/tproto/session"
	"github.com/justapithecus/tproto/transport"
	"github.com/justapithecus/tproto/types"
)

// Config configures a Server.
type Config struct {
	// Session is applied to every accepted stream.
	Session session.Config
	// MaxConns caps concurrent sessions. Zero means unlimited.
	MaxConns int
}

// Server accepts streams from a Listener and runs a session on each.
// The server never writes to accepted streams.
type Server struct {
	listener  transport.Listener
	config    Config
	sinks     []Sink
	logger    *log.Logger
	collector *metrics.Collector
	newID     func() string

	wg sync.WaitGroup
}

// NewServer creates a server. logger and collector may be nil.
// The server takes ownership of sinks and closes them when Serve returns.
func NewServer(l transport.Listener, cfg Config, sinks []Sink, logger *log.Logger, collector *metrics.Collector) *Server {
	if logger == nil {
		logger = log.Nop()
	}
	return &Server{
		listener:  l,
		config:    cfg,
		sinks:     sinks,
		logger:    logger,
		collector: collector,
		newID:     func() string { return uuid.NewString() },
	}
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts streams until ctx is canceled or the listener fails.
// It waits for every session to end and then closes the sinks.
// Returns nil on cancellation.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var slots chan struct{}
	if s.config.MaxConns > 0 {
		slots = make(chan struct{}, s.config.MaxConns)
	}

	s.logger.Info("server listening", map[string]any{
		"network": s.listener.Network(),
		"addr":    s.listener.Addr().String(),
	})

	var serveErr error
	for {
		if slots != nil {
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}

		stream, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				serveErr = err
				s.logger.Error("accept failed", map[string]any{"error": err.Error()})
			}
			break
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if slots != nil {
				defer func() { <-slots }()
			}
			s.handle(ctx, stream)
		}()
	}

	cancel()
	s.wg.Wait()
	s.closeSinks()
	_ = s.listener.Close()
	return serveErr
}

func (s *Server) handle(ctx context.Context, stream transport.Stream) {
	meta := types.ConnMeta{
		ConnID:    s.newID(),
		Transport: s.listener.Network(),
	}
	if addr := stream.RemoteAddr(); addr != nil {
		meta.Peer = addr.String()
	}

	s.collector.IncConnAccepted()
	defer s.collector.IncConnClosed()

	logger := s.logger.WithConn(&meta)
	logger.Info("connection accepted", nil)

	conn := session.New(stream, meta, s.config.Session, s.logger, s.collector)
	defer func() { _ = conn.Close() }()

	err := conn.Run(ctx, session.HandlerFunc(s.fanOut))
	switch {
	case err == nil:
		logger.Info("connection closed", nil)
	case session.IsCanceledError(err):
		logger.Debug("connection canceled", nil)
	default:
		kind, _ := session.KindOf(err)
		logger.Warn("connection ended", map[string]any{
			"kind":  kind.String(),
			"error": err.Error(),
		})
	}
}

// fanOut writes a delivery to every sink in order. Sink failures are
// logged and do not end the session.
func (s *Server) fanOut(ctx context.Context, d session.Delivery) error {
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, d); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.WithConn(&d.Conn).Warn("sink write failed", map[string]any{
				"sink":           sink.Name(),
				"sequence_index": d.Packet.SequenceIndex,
				"error":          err.Error(),
			})
		}
	}
	return nil
}

func (s *Server) closeSinks() {
	// Sessions are gone; give sinks a fresh context to flush.
	ctx := context.Background()
	for _, sink := range s.sinks {
		if err := sink.Close(ctx); err != nil {
			s.logger.Error("sink close failed", map[string]any{
				"sink":  sink.Name(),
				"error": err.Error(),
			})
		}
	}
}

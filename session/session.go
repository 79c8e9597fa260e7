// Package session runs the read loop that connects a byte stream to a
// frame assembler.
//
// A Conn reads arbitrarily sized chunks from its stream, feeds them to a
// frame.Assembler, drains completed packets, applies the checksum policy
// and hands each surviving packet to a Handler in arrival order. Writes go
// through Send, which is safe for concurrent use.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/justapithecus/tproto/frame"
	"github.com/justapithecus/tproto/log"
	"github.com/justapithecus/tproto/metrics"
	"github.com/justapithecus/tproto/packet"
	"github.com/justapithecus/tproto/types"
)

// DefaultReadBuffer is the size of each transport read.
const DefaultReadBuffer = 32 * 1024

// ChecksumPolicy decides what happens to a packet whose Verify fails.
type ChecksumPolicy string

const (
	// ChecksumDeliver hands the packet to the handler with Verified=false.
	ChecksumDeliver ChecksumPolicy = "deliver"
	// ChecksumDrop logs and discards the packet.
	ChecksumDrop ChecksumPolicy = "drop"
	// ChecksumClose ends the session with an integrity error.
	ChecksumClose ChecksumPolicy = "close"
)

// ParseChecksumPolicy parses a policy name. Empty means ChecksumDeliver.
func ParseChecksumPolicy(s string) (ChecksumPolicy, error) {
	switch ChecksumPolicy(s) {
	case "", ChecksumDeliver:
		return ChecksumDeliver, nil
	case ChecksumDrop, ChecksumClose:
		return ChecksumPolicy(s), nil
	default:
		return "", fmt.Errorf("invalid checksum policy %q (must be deliver, drop, or close)", s)
	}
}

// Config configures a Conn.
type Config struct {
	// ReadBuffer is the per-read chunk size (default 32 KiB).
	ReadBuffer int
	// ChecksumPolicy defaults to ChecksumDeliver.
	ChecksumPolicy ChecksumPolicy
	// Limits bounds the assembler. Zero fields use frame defaults.
	Limits frame.Limits
}

// DefaultConfig returns the defaults used for zero Config fields.
func DefaultConfig() Config {
	return Config{
		ReadBuffer:     DefaultReadBuffer,
		ChecksumPolicy: ChecksumDeliver,
		Limits:         frame.DefaultLimits(),
	}
}

// Delivery is one packet handed to a Handler.
type Delivery struct {
	Packet     *packet.Packet
	Verified   bool
	ReceivedAt time.Time
	Conn       types.ConnMeta
}

// Handler consumes deliveries. Returning an error ends the session.
type Handler interface {
	HandlePacket(ctx context.Context, d Delivery) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, d Delivery) error

// HandlePacket calls f.
func (f HandlerFunc) HandlePacket(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

// Conn is one protocol session over a stream.
type Conn struct {
	stream    io.ReadWriteCloser
	meta      types.ConnMeta
	config    Config
	assembler *frame.Assembler
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time

	writeMu sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

// New creates a session over stream. logger and collector may be nil.
func New(stream io.ReadWriteCloser, meta types.ConnMeta, cfg Config, logger *log.Logger, collector *metrics.Collector) *Conn {
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = DefaultReadBuffer
	}
	if cfg.ChecksumPolicy == "" {
		cfg.ChecksumPolicy = ChecksumDeliver
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Conn{
		stream:    stream,
		meta:      meta,
		config:    cfg,
		assembler: frame.NewAssemblerWithLimits(cfg.Limits),
		logger:    logger.WithConn(&meta),
		collector: collector,
		now:       time.Now,
	}
}

// Meta returns the connection identity.
func (c *Conn) Meta() types.ConnMeta {
	return c.meta
}

// Run reads the stream until EOF, a fatal error, or ctx cancellation.
// Canceling ctx closes the stream to unblock the pending read.
//
// Returns:
//   - nil: stream ended cleanly at a frame boundary
//   - *Error with Kind=ErrorKindFrame: framing error (no resync)
//   - *Error with Kind=ErrorKindTruncated: EOF inside a frame
//   - *Error with Kind=ErrorKindTransport: read failure
//   - *Error with Kind=ErrorKindIntegrity: checksum failure under ChecksumClose
//   - *Error with Kind=ErrorKindHandler: handler error
//   - *Error with Kind=ErrorKindCanceled: context canceled
func (c *Conn) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	buf := make([]byte, c.config.ReadBuffer)
	for {
		n, readErr := c.stream.Read(buf)
		if n > 0 {
			c.collector.AddBytesReceived(n)
			feedErr := c.assembler.Feed(buf[:n])

			// Packets completed ahead of a framing fault are still delivered.
			if err := c.dispatch(ctx, h); err != nil {
				return err
			}
			if feedErr != nil {
				c.collector.IncFrameErrors()
				c.logger.Error("frame error", map[string]any{
					"error": feedErr.Error(),
				})
				return &Error{Kind: ErrorKindFrame, Err: feedErr}
			}
		}

		if readErr != nil {
			return c.readError(ctx, readErr)
		}
	}
}

func (c *Conn) readError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{Kind: ErrorKindCanceled, Err: ctxErr}
	}
	if errors.Is(err, io.EOF) {
		if pending := c.assembler.Buffered(); pending > 0 {
			c.logger.Warn("stream ended mid-frame", map[string]any{
				"buffered": pending,
				"state":    c.assembler.State().String(),
			})
			return &Error{
				Kind: ErrorKindTruncated,
				Err:  fmt.Errorf("%d bytes buffered in state %s: %w", pending, c.assembler.State(), io.ErrUnexpectedEOF),
			}
		}
		c.logger.Debug("stream closed", nil)
		return nil
	}
	c.logger.Error("read failed", map[string]any{
		"error": err.Error(),
	})
	return &Error{Kind: ErrorKindTransport, Err: err}
}

// dispatch drains the assembler and delivers packets in order.
func (c *Conn) dispatch(ctx context.Context, h Handler) error {
	for _, p := range c.assembler.Drain() {
		c.collector.IncPacketsReceived()

		verified := p.Verify()
		if !verified {
			c.collector.IncChecksumFailures()
			fields := map[string]any{
				"sequence_index": p.SequenceIndex,
				"checksum":       p.Checksum,
				"payload_length": p.PayloadLength,
				"policy":         string(c.config.ChecksumPolicy),
			}
			switch c.config.ChecksumPolicy {
			case ChecksumDrop:
				c.logger.Warn("checksum mismatch, packet dropped", fields)
				c.collector.IncPacketsDropped()
				continue
			case ChecksumClose:
				c.logger.Error("checksum mismatch, closing session", fields)
				return &Error{
					Kind: ErrorKindIntegrity,
					Err:  fmt.Errorf("%w: sequence index %d", ErrChecksumMismatch, p.SequenceIndex),
				}
			default:
				c.logger.Warn("checksum mismatch", fields)
			}
		}

		d := Delivery{
			Packet:     p,
			Verified:   verified,
			ReceivedAt: c.now(),
			Conn:       c.meta,
		}
		if err := h.HandlePacket(ctx, d); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return &Error{Kind: ErrorKindCanceled, Err: ctxErr}
			}
			return &Error{Kind: ErrorKindHandler, Err: err}
		}
		c.collector.IncPacketsDelivered()
	}
	return nil
}

// Send writes one packet as a single frame.
func (c *Conn) Send(p *packet.Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := p.WriteTo(c.stream); err != nil {
		return &Error{Kind: ErrorKindTransport, Err: fmt.Errorf("send sequence index %d: %w", p.SequenceIndex, err)}
	}
	c.collector.IncPacketsSent()
	return nil
}

// Close closes the underlying stream once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.stream.Close()
	})
	return c.closeErr
}

package runtime

import (
	"context"

	"github.com/justapithecus/tproto/adapter"
	"github.com/justapithecus/tproto/archive"
	"github.com/justapithecus/tproto/log"
	"github.com/justapithecus/tproto/metrics"
	"github.com/justapithecus/tproto/session"
)

// Sink consumes deliveries. Implementations must be safe for concurrent
// use; every session writes to the same sinks.
type Sink interface {
	// Name identifies the sink in logs.
	Name() string
	// Write handles one delivery.
	Write(ctx context.Context, d session.Delivery) error
	// Close flushes and releases resources.
	Close(ctx context.Context) error
}

// LogSink logs every delivery at info level.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Nop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, d session.Delivery) error {
	p := d.Packet
	s.logger.WithConn(&d.Conn).Info("packet received", map[string]any{
		"sequence_index": p.SequenceIndex,
		"charset":        p.Charset,
		"payload_length": p.PayloadLength,
		"checksum":       p.Checksum,
		"verified":       d.Verified,
	})
	return nil
}

// Close syncs the logger. Sync errors on terminals are not actionable.
func (s *LogSink) Close(context.Context) error {
	_ = s.logger.Sync()
	return nil
}

// AdapterSink publishes a PacketEvent per delivery.
type AdapterSink struct {
	name      string
	adapter   adapter.Adapter
	collector *metrics.Collector
}

// NewAdapterSink wraps an adapter. name labels it in logs ("redis", "webhook").
func NewAdapterSink(name string, a adapter.Adapter, collector *metrics.Collector) *AdapterSink {
	return &AdapterSink{name: name, adapter: a, collector: collector}
}

func (s *AdapterSink) Name() string { return s.name }

func (s *AdapterSink) Write(ctx context.Context, d session.Delivery) error {
	if err := s.adapter.Publish(ctx, adapter.NewPacketEvent(d)); err != nil {
		s.collector.IncPublishFailure()
		return err
	}
	s.collector.IncPublishSuccess()
	return nil
}

func (s *AdapterSink) Close(context.Context) error {
	return s.adapter.Close()
}

// ArchiveSink appends every delivery to a Lode archive.
type ArchiveSink struct {
	archive   *archive.Archive
	collector *metrics.Collector
}

// NewArchiveSink wraps an archive.
func NewArchiveSink(a *archive.Archive, collector *metrics.Collector) *ArchiveSink {
	return &ArchiveSink{archive: a, collector: collector}
}

func (s *ArchiveSink) Name() string { return "archive" }

func (s *ArchiveSink) Write(ctx context.Context, d session.Delivery) error {
	if err := s.archive.Append(ctx, d); err != nil {
		s.collector.IncArchiveFailure()
		return err
	}
	s.collector.IncArchiveSuccess()
	return nil
}

func (s *ArchiveSink) Close(ctx context.Context) error {
	return s.archive.Close(ctx)
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*AdapterSink)(nil)
	_ Sink = (*ArchiveSink)(nil)
)

// Package archive persists received packets to a Lode dataset.
//
// Records are partitioned Hive-style by transport, day, and connection ID
// and encoded as JSONL. Appends are buffered and written in batches; each
// batch becomes one Lode snapshot.
package archive

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/tproto/session"
)

// DefaultDataset is the dataset ID used when Config.Dataset is empty.
const DefaultDataset = "tproto"

// DefaultFlushCount is the batch size used when Config.FlushCount is zero.
const DefaultFlushCount = 64

// RecordKindPacket marks packet records.
const RecordKindPacket = "packet"

// partitionKeys is the Hive layout shared by the write and read paths.
var partitionKeys = []string{"transport", "day", "conn_id"}

// Config configures an Archive.
type Config struct {
	// Dataset is the Lode dataset ID (default "tproto").
	Dataset string
	// FlushCount is the number of buffered records that triggers a write.
	// 1 writes through on every Append.
	FlushCount int
}

func (c Config) withDefaults() Config {
	if c.Dataset == "" {
		c.Dataset = DefaultDataset
	}
	if c.FlushCount <= 0 {
		c.FlushCount = DefaultFlushCount
	}
	return c
}

// Archive buffers packet records and writes them to Lode.
// Safe for concurrent use.
type Archive struct {
	dataset lode.Dataset
	config  Config

	mu      sync.Mutex
	pending []any
	closed  bool
}

// NewFS creates an archive backed by the filesystem under root.
func NewFS(cfg Config, root string) (*Archive, error) {
	return NewWithFactory(cfg, lode.NewFSFactory(root))
}

// NewWithFactory creates an archive with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewWithFactory(cfg Config, factory lode.StoreFactory) (*Archive, error) {
	cfg = cfg.withDefaults()
	ds, err := NewReadDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.Dataset)
	}
	return &Archive{dataset: ds, config: cfg}, nil
}

// NewReadDataset opens a dataset with the archive's layout and codec.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// DeriveDay computes the partition day: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Record converts a delivery to its archived form.
func Record(d session.Delivery) map[string]any {
	p := d.Packet
	return map[string]any{
		"record_kind":    RecordKindPacket,
		"transport":      d.Conn.Transport,
		"day":            DeriveDay(d.ReceivedAt),
		"conn_id":        d.Conn.ConnID,
		"sequence_index": p.SequenceIndex,
		"charset":        p.Charset,
		"payload_length": p.PayloadLength,
		"checksum":       p.Checksum,
		"verified":       d.Verified,
		"payload_b64":    base64.StdEncoding.EncodeToString(p.Payload),
		"received_at":    d.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Append buffers one delivery and writes the batch once FlushCount
// records are pending.
func (a *Archive) Append(ctx context.Context, d session.Delivery) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	a.pending = append(a.pending, Record(d))
	if len(a.pending) < a.config.FlushCount {
		return nil
	}
	return a.flushLocked(ctx)
}

// Flush writes all pending records as one snapshot.
// On failure the records stay pending for the next attempt.
func (a *Archive) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flushLocked(ctx)
}

func (a *Archive) flushLocked(ctx context.Context) error {
	if len(a.pending) == 0 {
		return nil
	}
	if _, err := a.dataset.Write(ctx, a.pending, lode.Metadata{}); err != nil {
		return WrapWriteError(err, fmt.Sprintf("%s (%d records)", a.config.Dataset, len(a.pending)))
	}
	a.pending = nil
	return nil
}

// Pending returns the number of buffered records.
func (a *Archive) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Dataset returns the underlying Lode dataset.
func (a *Archive) Dataset() lode.Dataset {
	return a.dataset
}

// Close flushes pending records. Append fails after Close.
func (a *Archive) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	return a.flushLocked(ctx)
}

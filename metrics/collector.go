// Package metrics provides per-process protocol counters.
//
// The Collector accumulates counters across all connections served or
// dialed by one process. When a go-metrics sink is attached, every
// increment is mirrored as a counter under the "tproto" prefix with a
// transport label.
package metrics

import (
	"sync"

	gometrics "github.com/hashicorp/go-metrics"
)

// Counter keys mirrored to the go-metrics sink.
var (
	KeyConnAccepted     = []string{"tproto", "conn", "accepted"}
	KeyConnClosed       = []string{"tproto", "conn", "closed"}
	KeyBytesReceived    = []string{"tproto", "bytes", "received"}
	KeyPacketsReceived  = []string{"tproto", "packets", "received"}
	KeyPacketsDelivered = []string{"tproto", "packets", "delivered"}
	KeyPacketsDropped   = []string{"tproto", "packets", "dropped"}
	KeyPacketsSent      = []string{"tproto", "packets", "sent"}
	KeyChecksumFailures = []string{"tproto", "checksum", "failures"}
	KeyFrameErrors      = []string{"tproto", "frame", "errors"}
	KeyPublishSuccess   = []string{"tproto", "adapter", "publish", "success"}
	KeyPublishFailure   = []string{"tproto", "adapter", "publish", "failure"}
	KeyArchiveSuccess   = []string{"tproto", "archive", "write", "success"}
	KeyArchiveFailure   = []string{"tproto", "archive", "write", "failure"}
)

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Connections
	ConnAccepted int64 `json:"conn_accepted" yaml:"conn_accepted"`
	ConnClosed   int64 `json:"conn_closed" yaml:"conn_closed"`

	// Inbound stream
	BytesReceived    int64 `json:"bytes_received" yaml:"bytes_received"`
	PacketsReceived  int64 `json:"packets_received" yaml:"packets_received"`
	PacketsDelivered int64 `json:"packets_delivered" yaml:"packets_delivered"`
	PacketsDropped   int64 `json:"packets_dropped" yaml:"packets_dropped"`
	ChecksumFailures int64 `json:"checksum_failures" yaml:"checksum_failures"`
	FrameErrors      int64 `json:"frame_errors" yaml:"frame_errors"`

	// Outbound stream
	PacketsSent int64 `json:"packets_sent" yaml:"packets_sent"`

	// Downstream sinks
	PublishSuccess int64 `json:"publish_success" yaml:"publish_success"`
	PublishFailure int64 `json:"publish_failure" yaml:"publish_failure"`
	ArchiveSuccess int64 `json:"archive_success" yaml:"archive_success"`
	ArchiveFailure int64 `json:"archive_failure" yaml:"archive_failure"`

	// Dimensions
	Transport string `json:"transport" yaml:"transport"`
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	connAccepted int64
	connClosed   int64

	bytesReceived    int64
	packetsReceived  int64
	packetsDelivered int64
	packetsDropped   int64
	checksumFailures int64
	frameErrors      int64

	packetsSent int64

	publishSuccess int64
	publishFailure int64
	archiveSuccess int64
	archiveFailure int64

	transport string
	sink      gometrics.MetricSink
	labels    []gometrics.Label
}

// NewCollector creates a Collector labeled with the transport name.
// sink may be nil.
func NewCollector(transport string, sink gometrics.MetricSink) *Collector {
	return &Collector{
		transport: transport,
		sink:      sink,
		labels:    []gometrics.Label{{Name: "transport", Value: transport}},
	}
}

func (c *Collector) add(counter *int64, key []string, n int64) {
	c.mu.Lock()
	*counter += n
	c.mu.Unlock()
	if c.sink != nil {
		c.sink.IncrCounterWithLabels(key, float32(n), c.labels)
	}
}

// --- Connections ---

// IncConnAccepted records an accepted or dialed connection.
func (c *Collector) IncConnAccepted() {
	if c == nil {
		return
	}
	c.add(&c.connAccepted, KeyConnAccepted, 1)
}

// IncConnClosed records a finished session.
func (c *Collector) IncConnClosed() {
	if c == nil {
		return
	}
	c.add(&c.connClosed, KeyConnClosed, 1)
}

// --- Inbound ---

// AddBytesReceived records n bytes read from a transport.
func (c *Collector) AddBytesReceived(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.add(&c.bytesReceived, KeyBytesReceived, int64(n))
}

// IncPacketsReceived records a packet completed by the assembler.
func (c *Collector) IncPacketsReceived() {
	if c == nil {
		return
	}
	c.add(&c.packetsReceived, KeyPacketsReceived, 1)
}

// IncPacketsDelivered records a packet handed to a handler.
func (c *Collector) IncPacketsDelivered() {
	if c == nil {
		return
	}
	c.add(&c.packetsDelivered, KeyPacketsDelivered, 1)
}

// IncPacketsDropped records a packet discarded by checksum policy.
func (c *Collector) IncPacketsDropped() {
	if c == nil {
		return
	}
	c.add(&c.packetsDropped, KeyPacketsDropped, 1)
}

// IncChecksumFailures records a packet whose Verify returned false.
func (c *Collector) IncChecksumFailures() {
	if c == nil {
		return
	}
	c.add(&c.checksumFailures, KeyChecksumFailures, 1)
}

// IncFrameErrors records a fatal framing error.
func (c *Collector) IncFrameErrors() {
	if c == nil {
		return
	}
	c.add(&c.frameErrors, KeyFrameErrors, 1)
}

// --- Outbound ---

// IncPacketsSent records a packet written to a transport.
func (c *Collector) IncPacketsSent() {
	if c == nil {
		return
	}
	c.add(&c.packetsSent, KeyPacketsSent, 1)
}

// --- Sinks ---

// IncPublishSuccess records a successful adapter publish.
func (c *Collector) IncPublishSuccess() {
	if c == nil {
		return
	}
	c.add(&c.publishSuccess, KeyPublishSuccess, 1)
}

// IncPublishFailure records a failed adapter publish.
func (c *Collector) IncPublishFailure() {
	if c == nil {
		return
	}
	c.add(&c.publishFailure, KeyPublishFailure, 1)
}

// IncArchiveSuccess records a successful archive write (per call, not per record).
func (c *Collector) IncArchiveSuccess() {
	if c == nil {
		return
	}
	c.add(&c.archiveSuccess, KeyArchiveSuccess, 1)
}

// IncArchiveFailure records a failed archive write (per call).
func (c *Collector) IncArchiveFailure() {
	if c == nil {
		return
	}
	c.add(&c.archiveFailure, KeyArchiveFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ConnAccepted: c.connAccepted,
		ConnClosed:   c.connClosed,

		BytesReceived:    c.bytesReceived,
		PacketsReceived:  c.packetsReceived,
		PacketsDelivered: c.packetsDelivered,
		PacketsDropped:   c.packetsDropped,
		ChecksumFailures: c.checksumFailures,
		FrameErrors:      c.frameErrors,

		PacketsSent: c.packetsSent,

		PublishSuccess: c.publishSuccess,
		PublishFailure: c.publishFailure,
		ArchiveSuccess: c.archiveSuccess,
		ArchiveFailure: c.archiveFailure,

		Transport: c.transport,
	}
}

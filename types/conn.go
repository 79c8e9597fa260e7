// Package types defines core domain types shared across tproto packages.
//
//nolint:revive // types is a common Go package naming convention
package types

// Transport names accepted by the transport layer.
const (
	TransportTCP  = "tcp"
	TransportQUIC = "quic"
)

// ConnMeta identifies one inbound or outbound connection.
// Every log entry, relay event and archive record for the connection
// carries these fields.
type ConnMeta struct {
	// ConnID is assigned by the accepting side, unique per process.
	ConnID string
	// Transport is "tcp" or "quic".
	Transport string
	// Peer is the remote address as reported by the transport.
	Peer string
}

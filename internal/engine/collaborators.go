package engine

// This file declares the small interfaces the engine consumes from its
// external collaborators: packet construction/parsing and destination
// decoding live in internal/packetio; the final response emitter and the
// command token bookkeeping live in internal/protocol. Engine never
// imports either package, keeping the dependency arrow pointing inward.

// ConstructKind tags a ConstructResult, replacing an errno-overloaded
// return value (e.g. -1 with ECONNREFUSED standing in for "this is a
// stream connect, not packet bytes") with an explicit discriminated result.
type ConstructKind uint8

const (
	ConstructDatagram ConstructKind = iota
	ConstructStream
	ConstructError
)

// ConstructRequest carries everything the Packet Constructor needs to build
// one probe's wire bytes or initiate one probe's stream connect.
type ConstructRequest struct {
	Proto             Protocol
	Family            Family
	Port              int // the probe's allocated correlation port
	DestAddr          string // decoded, literal textual address
	DestPort          int    // target port for TCP/SCTP/UDP; 0 lets the constructor pick a default
	TTL               int
	Size              int
	IPLengthHostOrder bool
}

// ConstructResult is what the Packet Constructor hands back to the Send
// Path: either wire bytes ready to write to a raw socket, a live stream
// file descriptor, or a construction error.
type ConstructResult struct {
	Kind ConstructKind

	Bytes    []byte // valid when Kind == ConstructDatagram
	StreamFD int    // valid when Kind == ConstructStream; already non-blocking
	Err      error  // valid when Kind == ConstructError
}

// PacketConstructor builds outbound probe packets or initiates stream
// connects. Implemented by internal/packetio.
type PacketConstructor interface {
	Construct(req ConstructRequest) ConstructResult
}

// DestResolver parses a literal destination address string into the family
// and textual address the rest of the send path operates on. Implemented
// by internal/packetio.
//
// No DNS happens here or anywhere in the engine: dest must already be a
// literal IPv4/IPv6 address by the time it reaches Decode.
type DestResolver interface {
	Decode(dest string) (Family, string, error)
}

// Correlator is the lookup-and-deliver half of receive-path correlation,
// implemented by *Engine and consumed by the Packet Parser so that
// internal/packetio never needs direct access to the probe table.
type Correlator interface {
	// Lookup finds the outstanding probe keyed by (proto, port).
	Lookup(proto Protocol, port int) (*Probe, bool)
	// Deliver computes RTT, frees the probe, and hands the outcome to the
	// Emitter. rtype normalizes the protocol-specific ICMP type/code.
	Deliver(p *Probe, rtype ResponseType, remoteIP string, timestamp Time)
}

// Parser dispatches raw received bytes to the family-appropriate handler,
// matching embedded headers against outstanding probes via a Correlator.
// Implemented by internal/packetio.
type Parser interface {
	ParseIPv4(data []byte, timestamp Time, c Correlator)
	ParseIPv6(data []byte, timestamp Time, c Correlator)
}

// Emitter receives the token belonging to a just-freed probe along with
// its terminal Outcome and is responsible for writing the wire line.
// Implemented by internal/protocol.
type Emitter interface {
	Emit(token int, outcome Outcome)
}

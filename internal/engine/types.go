// Package engine implements the probe lifecycle and dispatch core: the
// outstanding-probe table, the send path, the receive path across raw and
// stream sockets, round-trip timing, and the timeout scanner.
//
// Packet byte-layout construction/parsing, destination address parsing, and
// the command/response text protocol are deliberately external to this
// package; Engine depends on the small collaborator interfaces declared in
// collaborators.go and is driven by whatever event loop owns a Session.
package engine

// Family identifies an IP address family.
type Family uint8

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Protocol identifies the probe's wire protocol.
type Protocol uint8

const (
	ProtoICMP Protocol = iota
	ProtoUDP
	ProtoTCP
	ProtoSCTP
)

func (p Protocol) String() string {
	switch p {
	case ProtoICMP:
		return "icmp"
	case ProtoUDP:
		return "udp"
	case ProtoTCP:
		return "tcp"
	case ProtoSCTP:
		return "sctp"
	default:
		return "unknown"
	}
}

// IsStream reports whether probes of this protocol use a connected
// stream_socket rather than a raw datagram send.
func (p Protocol) IsStream() bool {
	return p == ProtoTCP || p == ProtoSCTP
}

// ResponseType classifies a correlated response, independent of the
// protocol-specific ICMP type/code that produced it. The Packet Parser
// normalizes into this small vocabulary before invoking the correlation
// handler.
type ResponseType uint8

const (
	// ResponseEchoReply is a direct reply from the probed destination
	// itself (ICMP echo-reply, or a completed/refused stream connect).
	ResponseEchoReply ResponseType = iota
	// ResponseTTLExpired is an intermediate-hop time-exceeded reply.
	ResponseTTLExpired
	// ResponseUnreachable is a destination/port/protocol-unreachable reply.
	ResponseUnreachable
)

func (r ResponseType) String() string {
	switch r {
	case ResponseEchoReply:
		return "reply"
	case ResponseTTLExpired:
		return "ttl-expired"
	case ResponseUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

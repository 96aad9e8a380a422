package packetio

import "encoding/binary"

// ICMP message types and codes, IPv4 and IPv6 (RFC 792, RFC 4443).
const (
	icmpV4EchoReply    = 0
	icmpV4Unreachable  = 3
	icmpV4EchoRequest  = 8
	icmpV4TimeExceeded = 11

	icmpV6Unreachable  = 1
	icmpV6TimeExceeded = 3
	icmpV6EchoRequest  = 128
	icmpV6EchoReply    = 129
)

// icmpHeader is the 8-byte ICMP/ICMPv6 echo header shape shared by both
// families: type, code, checksum, identifier, sequence.
type icmpHeader struct {
	Type       uint8
	Code       uint8
	Identifier uint16
	Sequence   uint16
}

// buildICMPv4Echo serializes an ICMPv4 echo request with its checksum
// computed over the whole ICMP message (no pseudo-header; IPv4 ICMP
// checksums the ICMP message on its own).
func buildICMPv4Echo(h icmpHeader, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	buf[0] = icmpV4EchoRequest
	buf[1] = h.Code
	binary.BigEndian.PutUint16(buf[4:6], h.Identifier)
	binary.BigEndian.PutUint16(buf[6:8], h.Sequence)
	copy(buf[8:], payload)
	binary.BigEndian.PutUint16(buf[2:4], Checksum(buf))
	return buf
}

// buildICMPv6Echo serializes an ICMPv6 echo request without a checksum: the
// kernel computes it from the IPv6 pseudo-header for raw ICMPv6 sockets,
// which also never accept a user-supplied IP header, so there is no IPv6
// counterpart to buildIPv4Header either.
func buildICMPv6Echo(h icmpHeader, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	buf[0] = icmpV6EchoRequest
	buf[1] = h.Code
	binary.BigEndian.PutUint16(buf[4:6], h.Identifier)
	binary.BigEndian.PutUint16(buf[6:8], h.Sequence)
	copy(buf[8:], payload)
	return buf
}

// BuildICMPv4Echo serializes an ICMPv4 echo request with the given
// identifier, sequence and payload, checksum included. Exported for
// callers that send echo requests over a connection they manage
// themselves, rather than through Constructor.
func BuildICMPv4Echo(identifier, sequence uint16, payload []byte) []byte {
	return buildICMPv4Echo(icmpHeader{Identifier: identifier, Sequence: sequence}, payload)
}

// BuildICMPv6Echo is BuildICMPv4Echo's IPv6 counterpart.
func BuildICMPv6Echo(identifier, sequence uint16, payload []byte) []byte {
	return buildICMPv6Echo(icmpHeader{Identifier: identifier, Sequence: sequence}, payload)
}

// parsedICMP is a received ICMP/ICMPv6 message split into its header and
// the embedding it carries (non-empty only for time-exceeded/unreachable).
type parsedICMP struct {
	Type       uint8
	Code       uint8
	Identifier uint16
	Sequence   uint16
	Embedded   []byte // original IP header + leading bytes of original datagram
}

func parseICMPv4(data []byte) (parsedICMP, bool) {
	if len(data) < 8 {
		return parsedICMP{}, false
	}
	p := parsedICMP{
		Type:       data[0],
		Code:       data[1],
		Identifier: binary.BigEndian.Uint16(data[4:6]),
		Sequence:   binary.BigEndian.Uint16(data[6:8]),
	}
	if (p.Type == icmpV4TimeExceeded || p.Type == icmpV4Unreachable) && len(data) > 8 {
		p.Embedded = data[8:]
	}
	return p, true
}

func parseICMPv6(data []byte) (parsedICMP, bool) {
	if len(data) < 8 {
		return parsedICMP{}, false
	}
	p := parsedICMP{
		Type:       data[0],
		Code:       data[1],
		Identifier: binary.BigEndian.Uint16(data[4:6]),
		Sequence:   binary.BigEndian.Uint16(data[6:8]),
	}
	if (p.Type == icmpV6TimeExceeded || p.Type == icmpV6Unreachable) && len(data) > 8 {
		p.Embedded = data[8:]
	}
	return p, true
}

package packetio

import (
	"encoding/binary"
	"net"

	"github.com/emirhanaydin/skopos/internal/engine"
)

// Parser implements engine.Parser: it strips any IP header the raw receive
// socket still carries, reads the ICMP(v6) message, and for time-exceeded
// or unreachable replies, descends into the embedded original datagram to
// recover the (protocol, port) key the probe table was allocated under.
type Parser struct{}

// NewParser returns a ready Parser.
func NewParser() *Parser { return &Parser{} }

// ParseIPv4 implements engine.Parser.
func (*Parser) ParseIPv4(data []byte, timestamp engine.Time, c engine.Correlator) {
	if len(data) < ipv4HeaderLen {
		return
	}
	ihl := int(data[0]&0x0f) * 4
	if ihl < ipv4HeaderLen || len(data) < ihl+8 {
		return
	}
	remoteIP := ipString(data[12:16])

	icmpPkt, ok := parseICMPv4(data[ihl:])
	if !ok {
		return
	}

	switch icmpPkt.Type {
	case icmpV4EchoReply:
		if p, ok := c.Lookup(engine.ProtoICMP, int(icmpPkt.Identifier)); ok {
			c.Deliver(p, engine.ResponseEchoReply, remoteIP, timestamp)
		}
	case icmpV4TimeExceeded, icmpV4Unreachable:
		proto, port, ok := embeddedKeyIPv4(icmpPkt.Embedded)
		if !ok {
			return
		}
		if p, ok := c.Lookup(proto, port); ok {
			rt := engine.ResponseTTLExpired
			if icmpPkt.Type == icmpV4Unreachable {
				rt = engine.ResponseUnreachable
			}
			c.Deliver(p, rt, remoteIP, timestamp)
		}
	}
}

// ParseIPv6 implements engine.Parser. Unlike IPv4, Linux (and other
// raw-socket implementations) never hand the IPv6 header itself to an
// ICMPv6 raw socket, so data begins directly at the ICMPv6 message.
func (*Parser) ParseIPv6(data []byte, timestamp engine.Time, c engine.Correlator) {
	icmpPkt, ok := parseICMPv6(data)
	if !ok {
		return
	}

	switch icmpPkt.Type {
	case icmpV6EchoReply:
		if p, ok := c.Lookup(engine.ProtoICMP, int(icmpPkt.Identifier)); ok {
			c.Deliver(p, engine.ResponseEchoReply, "", timestamp)
		}
	case icmpV6TimeExceeded, icmpV6Unreachable:
		proto, port, ok := embeddedKeyIPv6(icmpPkt.Embedded)
		if !ok {
			return
		}
		if p, ok := c.Lookup(proto, port); ok {
			rt := engine.ResponseTTLExpired
			if icmpPkt.Type == icmpV6Unreachable {
				rt = engine.ResponseUnreachable
			}
			c.Deliver(p, rt, "", timestamp)
		}
	}
}

// embeddedKeyIPv4 recovers (protocol, port) from the original IPv4 header +
// leading L4 bytes an ICMP time-exceeded/unreachable message embeds.
func embeddedKeyIPv4(embedded []byte) (engine.Protocol, int, bool) {
	if len(embedded) < ipv4HeaderLen {
		return 0, 0, false
	}
	ihl := int(embedded[0]&0x0f) * 4
	if ihl < ipv4HeaderLen || len(embedded) < ihl+4 {
		return 0, 0, false
	}
	l4Proto := embedded[9]
	l4 := embedded[ihl:]
	return embeddedKeyFromL4(l4Proto, l4)
}

// embeddedKeyIPv6 recovers (protocol, port) from the original IPv6 fixed
// header + leading L4 bytes. Extension headers are not walked; this covers
// the common case of a probe packet with no IPv6 extension headers.
const ipv6HeaderLen = 40

func embeddedKeyIPv6(embedded []byte) (engine.Protocol, int, bool) {
	if len(embedded) < ipv6HeaderLen+4 {
		return 0, 0, false
	}
	l4Proto := embedded[6]
	l4 := embedded[ipv6HeaderLen:]
	return embeddedKeyFromL4(l4Proto, l4)
}

func embeddedKeyFromL4(ipProto byte, l4 []byte) (engine.Protocol, int, bool) {
	switch ipProto {
	case 1: // ICMP
		if len(l4) < 6 {
			return 0, 0, false
		}
		return engine.ProtoICMP, int(binary.BigEndian.Uint16(l4[4:6])), true
	case 58: // ICMPv6
		if len(l4) < 6 {
			return 0, 0, false
		}
		return engine.ProtoICMP, int(binary.BigEndian.Uint16(l4[4:6])), true
	case 17: // UDP
		if len(l4) < 2 {
			return 0, 0, false
		}
		return engine.ProtoUDP, int(binary.BigEndian.Uint16(l4[0:2])), true
	case 6: // TCP
		if len(l4) < 2 {
			return 0, 0, false
		}
		return engine.ProtoTCP, int(binary.BigEndian.Uint16(l4[0:2])), true
	case 132: // SCTP
		if len(l4) < 2 {
			return 0, 0, false
		}
		return engine.ProtoSCTP, int(binary.BigEndian.Uint16(l4[0:2])), true
	default:
		return 0, 0, false
	}
}

// EmbeddedIPv4L4 recovers the IP protocol number, the leading L4 bytes, and
// the original destination address embedded in an ICMP time-exceeded or
// unreachable message's original datagram. ok is false if embedded is too
// short to contain a full IPv4 header. Exported for callers outside this
// package that correlate ICMP errors against their own probe state instead
// of through Correlator.
func EmbeddedIPv4L4(embedded []byte) (l4Proto byte, l4 []byte, dstIP net.IP, ok bool) {
	if len(embedded) < ipv4HeaderLen {
		return 0, nil, nil, false
	}
	ihl := int(embedded[0]&0x0f) * 4
	if ihl < ipv4HeaderLen || len(embedded) < ihl {
		return 0, nil, nil, false
	}
	dst := make(net.IP, 4)
	copy(dst, embedded[16:20])
	return embedded[9], embedded[ihl:], dst, true
}

// EmbeddedIPv6L4 is EmbeddedIPv4L4's IPv6 counterpart. Extension headers
// are not walked, matching embeddedKeyIPv6's assumption of an
// extension-header-free original datagram.
func EmbeddedIPv6L4(embedded []byte) (l4Proto byte, l4 []byte, ok bool) {
	if len(embedded) < ipv6HeaderLen {
		return 0, nil, false
	}
	return embedded[6], embedded[ipv6HeaderLen:], true
}

func ipString(b []byte) string {
	ip := make(net.IP, 4)
	copy(ip, b)
	return ip.String()
}

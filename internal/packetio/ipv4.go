package packetio

import (
	"encoding/binary"
	"net"
)

const ipv4HeaderLen = 20

// buildIPv4Header assembles a minimal 20-byte IPv4 header for IP_HDRINCL
// send sockets. totalLength is written in host or network byte order
// depending on hostOrder: BSD-derived stacks expect host order for the
// length field on raw sockets, others expect network order, and the
// feature probe run at startup detects which one the running kernel wants.
func buildIPv4Header(src, dst net.IP, proto byte, ttl int, payloadLen int, hostOrder bool) []byte {
	h := make([]byte, ipv4HeaderLen)
	totalLen := uint16(ipv4HeaderLen + payloadLen)

	h[0] = 0x45 // version 4, IHL 5 (20 bytes, no options)
	h[1] = 0    // DSCP/ECN
	if hostOrder {
		binary.LittleEndian.PutUint16(h[2:4], totalLen)
	} else {
		binary.BigEndian.PutUint16(h[2:4], totalLen)
	}
	binary.BigEndian.PutUint16(h[4:6], 0) // identification
	binary.BigEndian.PutUint16(h[6:8], 0) // flags/fragment offset
	h[8] = byte(ttl)
	h[9] = proto
	binary.BigEndian.PutUint16(h[10:12], 0) // header checksum, filled in below

	v4src := src.To4()
	v4dst := dst.To4()
	copy(h[12:16], v4src)
	copy(h[16:20], v4dst)

	binary.BigEndian.PutUint16(h[10:12], Checksum(h))
	return h
}

// outboundSourceIPv4 picks the local IPv4 address the kernel would use to
// reach dst, by opening a throwaway UDP socket and inspecting its local
// address.
func outboundSourceIPv4(dst net.IP) net.IP {
	conn, err := net.Dial("udp4", net.JoinHostPort(dst.String(), "80"))
	if err != nil {
		return net.IPv4zero
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP
}

// outboundSourceIPv6 is outboundSourceIPv4's IPv6 counterpart.
func outboundSourceIPv6(dst net.IP) net.IP {
	conn, err := net.Dial("udp6", net.JoinHostPort(dst.String(), "80"))
	if err != nil {
		return net.IPv6unspecified
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP
}

package packetio

import (
	"encoding/binary"
	"net"
)

const tcpHeaderLen = 20

// BuildTCPSYN serializes a 20-byte TCP SYN segment with no options, its
// checksum computed over the pseudo-header per RFC 793. Which pseudo-header
// shape is used is decided by whether src/dst hold a 4-byte form, so
// callers on either family can pass net.IP values as returned by
// net.ParseIP without converting first.
func BuildTCPSYN(src, dst net.IP, srcPort, dstPort uint16, seq uint32) []byte {
	tcp := make([]byte, tcpHeaderLen)
	binary.BigEndian.PutUint16(tcp[0:2], srcPort)
	binary.BigEndian.PutUint16(tcp[2:4], dstPort)
	binary.BigEndian.PutUint32(tcp[4:8], seq)
	binary.BigEndian.PutUint32(tcp[8:12], 0) // ack number, unused for SYN
	tcp[12] = 0x50                           // data offset 5 (20 bytes), no options
	tcp[13] = 0x02                           // SYN flag
	binary.BigEndian.PutUint16(tcp[14:16], 65535)
	binary.BigEndian.PutUint16(tcp[16:18], 0) // checksum, filled in below
	binary.BigEndian.PutUint16(tcp[18:20], 0) // urgent pointer, unused

	var pseudo []byte
	if v4src, v4dst := src.To4(), dst.To4(); v4src != nil && v4dst != nil {
		var s, d [4]byte
		copy(s[:], v4src)
		copy(d[:], v4dst)
		pseudo = pseudoHeaderV4(s, d, 6, tcpHeaderLen)
	} else {
		var s, d [16]byte
		copy(s[:], src.To16())
		copy(d[:], dst.To16())
		pseudo = pseudoHeaderV6(s, d, 6, tcpHeaderLen)
	}
	binary.BigEndian.PutUint16(tcp[16:18], Checksum(append(pseudo, tcp...)))
	return tcp
}

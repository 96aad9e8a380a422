package packetio

import (
	"encoding/binary"
	"net"

	"github.com/emirhanaydin/skopos/internal/engine"
)

const udpHeaderLen = 8

// buildUDPDatagram serializes a UDP header plus payload, with the checksum
// computed over the pseudo-header + header + payload per RFC 768. srcPort
// is the probe's allocated correlation port; dstPort is the
// traceroute-style "unlikely" destination port.
func buildUDPDatagram(family engine.Family, src, dst net.IP, srcPort, dstPort int, payload []byte) []byte {
	total := udpHeaderLen + len(payload)
	buf := make([]byte, total)
	binary.BigEndian.PutUint16(buf[0:2], uint16(srcPort))
	binary.BigEndian.PutUint16(buf[2:4], uint16(dstPort))
	binary.BigEndian.PutUint16(buf[4:6], uint16(total))
	binary.BigEndian.PutUint16(buf[6:8], 0) // checksum, filled below
	copy(buf[8:], payload)

	var pseudo []byte
	if family == engine.FamilyIPv6 {
		var s, d [16]byte
		copy(s[:], src.To16())
		copy(d[:], dst.To16())
		pseudo = pseudoHeaderV6(s, d, 17, total)
	} else {
		var s, d [4]byte
		copy(s[:], src.To4())
		copy(d[:], dst.To4())
		pseudo = pseudoHeaderV4(s, d, 17, total)
	}
	sum := Checksum(append(pseudo, buf...))
	if sum == 0 {
		sum = 0xffff // a computed checksum of 0 means "no checksum"; avoid it
	}
	binary.BigEndian.PutUint16(buf[6:8], sum)
	return buf
}

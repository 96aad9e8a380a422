package packetio

import (
	"encoding/binary"
	"net"
	"testing"
)

func TestBuildTCPSYNIPv4(t *testing.T) {
	src := net.ParseIP("192.168.1.1")
	dst := net.ParseIP("8.8.8.8")
	raw := BuildTCPSYN(src, dst, 12345, 80, 1)

	if len(raw) != tcpHeaderLen {
		t.Fatalf("len(raw) = %d, want %d", len(raw), tcpHeaderLen)
	}
	if got := binary.BigEndian.Uint16(raw[0:2]); got != 12345 {
		t.Errorf("src port = %d, want 12345", got)
	}
	if got := binary.BigEndian.Uint16(raw[2:4]); got != 80 {
		t.Errorf("dst port = %d, want 80", got)
	}
	if raw[13] != 0x02 {
		t.Errorf("flags = 0x%02x, want 0x02 (SYN)", raw[13])
	}
	if dataOffset := raw[12] >> 4; dataOffset != 5 {
		t.Errorf("data offset = %d, want 5", dataOffset)
	}

	var s, d [4]byte
	copy(s[:], src.To4())
	copy(d[:], dst.To4())
	pseudo := pseudoHeaderV4(s, d, 6, tcpHeaderLen)
	if !ValidateChecksum(append(pseudo, raw...)) {
		t.Error("BuildTCPSYN() produced an invalid IPv4 checksum")
	}
}

func TestBuildTCPSYNIPv6(t *testing.T) {
	src := net.ParseIP("2001:db8::1")
	dst := net.ParseIP("2001:db8::2")
	raw := BuildTCPSYN(src, dst, 1, 443, 99)

	var s, d [16]byte
	copy(s[:], src.To16())
	copy(d[:], dst.To16())
	pseudo := pseudoHeaderV6(s, d, 6, tcpHeaderLen)
	if !ValidateChecksum(append(pseudo, raw...)) {
		t.Error("BuildTCPSYN() produced an invalid IPv6 checksum")
	}
}

package packetio

import (
	"encoding/binary"
	"net"
	"testing"
)

func TestBuildIPv4HeaderByteOrder(t *testing.T) {
	src := net.ParseIP("10.0.0.1")
	dst := net.ParseIP("10.0.0.2")

	netOrder := buildIPv4Header(src, dst, 1, 64, 8, false)
	hostOrder := buildIPv4Header(src, dst, 1, 64, 8, true)

	wantLen := uint16(ipv4HeaderLen + 8)
	if got := binary.BigEndian.Uint16(netOrder[2:4]); got != wantLen {
		t.Errorf("network-order total length = %d, want %d", got, wantLen)
	}
	if got := binary.LittleEndian.Uint16(hostOrder[2:4]); got != wantLen {
		t.Errorf("host-order total length = %d, want %d", got, wantLen)
	}
	if !ValidateChecksum(netOrder) {
		t.Error("network-order header checksum does not validate")
	}
	if !ValidateChecksum(hostOrder) {
		t.Error("host-order header checksum does not validate")
	}
}

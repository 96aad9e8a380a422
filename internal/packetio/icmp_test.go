package packetio

import (
	"testing"

	"github.com/emirhanaydin/skopos/internal/engine"
)

func TestBuildAndParseICMPv4Echo(t *testing.T) {
	payload := []byte{0xaa, 0xbb, 0xcc}
	raw := buildICMPv4Echo(icmpHeader{Identifier: 40000, Sequence: 7}, payload)

	if !ValidateChecksum(raw) {
		t.Fatalf("built ICMPv4 echo has invalid checksum")
	}

	parsed, ok := parseICMPv4(raw)
	if !ok {
		t.Fatal("parseICMPv4() = false, want true")
	}
	if parsed.Type != icmpV4EchoRequest {
		t.Errorf("parsed.Type = %d, want %d", parsed.Type, icmpV4EchoRequest)
	}
	if parsed.Identifier != 40000 || parsed.Sequence != 7 {
		t.Errorf("parsed id/seq = %d/%d, want 40000/7", parsed.Identifier, parsed.Sequence)
	}
}

func TestBuildICMPv6EchoNoChecksum(t *testing.T) {
	raw := buildICMPv6Echo(icmpHeader{Identifier: 1234, Sequence: 1}, []byte{0x01})
	parsed, ok := parseICMPv6(raw)
	if !ok {
		t.Fatal("parseICMPv6() = false, want true")
	}
	if parsed.Identifier != 1234 {
		t.Errorf("parsed.Identifier = %d, want 1234", parsed.Identifier)
	}
}

func TestBuildICMPv4EchoExported(t *testing.T) {
	raw := BuildICMPv4Echo(40000, 7, []byte{0xaa})
	if !ValidateChecksum(raw) {
		t.Fatalf("BuildICMPv4Echo() has invalid checksum")
	}
	parsed, ok := parseICMPv4(raw)
	if !ok || parsed.Identifier != 40000 || parsed.Sequence != 7 {
		t.Errorf("parsed = %+v, %v, want id/seq 40000/7", parsed, ok)
	}
}

func TestBuildICMPv6EchoExported(t *testing.T) {
	raw := BuildICMPv6Echo(1234, 1, []byte{0x01})
	parsed, ok := parseICMPv6(raw)
	if !ok || parsed.Identifier != 1234 {
		t.Errorf("parsed = %+v, %v, want identifier 1234", parsed, ok)
	}
}

func TestParseICMPv4TimeExceededEmbedding(t *testing.T) {
	// Build a minimal embedded original UDP datagram: 20-byte IPv4 header
	// (protocol 17) + first 8 bytes of the UDP header.
	embedded := make([]byte, ipv4HeaderLen+8)
	embedded[0] = 0x45
	embedded[9] = 17 // UDP
	embedded[ipv4HeaderLen+0] = 0x80
	embedded[ipv4HeaderLen+1] = 0x00 // source port 32768

	msg := make([]byte, 8+len(embedded))
	msg[0] = icmpV4TimeExceeded
	copy(msg[8:], embedded)

	parsed, ok := parseICMPv4(msg)
	if !ok || parsed.Type != icmpV4TimeExceeded {
		t.Fatalf("parseICMPv4(time-exceeded) = %+v, %v", parsed, ok)
	}
	proto, port, ok := embeddedKeyIPv4(parsed.Embedded)
	if !ok {
		t.Fatal("embeddedKeyIPv4() = false, want true")
	}
	if port != 32768 {
		t.Errorf("embedded port = %d, want 32768", port)
	}
	if proto != engine.ProtoUDP {
		t.Errorf("embedded proto = %v, want udp", proto)
	}
}

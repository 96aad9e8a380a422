package packetio

import (
	"net"
	"testing"

	"github.com/emirhanaydin/skopos/internal/engine"
)

type fakeCorrelator struct {
	probe       *engine.Probe
	wantProto   engine.Protocol
	wantPort    int
	delivered   bool
	deliveredRT engine.ResponseType
}

func (f *fakeCorrelator) Lookup(proto engine.Protocol, port int) (*engine.Probe, bool) {
	if proto == f.wantProto && port == f.wantPort {
		return f.probe, true
	}
	return nil, false
}

func (f *fakeCorrelator) Deliver(p *engine.Probe, rt engine.ResponseType, remoteIP string, ts engine.Time) {
	f.delivered = true
	f.deliveredRT = rt
}

func TestParseIPv4EchoReplyCorrelates(t *testing.T) {
	icmpBytes := buildICMPv4Echo(icmpHeader{Identifier: 50000, Sequence: 1}, []byte{1, 2, 3})
	// type byte 0 (echo reply) shares layout with echo request; flip it.
	icmpBytes[0] = icmpV4EchoReply

	ipHeader := buildIPv4Header(
		net.ParseIP("127.0.0.1"), net.ParseIP("127.0.0.1"), 1, 64, len(icmpBytes), false)
	full := append(ipHeader, icmpBytes...)

	c := &fakeCorrelator{wantProto: engine.ProtoICMP, wantPort: 50000}
	NewParser().ParseIPv4(full, engine.Time{}, c)

	if !c.delivered {
		t.Fatal("ParseIPv4() did not deliver a matching echo reply")
	}
	if c.deliveredRT != engine.ResponseEchoReply {
		t.Errorf("delivered ResponseType = %v, want ResponseEchoReply", c.deliveredRT)
	}
}

func TestParseIPv4NoMatchDoesNotDeliver(t *testing.T) {
	icmpBytes := buildICMPv4Echo(icmpHeader{Identifier: 1, Sequence: 1}, nil)
	icmpBytes[0] = icmpV4EchoReply
	ipHeader := buildIPv4Header(net.ParseIP("127.0.0.1"), net.ParseIP("127.0.0.1"), 1, 64, len(icmpBytes), false)
	full := append(ipHeader, icmpBytes...)

	c := &fakeCorrelator{wantProto: engine.ProtoICMP, wantPort: 999}
	NewParser().ParseIPv4(full, engine.Time{}, c)

	if c.delivered {
		t.Fatal("ParseIPv4() delivered for a non-matching port")
	}
}

func TestEmbeddedIPv4L4RecoversTCPHeaderAndDest(t *testing.T) {
	embedded := make([]byte, ipv4HeaderLen+8)
	embedded[0] = 0x45
	embedded[9] = 6 // TCP
	copy(embedded[16:20], net.ParseIP("10.0.0.1").To4())
	embedded[ipv4HeaderLen+0] = 0x30
	embedded[ipv4HeaderLen+1] = 0x39 // source port 12345

	proto, l4, dst, ok := EmbeddedIPv4L4(embedded)
	if !ok {
		t.Fatal("EmbeddedIPv4L4() = false, want true")
	}
	if proto != 6 {
		t.Errorf("proto = %d, want 6 (TCP)", proto)
	}
	if len(l4) < 2 || l4[0] != 0x30 || l4[1] != 0x39 {
		t.Errorf("l4 = %v, want leading bytes 0x30 0x39", l4)
	}
	if !dst.Equal(net.ParseIP("10.0.0.1")) {
		t.Errorf("dst = %v, want 10.0.0.1", dst)
	}
}

func TestEmbeddedIPv4L4TooShort(t *testing.T) {
	if _, _, _, ok := EmbeddedIPv4L4(make([]byte, 10)); ok {
		t.Error("EmbeddedIPv4L4() = true for a too-short buffer, want false")
	}
}

func TestEmbeddedIPv6L4RecoversProtoAndL4(t *testing.T) {
	embedded := make([]byte, ipv6HeaderLen+4)
	embedded[6] = 17 // UDP
	embedded[ipv6HeaderLen+0] = 0x00
	embedded[ipv6HeaderLen+1] = 0x50 // source port 80

	proto, l4, ok := EmbeddedIPv6L4(embedded)
	if !ok {
		t.Fatal("EmbeddedIPv6L4() = false, want true")
	}
	if proto != 17 {
		t.Errorf("proto = %d, want 17 (UDP)", proto)
	}
	if len(l4) < 2 || l4[0] != 0x00 || l4[1] != 0x50 {
		t.Errorf("l4 = %v, want leading bytes 0x00 0x50", l4)
	}
}

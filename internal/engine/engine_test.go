package engine

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// fakeResolver/fakeConstructor/fakeSender/fakeEmitter stand in for the
// external collaborators (internal/packetio, internal/protocol) so the
// send/receive/timeout sequencing in this package can be tested without a
// real raw socket, which requires elevated privilege to open.

type fakeResolver struct {
	family Family
	addr   string
	err    error
}

func (f fakeResolver) Decode(string) (Family, string, error) {
	return f.family, f.addr, f.err
}

type fakeConstructor struct {
	result ConstructResult
}

func (f fakeConstructor) Construct(ConstructRequest) ConstructResult {
	return f.result
}

type fakeSender struct {
	err error
}

func (f fakeSender) Send(Family, Protocol, []byte, string) error {
	return f.err
}

type fakeEmission struct {
	token   int
	outcome Outcome
}

type fakeEmitter struct {
	emitted []fakeEmission
}

func (f *fakeEmitter) Emit(token int, outcome Outcome) {
	f.emitted = append(f.emitted, fakeEmission{token: token, outcome: outcome})
}

func newTestEngine(limits Limits, resolver DestResolver, constructor PacketConstructor, sender rawSender, emitter Emitter) *Engine {
	return &Engine{
		table:       NewTable(limits),
		sender:      sender,
		resolver:    resolver,
		constructor: constructor,
		emitter:     emitter,
	}
}

// TestSendExhaustion checks that issuing one probe more than the table's
// capacity emits probes-exhausted synchronously for the last one, while
// the others remain outstanding.
func TestSendExhaustion(t *testing.T) {
	emitter := &fakeEmitter{}
	e := newTestEngine(
		Limits{MaxProbes: 2, MinPort: 1024, MaxPort: 2048},
		fakeResolver{family: FamilyIPv4, addr: "192.0.2.1"},
		fakeConstructor{result: ConstructResult{Kind: ConstructDatagram, Bytes: []byte{0x08, 0x00}}},
		fakeSender{},
		emitter,
	)

	for i := 0; i < 3; i++ {
		if err := e.Send(SendRequest{Token: i, Proto: ProtoICMP, Dest: "192.0.2.1", TTL: 1, Timeout: time.Second}); err != nil {
			t.Fatalf("Send(%d) returned error: %v", i, err)
		}
	}

	if len(emitter.emitted) != 1 {
		t.Fatalf("emitted %d outcomes, want 1 (only the exhausted one)", len(emitter.emitted))
	}
	got := emitter.emitted[0]
	if got.token != 2 || got.outcome.Kind != OutcomeProbesExhausted {
		t.Fatalf("emitted %+v, want token=2 kind=OutcomeProbesExhausted", got)
	}
	if n := e.Outstanding(); n != 2 {
		t.Fatalf("Outstanding() = %d, want 2", n)
	}
}

func TestSendInvalidDestination(t *testing.T) {
	emitter := &fakeEmitter{}
	e := newTestEngine(
		Limits{MaxProbes: 4, MinPort: 1024, MaxPort: 2048},
		fakeResolver{err: unix.EINVAL},
		fakeConstructor{},
		fakeSender{},
		emitter,
	)

	if err := e.Send(SendRequest{Token: 7, Proto: ProtoICMP, Dest: "not-an-ip"}); err != nil {
		t.Fatalf("Send() returned error: %v", err)
	}
	if len(emitter.emitted) != 1 || emitter.emitted[0].outcome.Kind != OutcomeInvalidArgument {
		t.Fatalf("emitted %+v, want a single invalid-argument outcome", emitter.emitted)
	}
	if n := e.Outstanding(); n != 0 {
		t.Fatalf("Outstanding() = %d, want 0 (probe freed on invalid destination)", n)
	}
}

func TestSendClassifiesSendError(t *testing.T) {
	emitter := &fakeEmitter{}
	e := newTestEngine(
		Limits{MaxProbes: 4, MinPort: 1024, MaxPort: 2048},
		fakeResolver{family: FamilyIPv4, addr: "192.0.2.1"},
		fakeConstructor{result: ConstructResult{Kind: ConstructDatagram, Bytes: []byte{0x08, 0x00}}},
		fakeSender{err: unix.ENETUNREACH},
		emitter,
	)

	if err := e.Send(SendRequest{Token: 2, Proto: ProtoICMP, Dest: "192.0.2.1", TTL: 1}); err != nil {
		t.Fatalf("Send() returned error: %v", err)
	}
	if len(emitter.emitted) != 1 || emitter.emitted[0].outcome.Kind != OutcomeNoRoute {
		t.Fatalf("emitted %+v, want a single no-route outcome", emitter.emitted)
	}
}

// TestSendStreamRefusedIsReachability checks that a construct-time
// ECONNREFUSED on a stream probe is treated as immediate reachability
// proof, not an error.
func TestSendStreamRefusedIsReachability(t *testing.T) {
	emitter := &fakeEmitter{}
	e := newTestEngine(
		Limits{MaxProbes: 4, MinPort: 1024, MaxPort: 2048},
		fakeResolver{family: FamilyIPv4, addr: "127.0.0.1"},
		fakeConstructor{result: ConstructResult{Kind: ConstructError, Err: unix.ECONNREFUSED}},
		fakeSender{},
		emitter,
	)

	if err := e.Send(SendRequest{Token: 3, Proto: ProtoTCP, Dest: "127.0.0.1", TTL: 255, Timeout: 5 * time.Second}); err != nil {
		t.Fatalf("Send() returned error: %v", err)
	}
	if len(emitter.emitted) != 1 || emitter.emitted[0].outcome.Kind != OutcomeReply {
		t.Fatalf("emitted %+v, want a single reply outcome", emitter.emitted)
	}
	if n := e.Outstanding(); n != 0 {
		t.Fatalf("Outstanding() = %d, want 0 (probe freed after correlation)", n)
	}
}

func TestSendPopulatesStreamFD(t *testing.T) {
	emitter := &fakeEmitter{}
	e := newTestEngine(
		Limits{MaxProbes: 4, MinPort: 1024, MaxPort: 2048},
		fakeResolver{family: FamilyIPv4, addr: "127.0.0.1"},
		fakeConstructor{result: ConstructResult{Kind: ConstructStream, StreamFD: 42}},
		fakeSender{},
		emitter,
	)

	if err := e.Send(SendRequest{Token: 9, Proto: ProtoTCP, Dest: "127.0.0.1", TTL: 64, Timeout: time.Second}); err != nil {
		t.Fatalf("Send() returned error: %v", err)
	}
	fds := e.StreamFDs()
	if len(fds) != 1 || fds[0] != 42 {
		t.Fatalf("StreamFDs() = %v, want [42]", fds)
	}
	// Detach before the test engine is discarded so Free() below does not
	// attempt to close a fd that was never really opened.
	e.table.IterateUsed(func(p *Probe) bool {
		p.SetStreamFD(noStreamFD)
		return true
	})
}

// TestTimeoutFiresExactlyOnce checks that a probe past its deadline is
// reported no-reply exactly once, not repeatedly on later scans.
func TestTimeoutFiresExactlyOnce(t *testing.T) {
	emitter := &fakeEmitter{}
	e := newTestEngine(
		Limits{MaxProbes: 4, MinPort: 1024, MaxPort: 2048},
		fakeResolver{family: FamilyIPv4, addr: "192.0.2.1"},
		fakeConstructor{result: ConstructResult{Kind: ConstructDatagram, Bytes: []byte{1}}},
		fakeSender{},
		emitter,
	)

	if err := e.Send(SendRequest{Token: 5, Proto: ProtoICMP, Dest: "192.0.2.1", TTL: 1, Timeout: -1 * time.Second}); err != nil {
		t.Fatalf("Send() returned error: %v", err)
	}
	if _, have, err := e.NextDeadline(); err != nil || !have {
		t.Fatalf("NextDeadline() = (_, %v, %v), want (_, true, nil) while the probe is outstanding", have, err)
	}

	if err := e.CheckTimeouts(); err != nil {
		t.Fatalf("CheckTimeouts() returned error: %v", err)
	}
	if err := e.CheckTimeouts(); err != nil {
		t.Fatalf("second CheckTimeouts() returned error: %v", err)
	}

	if len(emitter.emitted) != 1 || emitter.emitted[0].outcome.Kind != OutcomeNoReply {
		t.Fatalf("emitted %+v, want exactly one no-reply outcome", emitter.emitted)
	}
	if _, have, _ := e.NextDeadline(); have {
		t.Fatal("NextDeadline() haveTimeout = true after the only probe expired, want false")
	}
}

func TestDeliverComputesRTTAndFrees(t *testing.T) {
	emitter := &fakeEmitter{}
	e := newTestEngine(
		Limits{MaxProbes: 4, MinPort: 1024, MaxPort: 2048},
		fakeResolver{family: FamilyIPv4, addr: "192.0.2.1"},
		fakeConstructor{result: ConstructResult{Kind: ConstructDatagram, Bytes: []byte{1}}},
		fakeSender{},
		emitter,
	)

	if err := e.Send(SendRequest{Token: 11, Proto: ProtoICMP, Dest: "192.0.2.1", TTL: 1, Timeout: 10 * time.Second}); err != nil {
		t.Fatalf("Send() returned error: %v", err)
	}

	var probe *Probe
	e.table.IterateUsed(func(p *Probe) bool { probe = p; return false })
	if probe == nil {
		t.Fatal("no outstanding probe after Send()")
	}

	ts := probe.depart.Add(42500 * time.Microsecond)
	e.Deliver(probe, ResponseTTLExpired, "198.51.100.1", ts)

	if len(emitter.emitted) != 1 {
		t.Fatalf("emitted %d outcomes, want 1", len(emitter.emitted))
	}
	got := emitter.emitted[0]
	if got.token != 11 || got.outcome.Kind != OutcomeTTLExpired || got.outcome.RTT != 42500 {
		t.Fatalf("emitted %+v, want token=11 kind=ttl-expired rtt=42500", got)
	}
	if n := e.Outstanding(); n != 0 {
		t.Fatalf("Outstanding() = %d, want 0 after Deliver", n)
	}
}

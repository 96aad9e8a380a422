package protocol

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/emirhanaydin/skopos/internal/engine"
)

func newTestSession(buf *bytes.Buffer) *Session {
	return &Session{
		out:    bufio.NewWriter(buf),
		tokens: make(map[int]string),
	}
}

func TestSessionEmitWritesResponseLineOnce(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSession(&buf)
	s.tokens[7] = "req1"

	s.Emit(7, engine.Outcome{Kind: engine.OutcomeReply, RemoteIP: "1.2.3.4", RTT: 900})

	if got, want := buf.String(), "req1 reply 1.2.3.4 900\n"; got != want {
		t.Errorf("Emit() wrote %q, want %q", got, want)
	}
	if _, stillPresent := s.tokens[7]; stillPresent {
		t.Error("Emit() did not remove the delivered token")
	}
}

func TestSessionEmitUnknownTokenIsNoop(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSession(&buf)

	s.Emit(99, engine.Outcome{Kind: engine.OutcomeReply})

	if buf.Len() != 0 {
		t.Errorf("Emit() for an unknown token wrote %q, want nothing", buf.String())
	}
}

func TestDispatchRejectsFamilyMismatchWithoutTouchingEngine(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSession(&buf)

	if err := s.dispatch("req1 send-probe icmp6 127.0.0.1\n"); err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}

	if got, want := buf.String(), "req1 invalid-argument\n"; got != want {
		t.Errorf("dispatch() wrote %q, want %q", got, want)
	}
	if len(s.tokens) != 0 {
		t.Error("dispatch() should not have allocated a token for a rejected command")
	}
}

func TestDispatchEmitsDiagnosticForMalformedLine(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSession(&buf)

	if err := s.dispatch("not a command\n"); err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if got, want := buf.String(), "not invalid-argument\n"; got != want {
		t.Errorf("dispatch() of a malformed line wrote %q, want %q", got, want)
	}
	if len(s.tokens) != 0 {
		t.Error("dispatch() should not have allocated a token for a malformed command")
	}
}

func TestDispatchIgnoresEmptyLine(t *testing.T) {
	var buf bytes.Buffer
	s := newTestSession(&buf)

	if err := s.dispatch("\n"); err != nil {
		t.Fatalf("dispatch() error = %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("dispatch() of an empty line wrote %q, want nothing (no token to key a diagnostic on)", buf.String())
	}
}

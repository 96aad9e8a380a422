package engine

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestClassifyErrnoMapsTable(t *testing.T) {
	cases := []struct {
		errno unix.Errno
		want  string
	}{
		{unix.EINVAL, "invalid-argument"},
		{unix.ENETDOWN, "network-down"},
		{unix.ENETUNREACH, "no-route"},
		{unix.EPERM, "permission-denied"},
		{unix.EADDRINUSE, "address-in-use"},
	}
	for _, c := range cases {
		got := classifyErrno(c.errno).String()
		if got != c.want {
			t.Errorf("classifyErrno(%v).String() = %q, want %q", c.errno, got, c.want)
		}
	}
}

func TestClassifyErrnoUnexpected(t *testing.T) {
	outcome := classifyErrno(unix.ENOMEM)
	want := fmt.Sprintf("unexpected-error errno %d", int(unix.ENOMEM))
	if got := outcome.String(); got != want {
		t.Errorf("classifyErrno(ENOMEM).String() = %q, want %q", got, want)
	}
}

func TestClassifyErrnoWrapped(t *testing.T) {
	wrapped := fmt.Errorf("sendto: %w", unix.ENETDOWN)
	if got := classifyErrno(wrapped).String(); got != "network-down" {
		t.Errorf("classifyErrno(wrapped ENETDOWN).String() = %q, want network-down", got)
	}
}

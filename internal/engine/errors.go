package engine

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// OutcomeKind is the closed vocabulary of terminal outcomes a probe can
// reach.
type OutcomeKind uint8

const (
	OutcomeReply OutcomeKind = iota
	OutcomeTTLExpired
	OutcomeUnreachable
	OutcomeProbesExhausted
	OutcomeInvalidArgument
	OutcomeNetworkDown
	OutcomeNoRoute
	OutcomePermissionDenied
	OutcomeAddressInUse
	OutcomeUnexpectedError
	OutcomeNoReply
)

// Outcome is what the engine hands to an Emitter: a terminal event for one
// probe's token. Token itself is not carried here since the probe slot is
// already gone by the time Emit is called; callers key off the token passed
// alongside.
type Outcome struct {
	Kind OutcomeKind

	// Valid for OutcomeReply/TTLExpired/Unreachable.
	RemoteIP string
	RTT      int64 // microseconds

	// Valid for OutcomeUnexpectedError.
	Errno int
}

func responseOutcome(rt ResponseType, remoteIP string, rtt int64) Outcome {
	var kind OutcomeKind
	switch rt {
	case ResponseTTLExpired:
		kind = OutcomeTTLExpired
	case ResponseUnreachable:
		kind = OutcomeUnreachable
	default:
		kind = OutcomeReply
	}
	return Outcome{Kind: kind, RemoteIP: remoteIP, RTT: rtt}
}

// classifyErrno maps a send/recv error to the closed set of diagnostic
// tokens. A unix.Errno is found even when wrapped; errors that carry no
// unix.Errno at all fall through to
// unexpected-error with errno -1, which should not occur in practice since
// every caller here is a direct syscall wrapper.
func classifyErrno(err error) Outcome {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return Outcome{Kind: OutcomeUnexpectedError, Errno: -1}
	}
	switch errno {
	case unix.EINVAL:
		return Outcome{Kind: OutcomeInvalidArgument}
	case unix.ENETDOWN:
		return Outcome{Kind: OutcomeNetworkDown}
	case unix.ENETUNREACH:
		return Outcome{Kind: OutcomeNoRoute}
	case unix.EPERM:
		return Outcome{Kind: OutcomePermissionDenied}
	case unix.EADDRINUSE:
		return Outcome{Kind: OutcomeAddressInUse}
	default:
		return Outcome{Kind: OutcomeUnexpectedError, Errno: int(errno)}
	}
}

// Token renders the non-response outcome kinds to their wire token, without
// the leading "<token> " that the protocol layer prefixes.
// Reply/TTLExpired/Unreachable are rendered by the protocol layer itself
// since they carry the remote address and RTT.
func (k OutcomeKind) Token() string {
	switch k {
	case OutcomeProbesExhausted:
		return "probes-exhausted"
	case OutcomeInvalidArgument:
		return "invalid-argument"
	case OutcomeNetworkDown:
		return "network-down"
	case OutcomeNoRoute:
		return "no-route"
	case OutcomePermissionDenied:
		return "permission-denied"
	case OutcomeAddressInUse:
		return "address-in-use"
	case OutcomeNoReply:
		return "no-reply"
	case OutcomeReply:
		return "reply"
	case OutcomeTTLExpired:
		return "ttl-expired"
	case OutcomeUnreachable:
		return "unreachable"
	case OutcomeUnexpectedError:
		return "unexpected-error"
	default:
		return "unknown"
	}
}

// String renders the full token including the "errno <n>" suffix for
// unexpected errors.
func (o Outcome) String() string {
	if o.Kind == OutcomeUnexpectedError {
		return fmt.Sprintf("unexpected-error errno %d", o.Errno)
	}
	return o.Kind.Token()
}

// FatalError wraps an unrecoverable error: a clock-read failure, an
// unexpected (non-EAGAIN/EINTR) recvfrom error, a failed fcntl-equivalent
// nonblocking switch, a raw-socket open failure, or an unresolvable
// IP-length byte-order mismatch. The session/cmd layer is expected to log
// and terminate on seeing one.
type FatalError struct {
	Op  string
	Err error
}

func (f *FatalError) Error() string {
	return fmt.Sprintf("skopos: fatal: %s: %v", f.Op, f.Err)
}

func (f *FatalError) Unwrap() error {
	return f.Err
}

func fatalf(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

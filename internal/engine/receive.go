package engine

import (
	"errors"

	"golang.org/x/sys/unix"
)

const maxPacketSize = 65536

// DispatchReceive runs the two receive-path sub-loops in order: the ICMP
// drain over both raw receive sockets, then the stream-probe writable poll.
// Callers (the protocol event loop) invoke this once per wake.
func (e *Engine) DispatchReceive() error {
	if err := e.drainICMP(e.sockets.IPv4Recv, FamilyIPv4); err != nil {
		return err
	}
	if err := e.drainICMP(e.sockets.IPv6Recv, FamilyIPv6); err != nil {
		return err
	}
	return e.pollStreamProbes()
}

// drainICMP repeatedly reads datagrams from fd in non-blocking mode until
// EAGAIN, dispatching each to the family-appropriate Packet Parser. The
// receive timestamp is captured immediately after recvfrom returns, and
// any error other than EAGAIN/EWOULDBLOCK/EINTR is fatal.
func (e *Engine) drainICMP(fd int, family Family) error {
	buf := make([]byte, maxPacketSize)
	for {
		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fatalf("recvfrom", err)
		}
		timestamp, terr := Now()
		if terr != nil {
			return fatalf("gettimeofday (receive)", terr)
		}
		if family == FamilyIPv4 {
			e.parser.ParseIPv4(buf[:n], timestamp, e)
		} else {
			e.parser.ParseIPv6(buf[:n], timestamp, e)
		}
	}
}

// pollStreamProbes checks, for every outstanding probe with a connected
// stream socket, whether the non-blocking connect has completed via a
// zero-timeout writable poll; SO_ERROR then distinguishes success/refused
// (both reachability proof) from a real error.
func (e *Engine) pollStreamProbes() error {
	var fatal error

	e.table.IterateUsed(func(p *Probe) bool {
		if p.streamFD == noStreamFD {
			return true
		}

		pfd := []unix.PollFd{{Fd: int32(p.streamFD), Events: unix.POLLOUT}}
		n, err := unix.Poll(pfd, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				return true
			}
			fatal = fatalf("poll (stream probe)", err)
			return false
		}
		if n == 0 || pfd[0].Revents&unix.POLLOUT == 0 {
			return true // connect has not completed yet
		}

		sockErr, gerr := unix.GetsockoptInt(p.streamFD, unix.SOL_SOCKET, unix.SO_ERROR)
		if gerr != nil {
			fatal = fatalf("getsockopt SO_ERROR", gerr)
			return false
		}

		timestamp, terr := Now()
		if terr != nil {
			fatal = fatalf("gettimeofday (stream poll)", terr)
			return false
		}

		if sockErr == 0 || unix.Errno(sockErr) == unix.ECONNREFUSED {
			e.Deliver(p, ResponseEchoReply, p.remote, timestamp)
			return true
		}

		token := p.token
		outcome := classifyErrno(unix.Errno(sockErr))
		e.table.Free(p)
		e.emitter.Emit(token, outcome)
		return true
	})

	return fatal
}

// Lookup implements Correlator for the Packet Parser: it finds the
// outstanding probe keyed by (proto, port).
func (e *Engine) Lookup(proto Protocol, port int) (*Probe, bool) {
	return e.table.lookup(proto, port)
}

// Deliver implements Correlator's Deliver: it computes round-trip
// microseconds, frees the probe, and hands the outcome to the Emitter.
func (e *Engine) Deliver(p *Probe, rtype ResponseType, remoteIP string, timestamp Time) {
	rtt := timestamp.Sub(p.depart).Microseconds()
	token := p.token
	e.table.Free(p)
	e.emitter.Emit(token, responseOutcome(rtype, remoteIP, rtt))
}

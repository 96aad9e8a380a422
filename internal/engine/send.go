package engine

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

// SendRequest carries one command's worth of send-path parameters:
// protocol, destination, TTL, ports, size, timeout, and the caller's token.
type SendRequest struct {
	Token   int
	Proto   Protocol
	Dest    string
	TTL     int
	Port    int // explicit destination port, e.g. TCP 80; 0 lets packetio choose
	Size    int
	Timeout time.Duration
}

// Send allocates a probe, resolves and constructs the outbound packet or
// stream connect, and dispatches it. It never returns an error for
// per-probe failures (those are reported via the Emitter, keyed by
// req.Token); it returns an error only for a fatal clock-read failure.
func (e *Engine) Send(req SendRequest) error {
	probe, err := e.table.Allocate(req.Token, FamilyIPv4, req.Proto)
	if err != nil {
		e.emitter.Emit(req.Token, Outcome{Kind: OutcomeProbesExhausted})
		return nil
	}

	family, destAddr, derr := e.resolver.Decode(req.Dest)
	if derr != nil {
		e.table.Free(probe)
		e.emitter.Emit(req.Token, Outcome{Kind: OutcomeInvalidArgument})
		return nil
	}
	probe.family = family
	probe.remote = destAddr

	departure, terr := Now()
	if terr != nil {
		e.table.Free(probe)
		return fatalf("gettimeofday (send)", terr)
	}
	probe.depart = departure

	result := e.constructor.Construct(ConstructRequest{
		Proto:             req.Proto,
		Family:            family,
		Port:              probe.port,
		DestAddr:          destAddr,
		DestPort:          req.Port,
		TTL:               req.TTL,
		Size:              req.Size,
		IPLengthHostOrder: e.ipLengthHostOrder(),
	})

	switch result.Kind {
	case ConstructError:
		if errors.Is(result.Err, unix.ECONNREFUSED) {
			// Some stacks refuse stream connects to non-existent local
			// ports before the socket becomes non-blocking; treat this
			// exactly like a completed refused connect discovered later
			// via the stream-probe poll.
			e.Deliver(probe, ResponseEchoReply, destAddr, departure)
			return nil
		}
		outcome := classifyErrno(result.Err)
		e.table.Free(probe)
		e.emitter.Emit(req.Token, outcome)
		return nil

	case ConstructStream:
		probe.streamFD = result.StreamFD

	case ConstructDatagram:
		if len(result.Bytes) > 0 {
			if err := e.sender.Send(family, req.Proto, result.Bytes, destAddr); err != nil {
				outcome := classifyErrno(err)
				e.table.Free(probe)
				e.emitter.Emit(req.Token, outcome)
				return nil
			}
		}
	}

	probe.deadline = departure.Add(req.Timeout)
	return nil
}

package protocol

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/emirhanaydin/skopos/internal/engine"
)

// Session is one run of the command/response protocol bound to a single
// engine.Engine. It implements engine.Emitter, writing every outcome the
// engine reports as a response line on out, and drives a persistent
// unix.Poll event loop that multiplexes stdin readability, the engine's
// receive sockets, and outstanding stream-probe writability.
type Session struct {
	eng *engine.Engine
	in  *bufio.Reader
	out *bufio.Writer

	stdinFD int

	tokens map[int]string
	nextID int
}

// NewSession wires a Session to eng; the session is then handed to eng.Start
// as its Emitter, and Run is called after Start returns. stdin must be a
// real file descriptor (os.Stdin), since the event loop polls it directly
// alongside the engine's raw sockets.
func NewSession(eng *engine.Engine, stdin *os.File, out io.Writer) *Session {
	return &Session{
		eng:     eng,
		in:      bufio.NewReader(stdin),
		out:     bufio.NewWriter(out),
		stdinFD: int(stdin.Fd()),
		tokens:  make(map[int]string),
	}
}

// Emit implements engine.Emitter.
func (s *Session) Emit(token int, outcome engine.Outcome) {
	raw, ok := s.tokens[token]
	if !ok {
		return
	}
	delete(s.tokens, token)
	fmt.Fprintln(s.out, formatOutcome(raw, outcome))
	s.out.Flush()
}

// Run drives the event loop until stdin is closed or a fatal engine error
// occurs. Each wake scans timeouts and drains the receive path regardless of
// which fd became ready, since both operations are cheap and non-blocking.
func (s *Session) Run() error {
	for {
		ipv4Recv, ipv6Recv := s.eng.ReceiveFDs()
		fds := []unix.PollFd{
			{Fd: int32(s.stdinFD), Events: unix.POLLIN},
			{Fd: int32(ipv4Recv), Events: unix.POLLIN},
			{Fd: int32(ipv6Recv), Events: unix.POLLIN},
		}
		for _, fd := range s.eng.StreamFDs() {
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: unix.POLLOUT})
		}

		remaining, haveTimeout, err := s.eng.NextDeadline()
		if err != nil {
			return err
		}
		timeoutMS := -1
		if haveTimeout {
			timeoutMS = int(remaining.Milliseconds())
			if timeoutMS < 0 {
				timeoutMS = 0
			}
		}

		_, err = unix.Poll(fds, timeoutMS)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}

		if fds[0].Revents&unix.POLLIN != 0 {
			line, readErr := s.in.ReadString('\n')
			if line != "" {
				if dispatchErr := s.dispatch(line); dispatchErr != nil {
					return dispatchErr
				}
			}
			if readErr == io.EOF {
				return nil
			}
			if readErr != nil {
				return readErr
			}
		}

		if err := s.eng.CheckTimeouts(); err != nil {
			return err
		}
		if err := s.eng.DispatchReceive(); err != nil {
			return err
		}
	}
}

// dispatch parses one input line and, on success, hands it to the engine's
// Send Path under a freshly allocated internal integer token. A family
// mismatch between the <proto> token (icmp6/udp6 vs icmp/udp) and the
// literal address family is rejected here, before ever touching the probe
// table, since the engine's DestResolver only validates that dest parses as
// an IP, not which family the caller said to expect.
func (s *Session) dispatch(line string) error {
	cmd, err := ParseCommand(line)
	if err != nil {
		if cmd.Token != "" {
			fmt.Fprintln(s.out, formatOutcome(cmd.Token, engine.Outcome{Kind: engine.OutcomeInvalidArgument}))
			s.out.Flush()
		}
		return nil
	}

	if cmd.Proto != engine.ProtoTCP && cmd.Proto != engine.ProtoSCTP {
		if ip := net.ParseIP(cmd.Dest); ip == nil || (ip.To4() != nil) != (cmd.Family == engine.FamilyIPv4) {
			fmt.Fprintln(s.out, formatOutcome(cmd.Token, engine.Outcome{Kind: engine.OutcomeInvalidArgument}))
			s.out.Flush()
			return nil
		}
	}

	id := s.nextID
	s.nextID++
	s.tokens[id] = cmd.Token

	// Send returns an error only for a fatal clock-read failure; every
	// per-probe failure instead reaches Emit via the engine's own emitter
	// callback.
	return s.eng.Send(engine.SendRequest{
		Token:   id,
		Proto:   cmd.Proto,
		Dest:    cmd.Dest,
		TTL:     cmd.TTL,
		Port:    cmd.Port,
		Size:    cmd.Size,
		Timeout: cmd.Timeout,
	})
}

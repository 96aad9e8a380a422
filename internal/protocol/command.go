// Package protocol implements the line-oriented command/response protocol
// the serve subcommand speaks on stdin/stdout, and the poll-based event loop
// that drives internal/engine from it.
package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emirhanaydin/skopos/internal/engine"
)

// Command is one parsed send-probe request line:
//
//	<token> send-probe <proto> <dest> [ttl <n>] [timeout <seconds>] [port <n>] [size <n>]
type Command struct {
	Token   string
	Proto   engine.Protocol
	Family  engine.Family
	Dest    string
	TTL     int
	Timeout time.Duration
	Port    int
	Size    int
}

var errMalformed = errors.New("protocol: malformed command")

// protoTokens maps the wire grammar's <proto> token to an (engine.Protocol,
// engine.Family) pair. icmp6/udp6 select IPv6; tcp/sctp carry no family
// suffix since send-probe's <dest> literal itself determines the family for
// stream protocols.
var protoTokens = map[string]struct {
	proto  engine.Protocol
	family engine.Family
}{
	"icmp":  {engine.ProtoICMP, engine.FamilyIPv4},
	"icmp6": {engine.ProtoICMP, engine.FamilyIPv6},
	"udp":   {engine.ProtoUDP, engine.FamilyIPv4},
	"udp6":  {engine.ProtoUDP, engine.FamilyIPv6},
	"tcp":   {engine.ProtoTCP, engine.FamilyIPv4},
	"sctp":  {engine.ProtoSCTP, engine.FamilyIPv4},
}

// ParseCommand tokenizes a single input line. The only recognized verb is
// send-probe; anything else is reported back as a malformed command rather
// than silently ignored.
//
// On error, the returned Command still carries the best-effort Token
// recovered from the line's first field (empty if the line itself was
// empty), so a caller can still emit a diagnostic keyed by that token
// instead of dropping the line with no response at all.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, errMalformed
	}

	cmd := Command{Token: fields[0]}
	if len(fields) < 4 {
		return cmd, errMalformed
	}
	if fields[1] != "send-probe" {
		return cmd, errMalformed
	}

	spec, ok := protoTokens[fields[2]]
	if !ok {
		return cmd, errMalformed
	}
	cmd.Proto = spec.proto
	cmd.Family = spec.family
	cmd.Dest = fields[3]

	rest := fields[4:]
	if len(rest)%2 != 0 {
		return cmd, errMalformed
	}
	for i := 0; i < len(rest); i += 2 {
		key, val := rest[i], rest[i+1]
		n, err := strconv.Atoi(val)
		if err != nil {
			return cmd, errMalformed
		}
		switch key {
		case "ttl":
			cmd.TTL = n
		case "timeout":
			cmd.Timeout = time.Duration(n) * time.Second
		case "port":
			cmd.Port = n
		case "size":
			cmd.Size = n
		default:
			return cmd, errMalformed
		}
	}

	return cmd, nil
}

// formatOutcome renders a delivered or synchronous outcome as a response
// line in the wire grammar.
func formatOutcome(token string, o engine.Outcome) string {
	switch o.Kind {
	case engine.OutcomeReply:
		return fmt.Sprintf("%s reply %s %d", token, o.RemoteIP, o.RTT)
	case engine.OutcomeTTLExpired:
		return fmt.Sprintf("%s ttl-expired %s %d", token, o.RemoteIP, o.RTT)
	case engine.OutcomeUnreachable:
		return fmt.Sprintf("%s unreachable %s %d", token, o.RemoteIP, o.RTT)
	case engine.OutcomeNoReply:
		return fmt.Sprintf("%s no-reply", token)
	case engine.OutcomeProbesExhausted:
		return fmt.Sprintf("%s probes-exhausted", token)
	default:
		return fmt.Sprintf("%s %s", token, o.String())
	}
}

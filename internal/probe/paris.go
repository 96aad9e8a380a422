package probe

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/emirhanaydin/skopos/internal/packetio"
)

// ParisProberConfig holds configuration for the Paris traceroute prober.
type ParisProberConfig struct {
	// Timeout is the maximum time to wait for a response
	Timeout time.Duration

	// Method is the underlying probe method (ICMP, UDP, TCP)
	Method Method

	// Port is the destination port for UDP/TCP (default: 33434)
	Port int

	// IPv6 enables IPv6 mode
	IPv6 bool

	// FlowID is the fixed flow identifier for consistent routing
	// If 0, a random but consistent ID is generated
	FlowID uint16
}

// DefaultParisProberConfig returns default Paris prober configuration.
func DefaultParisProberConfig() ParisProberConfig {
	return ParisProberConfig{
		Timeout: 3 * time.Second,
		Method:  MethodUDP,
		Port:    33434,
		IPv6:    false,
		FlowID:  0,
	}
}

// ParisProber is a Paris-style traceroute prober that keeps part of the
// flow identifier fixed across probes:
// - ICMP: the echo identifier is the fixed flow ID; the sequence number and
//   the checksum change from probe to probe.
// - UDP: one socket is used for every probe, so the (ephemeral) source port
//   and the configured destination port stay fixed; the payload carries a
//   sequence number and timestamp, so the UDP checksum changes per probe.
// - TCP: not supported; Probe returns an error.
type ParisProber struct {
	config   ParisProberConfig
	icmpConn *icmp.PacketConn
	udpConn  *net.UDPConn
	flowID   uint16
	sequence uint32
}

// NewParisProber creates a new Paris traceroute prober.
func NewParisProber(config ParisProberConfig) (*ParisProber, error) {
	if config.Timeout == 0 {
		config.Timeout = 3 * time.Second
	}
	if config.Port == 0 {
		config.Port = 33434
	}

	// Generate flow ID if not specified
	flowID := config.FlowID
	if flowID == 0 {
		flowID = uint16(time.Now().UnixNano() & 0xFFFF)
	}

	// Create ICMP listener for responses
	var icmpConn *icmp.PacketConn
	var err error

	if config.IPv6 {
		icmpConn, err = icmp.ListenPacket("ip6:ipv6-icmp", "::")
	} else {
		icmpConn, err = icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create ICMP listener: %w", err)
	}

	// For UDP Paris, create UDP socket
	var udpConn *net.UDPConn
	if config.Method == MethodUDP {
		if config.IPv6 {
			udpConn, err = net.ListenUDP("udp6", nil)
		} else {
			udpConn, err = net.ListenUDP("udp4", nil)
		}
		if err != nil {
			icmpConn.Close()
			return nil, fmt.Errorf("failed to create UDP socket: %w", err)
		}
	}

	return &ParisProber{
		config:   config,
		icmpConn: icmpConn,
		udpConn:  udpConn,
		flowID:   flowID,
		sequence: 0,
	}, nil
}

// Probe sends a Paris-style probe with constant flow identifier.
func (p *ParisProber) Probe(ctx context.Context, dest net.IP, ttl int) (*Result, error) {
	if ttl < 1 || ttl > 255 {
		return nil, ErrInvalidTTL
	}

	switch p.config.Method {
	case MethodICMP:
		return p.probeICMP(ctx, dest, ttl)
	case MethodUDP:
		return p.probeUDP(ctx, dest, ttl)
	case MethodTCP:
		return nil, fmt.Errorf("Paris TCP not yet implemented")
	default:
		return p.probeUDP(ctx, dest, ttl)
	}
}

// probeICMP sends a Paris ICMP probe.
// For ICMP, the ID stays constant; the payload is not adjusted, so the
// checksum differs between sequence numbers.
func (p *ParisProber) probeICMP(ctx context.Context, dest net.IP, ttl int) (*Result, error) {
	// Set TTL via IPv4/IPv6 packet conn
	var pc interface{}
	if p.config.IPv6 {
		pc = p.icmpConn.IPv6PacketConn()
		if err := pc.(*ipv6.PacketConn).SetHopLimit(ttl); err != nil {
			return nil, fmt.Errorf("failed to set hop limit: %w", err)
		}
	} else {
		pc = p.icmpConn.IPv4PacketConn()
		if err := pc.(*ipv4.PacketConn).SetTTL(ttl); err != nil {
			return nil, fmt.Errorf("failed to set TTL: %w", err)
		}
	}

	// Use flowID as ICMP ID (constant)
	id := p.flowID
	seq := uint16(atomic.AddUint32(&p.sequence, 1))

	// Build ICMP packet with the constant ID
	packet := p.buildParisICMPPacket(id, seq)

	// Set read deadline
	deadline := time.Now().Add(p.config.Timeout)
	if err := p.icmpConn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	// Record send time
	sendTime := time.Now()

	// Send packet
	var destAddr net.Addr
	if p.config.IPv6 {
		destAddr = &net.IPAddr{IP: dest}
	} else {
		destAddr = &net.IPAddr{IP: dest}
	}

	if _, err := p.icmpConn.WriteTo(packet, destAddr); err != nil {
		return nil, fmt.Errorf("failed to send ICMP: %w", err)
	}

	// Receive response
	return p.receiveICMPResponse(ctx, dest, id, seq, sendTime)
}

// buildParisICMPPacket creates an 18-byte ICMP echo request with the given ID
// and sequence and a standard checksum over the whole packet.
func (p *ParisProber) buildParisICMPPacket(id, seq uint16) []byte {
	// ICMP header: Type(1) + Code(1) + Checksum(2) + ID(2) + Seq(2) = 8 bytes
	// Payload: 8 bytes (timestamp) + 2 bytes (checksum adjustment)
	packet := make([]byte, 18)

	// Type and Code
	if p.config.IPv6 {
		packet[0] = 128 // ICMPv6 Echo Request
	} else {
		packet[0] = 8 // ICMP Echo Request
	}
	packet[1] = 0 // Code

	// Checksum placeholder
	packet[2] = 0
	packet[3] = 0

	// ID (constant for Paris)
	binary.BigEndian.PutUint16(packet[4:6], id)

	// Sequence
	binary.BigEndian.PutUint16(packet[6:8], seq)

	// Timestamp in payload
	binary.BigEndian.PutUint64(packet[8:16], uint64(time.Now().UnixNano()))

	// Two trailing zero bytes; they are not adjusted, so the checksum below
	// varies with the sequence number and timestamp
	packet[16] = 0
	packet[17] = 0

	// Calculate checksum
	checksum := packetio.Checksum(packet)
	binary.BigEndian.PutUint16(packet[2:4], checksum)

	return packet
}

// probeUDP sends a Paris UDP probe.
// For UDP, every probe leaves from the same socket, so the source port stays
// fixed; the payload (and so the checksum) changes per probe.
func (p *ParisProber) probeUDP(ctx context.Context, dest net.IP, ttl int) (*Result, error) {
	// Set TTL on UDP socket
	if err := p.setUDPTTL(ttl); err != nil {
		return nil, fmt.Errorf("failed to set TTL: %w", err)
	}

	// Source port is the socket's ephemeral port
	// Fixed destination port from config
	destPort := p.config.Port

	// Build payload with flow identifier embedded
	payload := p.buildParisUDPPayload()

	// Destination address
	destAddr := &net.UDPAddr{
		IP:   dest,
		Port: destPort,
	}

	// Set read deadline on ICMP listener
	deadline := time.Now().Add(p.config.Timeout)
	if err := p.icmpConn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}

	// Record send time
	sendTime := time.Now()

	// Send UDP packet
	if _, err := p.udpConn.WriteToUDP(payload, destAddr); err != nil {
		return nil, fmt.Errorf("failed to send UDP: %w", err)
	}

	// Wait for ICMP response
	return p.receiveUDPResponse(ctx, dest, destPort, sendTime)
}

// setUDPTTL sets the TTL on the UDP socket.
func (p *ParisProber) setUDPTTL(ttl int) error {
	rawConn, err := p.udpConn.SyscallConn()
	if err != nil {
		return err
	}

	var setErr error
	if p.config.IPv6 {
		err = rawConn.Control(func(fd uintptr) {
			setErr = setIPv6HopLimit(fd, ttl)
		})
	} else {
		err = rawConn.Control(func(fd uintptr) {
			setErr = setIPv4TTL(fd, ttl)
		})
	}

	if err != nil {
		return err
	}
	return setErr
}

// buildParisUDPPayload creates a UDP payload with embedded flow identifier.
func (p *ParisProber) buildParisUDPPayload() []byte {
	// 32-byte payload with flow info
	payload := make([]byte, 32)

	// Flow ID (constant)
	binary.BigEndian.PutUint16(payload[0:2], p.flowID)

	// Sequence (incrementing)
	seq := atomic.AddUint32(&p.sequence, 1)
	binary.BigEndian.PutUint32(payload[2:6], seq)

	// Timestamp
	binary.BigEndian.PutUint64(payload[6:14], uint64(time.Now().UnixNano()))

	// Padding with flow ID to influence checksum
	binary.BigEndian.PutUint16(payload[14:16], p.flowID)

	return payload
}

// receiveICMPResponse waits for ICMP response to our probe.
func (p *ParisProber) receiveICMPResponse(ctx context.Context, dest net.IP, id, seq uint16, sendTime time.Time) (*Result, error) {
	buf := make([]byte, 1500)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, peer, err := p.icmpConn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return nil, ErrTimeout
			}
			return nil, err
		}

		rtt := time.Since(sendTime)

		// Parse ICMP
		var proto int
		if p.config.IPv6 {
			proto = 58
		} else {
			proto = 1
		}

		msg, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil {
			continue
		}

		result, ok := p.matchICMPResponse(msg, dest, id, seq)
		if ok {
			result.RTT = rtt
			result.ResponseIP = parseIP(peer)
			return result, nil
		}
	}
}

// matchICMPResponse checks if ICMP message matches our probe.
func (p *ParisProber) matchICMPResponse(msg *icmp.Message, dest net.IP, id, seq uint16) (*Result, bool) {
	result := &Result{}

	if p.config.IPv6 {
		switch msg.Type {
		case ipv6.ICMPTypeEchoReply:
			if echo, ok := msg.Body.(*icmp.Echo); ok {
				if uint16(echo.ID) == id && uint16(echo.Seq) == seq {
					result.Reached = true
					result.ICMPType = msg.Type.(ipv6.ICMPType).Protocol()
					return result, true
				}
			}
		case ipv6.ICMPTypeTimeExceeded:
			result.TTLExpired = true
			result.ICMPType = msg.Type.(ipv6.ICMPType).Protocol()
			result.ICMPCode = msg.Code
			return result, true
		}
	} else {
		switch msg.Type {
		case ipv4.ICMPTypeEchoReply:
			if echo, ok := msg.Body.(*icmp.Echo); ok {
				if uint16(echo.ID) == id && uint16(echo.Seq) == seq {
					result.Reached = true
					result.ICMPType = msg.Type.(ipv4.ICMPType).Protocol()
					return result, true
				}
			}
		case ipv4.ICMPTypeTimeExceeded:
			result.TTLExpired = true
			result.ICMPType = msg.Type.(ipv4.ICMPType).Protocol()
			result.ICMPCode = msg.Code
			return result, true
		}
	}

	return nil, false
}

// receiveUDPResponse waits for ICMP response to UDP probe.
func (p *ParisProber) receiveUDPResponse(ctx context.Context, dest net.IP, destPort int, sendTime time.Time) (*Result, error) {
	buf := make([]byte, 1500)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		n, peer, err := p.icmpConn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return nil, ErrTimeout
			}
			return nil, err
		}

		rtt := time.Since(sendTime)

		var proto int
		if p.config.IPv6 {
			proto = 58
		} else {
			proto = 1
		}

		msg, err := icmp.ParseMessage(proto, buf[:n])
		if err != nil {
			continue
		}

		result, ok := p.matchUDPResponse(msg, dest, destPort)
		if ok {
			result.RTT = rtt
			result.ResponseIP = parseIP(peer)
			return result, nil
		}
	}
}

// matchUDPResponse checks if ICMP message is response to our UDP probe.
func (p *ParisProber) matchUDPResponse(msg *icmp.Message, dest net.IP, destPort int) (*Result, bool) {
	result := &Result{}

	if p.config.IPv6 {
		switch msg.Type {
		case ipv6.ICMPTypeTimeExceeded:
			result.TTLExpired = true
			result.ICMPType = msg.Type.(ipv6.ICMPType).Protocol()
			result.ICMPCode = msg.Code
			return result, true
		case ipv6.ICMPTypeDestinationUnreachable:
			result.Reached = true
			result.ICMPType = msg.Type.(ipv6.ICMPType).Protocol()
			result.ICMPCode = msg.Code
			return result, true
		}
	} else {
		switch msg.Type {
		case ipv4.ICMPTypeTimeExceeded:
			result.TTLExpired = true
			result.ICMPType = msg.Type.(ipv4.ICMPType).Protocol()
			result.ICMPCode = msg.Code
			return result, true
		case ipv4.ICMPTypeDestinationUnreachable:
			result.Reached = true
			result.ICMPType = msg.Type.(ipv4.ICMPType).Protocol()
			result.ICMPCode = msg.Code
			return result, true
		}
	}

	return nil, false
}

// Name returns the probe method name.
func (p *ParisProber) Name() string {
	return fmt.Sprintf("paris-%s", p.config.Method)
}

// RequiresRoot returns true as Paris probing requires raw sockets.
func (p *ParisProber) RequiresRoot() bool {
	return true
}

// Close releases resources held by the prober.
func (p *ParisProber) Close() error {
	var errs []error

	if p.icmpConn != nil {
		if err := p.icmpConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if p.udpConn != nil {
		if err := p.udpConn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// FlowID returns the flow identifier used by this prober.
func (p *ParisProber) FlowID() uint16 {
	return p.flowID
}

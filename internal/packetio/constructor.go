package packetio

import (
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/emirhanaydin/skopos/internal/engine"
)

const (
	defaultPayloadSize = 32
	defaultUDPDestPort = 33434
	defaultTCPDestPort = 80
	defaultSCTPDestPort = 80
)

// Constructor implements engine.PacketConstructor: it builds ICMP/UDP
// datagrams for connectionless probes and opens non-blocking connected
// sockets for TCP/SCTP probes, handing raw bytes (or a connected fd)
// back to the engine rather than writing to a net.Conn directly.
type Constructor struct {
	sequence uint32
}

// NewConstructor returns a ready Constructor.
func NewConstructor() *Constructor { return &Constructor{} }

// Construct implements engine.PacketConstructor.
func (c *Constructor) Construct(req engine.ConstructRequest) engine.ConstructResult {
	switch req.Proto {
	case engine.ProtoICMP:
		return c.constructICMP(req)
	case engine.ProtoUDP:
		return c.constructUDP(req)
	case engine.ProtoTCP:
		return c.constructStream(req, unix.IPPROTO_TCP, defaultTCPDestPort)
	case engine.ProtoSCTP:
		return c.constructStream(req, unix.IPPROTO_SCTP, defaultSCTPDestPort)
	default:
		return engine.ConstructResult{Kind: engine.ConstructError, Err: unix.EINVAL}
	}
}

func (c *Constructor) nextSeq() uint16 {
	return uint16(atomic.AddUint32(&c.sequence, 1))
}

func payloadOfSize(size int, seq uint16) []byte {
	if size <= 0 {
		size = defaultPayloadSize
	}
	p := make([]byte, size)
	p[0] = byte(seq >> 8)
	if len(p) > 1 {
		p[1] = byte(seq)
	}
	return p
}

func (c *Constructor) constructICMP(req engine.ConstructRequest) engine.ConstructResult {
	dst := net.ParseIP(req.DestAddr)
	if dst == nil {
		return engine.ConstructResult{Kind: engine.ConstructError, Err: unix.EINVAL}
	}
	seq := c.nextSeq()
	payload := payloadOfSize(req.Size, seq)
	hdr := icmpHeader{Identifier: uint16(req.Port), Sequence: seq}

	if req.Family == engine.FamilyIPv6 {
		return engine.ConstructResult{Kind: engine.ConstructDatagram, Bytes: buildICMPv6Echo(hdr, payload)}
	}

	icmpBytes := buildICMPv4Echo(hdr, payload)
	src := outboundSourceIPv4(dst)
	ipHeader := buildIPv4Header(src, dst, unix.IPPROTO_ICMP, req.TTL, len(icmpBytes), req.IPLengthHostOrder)
	return engine.ConstructResult{Kind: engine.ConstructDatagram, Bytes: append(ipHeader, icmpBytes...)}
}

func (c *Constructor) constructUDP(req engine.ConstructRequest) engine.ConstructResult {
	dst := net.ParseIP(req.DestAddr)
	if dst == nil {
		return engine.ConstructResult{Kind: engine.ConstructError, Err: unix.EINVAL}
	}
	dstPort := req.DestPort
	if dstPort == 0 {
		dstPort = defaultUDPDestPort
	}
	seq := c.nextSeq()
	payload := payloadOfSize(req.Size, seq)

	if req.Family == engine.FamilyIPv6 {
		src := outboundSourceIPv6(dst)
		udpBytes := buildUDPDatagram(engine.FamilyIPv6, src, dst, req.Port, dstPort, payload)
		return engine.ConstructResult{Kind: engine.ConstructDatagram, Bytes: udpBytes}
	}

	src := outboundSourceIPv4(dst)
	udpBytes := buildUDPDatagram(engine.FamilyIPv4, src, dst, req.Port, dstPort, payload)
	ipHeader := buildIPv4Header(src, dst, unix.IPPROTO_UDP, req.TTL, len(udpBytes), req.IPLengthHostOrder)
	return engine.ConstructResult{Kind: engine.ConstructDatagram, Bytes: append(ipHeader, udpBytes...)}
}

// constructStream opens a real socket and initiates a non-blocking connect.
// The socket is bound to the probe's allocated correlation port before
// connecting: it sits in the engine's dedicated [MinPort, MaxPort] range
// specifically so that an
// intermediate hop's ICMP time-exceeded, which embeds the original
// segment's source port, can still be matched against the probe table even
// though the "real" reachability signal for this protocol comes from the
// connect completing.
func (c *Constructor) constructStream(req engine.ConstructRequest, ipProto int, defaultDestPort int) engine.ConstructResult {
	dst := net.ParseIP(req.DestAddr)
	if dst == nil {
		return engine.ConstructResult{Kind: engine.ConstructError, Err: unix.EINVAL}
	}
	dstPort := req.DestPort
	if dstPort == 0 {
		dstPort = defaultDestPort
	}

	domain := unix.AF_INET
	if req.Family == engine.FamilyIPv6 {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, ipProto)
	if err != nil {
		return engine.ConstructResult{Kind: engine.ConstructError, Err: err}
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return engine.ConstructResult{Kind: engine.ConstructError, Err: err}
	}
	if err := setStreamTTL(fd, req.Family, req.TTL); err != nil {
		unix.Close(fd)
		return engine.ConstructResult{Kind: engine.ConstructError, Err: err}
	}

	bindAddr, err := sockaddrFor(req.Family, unspecifiedAddr(req.Family), req.Port)
	if err != nil {
		unix.Close(fd)
		return engine.ConstructResult{Kind: engine.ConstructError, Err: err}
	}
	if err := unix.Bind(fd, bindAddr); err != nil {
		unix.Close(fd)
		return engine.ConstructResult{Kind: engine.ConstructError, Err: err}
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return engine.ConstructResult{Kind: engine.ConstructError, Err: err}
	}

	destAddr, err := sockaddrFor(req.Family, dst.String(), dstPort)
	if err != nil {
		unix.Close(fd)
		return engine.ConstructResult{Kind: engine.ConstructError, Err: err}
	}

	err = unix.Connect(fd, destAddr)
	if err == nil || err == unix.EINPROGRESS || err == unix.EALREADY {
		return engine.ConstructResult{Kind: engine.ConstructStream, StreamFD: fd}
	}
	// ECONNREFUSED here (rather than discovered later via poll) still
	// reaches the caller as a ConstructError carrying ECONNREFUSED, not a
	// raw -1/errno pair.
	unix.Close(fd)
	return engine.ConstructResult{Kind: engine.ConstructError, Err: err}
}

func setStreamTTL(fd int, family engine.Family, ttl int) error {
	if ttl <= 0 {
		return nil
	}
	if family == engine.FamilyIPv6 {
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_UNICAST_HOPS, ttl)
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TTL, ttl)
}

func unspecifiedAddr(family engine.Family) string {
	if family == engine.FamilyIPv6 {
		return "::"
	}
	return "0.0.0.0"
}

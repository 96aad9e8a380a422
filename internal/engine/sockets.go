package engine

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

// SocketSet holds the raw sending and receiving sockets for IPv4 and IPv6,
// plus the two runtime feature probes (IP length byte order, SCTP
// availability) that only make sense once those sockets exist.
type SocketSet struct {
	IPv4Send int
	IPv4Recv int
	ICMP6Send int
	UDP6Send  int
	IPv6Recv  int

	IPLengthHostOrder bool
	SCTPSupport       bool
}

// OpenPrivileged opens the five raw sockets the engine needs. It must run
// before any privilege the process holds (CAP_NET_RAW or root) is dropped.
func OpenPrivileged() (*SocketSet, error) {
	s := &SocketSet{IPv4Send: -1, IPv4Recv: -1, ICMP6Send: -1, UDP6Send: -1, IPv6Recv: -1}

	var err error
	if s.IPv4Send, err = unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW); err != nil {
		s.closeOpened()
		return nil, fatalf("open ip4 send socket", err)
	}
	if err = unix.SetsockoptInt(s.IPv4Send, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		s.closeOpened()
		return nil, fatalf("set IP_HDRINCL", err)
	}
	if s.IPv4Recv, err = unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_ICMP); err != nil {
		s.closeOpened()
		return nil, fatalf("open ip4 recv socket", err)
	}
	if s.ICMP6Send, err = unix.Socket(unix.AF_INET6, unix.SOCK_RAW, unix.IPPROTO_ICMPV6); err != nil {
		s.closeOpened()
		return nil, fatalf("open icmp6 send socket", err)
	}
	if s.UDP6Send, err = unix.Socket(unix.AF_INET6, unix.SOCK_RAW, unix.IPPROTO_UDP); err != nil {
		s.closeOpened()
		return nil, fatalf("open udp6 send socket", err)
	}
	if s.IPv6Recv, err = unix.Socket(unix.AF_INET6, unix.SOCK_RAW, unix.IPPROTO_ICMPV6); err != nil {
		s.closeOpened()
		return nil, fatalf("open ip6 recv socket", err)
	}
	return s, nil
}

func (s *SocketSet) closeOpened() {
	for _, fd := range []int{s.IPv4Send, s.IPv4Recv, s.ICMP6Send, s.UDP6Send, s.IPv6Recv} {
		if fd >= 0 {
			unix.Close(fd)
		}
	}
}

// Close releases all five raw sockets.
func (s *SocketSet) Close() error {
	s.closeOpened()
	return nil
}

// probePort is the ICMP identifier used for the startup loopback echo,
// before the probe table (and its own port allocator) exists.
const probePort = 1

// RunFeatureProbes performs the unprivileged-phase detections: the IP
// length byte-order quirk (via a loopback ICMP echo built by constructor)
// and SCTP socket support. It must run after OpenPrivileged
// and before either receive socket is switched to non-blocking.
func (s *SocketSet) RunFeatureProbes(constructor PacketConstructor) error {
	s.IPLengthHostOrder = false
	if err := s.tryLoopbackEcho(constructor); err != nil {
		s.IPLengthHostOrder = true
		if err := s.tryLoopbackEcho(constructor); err != nil {
			return fatalf("IP length byte order unresolvable", err)
		}
	}

	if fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_SCTP); err == nil {
		unix.Close(fd)
		s.SCTPSupport = true
	} else {
		s.SCTPSupport = false
	}

	return nil
}

func (s *SocketSet) tryLoopbackEcho(constructor PacketConstructor) error {
	res := constructor.Construct(ConstructRequest{
		Proto:             ProtoICMP,
		Family:             FamilyIPv4,
		Port:               probePort,
		DestAddr:           "127.0.0.1",
		TTL:                255,
		IPLengthHostOrder:  s.IPLengthHostOrder,
	})
	switch res.Kind {
	case ConstructError:
		return res.Err
	case ConstructDatagram:
		return s.sendRaw(s.IPv4Send, res.Bytes, FamilyIPv4, "127.0.0.1")
	default:
		return errors.New("engine: unexpected stream result from loopback echo construction")
	}
}

// SetNonblocking switches both receive sockets to non-blocking mode. It
// runs after feature probing; the send sockets stay in blocking mode.
func (s *SocketSet) SetNonblocking() error {
	if err := unix.SetNonblock(s.IPv4Recv, true); err != nil {
		return fatalf("set ip4 recv nonblocking", err)
	}
	if err := unix.SetNonblock(s.IPv6Recv, true); err != nil {
		return fatalf("set ip6 recv nonblocking", err)
	}
	return nil
}

// Send chooses the send socket by family and protocol and emits bytes with
// an unconnected sendto.
func (s *SocketSet) Send(family Family, proto Protocol, bytes []byte, destIP string) error {
	var fd int
	switch {
	case family == FamilyIPv4:
		fd = s.IPv4Send
	case family == FamilyIPv6 && proto == ProtoICMP:
		fd = s.ICMP6Send
	case family == FamilyIPv6 && proto == ProtoUDP:
		fd = s.UDP6Send
	default:
		return unix.EINVAL
	}
	return s.sendRaw(fd, bytes, family, destIP)
}

func (s *SocketSet) sendRaw(fd int, bytes []byte, family Family, destIP string) error {
	sa, err := sockaddrFor(family, destIP, 0)
	if err != nil {
		return unix.EINVAL
	}
	return unix.Sendto(fd, bytes, 0, sa)
}

func sockaddrFor(family Family, destIP string, port int) (unix.Sockaddr, error) {
	ip := net.ParseIP(destIP)
	if ip == nil {
		return nil, errors.New("engine: invalid destination address")
	}
	switch family {
	case FamilyIPv4:
		v4 := ip.To4()
		if v4 == nil {
			return nil, errors.New("engine: not an IPv4 address")
		}
		var addr [4]byte
		copy(addr[:], v4)
		return &unix.SockaddrInet4{Port: port, Addr: addr}, nil
	case FamilyIPv6:
		v6 := ip.To16()
		if v6 == nil {
			return nil, errors.New("engine: not an IPv6 address")
		}
		var addr [16]byte
		copy(addr[:], v6)
		return &unix.SockaddrInet6{Port: port, Addr: addr}, nil
	default:
		return nil, errors.New("engine: unknown address family")
	}
}

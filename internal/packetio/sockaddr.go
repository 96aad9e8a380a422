package packetio

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"

	"github.com/emirhanaydin/skopos/internal/engine"
)

// sockaddrFor builds a unix.Sockaddr for bind/connect, mirroring the
// engine's own internal helper of the same name (kept separate since
// sockets.go's version is unexported to internal/engine and this package
// must not reach into engine internals).
func sockaddrFor(family engine.Family, addr string, port int) (unix.Sockaddr, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, errors.New("packetio: invalid address " + addr)
	}
	switch family {
	case engine.FamilyIPv4:
		v4 := ip.To4()
		if v4 == nil {
			return nil, errors.New("packetio: not an IPv4 address: " + addr)
		}
		var a [4]byte
		copy(a[:], v4)
		return &unix.SockaddrInet4{Port: port, Addr: a}, nil
	case engine.FamilyIPv6:
		v6 := ip.To16()
		if v6 == nil {
			return nil, errors.New("packetio: not an IPv6 address: " + addr)
		}
		var a [16]byte
		copy(a[:], v6)
		return &unix.SockaddrInet6{Port: port, Addr: a}, nil
	default:
		return nil, errors.New("packetio: unknown address family")
	}
}

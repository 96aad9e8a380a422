package packetio

import (
	"fmt"
	"net"

	"github.com/emirhanaydin/skopos/internal/engine"
)

// Resolver implements engine.DestResolver: it parses a literal IPv4/IPv6
// address string. No DNS happens here; a hostname is rejected like any other
// non-literal string.
type Resolver struct{}

// NewResolver returns a Resolver. It carries no state; a value receiver
// would do as well, but a constructor matches the shape of Constructor and
// Parser below for symmetry at call sites.
func NewResolver() *Resolver { return &Resolver{} }

// Decode parses dest into a Family and its canonical textual form.
func (*Resolver) Decode(dest string) (engine.Family, string, error) {
	ip := net.ParseIP(dest)
	if ip == nil {
		return 0, "", fmt.Errorf("packetio: %q is not a literal IP address", dest)
	}
	if v4 := ip.To4(); v4 != nil {
		return engine.FamilyIPv4, v4.String(), nil
	}
	return engine.FamilyIPv6, ip.String(), nil
}

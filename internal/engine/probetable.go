package engine

import (
	"errors"

	"golang.org/x/sys/unix"
)

// noStreamFD marks a Probe with no connected stream socket. Real socket fds
// are never negative, so -1 is an unambiguous sentinel.
const noStreamFD = -1

// Limits sizes the probe table and its port allocator. The allocator never
// scans for a free port — it simply advances monotonically and wraps — so
// MaxProbes and the port range must be chosen so wraparound collision stays
// statistically ignorable (see DESIGN.md).
type Limits struct {
	MaxProbes int
	MinPort   int
	MaxPort   int
}

// DefaultLimits returns a 4096-slot table against the IANA dynamic/private
// port range.
func DefaultLimits() Limits {
	return Limits{MaxProbes: 4096, MinPort: 32768, MaxPort: 65535}
}

// Probe is one slot of the outstanding-probe table.
type Probe struct {
	used     bool
	token    int
	port     int
	family   Family
	proto    Protocol
	remote   string // textual remote address, opaque to the engine
	depart   Time
	deadline Time
	streamFD int
}

// Token returns the command token this probe was allocated for.
func (p *Probe) Token() int { return p.token }

// Port returns the probe's allocated transient port.
func (p *Probe) Port() int { return p.port }

// Family returns the probe's address family.
func (p *Probe) Family() Family { return p.family }

// Proto returns the probe's wire protocol.
func (p *Probe) Proto() Protocol { return p.proto }

// StreamFD returns the probe's connected stream socket, or -1 if none.
func (p *Probe) StreamFD() int { return p.streamFD }

// SetStreamFD attaches a connected, non-blocking stream socket to the
// probe. The send path sets the field directly from ConstructResult.StreamFD
// and does not call this method.
func (p *Probe) SetStreamFD(fd int) { p.streamFD = fd }

// Table is the fixed-capacity array of probe slots with a monotonically
// advancing port allocator.
type Table struct {
	slots    []Probe
	nextPort int
	minPort  int
	maxPort  int
}

// NewTable builds a Table sized per limits. MinPort/MaxPort default to
// DefaultLimits' range when zero.
func NewTable(limits Limits) *Table {
	if limits.MaxProbes <= 0 {
		limits.MaxProbes = DefaultLimits().MaxProbes
	}
	if limits.MinPort <= 0 || limits.MaxPort <= 0 || limits.MaxPort < limits.MinPort {
		d := DefaultLimits()
		limits.MinPort, limits.MaxPort = d.MinPort, d.MaxPort
	}
	return &Table{
		slots:    make([]Probe, limits.MaxProbes),
		nextPort: limits.MinPort,
		minPort:  limits.MinPort,
		maxPort:  limits.MaxPort,
	}
}

var errExhausted = errors.New("engine: probe table exhausted")

// Allocate scans for the first unused slot, marks it used, assigns the next
// port in the monotonic sequence (wrapping MaxPort+1 back to MinPort without
// checking for reuse conflicts), and returns it. Returns errExhausted if
// every slot is in use.
func (t *Table) Allocate(token int, family Family, proto Protocol) (*Probe, error) {
	for i := range t.slots {
		if t.slots[i].used {
			continue
		}
		p := &t.slots[i]
		*p = Probe{
			used:     true,
			token:    token,
			port:     t.nextPort,
			family:   family,
			proto:    proto,
			streamFD: noStreamFD,
		}
		t.advancePort()
		return p, nil
	}
	return nil, errExhausted
}

func (t *Table) advancePort() {
	t.nextPort++
	if t.nextPort > t.maxPort {
		t.nextPort = t.minPort
	}
}

// Free releases a probe slot, closing its stream socket if one is set.
func (t *Table) Free(p *Probe) {
	if p.streamFD != noStreamFD {
		unix.Close(p.streamFD)
		p.streamFD = noStreamFD
	}
	p.used = false
}

// IterateUsed calls fn for every currently-used slot, in slot order. fn
// returns false to stop iteration early. Freeing the slot passed to fn from
// within fn itself is safe; iteration does not revisit freed slots.
func (t *Table) IterateUsed(fn func(*Probe) bool) {
	for i := range t.slots {
		p := &t.slots[i]
		if !p.used {
			continue
		}
		if !fn(p) {
			return
		}
	}
}

// Len returns the number of currently-used slots.
func (t *Table) Len() int {
	n := 0
	t.IterateUsed(func(*Probe) bool { n++; return true })
	return n
}

// Cap returns the table's fixed capacity.
func (t *Table) Cap() int { return len(t.slots) }

// lookup finds the used slot matching proto and port, used by the
// correlation path (Engine implements Correlator on top of this).
func (t *Table) lookup(proto Protocol, port int) (*Probe, bool) {
	for i := range t.slots {
		p := &t.slots[i]
		if p.used && p.proto == proto && p.port == port {
			return p, true
		}
	}
	return nil, false
}

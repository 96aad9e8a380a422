package engine

// Engine owns the Probe Table and the Platform Socket Set, and is the
// single-owner, single-threaded entry point every other component in this
// package operates through.
//
// Construction is two-phase: New opens the raw sockets (the privileged
// phase) and Start wires the external collaborators and runs the
// unprivileged phase (feature probes, then non-blocking mode). Callers
// must not call any other Engine method between New and a successful
// Start.
type Engine struct {
	table   *Table
	sockets *SocketSet
	sender  rawSender

	resolver    DestResolver
	constructor PacketConstructor
	parser      Parser
	emitter     Emitter
}

// rawSender is the subset of *SocketSet the Send Path depends on. Factoring
// it out lets tests exercise the allocate/decode/construct/classify
// sequencing in send.go against a fake, without opening real raw sockets
// (which requires elevated privilege).
type rawSender interface {
	Send(family Family, proto Protocol, bytes []byte, destIP string) error
}

func (e *Engine) ipLengthHostOrder() bool {
	if e.sockets == nil {
		return false
	}
	return e.sockets.IPLengthHostOrder
}

// New performs the privileged phase: it opens the raw IPv4/IPv6 sockets and
// allocates the probe table. Call this before dropping any elevated
// capability the process was started with.
func New(limits Limits) (*Engine, error) {
	sockets, err := OpenPrivileged()
	if err != nil {
		return nil, err
	}
	return &Engine{
		table:   NewTable(limits),
		sockets: sockets,
		sender:  sockets,
	}, nil
}

// Start performs the unprivileged phase: it wires the external
// collaborators, runs the IP-length and SCTP feature probes, and switches
// both receive sockets to non-blocking mode.
func (e *Engine) Start(resolver DestResolver, constructor PacketConstructor, parser Parser, emitter Emitter) error {
	e.resolver = resolver
	e.constructor = constructor
	e.parser = parser
	e.emitter = emitter

	if err := e.sockets.RunFeatureProbes(constructor); err != nil {
		return err
	}
	return e.sockets.SetNonblocking()
}

// Close releases the engine's raw sockets. Stream sockets belonging to
// still-outstanding probes are not explicitly closed here; process exit
// reclaims them.
func (e *Engine) Close() error {
	return e.sockets.Close()
}

// IPLengthHostOrder reports the discovered IPv4 total-length byte-order
// convention, exposed so internal/packetio's constructor can be unit tested
// against both settings without depending on this package's internals.
func (e *Engine) IPLengthHostOrder() bool { return e.sockets.IPLengthHostOrder }

// SCTPSupport reports whether SCTP sockets can be created on this host.
func (e *Engine) SCTPSupport() bool { return e.sockets.SCTPSupport }

// ReceiveFDs returns the two raw receive sockets, for the event loop's
// readable set.
func (e *Engine) ReceiveFDs() (ipv4, ipv6 int) {
	return e.sockets.IPv4Recv, e.sockets.IPv6Recv
}

// StreamFDs returns the connect-pending stream sockets of every outstanding
// probe, for the event loop's writable set.
func (e *Engine) StreamFDs() []int {
	var fds []int
	e.table.IterateUsed(func(p *Probe) bool {
		if p.streamFD != noStreamFD {
			fds = append(fds, p.streamFD)
		}
		return true
	})
	return fds
}

// Outstanding returns the number of currently-used probe slots.
func (e *Engine) Outstanding() int { return e.table.Len() }

// Capacity returns the probe table's fixed capacity.
func (e *Engine) Capacity() int { return e.table.Cap() }

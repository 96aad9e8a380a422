package engine

import "testing"

func TestTableAllocateAssignsDistinctPorts(t *testing.T) {
	tbl := NewTable(Limits{MaxProbes: 8, MinPort: 100, MaxPort: 107})

	seen := make(map[int]bool)
	var probes []*Probe
	for i := 0; i < 8; i++ {
		p, err := tbl.Allocate(i, FamilyIPv4, ProtoICMP)
		if err != nil {
			t.Fatalf("Allocate(%d) = %v, want success", i, err)
		}
		if seen[p.Port()] {
			t.Fatalf("port %d allocated twice", p.Port())
		}
		seen[p.Port()] = true
		probes = append(probes, p)
	}

	if _, err := tbl.Allocate(99, FamilyIPv4, ProtoICMP); err != errExhausted {
		t.Fatalf("Allocate on full table = %v, want errExhausted", err)
	}

	for _, p := range probes {
		tbl.Free(p)
	}
	if n := tbl.Len(); n != 0 {
		t.Fatalf("Len() after freeing all probes = %d, want 0", n)
	}
}

// TestAllocatorWrapLaw checks that allocating MaxPort-MinPort+2 probes in
// succession, freeing each before the next, yields ports MinPort,
// MinPort+1, ..., MaxPort, MinPort.
func TestAllocatorWrapLaw(t *testing.T) {
	const minPort, maxPort = 200, 205
	tbl := NewTable(Limits{MaxProbes: 4, MinPort: minPort, MaxPort: maxPort})

	want := []int{200, 201, 202, 203, 204, 205, 200}
	for i, wantPort := range want {
		p, err := tbl.Allocate(i, FamilyIPv4, ProtoICMP)
		if err != nil {
			t.Fatalf("Allocate(%d) = %v, want success", i, err)
		}
		if p.Port() != wantPort {
			t.Fatalf("allocation %d: port = %d, want %d", i, p.Port(), wantPort)
		}
		tbl.Free(p)
	}
}

func TestTableFreeClosesStreamSocket(t *testing.T) {
	tbl := NewTable(Limits{MaxProbes: 1, MinPort: 1024, MaxPort: 2048})
	p, err := tbl.Allocate(1, FamilyIPv4, ProtoTCP)
	if err != nil {
		t.Fatalf("Allocate() = %v, want success", err)
	}
	if p.StreamFD() != noStreamFD {
		t.Fatalf("fresh probe StreamFD() = %d, want %d", p.StreamFD(), noStreamFD)
	}

	r, w, err := pipeFDs()
	if err != nil {
		t.Fatalf("pipeFDs() = %v", err)
	}
	defer closeFD(w)
	p.SetStreamFD(r)

	tbl.Free(p)

	if p.StreamFD() != noStreamFD {
		t.Fatalf("StreamFD() after Free() = %d, want %d", p.StreamFD(), noStreamFD)
	}
	if fdIsOpen(r) {
		t.Fatalf("fd %d still open after Free()", r)
	}
}

func TestTableIterateUsedSkipsFreedSlots(t *testing.T) {
	tbl := NewTable(Limits{MaxProbes: 3, MinPort: 1, MaxPort: 10})
	a, _ := tbl.Allocate(1, FamilyIPv4, ProtoICMP)
	_, _ = tbl.Allocate(2, FamilyIPv4, ProtoICMP)
	tbl.Free(a)

	var tokens []int
	tbl.IterateUsed(func(p *Probe) bool {
		tokens = append(tokens, p.Token())
		return true
	})
	if len(tokens) != 1 || tokens[0] != 2 {
		t.Fatalf("IterateUsed() tokens = %v, want [2]", tokens)
	}
}

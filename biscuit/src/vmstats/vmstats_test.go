package vmstats

import (
	"testing"

	"mem"
	"vm"
)

func TestSnapshotCountsResidentPages(t *testing.T) {
	mem.Phys_init(64)
	as := vm.NewVm()

	addr, err := as.Mmap(0, 2*mem.PGSIZE, vm.PROT_READ|vm.PROT_WRITE, vm.MAP_PRIVATE|vm.MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("Mmap: %v", err)
	}
	if err := as.Pgfault(0, uintptr(addr), mem.PTE_U|mem.PTE_W); err != 0 {
		t.Fatalf("Pgfault: %v", err)
	}

	p := Snapshot(as)
	if len(p.Sample) != 1 {
		t.Fatalf("snapshot has %d samples, want 1 per live region", len(p.Sample))
	}
	s := p.Sample[0]
	if s.Value[0] != 1 {
		t.Errorf("resident pages = %d, want 1 (only one page faulted in)", s.Value[0])
	}
	if s.Value[1] != 2 {
		t.Errorf("region span = %d pages, want 2", s.Value[1])
	}
	if got := s.Label["kind"][0]; got != "anon" {
		t.Errorf("region kind label = %q, want \"anon\"", got)
	}
}

func TestSnapshotEmptyAddressSpace(t *testing.T) {
	mem.Phys_init(16)
	p := Snapshot(vm.NewVm())
	if len(p.Sample) != 0 {
		t.Fatalf("empty address space produced %d samples", len(p.Sample))
	}
}

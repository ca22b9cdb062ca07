package vm

import (
	"testing"

	"defs"
	"limits"
	"mem"
)

func initPhysmem(t *testing.T) {
	// every test below allocates frames through vm's fault/CoW paths, so a
	// generously sized pool is reserved once up front.
	mem.Phys_init(4096)
}

func TestMmapAnonRoundtrip(t *testing.T) {
	initPhysmem(t)
	as := NewVm()

	addr, err := as.Mmap(0, 3*mem.PGSIZE, PROT_READ|PROT_WRITE, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("Mmap: %v", err)
	}
	if uintptr(addr)&uintptr(mem.PGSIZE-1) != 0 {
		t.Fatalf("Mmap returned a non-page-aligned address 0x%x", addr)
	}
	if _, ok := as.Vmregion.Lookup(uintptr(addr)); !ok {
		t.Fatal("region table has no entry for the new mapping")
	}

	free := mem.Physmem.Pgcount()
	if err := as.Munmap(addr, 3*mem.PGSIZE); err != 0 {
		t.Fatalf("Munmap: %v", err)
	}
	if _, ok := as.Vmregion.Lookup(uintptr(addr)); ok {
		t.Fatal("region still present after Munmap")
	}
	if got := mem.Physmem.Pgcount(); got != free {
		t.Fatalf("Munmap of a never-faulted mapping freed %d frames, want 0", got-free)
	}
}

func TestMmapRejectsBadArgs(t *testing.T) {
	initPhysmem(t)
	as := NewVm()

	if _, err := as.Mmap(0, 0, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0); err == 0 {
		t.Error("zero length should be rejected")
	}
	if _, err := as.Mmap(0, mem.PGSIZE, 0xff, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0); err == 0 {
		t.Error("an unrecognized prot bit should be rejected")
	}
	// MAP_ANONYMOUS with a non-nil fops is invalid; MAP_ANONYMOUS unset with
	// a nil fops is equally invalid (no backing object at all).
	if _, err := as.Mmap(0, mem.PGSIZE, PROT_READ, MAP_PRIVATE, nil, 0); err == 0 {
		t.Error("a non-anonymous mapping with no fops should be rejected")
	}
}

func TestMmapFailureLeavesStateUnchanged(t *testing.T) {
	initPhysmem(t)
	as := NewVm()

	addr, err := as.Mmap(0, mem.PGSIZE, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("Mmap: %v", err)
	}
	before := len(as.Vmregion.regions)

	// A fixed request landing exactly on the live mapping must fail
	// without mutating the region table: a failed mmap is a no-op.
	if _, err := as.Mmap(addr, mem.PGSIZE, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS|MAP_FIXED, nil, 0); err == 0 {
		t.Fatal("fixed mmap onto a live mapping should fail")
	}
	if len(as.Vmregion.regions) != before {
		t.Fatalf("failed Mmap changed the region count: %d -> %d", before, len(as.Vmregion.regions))
	}
}

func TestMunmapUnknownRangeIsNotFound(t *testing.T) {
	initPhysmem(t)
	as := NewVm()
	if err := as.Munmap(int(mem.USERMIN), mem.PGSIZE); err != -defs.ENOENT {
		t.Fatalf("Munmap of an unmapped range = %v, want ENOENT", err)
	}
}

func TestMunmapSplitMiddleOfRegion(t *testing.T) {
	initPhysmem(t)
	as := NewVm()

	addr, err := as.Mmap(0, 10*mem.PGSIZE, PROT_READ|PROT_WRITE, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("Mmap: %v", err)
	}

	holeAddr := addr + 4*mem.PGSIZE
	if err := as.Munmap(holeAddr, 2*mem.PGSIZE); err != 0 {
		t.Fatalf("Munmap hole: %v", err)
	}
	if len(as.Vmregion.regions) != 2 {
		t.Fatalf("munmap of an interior hole should split into 2 regions, got %d", len(as.Vmregion.regions))
	}
	if _, ok := as.Vmregion.Lookup(uintptr(holeAddr)); ok {
		t.Error("the unmapped hole should no longer resolve")
	}
	if _, ok := as.Vmregion.Lookup(uintptr(addr)); !ok {
		t.Error("the left remainder should still resolve")
	}
	if _, ok := as.Vmregion.Lookup(uintptr(addr + 9*mem.PGSIZE)); !ok {
		t.Error("the right remainder should still resolve")
	}
}

// An interior munmap needs a free region-table slot for the split; with the
// table at capacity the syscall must fail without mutating anything -- no
// region change and, critically, no PTE cleared (the feasibility check has
// to come before any teardown).
func TestMunmapSplitFailsAtomicallyWhenTableFull(t *testing.T) {
	initPhysmem(t)
	orig := limits.Syslimit.MaxMmaps
	limits.Syslimit.MaxMmaps = 4
	defer func() { limits.Syslimit.MaxMmaps = orig }()

	as := NewVm()
	addr, err := as.Mmap(0, 3*mem.PGSIZE, PROT_READ|PROT_WRITE, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("Mmap: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := as.Pgfault(0, uintptr(addr+i*mem.PGSIZE), mem.PTE_U|mem.PTE_W); err != 0 {
			t.Fatalf("fault page %d: %v", i, err)
		}
	}
	for len(as.Vmregion.regions) < limits.Syslimit.MaxMmaps {
		if _, err := as.Mmap(0, mem.PGSIZE, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0); err != 0 {
			t.Fatalf("filler Mmap: %v", err)
		}
	}

	before := len(as.Vmregion.regions)
	if err := as.Munmap(addr+mem.PGSIZE, mem.PGSIZE); err != -defs.ENOSPC {
		t.Fatalf("interior Munmap with a full table = %v, want ENOSPC", err)
	}
	if len(as.Vmregion.regions) != before {
		t.Fatalf("failed Munmap changed the region count: %d -> %d", before, len(as.Vmregion.regions))
	}
	if _, ok := as.Vmregion.Lookup(uintptr(addr + mem.PGSIZE)); !ok {
		t.Fatal("the middle page's region must survive the failed Munmap")
	}
	for i := 0; i < 3; i++ {
		pte, ok := as.Pmap.lookup(uintptr(addr + i*mem.PGSIZE))
		if !ok || *pte&mem.PTE_P == 0 {
			t.Fatalf("page %d was torn down by a Munmap that reported failure", i)
		}
	}
}

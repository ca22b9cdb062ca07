package vm

import (
	"testing"

	"mem"
)

// TestForkDowngradesPresentWritablePage checks that a faulted-in writable
// private page is downgraded to read-only+PTE_COW on both parent and
// child, and that the underlying frame's refcount reflects both mappings.
func TestForkDowngradesPresentWritablePage(t *testing.T) {
	initPhysmem(t)
	as := NewVm()

	addr, err := as.Mmap(0, mem.PGSIZE, PROT_READ|PROT_WRITE, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("Mmap: %v", err)
	}
	va := uintptr(addr)

	// Fault the page in as a write so it starts out present and writable,
	// not a COW-armed read-only zero-page mapping.
	if err := as.Pgfault(0, va, mem.PTE_U|mem.PTE_W); err != 0 {
		t.Fatalf("write fault: %v", err)
	}
	ppte, ok := as.Pmap.lookup(va)
	if !ok || *ppte&mem.PTE_P == 0 {
		t.Fatal("page should be present after write fault")
	}
	if *ppte&mem.PTE_W == 0 {
		t.Fatal("page should be writable after write fault, before fork")
	}
	frame := *ppte & mem.PTE_ADDR

	child, err := as.Fork()
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}

	ppte, ok = as.Pmap.lookup(va)
	if !ok || *ppte&mem.PTE_P == 0 {
		t.Fatal("parent page vanished after fork")
	}
	if *ppte&mem.PTE_W != 0 {
		t.Fatal("parent's writable page must be downgraded to read-only after fork")
	}
	if *ppte&mem.PTE_COW == 0 {
		t.Fatal("parent's downgraded page must have PTE_COW armed")
	}
	if *ppte&mem.PTE_ADDR != frame {
		t.Fatal("fork must not change which frame the parent's PTE points at")
	}

	cpte, ok := child.Pmap.lookup(va)
	if !ok || *cpte&mem.PTE_P == 0 {
		t.Fatal("child should inherit the parent's present page")
	}
	if *cpte&mem.PTE_W != 0 {
		t.Fatal("child's inherited page must also be read-only")
	}
	if *cpte&mem.PTE_COW == 0 {
		t.Fatal("child's inherited page must have PTE_COW armed")
	}
	if *cpte&mem.PTE_ADDR != frame {
		t.Fatal("child must share the same frame as the parent until one side writes")
	}

	if refc := mem.Physmem.Refcnt(frame); refc < 2 {
		t.Fatalf("shared frame refcount = %d, want >= 2 after fork", refc)
	}
}

// TestForkCowWriteDiverges is the full copy-on-write scenario: parent
// writes, forks, child writes the same address -- afterward the two sides
// point at different frames, the child's copy starts from the parent's
// data, and the parent's byte is untouched.
func TestForkCowWriteDiverges(t *testing.T) {
	initPhysmem(t)
	as := NewVm()

	addr, err := as.Mmap(0, mem.PGSIZE, PROT_READ|PROT_WRITE, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("Mmap: %v", err)
	}
	va := uintptr(addr)

	if err := as.Pgfault(0, va, mem.PTE_U|mem.PTE_W); err != 0 {
		t.Fatalf("parent write fault: %v", err)
	}
	ppte, _ := as.Pmap.lookup(va)
	parentFrame := *ppte & mem.PTE_ADDR
	mem.Pg2bytes(mem.Physmem.Dmap(parentFrame))[0] = 'X'

	child, err := as.Fork()
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}

	if err := child.Pgfault(0, va, mem.PTE_U|mem.PTE_W); err != 0 {
		t.Fatalf("child write fault: %v", err)
	}
	cpte, _ := child.Pmap.lookup(va)
	childFrame := *cpte & mem.PTE_ADDR
	if childFrame == parentFrame {
		t.Fatal("child's write must land on a private copy, not the shared frame")
	}
	cpg := mem.Pg2bytes(mem.Physmem.Dmap(childFrame))
	if cpg[0] != 'X' {
		t.Fatalf("child's copy byte 0 = %q, want the parent's 'X'", cpg[0])
	}
	cpg[0] = 'Y'

	ppg := mem.Pg2bytes(mem.Physmem.Dmap(parentFrame))
	if ppg[0] != 'X' {
		t.Fatalf("parent byte 0 = %q after the child's write, want 'X'", ppg[0])
	}

	// the parent's next write claims its now sole-owned frame in place.
	if err := as.Pgfault(0, va, mem.PTE_U|mem.PTE_W); err != 0 {
		t.Fatalf("parent re-write fault: %v", err)
	}
	ppte, _ = as.Pmap.lookup(va)
	if *ppte&mem.PTE_ADDR != parentFrame {
		t.Fatal("sole owner should claim its frame on write, not copy it")
	}
	if *ppte&mem.PTE_W == 0 {
		t.Fatal("parent's claimed frame must be writable again")
	}
}

// TestForkLeavesUnfaultedPageAbsent verifies a never-touched page in a
// writable private region stays absent on both parent and child: fork only
// downgrades PTEs that are already present, it never eagerly fills.
func TestForkLeavesUnfaultedPageAbsent(t *testing.T) {
	initPhysmem(t)
	as := NewVm()

	addr, err := as.Mmap(0, mem.PGSIZE, PROT_READ|PROT_WRITE, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("Mmap: %v", err)
	}
	va := uintptr(addr)

	child, err := as.Fork()
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}

	if _, ok := as.Pmap.lookup(va); ok {
		t.Fatal("parent page should still be absent; it was never faulted in")
	}
	if _, ok := child.Pmap.lookup(va); ok {
		t.Fatal("child page should be absent; fork must not eagerly fill lazy regions")
	}

	if _, ok := child.Vmregion.Lookup(va); !ok {
		t.Fatal("child should still inherit the region table entry for the lazy mapping")
	}
}

// TestForkSharedAnonNotDowngraded verifies a shared-anon mapping keeps its
// writable PTE across fork: VSANON regions are excluded from the CoW
// downgrade because every sharer is meant to observe writes immediately.
func TestForkSharedAnonNotDowngraded(t *testing.T) {
	initPhysmem(t)
	as := NewVm()

	va := mem.USERMIN
	if err := as.Vmadd_shareanon(int(va), mem.PGSIZE, mem.PTE_U|mem.PTE_W); err != 0 {
		t.Fatalf("Vmadd_shareanon: %v", err)
	}

	// Shared-anon pages are never lazily faulted in (Sys_pgfault panics if
	// it sees one absent); a sharer's mapping is always pre-populated, so
	// the test installs the PTE directly the way Vmadd_shareanon's callers
	// are expected to.
	_, p_pg, ok := mem.Physmem.Refpg_new_nozero()
	if !ok {
		t.Fatal("Refpg_new_nozero: out of frames")
	}
	if _, ok := as.Page_insert(va, p_pg, mem.PTE_U|mem.PTE_W|mem.PTE_P, true, nil); !ok {
		t.Fatal("Page_insert failed")
	}

	child, err := as.Fork()
	if err != 0 {
		t.Fatalf("Fork: %v", err)
	}

	ppte, ok := as.Pmap.lookup(va)
	if !ok || *ppte&mem.PTE_P == 0 {
		t.Fatal("parent page should remain present")
	}
	if *ppte&mem.PTE_W == 0 {
		t.Fatal("shared-anon page must stay writable across fork")
	}

	cpte, ok := child.Pmap.lookup(va)
	if !ok || *cpte&mem.PTE_P == 0 {
		t.Fatal("child should inherit the shared-anon page")
	}
	if *cpte&mem.PTE_W == 0 {
		t.Fatal("child's shared-anon page must also stay writable")
	}
	if *cpte&mem.PTE_ADDR != *ppte&mem.PTE_ADDR {
		t.Fatal("parent and child must share the same frame for a shared-anon mapping")
	}
}

package vm

import (
	"testing"

	"defs"
	"mem"
)

// Two successive non-fixed mappings of equal length must return increasing
// addresses, and unmapping the lower one must make its gap the next
// placement target again (lowest-gap-first).
func TestNonFixedPlacementLowestGapFirst(t *testing.T) {
	initPhysmem(t)
	as := NewVm()

	a1, err := as.Mmap(0, 2*mem.PGSIZE, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("first Mmap: %v", err)
	}
	a2, err := as.Mmap(0, 2*mem.PGSIZE, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("second Mmap: %v", err)
	}
	if a2 <= a1 {
		t.Fatalf("successive non-fixed mappings not increasing: 0x%x then 0x%x", a1, a2)
	}

	if err := as.Munmap(a1, 2*mem.PGSIZE); err != 0 {
		t.Fatalf("Munmap: %v", err)
	}
	a3, err := as.Mmap(0, 2*mem.PGSIZE, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("third Mmap: %v", err)
	}
	if a3 != a1 {
		t.Fatalf("freed lowest gap not reused: got 0x%x, want 0x%x", a3, a1)
	}
}

// A gap exactly as large as the request is usable; a smaller one is
// skipped in favor of the next gap up.
func TestNonFixedPlacementSkipsTooSmallGaps(t *testing.T) {
	initPhysmem(t)
	as := NewVm()

	a1, err := as.Mmap(0, mem.PGSIZE, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("Mmap: %v", err)
	}
	// pin a second region one page past the first, leaving a one-page gap
	hole := a1 + 2*mem.PGSIZE
	if _, err := as.Mmap(hole, mem.PGSIZE, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS|MAP_FIXED, nil, 0); err != 0 {
		t.Fatalf("fixed Mmap: %v", err)
	}

	a2, err := as.Mmap(0, 2*mem.PGSIZE, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("two-page Mmap: %v", err)
	}
	if a2 != hole+mem.PGSIZE {
		t.Fatalf("two-page request should skip the one-page gap: got 0x%x, want 0x%x", a2, hole+mem.PGSIZE)
	}

	a3, err := as.Mmap(0, mem.PGSIZE, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS, nil, 0)
	if err != 0 {
		t.Fatalf("one-page Mmap: %v", err)
	}
	if a3 != a1+mem.PGSIZE {
		t.Fatalf("one-page request should land in the one-page gap: got 0x%x, want 0x%x", a3, a1+mem.PGSIZE)
	}
}

func TestFixedPlacementHonorsAddress(t *testing.T) {
	initPhysmem(t)
	as := NewVm()

	want := int(mmapWindowBase) + 64*mem.PGSIZE
	got, err := as.Mmap(want, mem.PGSIZE, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS|MAP_FIXED, nil, 0)
	if err != 0 {
		t.Fatalf("fixed Mmap: %v", err)
	}
	if got != want {
		t.Fatalf("fixed Mmap moved the mapping: got 0x%x, want 0x%x", got, want)
	}

	if _, err := as.Mmap(want, mem.PGSIZE, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS|MAP_FIXED, nil, 0); err != -defs.EEXIST {
		t.Fatalf("overlapping fixed Mmap = %v, want EEXIST", err)
	}
	if _, err := as.Mmap(want+1, mem.PGSIZE, PROT_READ, MAP_PRIVATE|MAP_ANONYMOUS|MAP_FIXED, nil, 0); err != -defs.EINVAL {
		t.Fatalf("misaligned fixed Mmap = %v, want EINVAL", err)
	}
}

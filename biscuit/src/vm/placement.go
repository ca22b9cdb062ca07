package vm

import (
	"defs"
	"mem"
)

// The mmap window is the kernel-chosen virtual range, above the heap and
// below the stack guard, that non-fixed mappings are placed in. The
// process image, heap, and stack are managed outside this subsystem; this
// core only ever places regions inside this window, so every entry in a
// Vmregion_t can be assumed to already lie within it.
const (
	mmapWindowBase uintptr = 1 << 40
	mmapWindowEnd  uintptr = 1 << 46
)

// placeRegion picks the start address for a new mapping. When fixed is
// true it validates addr/length against the existing table and returns
// addr unchanged or EEXIST/EINVAL. Otherwise it scans the mmap window for
// the lowest aligned gap of the requested length; lowest-address-first is
// part of the contract, not an accident of the scan.
func placeRegion(rt *Vmregion_t, addr uintptr, length int, fixed bool) (uintptr, defs.Err_t) {
	pglen := uintptr(roundupPages(length))

	if fixed {
		if addr&uintptr(mem.PGSIZE-1) != 0 {
			return 0, -defs.EINVAL
		}
		if rt.overlaps(addr, length) {
			return 0, -defs.EEXIST
		}
		return addr, 0
	}

	cand := mmapWindowBase >> mem.PGSHIFT
	windowEnd := mmapWindowEnd >> mem.PGSHIFT
	for _, r := range rt.regions {
		rstart := r.Pgn
		rend := r.Pgn + uintptr(r.Pglen)
		if rend <= cand {
			continue
		}
		if rstart >= cand+pglen {
			break
		}
		cand = rend
	}
	if cand+pglen > windowEnd {
		return 0, -defs.ENOSPC
	}
	return cand << mem.PGSHIFT, 0
}

func roundupPages(length int) int {
	return (length + mem.PGSIZE - 1) / mem.PGSIZE
}

package vm

import (
	"bounds"
	"defs"
	"mem"
	"res"
	"util"
)

// Munmap removes [addr, addr+length) from the address space. The whole
// call is atomic even though it can touch several regions and one of them
// (at most) needs a free region-table slot to split -- so the
// split-feasibility check happens before any PTE is cleared or any region
// is mutated. Geometrically, at most one overlapping region can ever
// require an actual split (a hole strictly inside it, not touching either
// edge); every other overlapping region is either fully covered (full
// removal) or is the first/last region and only trimmed on one side,
// neither of which needs a free slot.
func (as *Vm_t) Munmap(addr, length int) defs.Err_t {
	Stats.Nmunmap.Inc()
	if length <= 0 {
		return -defs.EINVAL
	}
	if uintptr(addr)&uintptr(mem.PGSIZE-1) != 0 {
		return -defs.EINVAL
	}

	if !res.Resadd_noblock(bounds.Bounds(bounds.B_VM_T_MUNMAP)) {
		return -defs.ENOSPC
	}
	defer res.Resremove(bounds.Bounds(bounds.B_VM_T_MUNMAP))

	as.Lock()
	defer as.Unlock()

	ustart := uintptr(addr)
	uend := ustart + uintptr(util.Roundup(length, mem.PGSIZE))

	var idxs []int
	for i, r := range as.Vmregion.regions {
		if ustart < r.end() && r.start() < uend {
			idxs = append(idxs, i)
		}
	}
	if len(idxs) == 0 {
		return -defs.ENOENT
	}

	if len(idxs) == 1 {
		i := idxs[0]
		r := as.Vmregion.regions[i]
		rs, re := r.start(), r.end()
		us, ue := maxva(rs, ustart), minva(re, uend)
		needsSplit := us > rs && ue < re
		if needsSplit && !as.Vmregion.hasFreeSlot() {
			return -defs.ENOSPC
		}

		clearPages(as.Pmap, us, ue)
		switch {
		case us == rs && ue == re:
			as.Vmregion.remove(i)
		case us == rs:
			as.Vmregion.shrinkLeft(i, pagenum(ue))
		case ue == re:
			as.Vmregion.shrinkRight(i, int(pagenum(us)-r.Pgn))
		default:
			as.Vmregion.split(i, us, ue)
		}
		return 0
	}

	// Multiple overlapping regions: none of the following mutations can
	// ever need a free slot (see doc comment), so there is nothing left to
	// check -- clear every affected page, then trim/remove every region.
	for _, i := range idxs {
		r := as.Vmregion.regions[i]
		clearPages(as.Pmap, maxva(r.start(), ustart), minva(r.end(), uend))
	}
	for k := len(idxs) - 1; k >= 0; k-- {
		i := idxs[k]
		r := as.Vmregion.regions[i]
		rs, re := r.start(), r.end()
		us, ue := maxva(rs, ustart), minva(re, uend)
		switch {
		case us == rs && ue == re:
			as.Vmregion.remove(i)
		case us == rs:
			as.Vmregion.shrinkLeft(i, pagenum(ue))
		default: // ue == re
			as.Vmregion.shrinkRight(i, int(pagenum(us)-r.Pgn))
		}
	}
	return 0
}

// clearPages tears down every page in [start, end). Most pages in a lazy
// region were never faulted in; clearAndFree is a no-op for an absent PTE.
func clearPages(pt Pagetable_t, start, end uintptr) {
	for va := start; va < end; va += mem.PGSIZE_UINTPTR {
		pt.clearAndFree(va)
	}
}

func maxva(a, b uintptr) uintptr {
	if a > b {
		return a
	}
	return b
}

func minva(a, b uintptr) uintptr {
	if a < b {
		return a
	}
	return b
}

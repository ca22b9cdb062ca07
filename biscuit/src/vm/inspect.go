package vm

import "mem"

// Regions returns the live regions of as, in address order. Exposed for
// read-only tooling (vmstats) that walks the region table without being
// able to mutate it; callers must hold as.Lock_pmap() while iterating and
// must not retain the slice past the lock.
func Regions(as *Vm_t) []*Vminfo_t {
	return as.Vmregion.regions
}

// RegionExtent returns a region's first page number and page count.
func RegionExtent(r *Vminfo_t) (uintptr, int) {
	return r.Pgn, r.Pglen
}

// RegionKind names a region's backing type for diagnostics.
func RegionKind(r *Vminfo_t) string {
	switch r.Mtype {
	case VANON:
		return "anon"
	case VFILE:
		if r.file.shared {
			return "file-shared"
		}
		return "file-private"
	case VSANON:
		return "shared-anon"
	default:
		return "unknown"
	}
}

// Lookup returns the page-table entry for va, if any mapping is present.
func Lookup(as *Vm_t, va uintptr) (mem.Pa_t, bool) {
	pte, ok := as.Pmap.lookup(va)
	if !ok {
		return 0, false
	}
	return *pte, true
}

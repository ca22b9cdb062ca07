package vm

import (
	"sort"

	"defs"
	"fdops"
	"limits"
	"mem"
)

// mtype_t tags what backs a region's pages.
type mtype_t int

const (
	// VANON is a private anonymous region: zero-fill on first fault, one
	// private copy per writer (copy-on-write).
	VANON mtype_t = iota
	// VFILE is a region backed by an open file, private or shared.
	VFILE
	// VSANON is a shared anonymous region: every sharer's PTE already
	// points at the same frame, so the fault resolver never sees an
	// absent PTE for one (Sys_pgfault panics if it does).
	VSANON
)

// Mfile_t is the file-backing record a VFILE region holds. _mkvmi builds
// one per file-backed mapping and never increases fops's open count itself
// (Vmregion_t.insert does).
type Mfile_t struct {
	mfops    fdops.Fdops_i
	unpin    mem.Unpin_i
	mapcount int
}

// fileinfo_t is the file-specific half of a Vminfo_t.
type fileinfo_t struct {
	foff   int
	shared bool
	mfile  *Mfile_t
}

// Vminfo_t is one mapped region: a page-aligned, page-counted virtual
// span with backing metadata. Pgn/Pglen are in page units, not bytes, so
// every page-table lookup is a cheap integer compare.
type Vminfo_t struct {
	Mtype mtype_t
	Pgn   uintptr // first page number covered by the region
	Pglen int     // number of pages covered
	Perms uint    // requested prot as PTE_U[|PTE_W]; the fault resolver
	// decides the actual installed PTE permissions (possibly weaker,
	// transiently, during the CoW window) from this.
	file fileinfo_t

	prefetch *prefetcher // optional read-ahead cache; nil until first used
}

func (v *Vminfo_t) start() uintptr { return v.Pgn << mem.PGSHIFT }
func (v *Vminfo_t) end() uintptr   { return (v.Pgn + uintptr(v.Pglen)) << mem.PGSHIFT }
func (v *Vminfo_t) contains(pgn uintptr) bool {
	return pgn >= v.Pgn && pgn < v.Pgn+uintptr(v.Pglen)
}

// Ptefor returns the PTE handle for va within this region's page table,
// installing an (initially zero) slot if necessary.
func (vmi *Vminfo_t) Ptefor(pt Pagetable_t, va uintptr) (*mem.Pa_t, bool) {
	return pt.walk(va, true)
}

// Filepage reads (or serves from the read-ahead cache) the page of the
// backing file covering va: one page at file offset
// foff + (pagestart(va) - region start), zero-padding any short read.
// Returns the freshly allocated frame and its physical address; the caller
// owns the returned reference.
func (vmi *Vminfo_t) Filepage(va uintptr) (*mem.Pg_t, mem.Pa_t, defs.Err_t) {
	pg, p_pg, ok := mem.Physmem.Refpg_new()
	if !ok {
		return nil, 0, -defs.ENOMEM
	}
	// the returned reference belongs to the caller: Blockpage_insert
	// transfers it to the PTE without a second Refup, and the private-copy
	// path drops it once the contents are copied.
	mem.Physmem.Refup(p_pg)
	dst := mem.Pg2bytes(pg)[:]
	foff := vmi.file.foff + int(va-vmi.start())

	if vmi.prefetch != nil && vmi.prefetch.take(foff, dst) {
		return pg, p_pg, 0
	}

	fb := &Fakeubuf_t{}
	fb.Fake_init(dst)
	n, err := vmi.file.mfile.mfops.Read(fb, foff)
	if err != 0 {
		mem.Physmem.Refdown(p_pg)
		return nil, 0, -defs.EIO
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	return pg, p_pg, 0
}

// Vmregion_t is a process's region table: a capacity-bounded, Pgn-ordered,
// pairwise-disjoint collection of regions. Kept sorted on every insert so
// lookup, the placement scan, and split can all walk it linearly in
// address order.
type Vmregion_t struct {
	regions []*Vminfo_t
}

// Lookup returns the live region containing virtual address va, if any.
func (rt *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	pgn := pagenum(va)
	i := sort.Search(len(rt.regions), func(i int) bool { return rt.regions[i].Pgn+uintptr(rt.regions[i].Pglen) > pgn })
	if i < len(rt.regions) && rt.regions[i].contains(pgn) {
		return rt.regions[i], true
	}
	return nil, false
}

// overlaps reports whether [addr, addr+length) intersects any live region.
func (rt *Vmregion_t) overlaps(addr uintptr, length int) bool {
	s := pagenum(addr)
	e := s + uintptr((length+mem.PGSIZE-1)/mem.PGSIZE)
	for _, r := range rt.regions {
		if s < r.Pgn+uintptr(r.Pglen) && r.Pgn < e {
			return true
		}
	}
	return false
}

// insert adds vmi to the table, maintaining Pgn order. The caller (the
// placement policy) has already established disjointness; insert enforces
// only the capacity invariant. For a file-backed region this is the point
// at which the region table takes its own reference on the file.
func (rt *Vmregion_t) insert(vmi *Vminfo_t) defs.Err_t {
	if len(rt.regions) >= limits.Syslimit.MaxMmaps {
		return -defs.ENOSPC
	}
	i := sort.Search(len(rt.regions), func(i int) bool { return rt.regions[i].Pgn >= vmi.Pgn })
	rt.regions = append(rt.regions, nil)
	copy(rt.regions[i+1:], rt.regions[i:])
	rt.regions[i] = vmi
	if vmi.Mtype == VFILE {
		if err := vmi.file.mfile.mfops.Reopen(); err != 0 {
			rt.regions = append(rt.regions[:i], rt.regions[i+1:]...)
			return err
		}
	}
	return 0
}

// Clear drops every region from the table, closing file-backed references.
// Used at process teardown (Uvmfree); munmap uses remove/shrink/split
// instead so it can report NotFound/NoSpace per region.
func (rt *Vmregion_t) Clear() {
	for len(rt.regions) > 0 {
		rt.remove(0)
	}
}

// remove deletes region i from the table, closing its file-backed
// reference if any.
func (rt *Vmregion_t) remove(i int) {
	vmi := rt.regions[i]
	if vmi.Mtype == VFILE {
		if vmi.file.mfile.mfops.Close() != 0 {
			panic("close must succeed")
		}
	}
	rt.regions = append(rt.regions[:i], rt.regions[i+1:]...)
}

// shrinkLeft raises the region's start to newPgn, shrinking it from the
// left. For a file-backed region, file-offset advances by the same number
// of pages so foff + (va - start) stays correct.
func (rt *Vmregion_t) shrinkLeft(i int, newPgn uintptr) {
	vmi := rt.regions[i]
	d := newPgn - vmi.Pgn
	if vmi.Mtype == VFILE {
		vmi.file.foff += int(d) * mem.PGSIZE
	}
	vmi.Pgn = newPgn
	vmi.Pglen -= int(d)
}

// shrinkRight lowers the region's length to newPglen pages, shrinking it
// from the right. The file-offset of the remaining left portion is
// unchanged.
func (rt *Vmregion_t) shrinkRight(i int, newPglen int) {
	rt.regions[i].Pglen = newPglen
}

// split breaks region i into two regions around [holeStart, holeEnd),
// removing that range from the middle. It requires one free table slot
// (the hole introduces a second region); munmap must stay all-or-nothing,
// so the caller checks capacity before calling split (see Munmap) rather
// than discovering the full table halfway through a teardown.
func (rt *Vmregion_t) split(i int, holeStart, holeEnd uintptr) {
	if len(rt.regions) >= limits.Syslimit.MaxMmaps {
		panic("vm: split called without a free slot; caller must check first")
	}
	orig := rt.regions[i]
	right := &Vminfo_t{
		Mtype: orig.Mtype,
		Pgn:   pagenum(holeEnd),
		Pglen: int(orig.Pgn+uintptr(orig.Pglen)) - int(pagenum(holeEnd)),
		Perms: orig.Perms,
		file:  orig.file,
	}
	if orig.Mtype == VFILE {
		right.file.foff = orig.file.foff + int(pagenum(holeEnd)-orig.Pgn)*mem.PGSIZE
	}
	orig.Pglen = int(pagenum(holeStart) - orig.Pgn)
	rt.regions = append(rt.regions, nil)
	copy(rt.regions[i+2:], rt.regions[i+1:])
	rt.regions[i+1] = right
}

// hasFreeSlot reports whether insert/split can succeed without growing past
// capacity.
func (rt *Vmregion_t) hasFreeSlot() bool {
	return len(rt.regions) < limits.Syslimit.MaxMmaps
}

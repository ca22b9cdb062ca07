package vm

import "mem"

// Pagetable_t holds a process's virtual-to-physical translations. A real
// x86-64 four-level walker needs a recursive mapping slot and runtime
// support to find physical memory; this core runs single-CPU with no
// hardware walker behind it, so the walk/map/clear contract is kept and
// the radix tree underneath is replaced by a flat table keyed by virtual
// page number. Every *mem.Pa_t handed out by walk is a stable pointer a
// caller can read or write through, exactly like a real PTE slot.
type Pagetable_t map[uintptr]*mem.Pa_t

// mkPagetable returns an empty page table for a fresh address space.
func mkPagetable() Pagetable_t {
	return make(Pagetable_t)
}

func pagenum(va uintptr) uintptr {
	return va >> mem.PGSHIFT
}

// walk returns the PTE handle for va, allocating the slot when create is
// true. It never fails here (no intermediate directory pages to run out
// of), but keeps the ok return so callers handle a real walker's
// allocation failure uniformly.
func (pt Pagetable_t) walk(va uintptr, create bool) (*mem.Pa_t, bool) {
	n := pagenum(va)
	if p, ok := pt[n]; ok {
		return p, true
	}
	if !create {
		return nil, false
	}
	p := new(mem.Pa_t)
	pt[n] = p
	return p, true
}

// lookup returns the PTE for va without installing one.
func (pt Pagetable_t) lookup(va uintptr) (*mem.Pa_t, bool) {
	return pt.walk(va, false)
}

// clearAndFree frees the frame backing va (if any) and zeroes its PTE. It
// is idempotent for an absent PTE, returning false in that case so the
// caller can distinguish "nothing to free" from "freed".
func (pt Pagetable_t) clearAndFree(va uintptr) bool {
	n := pagenum(va)
	pte, ok := pt[n]
	if !ok || *pte&mem.PTE_P == 0 {
		return false
	}
	p_old := mem.Pa_t(*pte) & mem.PTE_ADDR
	mem.Physmem.Refdown(p_old)
	*pte = 0
	return true
}

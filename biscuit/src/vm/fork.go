package vm

import (
	"bounds"
	"defs"
	"mem"
	"res"
)

// Fork duplicates an address space: the region table is copied
// region-for-region into the child, and every already-present PTE in a
// writable private region is downgraded to read-only plus PTE_COW on both
// parent and child before the frame's refcount is bumped -- engaging
// copy-on-write for any page either process touches again. Pages never
// faulted in stay absent on both sides; the fault resolver fills them
// independently when first touched, same as any other lazy region.
// fork()'s process-table/scheduler half lives in proc, not here.
func (as *Vm_t) Fork() (*Vm_t, defs.Err_t) {
	Stats.Nfork.Inc()
	as.Lock_pmap()
	defer as.Unlock_pmap()

	if !res.Resadd_noblock(bounds.Bounds(bounds.B_VM_T_FORK)) {
		return nil, -defs.ENOSPC
	}
	defer res.Resremove(bounds.Bounds(bounds.B_VM_T_FORK))

	child := NewVm()
	for _, r := range as.Vmregion.regions {
		nr := &Vminfo_t{Mtype: r.Mtype, Pgn: r.Pgn, Pglen: r.Pglen, Perms: r.Perms, file: r.file}
		if r.Mtype == VFILE {
			mf := *r.file.mfile
			nr.file.mfile = &mf
		}
		if err := child.Vmregion.insert(nr); err != 0 {
			child.Uvmfree()
			return nil, err
		}
		forkRegionPages(as.Pmap, child.Pmap, r)
	}
	return child, 0
}

func forkRegionPages(parent, child Pagetable_t, r *Vminfo_t) {
	cow := r.Mtype != VSANON && r.Perms&uint(mem.PTE_W) != 0
	for pgn := r.Pgn; pgn < r.Pgn+uintptr(r.Pglen); pgn++ {
		va := pgn << mem.PGSHIFT
		ppte, ok := parent.lookup(va)
		if !ok || *ppte&mem.PTE_P == 0 {
			continue // never faulted in; stays lazy on both sides
		}
		if cow && *ppte&mem.PTE_W != 0 {
			tmp := *ppte &^ (mem.PTE_W | mem.PTE_WASCOW)
			tmp |= mem.PTE_COW
			*ppte = tmp
		}
		p_pg := *ppte & mem.PTE_ADDR
		mem.Physmem.Refup(p_pg)
		cpte, _ := child.walk(va, true)
		*cpte = *ppte
	}
}

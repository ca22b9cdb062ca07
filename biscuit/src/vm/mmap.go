package vm

import (
	"bounds"
	"defs"
	"fdops"
	"mem"
	"res"
	"util"
)

// Mmap creates a new mapping: validate args, pick a start address, record
// the region. It never installs a PTE itself; every page is materialized
// later by the fault resolver. On any failure the region table and page
// table are byte-for-byte as they were before the call -- insert is the
// only mutation and it happens last, after every validation and after
// placement has already succeeded.
func (as *Vm_t) Mmap(addr, length int, prot uint, flags uint, fops fdops.Fdops_i, foff int) (int, defs.Err_t) {
	Stats.Nmmap.Inc()
	if length <= 0 {
		return -1, -defs.EINVAL
	}
	if prot&^(PROT_READ|PROT_WRITE) != 0 {
		return -1, -defs.EINVAL
	}
	if flags&^(MAP_PRIVATE|MAP_SHARED|MAP_ANONYMOUS|MAP_FIXED) != 0 {
		return -1, -defs.EINVAL
	}
	anon := flags&MAP_ANONYMOUS != 0
	if anon {
		if fops != nil {
			return -1, -defs.EINVAL
		}
	} else if fops == nil {
		return -1, -defs.EINVAL
	}
	fixed := flags&MAP_FIXED != 0
	if fixed && uintptr(addr)&uintptr(mem.PGSIZE-1) != 0 {
		return -1, -defs.EINVAL
	}

	if !res.Resadd_noblock(bounds.Bounds(bounds.B_VM_T_MMAP)) {
		return -1, -defs.ENOSPC
	}
	defer res.Resremove(bounds.Bounds(bounds.B_VM_T_MMAP))

	as.Lock()
	defer as.Unlock()

	rlen := util.Roundup(length, mem.PGSIZE)
	start, err := placeRegion(&as.Vmregion, uintptr(addr), rlen, fixed)
	if err != 0 {
		return -1, err
	}

	perms := mem.PTE_U
	if prot&PROT_WRITE != 0 {
		perms |= mem.PTE_W
	}

	var vmi *Vminfo_t
	if anon {
		vmi = as._mkvmi(VANON, int(start), rlen, perms, 0, nil, false)
	} else {
		shared := flags&MAP_SHARED != 0
		vmi = as._mkvmi(VFILE, int(start), rlen, perms, foff, fops, shared)
	}

	if err := as.Vmregion.insert(vmi); err != 0 {
		return -1, err
	}
	return int(start), 0
}

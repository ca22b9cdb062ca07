package vm

import (
	"sync"
	"sync/atomic"

	"bounds"
	"defs"
	"fdops"
	"mem"
	"res"
	"stats"
	"util"
)

// Vm_t represents a process address space: the region table plus the page
// table it is kept consistent with. The mutex serializes every mutation of
// Vmregion and Pmap, so within one syscall both structures update
// atomically with respect to other observers in the same process.
type Vm_t struct {
	sync.Mutex

	Vmregion Vmregion_t
	Pmap     Pagetable_t

	pgfltaken bool
}

// NewVm returns a freshly initialized, empty address space.
func NewVm() *Vm_t {
	return &Vm_t{Pmap: mkPagetable()}
}

// Lock_pmap acquires the address space mutex and marks that page-table
// manipulation is in progress, for Lockassert_pmap to check.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// Unlock_pmap releases the address space mutex.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// Lockassert_pmap panics if the address space mutex is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

// Userdmap8_inner returns a slice mapping of the user address at va. When
// k2u is true the memory is prepared for a kernel write to user memory
// (e.g. K2user); otherwise it is prepared for a kernel read of user memory.
// Either way, an absent or insufficiently-permissioned PTE triggers the
// fault resolver exactly as a hardware page fault would.
func (as *Vm_t) Userdmap8_inner(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()

	voff := va & int(mem.PGOFFSET)
	uva := uintptr(va)
	vmi, ok := as.Vmregion.Lookup(uva)
	if !ok {
		return nil, -defs.EFAULT
	}
	pte, ok := vmi.Ptefor(as.Pmap, uva)
	if !ok {
		return nil, -defs.ENOMEM
	}
	ecode := mem.PTE_U
	needfault := true
	isp := *pte&mem.PTE_P != 0
	if k2u {
		ecode |= mem.PTE_W
		iscow := *pte&mem.PTE_COW != 0
		if isp && !iscow {
			needfault = false
		}
	} else if isp {
		needfault = false
	}

	if needfault {
		if err := Sys_pgfault(as, vmi, uva, ecode); err != 0 {
			return nil, err
		}
	}

	pg := mem.Physmem.Dmap(*pte & mem.PTE_ADDR)
	bpg := mem.Pg2bytes(pg)
	return bpg[voff:], 0
}

// _userdmap8 and its callers below must only be used when concurrent
// modification of this address space by another goroutine is impossible.
func (as *Vm_t) _userdmap8(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(va, k2u)
	as.Unlock_pmap()
	return ret, err
}

// Userdmap8r maps the user address for reading and returns the resulting
// slice or an error.
func (as *Vm_t) Userdmap8r(va int) ([]uint8, defs.Err_t) {
	return as._userdmap8(va, false)
}

// Userreadn reads n (<=8) bytes from user address va as a little-endian
// integer.
func (as *Vm_t) Userreadn(va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	a, b := as.userreadn_inner(va, n)
	as.Unlock_pmap()
	return a, b
}

func (as *Vm_t) userreadn_inner(va, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.Userdmap8_inner(va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
	}
	return ret, 0
}

// Userwriten writes n (<=8) bytes of val to the user address va.
func (as *Vm_t) Userwriten(va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		v := val >> (8 * uint(i))
		t, err := as.Userdmap8_inner(va+i, true)
		dst = t
		if err != 0 {
			return err
		}
		util.Writen(dst, n-i, 0, v)
	}
	return 0
}

// K2user copies src into the user address space starting at uva.
func (as *Vm_t) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.K2user_inner(src, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) K2user_inner(src []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	l := len(src)
	for cnt != l {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_ASPACE_T_K2USER_INNER)) {
			return -defs.ENOSPC
		}
		dst, err := as.Userdmap8_inner(uva+cnt, true)
		if err != 0 {
			return err
		}
		ub := len(src)
		if ub > len(dst) {
			ub = len(dst)
		}
		copy(dst, src)
		src = src[ub:]
		cnt += ub
	}
	return 0
}

// User2k copies len(dst) bytes from the user address uva into dst.
func (as *Vm_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.User2k_inner(dst, uva)
	as.Unlock_pmap()
	return ret
}

func (as *Vm_t) User2k_inner(dst []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	cnt := 0
	for len(dst) != 0 {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_ASPACE_T_USER2K_INNER)) {
			return -defs.ENOSPC
		}
		src, err := as.Userdmap8_inner(uva+cnt, false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		dst = dst[did:]
		cnt += did
	}
	return 0
}

// Sys_pgfault resolves a page fault for address space as at faultaddr with
// error code ecode (PTE_U always set; PTE_W set iff the access was a
// write). A fault in a guard region or a write to a read-only region is
// fatal, an absent PTE in a live region is lazily filled (zero or from the
// backing file), and a present read-only PTE hit by a write in a
// write-capable private region is resolved by copy-on-write -- including
// the refcount-aware fast path that claims the frame instead of copying it
// when this mapping is its only owner.
func Sys_pgfault(as *Vm_t, vmi *Vminfo_t, faultaddr uintptr, ecode mem.Pa_t) defs.Err_t {
	Stats.Npgfault.Inc()
	start := stats.Rdtsc()
	defer Stats.Cycles.Add(start)
	as.Lockassert_pmap()

	isguard := vmi.Perms == 0
	iswrite := ecode&mem.PTE_W != 0
	writeok := vmi.Perms&uint(mem.PTE_W) != 0
	if isguard || (iswrite && !writeok) {
		return -defs.EFAULT
	}
	if ecode&mem.PTE_U == 0 {
		panic("kernel page fault")
	}
	if vmi.Mtype == VSANON {
		panic("shared anon pages should always be mapped")
	}

	if !res.Resadd_noblock(bounds.Bounds(bounds.B_VM_T_PGFAULT)) {
		return -defs.ENOSPC
	}
	defer res.Resremove(bounds.Bounds(bounds.B_VM_T_PGFAULT))

	pte, ok := vmi.Ptefor(as.Pmap, faultaddr)
	if !ok {
		return -defs.ENOMEM
	}
	if (iswrite && *pte&mem.PTE_WASCOW != 0) || (!iswrite && *pte&mem.PTE_P != 0) {
		// two threads simultaneously faulted on the same page
		return 0
	}

	var p_pg mem.Pa_t
	isblockpage := false
	perms := mem.PTE_U | mem.PTE_P
	isempty := true

	if vmi.Mtype == VFILE && vmi.file.shared {
		var err defs.Err_t
		_, p_pg, err = vmi.Filepage(faultaddr)
		if err != 0 {
			return err
		}
		isblockpage = true
		if vmi.Perms&uint(mem.PTE_W) != 0 {
			perms |= mem.PTE_W
		}
	} else if iswrite {
		if *pte&mem.PTE_W != 0 {
			panic("bad state")
		}
		var pgsrc *mem.Pg_t
		var p_bpg mem.Pa_t
		cow := *pte&mem.PTE_COW != 0
		if cow {
			phys := *pte & mem.PTE_ADDR
			ref, _ := mem.Physmem.Refaddr(phys)
			if vmi.Mtype == VANON && atomic.LoadInt32(ref) == 1 && phys != mem.P_zeropg {
				tmp := *pte &^ mem.PTE_COW
				tmp |= mem.PTE_W | mem.PTE_WASCOW
				*pte = tmp
				return 0
			}
			pgsrc = mem.Physmem.Dmap(phys)
			isempty = false
		} else {
			if *pte != 0 {
				panic("no")
			}
			switch vmi.Mtype {
			case VANON:
				pgsrc = mem.Zeropg
			case VFILE:
				var err defs.Err_t
				pgsrc, p_bpg, err = vmi.Filepage(faultaddr)
				if err != 0 {
					return err
				}
				defer mem.Physmem.Refdown(p_bpg)
			default:
				panic("wut")
			}
		}
		var pg *mem.Pg_t
		var ok bool
		pg, p_pg, ok = mem.Physmem.Refpg_new_nozero()
		if !ok {
			return -defs.ENOMEM
		}
		*pg = *pgsrc
		perms |= mem.PTE_WASCOW | mem.PTE_W
	} else {
		if *pte != 0 {
			panic("must be 0")
		}
		switch vmi.Mtype {
		case VANON:
			p_pg = mem.P_zeropg
		case VFILE:
			var err defs.Err_t
			_, p_pg, err = vmi.Filepage(faultaddr)
			if err != 0 {
				return err
			}
			isblockpage = true
		default:
			panic("wut")
		}
		if vmi.Perms&uint(mem.PTE_W) != 0 {
			perms |= mem.PTE_COW
		}
	}
	if perms&mem.PTE_W != 0 {
		perms |= mem.PTE_D
	}
	perms |= mem.PTE_A

	if isblockpage {
		_, ok = as.Blockpage_insert(faultaddr, p_pg, perms, isempty, pte)
	} else {
		_, ok = as.Page_insert(faultaddr, p_pg, perms, isempty, pte)
	}
	if !ok {
		mem.Physmem.Refdown(p_pg)
		return -defs.ENOMEM
	}
	return 0
}

// Page_insert maps the physical page p_pg at va with perms, increasing
// p_pg's reference count on success (the caller may simply Refdown it
// afterward). It returns whether an existing present mapping was replaced
// and whether the insertion succeeded.
func (as *Vm_t) Page_insert(va uintptr, p_pg mem.Pa_t, perms mem.Pa_t, vempty bool, pte *mem.Pa_t) (bool, bool) {
	return as._page_insert(va, p_pg, perms, vempty, true, pte)
}

// Blockpage_insert is Page_insert without the reference-count bump, used
// for file-backed ("block") pages whose frame is already owned by the
// prefetch/file-page path.
func (as *Vm_t) Blockpage_insert(va uintptr, p_pg mem.Pa_t, perms mem.Pa_t, vempty bool, pte *mem.Pa_t) (bool, bool) {
	return as._page_insert(va, p_pg, perms, vempty, false, pte)
}

func (as *Vm_t) _page_insert(va uintptr, p_pg, perms mem.Pa_t, vempty, refup bool, pte *mem.Pa_t) (bool, bool) {
	as.Lockassert_pmap()
	if refup {
		mem.Physmem.Refup(p_pg)
	}
	if pte == nil {
		var ok bool
		pte, ok = as.Pmap.walk(va, true)
		if !ok {
			return false, false
		}
	}
	ninval := false
	var p_old mem.Pa_t
	if *pte&mem.PTE_P != 0 {
		if vempty {
			panic("pte not empty")
		}
		ninval = true
		p_old = *pte & mem.PTE_ADDR
	}
	*pte = p_pg | perms | mem.PTE_P
	if ninval {
		mem.Physmem.Refdown(p_old)
	}
	return ninval, true
}

// Pgfault handles a page fault at fault address fa with error code ecode,
// taking the address-space lock itself (the entry point the trap-epilogue
// boundary calls).
func (as *Vm_t) Pgfault(tid defs.Tid_t, fa uintptr, ecode mem.Pa_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	vmi, ok := as.Vmregion.Lookup(fa)
	if !ok {
		return -defs.EFAULT
	}
	return Sys_pgfault(as, vmi, fa, ecode)
}

// Uvmfree releases all user mappings, page-table entries, and file
// references associated with this address space (process exit).
func (as *Vm_t) Uvmfree() {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for _, vmi := range as.Vmregion.regions {
		freeRegionPages(as.Pmap, vmi)
	}
	as.Vmregion.Clear()
}

func freeRegionPages(pt Pagetable_t, vmi *Vminfo_t) {
	for pgn := vmi.Pgn; pgn < vmi.Pgn+uintptr(vmi.Pglen); pgn++ {
		pt.clearAndFree(pgn << mem.PGSHIFT)
	}
}

// Vmadd_anon creates a private anonymous mapping. Exposed for callers (e.g.
// proc.Fork setting up the parent's heap/stack) that install a region
// directly rather than through the Mmap syscall surface.
func (as *Vm_t) Vmadd_anon(start, len int, perms mem.Pa_t) defs.Err_t {
	vmi := as._mkvmi(VANON, start, len, perms, 0, nil, false)
	return as.Vmregion.insert(vmi)
}

// Vmadd_shareanon inserts a shared anonymous mapping with the given
// permissions; every sharer's PTE points at the same frame from the start,
// so the fault resolver never sees one of these absent (Sys_pgfault panics
// if it does).
func (as *Vm_t) Vmadd_shareanon(start, len int, perms mem.Pa_t) defs.Err_t {
	vmi := as._mkvmi(VSANON, start, len, perms, 0, nil, false)
	return as.Vmregion.insert(vmi)
}

// does not increase opencount on fops (Vmregion_t.insert does). perms
// should only carry PTE_U/PTE_W; the fault resolver installs the correct
// COW flags. perms == 0 means no mapping may go here (a guard region).
func (as *Vm_t) _mkvmi(mt mtype_t, start, len int, perms mem.Pa_t, foff int, fops fdops.Fdops_i, shared bool) *Vminfo_t {
	if len <= 0 {
		panic("bad vmi len")
	}
	if mem.Pa_t(start|len)&mem.PGOFFSET != 0 {
		panic("start and len must be aligned")
	}
	pm := mem.PTE_W | mem.PTE_COW | mem.PTE_WASCOW | mem.PTE_P | mem.PTE_U
	if r := perms & pm; r != 0 && r != mem.PTE_U && r != (mem.PTE_W|mem.PTE_U) {
		panic("bad perms")
	}
	ret := &Vminfo_t{}
	ret.Mtype = mt
	ret.Pgn = uintptr(start) >> mem.PGSHIFT
	ret.Pglen = util.Roundup(len, mem.PGSIZE) >> mem.PGSHIFT
	ret.Perms = uint(perms)
	if mt == VFILE {
		ret.file.foff = foff
		ret.file.mfile = &Mfile_t{mfops: fops, mapcount: ret.Pglen}
		ret.file.shared = shared
		if shared {
			ret.file.mfile.unpin = nil
		}
		pages := roundupPages(len)
		if pages > 1 {
			vmi := ret
			vmi.prefetch = startPrefetch(fops, foff, util.Min(pages, 8))
		}
	}
	return ret
}

// Mkuserbuf returns a pooled Userbuf_t referencing user memory starting at
// userva. The caller returns it with Release once the I/O is done.
func (as *Vm_t) Mkuserbuf(userva, len int) *Userbuf_t {
	ret := Ubpool.Get().(*Userbuf_t)
	ret.ub_init(as, userva, len)
	return ret
}

// Package mem is the physical-frame allocator the vm package builds on.
// On real hardware the kernel installs a one-to-one direct map of all
// physical RAM at boot and hands out frames from free lists fed by that
// map; none of that hardware exists here, so Dmap's "direct-mapped page"
// becomes a plain pointer into a frame this allocator owns outright --
// same contract (Pa_t in, *Pg_t out, refcounted), simulated physical
// memory instead of a boot-time identity map.
package mem

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"limits"
	"oommsg"
)

// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

// Permission/flag bits recognized on a PTE. PTE_P/PTE_W/PTE_U mirror the
// hardware bits; the rest live in the ignored-by-hardware range and let
// the fault resolver keep its copy-on-write bookkeeping in the PTE itself
// without growing the type.
const (
	PTE_P      Pa_t = 1 << 0 /// present
	PTE_W      Pa_t = 1 << 1 /// writable
	PTE_U      Pa_t = 1 << 2 /// user-accessible
	PTE_A      Pa_t = 1 << 5 /// accessed (set by the fault resolver, never read back)
	PTE_D      Pa_t = 1 << 6 /// dirty (set alongside PTE_W, never read back)
	PTE_COW    Pa_t = 1 << 9 /// private write-capable page awaiting its first CoW fault
	PTE_WASCOW Pa_t = 1 << 10
)

// PTE_ADDR extracts the frame-number bits of a PTE.
const PTE_ADDR Pa_t = PGMASK

// USERMIN is the lowest virtual address the mmap core will ever place or
// fault in on a process's behalf; page 0 stays permanently unmapped so a
// null-pointer access always faults as "unknown region".
const USERMIN uintptr = PGSIZE_UINTPTR

// PGSIZE_UINTPTR is PGSIZE widened for virtual-address arithmetic, which is
// done in uintptr rather than Pa_t (a physical, not virtual, address type).
const PGSIZE_UINTPTR uintptr = 1 << PGSHIFT

// Pa_t represents a physical address: frame number in the high bits,
// permission bits in the low bits once installed in a PTE.
type Pa_t uintptr

// Pg_t is one physical page addressed as 512 8-byte words, which is
// convenient when a page is reinterpreted as a page table: a Pmap_t is
// exactly a Pg_t of Pa_t.
type Pg_t [512]int

// Bytepg_t is a page addressed byte-by-byte.
type Bytepg_t [PGSIZE]uint8

// Pmap_t is one page-table page: 512 PTEs.
type Pmap_t [512]Pa_t

// Page_i abstracts physical page allocation for callers (circbuf, block
// caches) that only need alloc/free/refup, not the rest of Physmem_t.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

// Unpin_i allows unpinning of physical pages backing a shared file mapping.
type Unpin_i interface {
	Unpin(Pa_t)
}

// Pg2bytes reinterprets a word-addressed page as a byte-addressed one; a
// page is just PGSIZE bytes regardless of which Go type indexes it.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

// Bytepg2pg converts a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

// frame_t is the storage behind one physical frame plus the refcount/free
// -list linkage the allocator needs. Every *Pg_t this package ever hands
// out points at the words field of some frame_t.
type frame_t struct {
	words  Pg_t
	refcnt int32
	nexti  uint32
}

// Physmem_t is the global simulated physical memory pool: a fixed-size
// array of frames and a free list guarded by a single mutex. An SMP
// kernel would shard the free list per-CPU to dodge lock contention; this
// core runs its critical paths on one CPU, where a single mutex is simpler
// and behaviorally identical.
type Physmem_t struct {
	mu      sync.Mutex
	frames  []frame_t
	freei   uint32
	freelen int32

	Dmapinit bool
}

const nilIdx = ^uint32(0)

// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

// Zeropg is a read-only zero-filled page shared by every lazily-filled
// anonymous mapping until the first write forces a private copy.
var Zeropg *Pg_t

// P_zeropg is the physical address of Zeropg.
var P_zeropg Pa_t

// Phys_init allocates the simulated frame pool. npages bounds how much
// "physical memory" the system has; pass 0 to size it from
// limits.Syslimit.Physpgs. Tests pass a small pool to exercise ENOMEM
// deterministically.
func Phys_init(npages int) *Physmem_t {
	if npages <= 0 {
		npages = int(limits.Syslimit.Physpgs)
	}
	phys := Physmem
	phys.frames = make([]frame_t, npages)
	for i := range phys.frames {
		phys.frames[i].nexti = uint32(i + 1)
	}
	phys.frames[npages-1].nexti = nilIdx
	phys.freei = 0
	phys.freelen = int32(npages)
	phys.Dmapinit = true

	var ok bool
	Zeropg, P_zeropg, ok = phys.refpgNewNozero()
	if !ok {
		panic("mem: oom during init")
	}
	*Zeropg = Pg_t{}
	phys.Refup(P_zeropg)
	fmt.Printf("mem: reserved %v pages (%vKB)\n", npages, npages*PGSIZE/1024)
	return phys
}

func (phys *Physmem_t) idx(p_pg Pa_t) uint32 {
	return uint32(uintptr(p_pg) >> PGSHIFT)
}

func (phys *Physmem_t) addr(idx uint32) Pa_t {
	return Pa_t(idx) << PGSHIFT
}

// Refaddr returns the refcount pointer for the given frame.
func (phys *Physmem_t) Refaddr(p_pg Pa_t) (*int32, uint32) {
	i := phys.idx(p_pg)
	return &phys.frames[i].refcnt, i
}

// Refcnt returns the current reference count of a frame.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	ref, _ := phys.Refaddr(p_pg)
	return int(atomic.LoadInt32(ref))
}

// Refup increments the reference count of a frame.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	ref, _ := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, 1)
	if c <= 0 {
		panic("mem: refup on a free frame")
	}
}

func (phys *Physmem_t) refdec(p_pg Pa_t) (bool, uint32) {
	ref, idx := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, -1)
	if c < 0 {
		panic("mem: refcount went negative")
	}
	return c == 0, idx
}

// Refdown decrements the reference count of a frame, freeing it (adding it
// back to the free list) when the count drops to zero. Returns true when
// the frame was freed by this call.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	add, idx := phys.refdec(p_pg)
	if !add {
		return false
	}
	phys.mu.Lock()
	phys.frames[idx].nexti = phys.freei
	phys.freei = idx
	phys.freelen++
	phys.mu.Unlock()
	return true
}

func (phys *Physmem_t) refpgNewNozero() (*Pg_t, Pa_t, bool) {
	phys.mu.Lock()
	idx := phys.freei
	ok := idx != nilIdx
	if ok {
		if phys.frames[idx].refcnt != 0 {
			phys.mu.Unlock()
			panic("mem: freelist frame has nonzero refcount")
		}
		phys.freei = phys.frames[idx].nexti
		phys.freelen--
	}
	phys.mu.Unlock()
	if !ok {
		notifyOOM()
		return nil, 0, false
	}
	p_pg := phys.addr(idx)
	return &phys.frames[idx].words, p_pg, true
}

// Refpg_new_nozero allocates an uninitialized frame. Its refcount starts at
// zero; the reference that keeps it live is taken later, by Page_insert or
// an explicit Refup, depending on who owns the frame.
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	return phys.refpgNewNozero()
}

// Refpg_new allocates a zero-filled frame.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	pg, p_pg, ok := phys.refpgNewNozero()
	if !ok {
		return nil, 0, false
	}
	*pg = Pg_t{}
	return pg, p_pg, true
}

// Dmap returns the simulated direct-mapped page for a physical address.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	return &phys.frames[phys.idx(p)].words
}

// Dmap8 returns the simulated direct-mapped page addressed byte-wise,
// offset by p's in-page bits.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := &phys.frames[phys.idx(p)].words
	bp := Pg2bytes(pg)
	off := p & PGOFFSET
	return bp[off:]
}

// Pgcount reports the number of free frames remaining.
func (phys *Physmem_t) Pgcount() int {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	return int(phys.freelen)
}

func notifyOOM() {
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: 1, Resume: nil}:
	default:
		// no out-of-scope reclaimer listening; caller surfaces ENOMEM.
	}
}

// Package bounds names the call sites that draw on the kernel-heap
// resource budget so res can account for them separately. Each site is
// given a fixed, conservative cost; a static analysis could derive
// tighter figures, but nothing here depends on them being tight.
package bounds

// Bound identifies a call site that may need to reserve heap resources
// before doing work that can allocate.
type Bound int

const (
	B_USERBUF_T__TX Bound = iota
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
	B_ASPACE_T_K2USER_INNER
	B_ASPACE_T_USER2K_INNER
	B_VM_T_MMAP
	B_VM_T_MUNMAP
	B_VM_T_PGFAULT
	B_VM_T_FORK
)

// cost is the number of heap "units" (see res.Resadd_noblock) each call site
// may consume per invocation. Picked conservatively; the exact figure never
// affects correctness, only how early res reports NoSpace.
var cost = [...]uint{
	B_USERBUF_T__TX:         1,
	B_USERIOVEC_T_IOV_INIT:  1,
	B_USERIOVEC_T__TX:       1,
	B_ASPACE_T_K2USER_INNER: 1,
	B_ASPACE_T_USER2K_INNER: 1,
	B_VM_T_MMAP:             4,
	B_VM_T_MUNMAP:           4,
	B_VM_T_PGFAULT:          2,
	B_VM_T_FORK:             8,
}

// Bounds returns the reservation cost associated with a call site.
func Bounds(b Bound) uint {
	return cost[b]
}

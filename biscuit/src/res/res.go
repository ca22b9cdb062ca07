// Package res gates kernel-heap-consuming work against a system-wide
// resource budget. Call sites reserve through bounds.Bounds before doing
// work that can allocate, so an exhausted kernel heap surfaces as an
// early, clean NoSpace failure instead of an allocation deep in a
// half-done mutation.
package res

import "limits"

// heap is the budget that every Resadd_noblock call draws against. A real
// kernel would size this to actual free physical memory; the teaching core
// sizes it from limits.Syslimit so it can be exhausted deterministically in
// tests (see limits.Syslimit.Mfspgs).
var heap = &limits.Syslimit.Mfspgs

// Resadd_noblock reserves the heap budget for bound b without blocking. It
// returns false, reserving nothing, if the budget is exhausted -- the
// caller must propagate that as ENOMEM/ENOSPC.
func Resadd_noblock(b uint) bool {
	return heap.Taken(b)
}

// Resadd is the blocking counterpart used by callers that are prepared to
// wait rather than fail. The core's suspension points are all file-backed
// I/O (inode sleep-locks), never this budget, so nothing here actually
// parks a goroutine; it is a direct, uncontended retry, present for call
// sites that want to assert the budget cannot be denied.
func Resadd(b uint) {
	for !Resadd_noblock(b) {
	}
}

// Resremove gives back heap units obtained via Resadd/Resadd_noblock, e.g.
// on the unwind path of a failed mmap/munmap.
func Resremove(b uint) {
	heap.Given(b)
}

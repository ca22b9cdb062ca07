// Package limits tracks the small set of system-wide bounds the mmap core
// must enforce: the per-process region table capacity, the kernel-heap
// budget res draws against, and the simulated physical-frame pool mem
// allocates from. Sysatomic_t's lock-free Given/Taken pair is the one
// accounting mechanism shared by all three.
package limits

import "sync/atomic"

// Sysatomic_t is a numeric limit that can be atomically given back or taken
// from. Taken fails (and leaves the counter unchanged) if it would go
// negative, which is how every NoSpace condition in this core is detected.
type Sysatomic_t int64

// Syslimit_t tracks system wide resource limits relevant to the mmap core.
type Syslimit_t struct {
	// MaxMmaps is the region-table capacity per process, a small fixed
	// bound enforced by Vmregion_t.
	MaxMmaps int
	// Mfspgs is the kernel-heap budget res.Resadd_noblock draws against
	// for bookkeeping allocations made while servicing mmap/munmap/a
	// fault (Vminfo_t records, Useriovec_t arrays, etc.) -- not physical
	// page frames, which mem accounts separately via Physpgs.
	Mfspgs Sysatomic_t
	// Physpgs bounds the number of simulated physical frames mem.Physmem
	// will ever hand out, standing in for "the physical allocator is
	// exhausted" without modeling real RAM.
	Physpgs Sysatomic_t
}

// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		MaxMmaps: 32,
		Mfspgs:   1 << 20,
		Physpgs:  1 << 16,
	}
}

func (s *Sysatomic_t) aptr() *int64 {
	return (*int64)(s)
}

// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s.aptr(), n)
}

// Taken tries to decrement the limit by the provided amount. It returns
// true on success.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s.aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s.aptr(), n)
	return false
}

// Take decrements the limit and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}

// Package oommsg is the out-of-memory notification path between the
// physical-frame allocator and whatever reclaimer the surrounding kernel
// runs. mem.Physmem sends on OomCh without blocking when its frame pool is
// exhausted; with no reclaimer in scope the message is dropped and the
// allocation simply fails with ENOMEM.
package oommsg

/// Oommsg_t asks the reclaimer for Need pages; Resume is signaled once
/// they have been freed.
type Oommsg_t struct {
	Need   int
	Resume chan bool
}

/// OomCh carries out-of-memory requests to the reclaimer.
var OomCh chan Oommsg_t = make(chan Oommsg_t)

// Package tinfo tracks per-thread kill state: a fault or syscall that
// discovers it cannot be resolved sets a sticky Killed flag, and the trap
// epilogue tears the thread down at the next safe point. Stashing the
// current thread's Tnote_t in goroutine-local storage would need runtime
// support Go does not expose, so proc.Proc_t holds its Threadinfo_t and
// resolves a Tnote_t by thread id instead of recovering one from ambient
// goroutine state.
package tinfo

import "sync"

import "defs"

// Tnote_t stores per-thread state referenced during fault/trap handling.
type Tnote_t struct {
	Alive  bool
	Killed bool

	// protects Killed and Kerr
	sync.Mutex
	Kerr defs.Err_t
}

// Kill marks the thread doomed with the given fatal error; the flag is
// sticky and the first error wins.
func (t *Tnote_t) Kill(err defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	if !t.Killed {
		t.Killed = true
		t.Kerr = err
	}
}

// Doomed reports whether the thread has been marked killed.
func (t *Tnote_t) Doomed() bool {
	t.Lock()
	defer t.Unlock()
	return t.Killed
}

// Threadinfo_t tracks all thread notes belonging to a process.
type Threadinfo_t struct {
	sync.Mutex
	Notes map[defs.Tid_t]*Tnote_t
}

// Init initializes the thread info map.
func (t *Threadinfo_t) Init() {
	t.Notes = make(map[defs.Tid_t]*Tnote_t)
}

// Add registers a new thread note under tid.
func (t *Threadinfo_t) Add(tid defs.Tid_t) *Tnote_t {
	t.Lock()
	defer t.Unlock()
	n := &Tnote_t{Alive: true}
	t.Notes[tid] = n
	return n
}

// Get returns the thread note for tid, if any.
func (t *Threadinfo_t) Get(tid defs.Tid_t) (*Tnote_t, bool) {
	t.Lock()
	defer t.Unlock()
	n, ok := t.Notes[tid]
	return n, ok
}

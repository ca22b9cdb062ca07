// Package caller prints kernel call chains for diagnostics. The fault
// path dumps one whenever a fault resolves fatally, just before the
// offending thread is marked killed.
package caller

import (
	"fmt"
	"runtime"
	"sync"
)

// Callerdump prints the call chain beginning start frames above this
// function, innermost first.
func Callerdump(start int) {
	s := ""
	for i := start; ; i++ {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	fmt.Printf("%s", s)
}

// Distinct_caller_t records which call chains have been seen so a noisy
// diagnostic (like the fatal-fault stack dump) fires once per distinct
// path instead of once per fault. The embedded mutex protects all fields.
type Distinct_caller_t struct {
	sync.Mutex
	Enabled bool
	did     map[uintptr]bool
	// Whitel lists function names whose presence anywhere in the chain
	// suppresses the diagnostic entirely.
	Whitel map[string]bool
}

// a poor-man's hash of the return addresses; collisions only cost a
// missed dump.
func (dc *Distinct_caller_t) _pchash(pcs []uintptr) uintptr {
	if len(pcs) == 0 {
		panic("empty call chain")
	}
	var ret uintptr
	for _, pc := range pcs {
		pc = pc*1103515245 + 12345
		ret ^= pc
	}
	return ret
}

// Len returns the number of distinct call chains recorded so far.
func (dc *Distinct_caller_t) Len() int {
	dc.Lock()
	ret := len(dc.did)
	dc.Unlock()
	return ret
}

// Distinct reports whether the current call chain is new, returning the
// formatted stack alongside on first sight.
func (dc *Distinct_caller_t) Distinct() (bool, string) {
	dc.Lock()
	defer dc.Unlock()
	if !dc.Enabled {
		return false, ""
	}
	if dc.did == nil {
		dc.did = make(map[uintptr]bool)
	}

	var pcs []uintptr
	for sz := 30; ; sz *= 2 {
		pcs = make([]uintptr, sz)
		got := runtime.Callers(3, pcs)
		if got == 0 {
			panic("no callers")
		}
		if got < sz {
			pcs = pcs[:got]
			break
		}
	}
	h := dc._pchash(pcs)
	if dc.did[h] {
		return false, ""
	}
	dc.did[h] = true

	frames := runtime.CallersFrames(pcs)
	fs := ""
	for {
		fr, more := frames.Next()
		if dc.Whitel[fr.Function] {
			return false, ""
		}
		if fs == "" {
			fs = fmt.Sprintf("%v (%v:%v)\n", fr.Function, fr.File, fr.Line)
		} else {
			fs += fmt.Sprintf("\t%v (%v:%v)\n", fr.Function, fr.File, fr.Line)
		}
		if !more || fr.Function == "runtime.goexit" {
			break
		}
	}
	return true, fs
}

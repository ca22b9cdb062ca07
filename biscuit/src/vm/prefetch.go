package vm

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"circbuf"
	"fdops"
	"mem"
)

// prefetcher is an optional per-region read-ahead cache. A file-backed
// Mmap whose length spans more than one page kicks one of these off in the
// background: a bounded-concurrency errgroup.Group fetches the first few
// pages of the mapping while the syscall itself returns immediately with
// no PTE installed -- pages are still mapped only at fault time; this only
// removes the blocking file read from that critical path when the prefetch
// won the race. The circbuf.Circbuf_t is used as a fixed read-only
// snapshot rather than a live ring (Set() + Rawread(), no Advtail) since
// every backing byte is already known once the background fill completes.
type prefetcher struct {
	mu    sync.Mutex
	base  int // file offset of the first prefetched byte
	ready bool
	cb    circbuf.Circbuf_t
}

// startPrefetch launches a background read-ahead of `pages` pages starting
// at file offset foff through fops. It returns nil (no cache) when the
// mapping is a single page, not worth the concurrency.
func startPrefetch(fops fdops.Fdops_i, foff, pages int) *prefetcher {
	if pages <= 1 {
		return nil
	}
	p := &prefetcher{base: foff}
	go func() {
		var g errgroup.Group
		g.SetLimit(4)
		flat := make([]uint8, pages*mem.PGSIZE)
		for i := 0; i < pages; i++ {
			i := i
			g.Go(func() error {
				chunk := flat[i*mem.PGSIZE : (i+1)*mem.PGSIZE]
				fb := &Fakeubuf_t{}
				fb.Fake_init(chunk)
				n, err := fops.Read(fb, foff+i*mem.PGSIZE)
				if err != 0 {
					return fmt.Errorf("vm: prefetch page %d: %s", i, err)
				}
				for j := n; j < len(chunk); j++ {
					chunk[j] = 0
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			// background best-effort: Filepage falls back to a blocking
			// Fdops_i.Read for every page in this window.
			return
		}
		p.mu.Lock()
		p.cb.Set(flat, len(flat), mem.Physmem)
		p.ready = true
		p.mu.Unlock()
	}()
	return p
}

// take copies len(dst) cached bytes starting at file offset foff into dst.
// It reports false (and copies nothing) on a cache miss -- offset outside
// the prefetched window, or the background fill hasn't completed yet --
// leaving the caller to fall back to a direct read.
func (p *prefetcher) take(foff int, dst []uint8) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready {
		return false
	}
	rel := foff - p.base
	if rel < 0 || rel+len(dst) > p.cb.Used() {
		return false
	}
	r1, r2 := p.cb.Rawread(rel)
	n := copy(dst, r1)
	if n < len(dst) {
		copy(dst[n:], r2)
	}
	return true
}

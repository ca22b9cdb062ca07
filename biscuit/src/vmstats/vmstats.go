// Package vmstats renders a process address space as a pprof profile:
// one sample per live region, valued by its resident (faulted-in) page
// count. It is purely a read-only diagnostic; nothing in the
// mmap/munmap/page-fault core depends on it, and the output opens in any
// pprof-compatible viewer.
package vmstats

import (
	"time"

	"github.com/google/pprof/profile"

	"mem"
	"vm"
)

// Snapshot walks as's region table under its lock and returns a profile
// with one sample per region: Value[0] is the region's resident page
// count (PTE_P set), Value[1] its total page count, labeled with the
// region's backing kind and start address so a pprof viewer's flat view
// reads like a region table dump.
func Snapshot(as *vm.Vm_t) *profile.Profile {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "resident", Unit: "pages"},
			{Type: "span", Unit: "pages"},
		},
		TimeNanos: time.Now().UnixNano(),
	}

	for _, r := range vm.Regions(as) {
		resident := 0
		start, pglen := vm.RegionExtent(r)
		for i := 0; i < pglen; i++ {
			va := (start + uintptr(i)) << mem.PGSHIFT
			if pte, ok := vm.Lookup(as, va); ok && pte&mem.PTE_P != 0 {
				resident++
			}
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Value: []int64{int64(resident), int64(pglen)},
			Label: map[string][]string{
				"kind":  {vm.RegionKind(r)},
				"start": {formatHex(start << mem.PGSHIFT)},
			},
		})
	}
	return p
}

func formatHex(v uintptr) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0x0"
	}
	buf := make([]byte, 0, 18)
	for v > 0 {
		buf = append([]byte{digits[v&0xf]}, buf...)
		v >>= 4
	}
	return "0x" + string(buf)
}

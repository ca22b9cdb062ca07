package vm

import "golang.org/x/sys/unix"

// Syscall-surface flag values. mmap/munmap take these, not the PTE_* bits
// mem defines -- prot/flags is user ABI, PTE_* is the installed hardware
// encoding the fault resolver produces from it.
const (
	PROT_READ  = 1
	PROT_WRITE = 2
)

const (
	MAP_PRIVATE   = 1
	MAP_SHARED    = 2
	MAP_ANONYMOUS = 4
	MAP_FIXED     = 8
)

// init cross-checks these flag values against the host's real mmap(2)
// encoding. golang.org/x/sys/unix is never asked to perform a mapping
// here -- PROT_READ/PROT_WRITE agree with Linux's ABI, which this
// assertion pins down so a future edit to either side trips it
// immediately instead of silently drifting.
func init() {
	if PROT_READ != unix.PROT_READ {
		panic("vm: PROT_READ disagrees with the host ABI")
	}
	if PROT_WRITE != unix.PROT_WRITE {
		panic("vm: PROT_WRITE disagrees with the host ABI")
	}
	// MAP_PRIVATE/MAP_SHARED/MAP_ANONYMOUS/MAP_FIXED intentionally diverge
	// from the host's bit assignments (this kernel packs them as 1/2/4/8;
	// Linux assigns MAP_FIXED 0x10), so only PROT_READ/PROT_WRITE are
	// cross-checked.
}

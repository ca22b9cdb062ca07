// Package fdops defines the narrow interface the mmap core uses to reach
// across its file-system boundary: inode lock/refcount management and
// read-at-offset, hidden behind an open descriptor's operation set. The
// file-system syscalls themselves live entirely on the other side of this
// boundary.
package fdops

import "defs"

// Userio_i abstracts a user-memory buffer so file-backed code never needs
// to know whether it is copying to/from real user virtual memory
// (vm.Userbuf_t), an iovec array (vm.Useriovec_t), or a plain kernel slice
// (vm.Fakeubuf_t) standing in for one in tests.
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Ready_t is a bitmask of I/O readiness conditions (poll/select support);
// mmap's fault resolver never polls, but Fdops_i is shared with the rest
// of the descriptor layer that does.
type Ready_t uint8

const (
	R_READ  Ready_t = 1 << 0
	R_WRITE Ready_t = 1 << 1
	R_ERROR Ready_t = 1 << 2
)

// Pollmsg_t carries a poll request; mmap doesn't issue any, but Fdops_i's
// Pollone must still accept one to satisfy the shared descriptor contract.
type Pollmsg_t struct {
	Events Ready_t
}

// Fdops_i is the operation set backing one open file descriptor. mmap's
// file-backed path only ever calls Read (and Reopen on fork, Close on
// munmap/exit) -- Write/Pollone exist because a real Fd_t needs them for
// non-mmap syscalls, not because this subsystem uses them.
type Fdops_i interface {
	// Read reads into the user buffer starting at the given file offset
	// and returns the number of bytes copied. A short read (fewer bytes
	// than dst can hold) is not an error; EOF is signaled by returning 0.
	Read(dst Userio_i, offset int) (int, defs.Err_t)
	Write(src Userio_i, offset int) (int, defs.Err_t)
	Reopen() defs.Err_t
	Close() defs.Err_t
	Pollone(Pollmsg_t) (Ready_t, defs.Err_t)
}

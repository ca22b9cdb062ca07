// Package proc is the syscall-entry boundary between a thread trapping
// into the kernel and the mmap/munmap/page-fault core in vm: a Proc_t
// holds the address space, the file-descriptor table an mmap fd argument
// resolves against, and the per-thread kill state the trap epilogue
// consults.
package proc

import (
	"sync"

	"caller"
	"defs"
	"fd"
	"fdops"
	"mem"
	"tinfo"
	"vm"
)

// Proc_t is one process: its address space plus the file-descriptor table
// Sys_mmap resolves an fd argument against.
type Proc_t struct {
	Pid defs.Pid_t

	Vm *vm.Vm_t

	fdl  sync.Mutex
	fds  map[int]*fd.Fd_t
	nfds int

	Threads tinfo.Threadinfo_t
}

// MkProc returns a freshly initialized, empty process.
func MkProc(pid defs.Pid_t) *Proc_t {
	p := &Proc_t{
		Pid: pid,
		Vm:  vm.NewVm(),
		fds: make(map[int]*fd.Fd_t),
	}
	p.Threads.Init()
	return p
}

// AddFd installs f in the process's descriptor table and returns its
// number, the only way a caller later gets a fd argument to pass to
// Sys_mmap.
func (p *Proc_t) AddFd(f *fd.Fd_t) int {
	p.fdl.Lock()
	defer p.fdl.Unlock()
	n := p.nfds
	p.nfds++
	p.fds[n] = f
	return n
}

// fdToFops resolves an mmap-syscall fd argument to the Fdops_i the mmap
// core consumes, or EINVAL if no such descriptor is open. Anon mappings
// pass fdn == -1 and never reach this (the MAP_ANONYMOUS convention of
// never looking at the fd argument).
func (p *Proc_t) fdToFops(fdn int) (fdops.Fdops_i, defs.Err_t) {
	p.fdl.Lock()
	defer p.fdl.Unlock()
	f, ok := p.fds[fdn]
	if !ok {
		return nil, -defs.EINVAL
	}
	return f.Fops, 0
}

// SysMmap is the sys_mmap syscall entry point: resolve the fd argument
// (if any) against this process's descriptor table, then hand off to the
// mmap engine.
func (p *Proc_t) SysMmap(addr, length int, prot, flags uint, fdn, offset int) (int, defs.Err_t) {
	var fops fdops.Fdops_i
	if flags&vm.MAP_ANONYMOUS == 0 {
		var err defs.Err_t
		fops, err = p.fdToFops(fdn)
		if err != 0 {
			return -1, err
		}
	}
	return p.Vm.Mmap(addr, length, prot, flags, fops, offset)
}

// SysMunmap is the sys_munmap syscall entry point.
func (p *Proc_t) SysMunmap(addr, length int) defs.Err_t {
	return p.Vm.Munmap(addr, length)
}

// SysPread reads up to length bytes from the descriptor at the given file
// offset into user memory at va, faulting destination pages in as they are
// touched. Returns the number of bytes read.
func (p *Proc_t) SysPread(fdn, va, length, offset int) (int, defs.Err_t) {
	if length < 0 || offset < 0 {
		return 0, -defs.EINVAL
	}
	fops, err := p.fdToFops(fdn)
	if err != 0 {
		return 0, err
	}
	ub := p.Vm.Mkuserbuf(va, length)
	did, err := fops.Read(ub, offset)
	ub.Release()
	return did, err
}

// SysPreadv is the scatter variant of SysPread: iovarn is the user address
// of an iovec array of niovs (base, length) pairs describing where the
// read lands.
func (p *Proc_t) SysPreadv(fdn, iovarn, niovs, offset int) (int, defs.Err_t) {
	if niovs <= 0 || offset < 0 {
		return 0, -defs.EINVAL
	}
	fops, err := p.fdToFops(fdn)
	if err != 0 {
		return 0, err
	}
	iov := &vm.Useriovec_t{}
	if err := iov.Iov_init(p.Vm, uint(iovarn), niovs); err != 0 {
		return 0, err
	}
	return fops.Read(iov, offset)
}

// Fork duplicates the process: address space (with CoW setup, vm.Vm_t.Fork)
// and file-descriptor table (each entry reopened via fd.Copyfd so parent
// and child hold independent Fdops_i handles over the same file, exactly as
// fd.go's Copyfd doc comment describes). The scheduler/process-table half
// of fork() -- making the child runnable -- is out of scope; this returns
// the child Proc_t ready to be registered wherever the caller's process
// table lives.
func (p *Proc_t) Fork(childPid defs.Pid_t) (*Proc_t, defs.Err_t) {
	cvm, err := p.Vm.Fork()
	if err != 0 {
		return nil, err
	}

	p.fdl.Lock()
	defer p.fdl.Unlock()

	child := &Proc_t{
		Pid:  childPid,
		Vm:   cvm,
		fds:  make(map[int]*fd.Fd_t, len(p.fds)),
		nfds: p.nfds,
	}
	child.Threads.Init()
	for n, f := range p.fds {
		nf, err := fd.Copyfd(f)
		if err != 0 {
			return nil, err
		}
		child.fds[n] = nf
	}
	return child, 0
}

// Exit tears down the process's address space and closes every open
// descriptor.
func (p *Proc_t) Exit() {
	p.Vm.Uvmfree()
	p.fdl.Lock()
	defer p.fdl.Unlock()
	for _, f := range p.fds {
		fd.Close_panic(f)
	}
	p.fds = nil
}

// fatalDumps rate-limits the fatal-fault stack dump to once per distinct
// kernel call path; a process re-faulting on the same bad address does not
// spam the console.
var fatalDumps = caller.Distinct_caller_t{Enabled: true}

// Pgfault is the trap-epilogue entry point for a hardware (simulated) page
// fault on thread tid at address fa with error code ecode.
func (p *Proc_t) Pgfault(tid defs.Tid_t, fa uintptr, ecode mem.Pa_t) defs.Err_t {
	err := p.Vm.Pgfault(tid, fa, ecode)
	if err != 0 {
		if err.Kind() == defs.KindFatal {
			if first, _ := fatalDumps.Distinct(); first {
				caller.Callerdump(2)
			}
		}
		if tn, ok := p.Threads.Get(tid); ok {
			tn.Kill(err)
		}
	}
	return err
}

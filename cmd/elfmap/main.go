// Command elfmap drives the mmap engine end to end against a real ELF
// binary: it parses the PT_LOAD program headers with debug/elf and calls
// vm.Mmap once per loadable segment, file-backed and permission-flagged
// exactly as the segment's ELF flags and memory size dictate. It then
// prints a region-table dump of the resulting address space via
// vmstats.Snapshot -- a convenient way to see the mmap core work against
// something other than a synthetic test offset.
package main

import (
	"debug/elf"
	"fmt"
	"log"
	"os"

	"github.com/google/pprof/profile"

	"defs"
	"fd"
	"fdops"
	"mem"
	"proc"
	"vm"
	"vmstats"
)

func usage(me string) {
	fmt.Printf("%s <elf-file>\n\nmmap every PT_LOAD segment of <elf-file> into a fresh address space and dump the resulting region table\n", me)
	os.Exit(1)
}

func main() {
	if len(os.Args) != 2 {
		usage(os.Args[0])
	}
	fn := os.Args[1]

	f, err := os.Open(fn)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	ef, err := elf.NewFile(f)
	if err != nil {
		log.Fatal(err)
	}
	if ef.Machine != elf.EM_X86_64 {
		log.Fatal("not a 64 bit elf")
	}

	p := proc.MkProc(1)

	lowest := -1
	for _, seg := range ef.Progs {
		if seg.Type != elf.PT_LOAD || seg.Memsz == 0 {
			continue
		}
		// p_vaddr and p_offset are congruent mod the page size; the
		// mapping starts at the rounded-down vaddr, so the file window
		// backs the page slack before the segment proper too.
		slack := int64(seg.Vaddr) & int64(mem.PGOFFSET)
		ffd := &fd.Fd_t{Fops: &elfSegFops{f: f, base: int64(seg.Off) - slack, filesz: int64(seg.Filesz) + slack}, Perms: fd.FD_READ}
		fdn := p.AddFd(ffd)

		prot := uint(vm.PROT_READ)
		if seg.Flags&elf.PF_W != 0 {
			prot |= vm.PROT_WRITE
		}
		addr := int(uintptr(seg.Vaddr) &^ uintptr(mem.PGOFFSET))
		length := int(seg.Memsz) + int(slack)

		va, err := p.SysMmap(addr, length, prot, vm.MAP_PRIVATE|vm.MAP_FIXED, fdn, 0)
		if err != 0 {
			log.Fatalf("mmap segment at 0x%x: %s", seg.Vaddr, err)
		}
		fmt.Printf("mapped segment vaddr=0x%x memsz=0x%x -> 0x%x\n", seg.Vaddr, seg.Memsz, va)
		if lowest == -1 || va < lowest {
			lowest = va
		}
	}
	if lowest == -1 {
		log.Fatal("no loadable segments")
	}

	// read the first mapped bytes back through the address space; this
	// faults the page in from the file exactly as a user load would, and
	// for the usual link layout (first segment at file offset 0) the bytes
	// are the ELF magic itself.
	head := make([]uint8, 4)
	if err := p.Vm.User2k(head, lowest); err != 0 {
		log.Fatalf("read mapped segment at 0x%x: %s", lowest, err)
	}
	fmt.Printf("first mapped bytes at 0x%x: %x\n", lowest, head)

	snap := vmstats.Snapshot(p.Vm)
	dumpSamples(snap)
}

func dumpSamples(pr *profile.Profile) {
	for _, s := range pr.Sample {
		fmt.Printf("region kind=%-12s start=%-10s resident=%d/%d pages\n",
			s.Label["kind"][0], s.Label["start"][0], s.Value[0], s.Value[1])
	}
}

// elfSegFops adapts a [base, base+filesz) window of an on-disk ELF file to
// fdops.Fdops_i so vm.Mmap can back a PT_LOAD segment with it directly;
// bytes past filesz within the segment (bss) are zero-filled by Filepage's
// short-read padding, the same path a sparse file or a truncated read hits.
type elfSegFops struct {
	f      *os.File
	base   int64
	filesz int64
}

func (e *elfSegFops) Read(dst fdops.Userio_i, offset int) (int, defs.Err_t) {
	if int64(offset) >= e.filesz {
		return 0, 0
	}
	want := dst.Remain()
	if int64(offset)+int64(want) > e.filesz {
		want = int(e.filesz - int64(offset))
	}
	buf := make([]byte, want)
	n, rerr := e.f.ReadAt(buf, e.base+int64(offset))
	if rerr != nil && n == 0 {
		return 0, -defs.EIO
	}
	wn, werr := dst.Uiowrite(buf[:n])
	if werr != 0 {
		return 0, werr
	}
	return wn, 0
}

func (e *elfSegFops) Write(src fdops.Userio_i, offset int) (int, defs.Err_t) {
	return 0, -defs.ENOSYS
}

func (e *elfSegFops) Reopen() defs.Err_t { return 0 }
func (e *elfSegFops) Close() defs.Err_t  { return 0 }

func (e *elfSegFops) Pollone(fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return fdops.R_READ, 0
}

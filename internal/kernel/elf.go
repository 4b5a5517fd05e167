package kernel

import (
	"bytes"
	"debug/elf"
)

// elf.go implements only the ELF loader's output *contract* (spec.md
// §1: "only its output contract matters"): given a user program's
// bytes, produce the MemorySet, entry point, and stack top a Task
// needs to start running it. Parsing itself uses the standard
// library's debug/elf — no example repo in this pack ships its own ELF
// parser or wraps a third-party one, and this module only ever reads
// ELF files it built into its own blob (see apps.go), so the
// standard library's well-tested reader is the right tool rather than
// hand-rolling one.
//
// LoadedProgram is the loader's output contract.
type LoadedProgram struct {
	MemorySet *MemorySet
	Entry     VirtAddr
	StackTop  VirtAddr
}

// Load parses a statically-linked user ELF image and builds its
// initial address space: one Framed MapArea per PT_LOAD segment
// (page-aligned to segment boundaries, content copied in via
// WriteData, handling partial first/last pages) plus a fixed-size user
// stack at UserStackTop (spec.md §4.3).
//
// A malformed ELF panics rather than returning an error (spec.md §9
// open question, resolved toward "panic": a malformed embedded app is
// a build-time defect, not a runtime condition to recover from).
func Load(frames *FrameAllocator, image []byte) *LoadedProgram {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		Panicf(CategoryTask, "elf: parse failed: %v", err)
	}
	defer f.Close()

	ms := NewMemorySet(frames)

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		flags := segmentFlags(prog.Flags)
		start := VirtAddr(prog.Vaddr).AlignDown()
		end := VirtAddr(prog.Vaddr + prog.Memsz).AlignUp()
		area := NewFramedArea(frames, start, uintptr(end-start), flags)
		if err := ms.Insert(area); err != nil {
			Panicf(CategoryTask, "elf: segment at %s: %v", start, err)
		}

		data := make([]byte, prog.Filesz)
		if _, err := prog.ReadAt(data, 0); err != nil {
			Panicf(CategoryTask, "elf: reading segment at %s: %v", start, err)
		}
		segOffsetInArea := uintptr(prog.Vaddr) - uintptr(start)
		area.WriteData(frames, segOffsetInArea, data)
	}

	stack := NewFramedArea(frames, VirtAddr(UserStackTop-UserStackSize), UserStackSize, MemRead|MemWrite|MemUser)
	if err := ms.Insert(stack); err != nil {
		Panicf(CategoryTask, "elf: user stack: %v", err)
	}

	return &LoadedProgram{
		MemorySet: ms,
		Entry:     VirtAddr(f.Entry),
		StackTop:  VirtAddr(UserStackTop),
	}
}

func segmentFlags(f elf.ProgFlag) MemFlags {
	flags := MemUser
	if f&elf.PF_R != 0 {
		flags |= MemRead
	}
	if f&elf.PF_W != 0 {
		flags |= MemWrite
	}
	if f&elf.PF_X != 0 {
		flags |= MemExecute
	}
	return flags
}

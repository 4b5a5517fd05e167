package kernel

// KernelSection describes one linker-provided section of the kernel
// image, with the minimum permissions it needs (spec.md §4.3: no WRITE
// on text/rodata, no EXECUTE on data/stack).
type KernelSection struct {
	Name  string
	Start VirtAddr
	Size  uintptr
	Flags MemFlags
}

// MMIORegion describes one device's memory-mapped register window.
type MMIORegion struct {
	Name  string
	Start VirtAddr
	Size  uintptr
}

// BuildKernelMemorySet constructs the kernel address space once at
// boot: every kernel section as a minimally-permissioned Offset area,
// the remaining physical memory as a single RW linear map, and every
// MMIO region as RW+DEVICE (spec.md §4.3). It does not install the
// page-table root or clear the identity mapping — that belongs to the
// boot assembly this module treats as an external collaborator.
func BuildKernelMemorySet(frames *FrameAllocator, sections []KernelSection, ekernel PhysAddr, physMemoryEnd PhysAddr, mmio []MMIORegion) *MemorySet {
	ms := NewMemorySet(frames)

	for _, s := range sections {
		delta := uintptr(s.Start) - uintptr(s.Start.KernelPhys())
		area := NewOffsetArea(s.Start, alignUp(s.Size, PageSize), delta, s.Flags)
		if err := ms.Insert(area); err != nil {
			Panicf(CategoryMemory, "kernel memory set: section %s: %v", s.Name, err)
		}
	}

	remaining := uintptr(physMemoryEnd - ekernel)
	if remaining > 0 {
		linearStart := ekernel.KernelVirt()
		area := NewOffsetArea(linearStart, alignUp(remaining, PageSize), PhysVirtOffset, MemRead|MemWrite)
		if err := ms.Insert(area); err != nil {
			Panicf(CategoryMemory, "kernel memory set: linear map: %v", err)
		}
	}

	for _, m := range mmio {
		area := NewOffsetArea(m.Start, alignUp(m.Size, PageSize), PhysVirtOffset, MemRead|MemWrite|MemDevice)
		if err := ms.Insert(area); err != nil {
			Panicf(CategoryMemory, "kernel memory set: mmio %s: %v", m.Name, err)
		}
	}

	return ms
}

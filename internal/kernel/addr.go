// Package kernel implements the core of a small preemptive
// multitasking kernel: virtual memory management, the task model and
// scheduler, and the syscall-forwarding (SCF) fast path. Boot assembly,
// trap vectors, concrete device drivers, and the user-mode runtime are
// external collaborators; this package only fixes the contracts they
// must satisfy.
package kernel

import "fmt"

// PageSize is the base translation granule used throughout the kernel.
const PageSize = 0x1000

// PageShift is log2(PageSize), used to convert between addresses and
// page numbers.
const PageShift = 12

// PageOffsetMask extracts the intra-page offset of an address.
const PageOffsetMask = PageSize - 1

// PhysAddr is a physical address. It is a distinct type from VirtAddr
// so the two can never be mixed up at a call boundary.
type PhysAddr uintptr

// VirtAddr is a virtual address.
type VirtAddr uintptr

// maxPhysBits bounds physical addresses to 44 bits, matching the
// largest physical address space either target architecture's page
// tables can describe at this translation depth.
const maxPhysBits = 44

// AlignDown rounds pa down to the nearest multiple of PageSize.
func (pa PhysAddr) AlignDown() PhysAddr { return PhysAddr(alignDown(uintptr(pa), PageSize)) }

// AlignUp rounds pa up to the nearest multiple of PageSize.
func (pa PhysAddr) AlignUp() PhysAddr { return PhysAddr(alignUp(uintptr(pa), PageSize)) }

// IsAligned reports whether pa is page aligned.
func (pa PhysAddr) IsAligned() bool { return uintptr(pa)&PageOffsetMask == 0 }

// PageOffset returns the low PageShift bits of pa.
func (pa PhysAddr) PageOffset() uintptr { return uintptr(pa) & PageOffsetMask }

// Valid reports whether pa fits within the architecturally supported
// physical address width.
func (pa PhysAddr) Valid() bool { return uintptr(pa)>>maxPhysBits == 0 }

// KernelVirt maps a physical address into the kernel's linear map by
// adding the fixed PhysVirtOffset. This is how the kernel accesses
// frames it owns without installing an explicit page-table mapping.
func (pa PhysAddr) KernelVirt() VirtAddr { return VirtAddr(uintptr(pa) + PhysVirtOffset) }

func (pa PhysAddr) String() string { return fmt.Sprintf("PA:%#x", uintptr(pa)) }

// AlignDown rounds va down to the nearest multiple of PageSize.
func (va VirtAddr) AlignDown() VirtAddr { return VirtAddr(alignDown(uintptr(va), PageSize)) }

// AlignUp rounds va up to the nearest multiple of PageSize.
func (va VirtAddr) AlignUp() VirtAddr { return VirtAddr(alignUp(uintptr(va), PageSize)) }

// IsAligned reports whether va is page aligned.
func (va VirtAddr) IsAligned() bool { return uintptr(va)&PageOffsetMask == 0 }

// PageOffset returns the low PageShift bits of va.
func (va VirtAddr) PageOffset() uintptr { return uintptr(va) & PageOffsetMask }

// IsUser reports whether va lies in the low half (user range): its top
// bits are all zero.
func (va VirtAddr) IsUser() bool { return uintptr(va)>>47 == 0 }

// IsKernel reports whether va lies in the high half (kernel range): its
// top bits are all one, i.e. bits [63:47] are set.
func (va VirtAddr) IsKernel() bool {
	top := uintptr(va) >> 47
	return top == (uintptr(1)<<17)-1
}

// KernelPhys reverses KernelVirt: it subtracts PhysVirtOffset from a
// kernel-linear-map virtual address.
func (va VirtAddr) KernelPhys() PhysAddr { return PhysAddr(uintptr(va) - PhysVirtOffset) }

func (va VirtAddr) String() string { return fmt.Sprintf("VA:%#x", uintptr(va)) }

// VpnIndices returns the four 9-bit page-table indices encoded in va,
// from the L4 (root) table down to L1 (leaf), following the
// [47:39][38:30][29:21][20:12] split used by both supported
// architectures' 4-level, 4 KiB-page translation tables.
func (va VirtAddr) VpnIndices() [4]uint {
	v := uintptr(va)
	return [4]uint{
		uint((v >> 39) & 0x1ff),
		uint((v >> 30) & 0x1ff),
		uint((v >> 21) & 0x1ff),
		uint((v >> 12) & 0x1ff),
	}
}

func alignDown(v, align uintptr) uintptr { return v &^ (align - 1) }

func alignUp(v, align uintptr) uintptr { return (v + align - 1) &^ (align - 1) }

package kernel

import "unsafe"

// numLevels is the depth of the translation table: L4 (root) down to
// L1 (leaf), 512 entries per level, matching both supported
// architectures at 4 KiB granule (spec.md §4.1).
const numLevels = 4
const entriesPerTable = 512

// PageTable owns its root frame plus every intermediate-level frame it
// allocates while mapping. Dropping a PageTable frees all of them.
type PageTable struct {
	frames *FrameAllocator
	root   Frame
	owned  []Frame // every frame this table allocated, for teardown
}

// NewPageTable allocates a zeroed root table.
func NewPageTable(frames *FrameAllocator) *PageTable {
	root, ok := frames.AllocZero()
	if !ok {
		Panicf(CategoryMemory, "page table: out of physical frames for root")
	}
	return &PageTable{frames: frames, root: root, owned: []Frame{root}}
}

// Root returns the physical address to install in the hardware
// translation-table-base register (TTBR0_EL1 / CR3).
func (pt *PageTable) Root() PhysAddr { return pt.root.PhysAddr() }

func (pt *PageTable) tableAt(f Frame) []pte {
	b := pt.frames.ReadAt(f)
	return bytesToPTEs(b)
}

// walk descends from the root to the L1 table holding va's entry,
// allocating and zero-initializing intermediate tables on demand when
// alloc is true. It returns the L1 table and the index of va's entry
// within it.
func (pt *PageTable) walk(va VirtAddr, alloc bool) ([]pte, int, bool) {
	idxs := va.VpnIndices()
	table := pt.tableAt(pt.root)
	for level := 0; level < numLevels-1; level++ {
		i := idxs[level]
		switch table[i].state() {
		case pteUnused:
			if !alloc {
				return nil, 0, false
			}
			child, ok := pt.frames.AllocZero()
			if !ok {
				Panicf(CategoryMemory, "page table: out of physical frames at level %d", level)
			}
			pt.owned = append(pt.owned, child)
			table[i] = newTablePTE(child.PhysAddr())
			table = pt.tableAt(child)
		case pteTable:
			table = pt.tableAt(Frame{pa: table[i].addr()})
		case ptePage:
			Panicf(CategoryMemory, "page table: va %s walks through a leaf at level %d", va, level)
		}
	}
	return table, int(idxs[numLevels-1]), true
}

// Map installs a single-page mapping from va to pa with flags. Both
// addresses are aligned down to page granularity first. It panics if
// the L1 slot is already mapped (spec.md §4.1: map fails loudly rather
// than silently overwriting).
func (pt *PageTable) Map(va VirtAddr, pa PhysAddr, flags MemFlags) {
	va = va.AlignDown()
	pa = pa.AlignDown()
	l1, idx, _ := pt.walk(va, true)
	if l1[idx].state() != pteUnused {
		Panicf(CategoryMemory, "page table: va %s already mapped", va)
	}
	l1[idx] = newPagePTE(pa, flags)
}

// Unmap clears va's L1 entry. It panics if the entry is not currently
// mapped (spec.md §4.1). Intermediate tables are not reclaimed
// opportunistically, matching the upstream behavior.
func (pt *PageTable) Unmap(va VirtAddr) {
	va = va.AlignDown()
	l1, idx, ok := pt.walk(va, false)
	if !ok || l1[idx].state() == pteUnused {
		Panicf(CategoryMemory, "page table: unmap of unmapped va %s", va)
	}
	l1[idx] = 0
}

// Query resolves va to its mapped physical address (with va's page
// offset re-added) and flags. It returns ErrNotMapped if any level
// along the walk is unused.
func (pt *PageTable) Query(va VirtAddr) (PhysAddr, MemFlags, error) {
	l1, idx, ok := pt.walk(va, false)
	if !ok || l1[idx].state() == pteUnused {
		return 0, 0, ErrNotMapped
	}
	e := l1[idx]
	return e.addr() + PhysAddr(va.PageOffset()), e.toFlags(), nil
}

// MapArea installs every page within area at 4 KiB stride: for each VA
// it asks the area's mapper for a physical page (allocating lazily for
// Framed areas) and installs that mapping.
func (pt *PageTable) MapArea(area *MapArea) {
	for va := area.Start; va < area.Start+VirtAddr(area.Size); va += PageSize {
		pa := area.mapper.mapPage(va)
		pt.Map(va, pa, area.Flags)
	}
}

// UnmapArea removes every page within area, unmapping the area's own
// bookkeeping first.
func (pt *PageTable) UnmapArea(area *MapArea) {
	for va := area.Start; va < area.Start+VirtAddr(area.Size); va += PageSize {
		area.mapper.unmapPage(va)
		pt.Unmap(va)
	}
}

// Destroy releases every frame this table owns (root plus every
// intermediate level). Callers must have already unmapped any Framed
// areas so their frames are freed by MemorySet, not here.
func (pt *PageTable) Destroy() {
	for _, f := range pt.owned {
		pt.frames.Dealloc(f)
	}
	pt.owned = nil
}

// bytesToPTEs reinterprets a frame's raw bytes as its entry array, the
// same way real page-table code treats a physical frame as a typed
// array through its kernel virtual mapping.
func bytesToPTEs(b []byte) []pte {
	if len(b) != entriesPerTable*8 {
		Panicf(CategoryMemory, "page table: frame is not %d bytes", entriesPerTable*8)
	}
	return unsafe.Slice((*pte)(unsafe.Pointer(&b[0])), entriesPerTable)
}

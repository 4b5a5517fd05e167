package kernel

// mapper is the strategy a MapArea uses to resolve a VA within it to a
// physical page, per spec.md §3: a closed set of two resolution
// strategies expressed as a small interface rather than a tagged enum.
type mapper interface {
	mapPage(va VirtAddr) PhysAddr
	unmapPage(va VirtAddr)
	clone(frames *FrameAllocator) mapper
}

// offsetMapper implements identity-plus-offset mapping: PA = VA - delta.
// Used for kernel sections and device MMIO, where the mapping is fixed
// and nothing is owned.
type offsetMapper struct {
	delta uintptr // VA - PA
}

func (m *offsetMapper) mapPage(va VirtAddr) PhysAddr { return PhysAddr(uintptr(va) - m.delta) }
func (m *offsetMapper) unmapPage(VirtAddr)           {}
func (m *offsetMapper) clone(*FrameAllocator) mapper { return &offsetMapper{delta: m.delta} }

// framedMapper owns one lazily-allocated, zeroed frame per VA touched
// within its area. Frames are only allocated on first map, matching
// "allocated lazily on first touch (zeroed on allocation)".
type framedMapper struct {
	frames  *FrameAllocator
	mapping map[VirtAddr]Frame
}

func newFramedMapper(frames *FrameAllocator) *framedMapper {
	return &framedMapper{frames: frames, mapping: make(map[VirtAddr]Frame)}
}

func (m *framedMapper) mapPage(va VirtAddr) PhysAddr {
	if f, ok := m.mapping[va]; ok {
		return f.PhysAddr() // idempotent: a given area instance maps a VA once
	}
	f, ok := m.frames.AllocZero()
	if !ok {
		Panicf(CategoryMemory, "framed area: out of physical frames mapping %s", va)
	}
	m.mapping[va] = f
	return f.PhysAddr()
}

func (m *framedMapper) unmapPage(va VirtAddr) {
	if f, ok := m.mapping[va]; ok {
		m.frames.Dealloc(f)
		delete(m.mapping, va)
	}
}

func (m *framedMapper) clone(frames *FrameAllocator) mapper {
	return newFramedMapper(frames)
}

// frameFor exposes the owned frame backing va, for write_data/dup to
// reach page content directly. It allocates on demand, same as
// mapPage, since "write data" may run before any PageTable.Map call.
func (m *framedMapper) frameFor(va VirtAddr) Frame {
	if f, ok := m.mapping[va]; ok {
		return f
	}
	_ = m.mapPage(va)
	return m.mapping[va]
}

// MapArea is a contiguous, page-aligned [Start, Start+Size) range of
// VAs with uniform flags and one mapper (spec.md §3).
type MapArea struct {
	Start  VirtAddr
	Size   uintptr
	Flags  MemFlags
	mapper mapper
}

// NewOffsetArea creates an Offset-mapped area: va - delta = pa for
// every va in the range.
func NewOffsetArea(start VirtAddr, size uintptr, delta uintptr, flags MemFlags) *MapArea {
	mustPageAligned(start, size)
	return &MapArea{Start: start, Size: size, Flags: flags, mapper: &offsetMapper{delta: delta}}
}

// NewFramedArea creates a Framed area backed by the given frame
// allocator; its frames are allocated lazily as pages are touched.
func NewFramedArea(frames *FrameAllocator, start VirtAddr, size uintptr, flags MemFlags) *MapArea {
	mustPageAligned(start, size)
	return &MapArea{Start: start, Size: size, Flags: flags, mapper: newFramedMapper(frames)}
}

func mustPageAligned(start VirtAddr, size uintptr) {
	if !start.IsAligned() || size%PageSize != 0 {
		Panicf(CategoryMemory, "map area: start %s / size %#x not page aligned", start, size)
	}
}

// End returns the one-past-the-end VA of the area.
func (a *MapArea) End() VirtAddr { return a.Start + VirtAddr(a.Size) }

// WriteData copies src into the area's owned frames starting at
// offset bytes from a.Start, handling partial first/last pages. It
// requires the area to be Framed (only ELF PT_LOAD segments call this).
func (a *MapArea) WriteData(frames *FrameAllocator, offset uintptr, src []byte) {
	fm, ok := a.mapper.(*framedMapper)
	if !ok {
		Panicf(CategoryMemory, "map area: WriteData on a non-Framed area")
	}
	pos := offset
	for len(src) > 0 {
		pageStart := alignDown(pos, PageSize)
		va := a.Start + VirtAddr(pageStart)
		pageOff := pos - pageStart
		f := fm.frameFor(va)
		page := frames.ReadAt(f)
		n := copy(page[pageOff:], src)
		src = src[n:]
		pos += uintptr(n)
	}
}

// clone deep-copies a Framed area's content into a fresh set of owned
// frames, or re-references an Offset area's fixed delta, implementing
// the two halves of MemorySet.Dup described in spec.md §4.3.
func (a *MapArea) clone(frames *FrameAllocator) *MapArea {
	switch m := a.mapper.(type) {
	case *offsetMapper:
		return &MapArea{Start: a.Start, Size: a.Size, Flags: a.Flags, mapper: m.clone(frames)}
	case *framedMapper:
		newM := newFramedMapper(frames)
		out := &MapArea{Start: a.Start, Size: a.Size, Flags: a.Flags, mapper: newM}
		for va := a.Start; va < a.End(); va += PageSize {
			srcFrame, touched := m.mapping[va]
			if !touched {
				continue
			}
			dstFrame := newM.frameFor(va)
			copy(frames.ReadAt(dstFrame), frames.ReadAt(srcFrame))
		}
		return out
	default:
		Panicf(CategoryMemory, "map area: unknown mapper type")
		return nil
	}
}

// destroy frees every frame a Framed area owns. Offset areas own
// nothing and this is a no-op for them.
func (a *MapArea) destroy() {
	if fm, ok := a.mapper.(*framedMapper); ok {
		for va := range fm.mapping {
			fm.unmapPage(va)
		}
	}
}

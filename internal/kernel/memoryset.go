package kernel

import "sort"

// MemorySet owns a PageTable and an ordered collection of MapAreas
// keyed by start VA (spec.md §3).
type MemorySet struct {
	frames *FrameAllocator
	pt     *PageTable
	areas  map[VirtAddr]*MapArea
}

// NewMemorySet creates an empty address space with a freshly allocated
// root page table.
func NewMemorySet(frames *FrameAllocator) *MemorySet {
	return &MemorySet{frames: frames, pt: NewPageTable(frames), areas: make(map[VirtAddr]*MapArea)}
}

// PageTable returns the owned page table, e.g. to read its Root() for
// activation.
func (ms *MemorySet) PageTable() *PageTable { return ms.pt }

// Insert installs area: it is recorded keyed by its start VA and every
// page within it is written into the page table. A zero-sized area is
// rejected (spec.md §9 open question, resolved toward rejection rather
// than the original's inverted `!size > 0` check).
func (ms *MemorySet) Insert(area *MapArea) error {
	if area.Size == 0 {
		return ErrEmptyArea
	}
	ms.areas[area.Start] = area
	ms.pt.MapArea(area)
	return nil
}

// Areas returns every installed area, ordered by start VA, for
// iteration (e.g. dump/debug tooling or Dup).
func (ms *MemorySet) Areas() []*MapArea {
	starts := make([]VirtAddr, 0, len(ms.areas))
	for s := range ms.areas {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	out := make([]*MapArea, len(starts))
	for i, s := range starts {
		out[i] = ms.areas[s]
	}
	return out
}

// Dup deep-copies this MemorySet for fork: Offset areas are re-created
// pointing at the same fixed delta, Framed areas get fresh owned
// frames with identical byte content, and the result has its own
// independent page table (spec.md §4.3).
func (ms *MemorySet) Dup() *MemorySet {
	out := NewMemorySet(ms.frames)
	for _, a := range ms.Areas() {
		cloned := a.clone(ms.frames)
		// Insert directly rather than via Insert: a size-0 area can
		// never appear here since the original rejected it already.
		out.areas[cloned.Start] = cloned
		out.pt.MapArea(cloned)
	}
	return out
}

// Destroy unmaps every area and frees the frames it owns, then
// releases the page table's own frames. Called when a task's
// MemorySet is dropped (on exit or replaced by exec).
func (ms *MemorySet) Destroy() {
	for _, a := range ms.Areas() {
		ms.pt.UnmapArea(a)
		a.destroy()
	}
	ms.pt.Destroy()
	ms.areas = make(map[VirtAddr]*MapArea)
}

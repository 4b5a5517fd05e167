package kernel

import "sync"

// heapBlock is a free or allocated extent within a KernelHeap's arena.
type heapBlock struct {
	offset uintptr
	size   uintptr
}

// Handle is an opaque reference into a KernelHeap's arena. It plays the
// role a raw pointer would in a C-style allocator, without the
// unsafe.Pointer arithmetic: Go's GC already owns the backing array, so
// the handle only needs to carry where within it an allocation lives.
type Handle struct {
	offset uintptr
	size   uintptr
}

// Valid reports whether h refers to an allocation (the zero Handle
// does not).
func (h Handle) Valid() bool { return h.size != 0 }

// KernelHeap is the kernel's general-purpose allocator over a fixed
// region (spec.md §2): first-fit over a free-block list, falling back
// to bump allocation from the unused tail of the arena.
// A single mutex serializes Alloc/Free, standing in for "IRQs disabled
// across the critical section" as in FrameAllocator.
type KernelHeap struct {
	mu       sync.Mutex
	arena    []byte
	base     VirtAddr // "sbss" equivalent: lowest address this heap owns
	next     uintptr  // bump pointer for the never-yet-allocated tail
	free     []heapBlock
	inUse    map[uintptr]uintptr // offset -> size, for double-free detection
}

// NewKernelHeap creates a heap over a freshly allocated arena of the
// given size, reachable at virtual address base (used only for
// bounds-checking in tests; the arena itself is ordinary Go memory).
func NewKernelHeap(base VirtAddr, size uintptr) *KernelHeap {
	return &KernelHeap{
		arena: make([]byte, size),
		base:  base,
		inUse: make(map[uintptr]uintptr),
	}
}

// Base returns the heap's lowest owned address ("sbss").
func (h *KernelHeap) Base() VirtAddr { return h.base }

// End returns the heap's one-past-the-end address ("ebss").
func (h *KernelHeap) End() VirtAddr { return h.base + VirtAddr(len(h.arena)) }

// Alloc reserves size bytes. It panics (tier-1, spec.md §7: allocation
// failure is fatal) if the arena is exhausted.
func (h *KernelHeap) Alloc(size uintptr) Handle {
	if size == 0 {
		Panicf(CategoryMemory, "heap: zero-size allocation")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for i, b := range h.free {
		if b.size >= size {
			h.free = append(h.free[:i], h.free[i+1:]...)
			if b.size > size {
				h.free = append(h.free, heapBlock{offset: b.offset + size, size: b.size - size})
			}
			h.inUse[b.offset] = size
			return Handle{offset: b.offset, size: size}
		}
	}

	if h.next+size > uintptr(len(h.arena)) {
		Panicf(CategoryMemory, "heap: out of memory allocating %d bytes", size)
	}
	off := h.next
	h.next += size
	h.inUse[off] = size
	return Handle{offset: off, size: size}
}

// Free releases a handle back to the heap. It panics on a double free
// or a handle this heap did not issue, matching FrameAllocator.Dealloc's
// tier-1 treatment of corrupted owner accounting.
func (h *KernelHeap) Free(handle Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	size, ok := h.inUse[handle.offset]
	if !ok || size != handle.size {
		Panicf(CategoryMemory, "heap: invalid or double free at offset %#x", handle.offset)
	}
	delete(h.inUse, handle.offset)
	h.free = append(h.free, heapBlock{offset: handle.offset, size: handle.size})
}

// Bytes returns the live backing slice for an allocation, for the
// caller to read or write in place.
func (h *KernelHeap) Bytes(handle Handle) []byte {
	return h.arena[handle.offset : handle.offset+handle.size]
}

// Addr returns the virtual address a handle would be found at, for
// bounds assertions ("address lies in [sbss, ebss)").
func (h *KernelHeap) Addr(handle Handle) VirtAddr { return h.base + VirtAddr(handle.offset) }

package scf

import (
	"fmt"
	"sort"
	"sync"
)

// poolBlock is a free span of the data pool, tracked the same
// first-fit-then-bump way this repository's kernel heap is (see
// internal/kernel/heap.go); the upstream allocator this is grounded on
// is a buddy heap, but a pool allocator serves an identical purpose
// here and keeps the two allocators in this codebase consistent.
type poolBlock struct {
	offset, size uintptr
}

// Pool is the shared data buffer SCF calls copy user bytes into before
// handing an offset to the external handler (spec.md §4.8 "Data pool
// allocator"). offset_of is implicit: Alloc already returns offsets
// relative to the pool base, which is exactly what the external side
// of the mapping needs.
type Pool struct {
	mu    sync.Mutex
	mem   []byte
	next  uintptr
	free  []poolBlock
	inUse map[uintptr]uintptr // offset -> size
}

// NewPool wraps mem (typically a slice of the SCF shared mmap region)
// as an allocator.
func NewPool(mem []byte) *Pool {
	return &Pool{mem: mem, inUse: make(map[uintptr]uintptr)}
}

// Bytes returns the pool's backing storage, for tests that want to
// inspect or seed it directly.
func (p *Pool) Bytes() []byte { return p.mem }

// Alloc reserves size bytes and returns their offset from the pool
// base plus a slice view over them. It panics if the pool is
// exhausted, matching spec.md §4.10's "allocation failure: panic".
func (p *Pool) Alloc(size uintptr) (uintptr, []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if size == 0 {
		// A zero-length request (e.g. BlockingWrite(fd, nil, ...)) still
		// needs its own offset: matching it against the first free block
		// that "fits" would hand out that block's offset without
		// reserving it, so a second zero-length alloc could collide with
		// the same offset in inUse and panic as a double free once both
		// are freed. Bump-allocate one throwaway byte instead so every
		// zero-length request gets a unique, freeable offset.
		if p.next+1 > uintptr(len(p.mem)) {
			panic(fmt.Sprintf("scf: data pool exhausted (want %d, have %d free)", size, uintptr(len(p.mem))-p.next))
		}
		offset := p.next
		p.next++
		p.inUse[offset] = 0
		return offset, p.mem[offset:offset]
	}

	for i, b := range p.free {
		if b.size >= size {
			p.free = append(p.free[:i], p.free[i+1:]...)
			if b.size > size {
				p.free = append(p.free, poolBlock{offset: b.offset + size, size: b.size - size})
			}
			p.inUse[b.offset] = size
			return b.offset, p.mem[b.offset : b.offset+size]
		}
	}

	if p.next+size > uintptr(len(p.mem)) {
		panic(fmt.Sprintf("scf: data pool exhausted (want %d, have %d free)", size, uintptr(len(p.mem))-p.next))
	}
	offset := p.next
	p.next += size
	p.inUse[offset] = size
	return offset, p.mem[offset : offset+size]
}

// Free releases an allocation made with Alloc, making its span
// available for reuse.
func (p *Pool) Free(offset uintptr) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size, ok := p.inUse[offset]
	if !ok {
		panic(fmt.Sprintf("scf: double free or invalid offset %#x in data pool", offset))
	}
	delete(p.inUse, offset)
	p.free = append(p.free, poolBlock{offset: offset, size: size})
	sort.Slice(p.free, func(i, j int) bool { return p.free[i].offset < p.free[j].offset })
}

// At returns the live byte slice for a previously allocated offset.
func (p *Pool) At(offset, size uintptr) []byte {
	return p.mem[offset : offset+size]
}

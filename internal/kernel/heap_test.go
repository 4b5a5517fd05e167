package kernel

import "testing"

func TestKernelHeap(t *testing.T) {
	t.Run("BoxedIntAddressBounds", func(t *testing.T) {
		h := NewKernelHeap(VirtAddr(0x1000_0000), 64*1024)
		handle := h.Alloc(8)
		addr := h.Addr(handle)
		if addr < h.Base() || addr >= h.End() {
			t.Fatalf("allocation at %s is outside heap bounds [%s, %s)", addr, h.Base(), h.End())
		}

		buf := h.Bytes(handle)
		for i := range buf {
			buf[i] = 0
		}
		buf[0] = 42
		if h.Bytes(handle)[0] != 42 {
			t.Fatal("write through the returned slice did not persist")
		}
		h.Free(handle)
	})

	t.Run("GrowableBufferRoundTrip", func(t *testing.T) {
		h := NewKernelHeap(VirtAddr(0), 1<<20)
		handle := h.Alloc(256)
		data := h.Bytes(handle)
		for i := range data {
			data[i] = byte(i)
		}
		for i, b := range h.Bytes(handle) {
			if b != byte(i) {
				t.Fatalf("byte %d: got %d want %d", i, b, byte(i))
			}
		}
		h.Free(handle)

		reuse := h.Alloc(256)
		if reuse.offset != handle.offset {
			t.Fatalf("freed block not reused: got offset %d, want %d", reuse.offset, handle.offset)
		}
	})

	t.Run("DoubleFreePanics", func(t *testing.T) {
		h := NewKernelHeap(VirtAddr(0), 4096)
		handle := h.Alloc(16)
		h.Free(handle)
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic on double free")
			}
		}()
		h.Free(handle)
	})

	t.Run("OutOfMemoryPanics", func(t *testing.T) {
		h := NewKernelHeap(VirtAddr(0), 16)
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic allocating past the arena")
			}
		}()
		h.Alloc(17)
	})
}

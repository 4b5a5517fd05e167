package kernel

import "testing"

func TestMemorySetInsert(t *testing.T) {
	fa := NewFrameAllocator(0, 64)

	t.Run("ZeroSizeAreaRejected", func(t *testing.T) {
		ms := NewMemorySet(fa)
		area := &MapArea{Start: VirtAddr(0x1000), Size: 0, Flags: MemRead}
		if err := ms.Insert(area); err != ErrEmptyArea {
			t.Fatalf("got %v, want ErrEmptyArea", err)
		}
	})

	t.Run("ValidAreaIsQueryable", func(t *testing.T) {
		ms := NewMemorySet(fa)
		area := NewFramedArea(fa, VirtAddr(0x2000), PageSize, MemRead|MemWrite)
		if err := ms.Insert(area); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if _, _, err := ms.PageTable().Query(VirtAddr(0x2000)); err != nil {
			t.Fatalf("query after insert: %v", err)
		}
	})
}

func TestMemorySetDup(t *testing.T) {
	fa := NewFrameAllocator(0, 64)
	ms := NewMemorySet(fa)

	framed := NewFramedArea(fa, VirtAddr(0x1000), PageSize, MemRead|MemWrite|MemUser)
	if err := ms.Insert(framed); err != nil {
		t.Fatalf("insert framed: %v", err)
	}
	framed.WriteData(fa, 0, []byte("hello"))

	offset := NewOffsetArea(VirtAddr(PhysVirtOffset+0x3000), PageSize, PhysVirtOffset, MemRead|MemWrite)
	if err := ms.Insert(offset); err != nil {
		t.Fatalf("insert offset: %v", err)
	}

	dup := ms.Dup()

	t.Run("FramedAreaIsDeepCopied", func(t *testing.T) {
		pa, _, err := dup.PageTable().Query(VirtAddr(0x1000))
		if err != nil {
			t.Fatalf("query dup: %v", err)
		}
		origPa, _, _ := ms.PageTable().Query(VirtAddr(0x1000))
		if pa == origPa {
			t.Fatalf("dup reused the original frame %s instead of copying", pa)
		}

		dupArea := dup.Areas()[0]
		dupArea.WriteData(fa, 0, []byte("xxxxx"))
		origArea := ms.Areas()[0]
		origBytes := fa.ReadAt(frameForArea(t, origArea, VirtAddr(0x1000)))
		if string(origBytes[:5]) != "hello" {
			t.Fatalf("mutating the dup mutated the original: got %q", origBytes[:5])
		}
	})

	t.Run("OffsetAreaIsReReferenced", func(t *testing.T) {
		pa, flags, err := dup.PageTable().Query(VirtAddr(PhysVirtOffset + 0x3000))
		if err != nil {
			t.Fatalf("query dup offset area: %v", err)
		}
		if pa != PhysAddr(0x3000) {
			t.Fatalf("dup offset mapping: got PA %s, want %s", pa, PhysAddr(0x3000))
		}
		if flags&MemWrite == 0 {
			t.Fatalf("dup offset flags %s should be writable", flags)
		}
	})
}

// frameForArea reaches into a Framed area for the frame backing va, for
// content assertions; tests only, production code never needs to.
func frameForArea(t *testing.T, area *MapArea, va VirtAddr) Frame {
	t.Helper()
	fm, ok := area.mapper.(*framedMapper)
	if !ok {
		t.Fatalf("area at %s is not framed", area.Start)
	}
	f, ok := fm.mapping[va]
	if !ok {
		t.Fatalf("va %s not yet touched in area at %s", va, area.Start)
	}
	return f
}

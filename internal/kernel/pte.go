package kernel

// MemFlags is the architecture-independent permission/attribute set a
// PageTableEntry encodes, per spec.md §3. Conversion to and from the
// per-arch descriptor bits is total: every flag combination encodes a
// valid entry. Decoding always reports MemRead (neither encoding has a
// "not readable" bit), so the round trip is the identity only on
// combinations that include MemRead.
type MemFlags uint8

const (
	MemRead MemFlags = 1 << iota
	MemWrite
	MemExecute
	MemUser
	MemDevice
)

func (f MemFlags) String() string {
	s := ""
	if f&MemRead != 0 {
		s += "R"
	} else {
		s += "-"
	}
	if f&MemWrite != 0 {
		s += "W"
	} else {
		s += "-"
	}
	if f&MemExecute != 0 {
		s += "X"
	} else {
		s += "-"
	}
	if f&MemUser != 0 {
		s += "U"
	} else {
		s += "-"
	}
	if f&MemDevice != 0 {
		s += "D"
	} else {
		s += "-"
	}
	return s
}

// pteState classifies a PageTableEntry's raw bit pattern.
type pteState uint8

const (
	pteUnused pteState = iota
	pteTable
	ptePage
)

// pte is the 64-bit value a level of the page table stores, with the
// physical address in the upper bits and architecture-specific
// attribute bits in the low bits (spec.md §3). The encode/decode pair
// is implemented per architecture in pte_arm64.go / pte_amd64.go; this
// file only holds the architecture-independent classification.
type pte uint64

func (p pte) state() pteState {
	if p == 0 {
		return pteUnused
	}
	if p.isTableDescriptor() {
		return pteTable
	}
	return ptePage
}

package scf

import (
	"fmt"
	"log"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Opcode identifies the forwarded operation carried by a descriptor,
// matching the original SCF implementation's IpcOpcode enum exactly
// (spec.md's distillation dropped the enum's concrete values; this is
// a supplemented feature pulled back from the upstream sources).
type Opcode uint8

const (
	OpcodeNop Opcode = iota
	OpcodeRead
	OpcodeWrite
	OpcodeOpen
	OpcodeClose
	OpcodeUnknown Opcode = 0xff
)

func (o Opcode) String() string {
	switch o {
	case OpcodeNop:
		return "Nop"
	case OpcodeRead:
		return "Read"
	case OpcodeWrite:
		return "Write"
	case OpcodeOpen:
		return "Open"
	case OpcodeClose:
		return "Close"
	default:
		return "Unknown"
	}
}

// ringMagic is the SCF queue buffer's header magic, "\x7fSCF" read as
// a little-endian u32 (spec.md §4.8, §6).
const ringMagic uint32 = 0x4643537f

// header is the ring's metadata block, laid out to match spec.md
// §4.8's description field for field: magic, a lock word, capacity,
// and the two producer indices.
type header struct {
	Magic    uint32
	Lock     uint32
	Capacity uint16
	ReqIndex uint16
	RspIndex uint16
	_        uint16
}

// descriptor is one ring slot: the request payload plus its result.
type descriptor struct {
	Valid   uint32
	Opcode  uint8
	_       [3]byte
	Args    uint64
	RetVal  uint64
}

const (
	headerSize     = unsafe.Sizeof(header{})
	descriptorSize = unsafe.Sizeof(descriptor{})
)

// Ring is the kernel-side view of the SCF shared region: a real
// anonymous mmap, shared (MAP_SHARED) the way a second process holding
// the same mapping would see it — the literal Go analogue of the
// physical page range spec.md §6 fixes at SYSCALL_QUEUE_BUF_PADDR.
// ErrRingFull and the shadow-state fields implement spec.md §4.8's
// submit/completion protocol; Notify stands in for firing the
// SYSCALL_IPI_IRQ_NUM interrupt that wakes the external handler.
type Ring struct {
	mem  []byte
	hdr  *header
	descs []descriptor
	reqRing []uint16
	rspRing []uint16
	mask  uint16

	freeCount   int
	reqShadow   uint16
	rspLast     uint16
	tokens      []*CondVar

	extReqLast  uint16
	extRspShadow uint16

	mu     spinlock
	Notify func()
}

// spinlock is a plain mutex standing in for the IRQ-disabling spin
// lock spec.md §5 specifies; there are no real IRQs to disable here.
type spinlock struct{ locked chan struct{} }

func newSpinlock() spinlock { l := spinlock{locked: make(chan struct{}, 1)}; return l }
func (s spinlock) Lock()    { s.locked <- struct{}{} }
func (s spinlock) Unlock()  { <-s.locked }

// NewRing mmaps a shared anonymous region of size bytes and carves it
// into the header/descriptor/req-ring/rsp-ring layout spec.md §4.8
// describes, with capacity rounded down to a power of two so index
// wraparound can use a mask instead of a modulo.
func NewRing(size int) (*Ring, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("scf: mmap ring: %w", err)
	}

	capacity := (uintptr(size) - headerSize) / (descriptorSize + 2*2)
	capacity = prevPowerOfTwo(capacity)
	if capacity == 0 || capacity >= 1<<16 {
		unix.Munmap(mem)
		return nil, fmt.Errorf("scf: ring size %d yields invalid capacity %d", size, capacity)
	}

	entriesBase := headerSize
	reqBase := entriesBase + capacity*descriptorSize
	rspBase := reqBase + capacity*2

	r := &Ring{
		mem:      mem,
		hdr:      (*header)(unsafe.Pointer(&mem[0])),
		descs:    unsafe.Slice((*descriptor)(unsafe.Pointer(&mem[entriesBase])), capacity),
		reqRing:  unsafe.Slice((*uint16)(unsafe.Pointer(&mem[reqBase])), capacity),
		rspRing:  unsafe.Slice((*uint16)(unsafe.Pointer(&mem[rspBase])), capacity),
		mask:     uint16(capacity - 1),
		freeCount: int(capacity),
		tokens:   make([]*CondVar, capacity),
		mu:       newSpinlock(),
	}
	*r.hdr = header{Magic: ringMagic, Capacity: uint16(capacity)}
	return r, nil
}

func prevPowerOfTwo(n uintptr) uintptr {
	if n == 0 {
		return 0
	}
	p := uintptr(1)
	for p*2 <= n {
		p *= 2
	}
	return p
}

// Close unmaps the ring's backing memory.
func (r *Ring) Close() error { return unix.Munmap(r.mem) }

// Capacity returns the number of descriptor slots.
func (r *Ring) Capacity() int { return int(r.hdr.Capacity) }

// ErrFull is returned by Submit when no descriptor slot is free.
var ErrFull = fmt.Errorf("scf: request ring full")

// Submit implements spec.md §4.8's submit protocol: find a free
// descriptor, publish it into the request ring, and fire Notify.
// token may be nil for fire-and-forget operations.
func (r *Ring) Submit(opcode Opcode, args uint64, token *CondVar) error {
	r.mu.Lock()
	if r.freeCount == 0 {
		r.mu.Unlock()
		return ErrFull
	}

	idx := -1
	for i := range r.descs {
		if r.descs[i].Valid == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return ErrFull
	}

	r.descs[idx] = descriptor{Valid: 1, Opcode: uint8(opcode), Args: args}
	r.tokens[idx] = token

	r.reqRing[r.reqShadow&r.mask] = uint16(idx)
	r.reqShadow++
	r.hdr.ReqIndex = r.reqShadow
	r.freeCount--
	r.mu.Unlock()

	if r.Notify != nil {
		r.Notify()
	}
	return nil
}

// PollCompletions implements spec.md §4.8's completion protocol,
// meant to be driven from the periodic timer tick: drain every newly
// visible rsp_ring entry, clear its descriptor, and signal the
// associated condvar.
func (r *Ring) PollCompletions() {
	for {
		r.mu.Lock()
		if r.rspLast == r.hdr.RspIndex {
			r.mu.Unlock()
			return
		}
		idx := r.rspRing[r.rspLast&r.mask]
		r.rspLast++

		if int(idx) >= len(r.descs) || r.descs[idx].Valid == 0 {
			r.mu.Unlock()
			log.Printf("scf: dropping corrupt completion for descriptor %d", idx)
			continue // corrupt completion: log and drop, per spec.md §4.10
		}

		retVal := r.descs[idx].RetVal
		token := r.tokens[idx]
		r.descs[idx] = descriptor{}
		r.tokens[idx] = nil
		r.freeCount++
		r.mu.Unlock()

		if token != nil {
			token.Signal(retVal)
		}
	}
}

// ExternalStep lets a simulated external handler (see dispatch.go's
// LoopbackHandler) service newly submitted requests and publish their
// completions, using the same shared header/descriptor state a real
// out-of-process consumer would see on its side of the mapping. handle
// computes the response value for one request.
func (r *Ring) ExternalStep(handle func(opcode Opcode, args uint64) uint64) {
	for {
		r.mu.Lock()
		if r.extReqLast == r.hdr.ReqIndex {
			r.mu.Unlock()
			return
		}
		idx := r.reqRing[r.extReqLast&r.mask]
		r.extReqLast++
		opcode := Opcode(r.descs[idx].Opcode)
		args := r.descs[idx].Args
		r.mu.Unlock()

		ret := handle(opcode, args)

		r.mu.Lock()
		r.descs[idx].RetVal = ret
		r.rspRing[r.extRspShadow&r.mask] = idx
		r.extRspShadow++
		r.hdr.RspIndex = r.extRspShadow
		r.mu.Unlock()
	}
}

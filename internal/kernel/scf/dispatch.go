package scf

// readWriteArgs is the fixed-size argument record for a read or write
// request, packed into the pool and referenced by a descriptor's Args
// field as a byte offset.
type readWriteArgs struct {
	FD        uint32
	_         uint32
	BufOffset uint64
	Len       uint64
}

const readWriteArgsSize = 24 // 4 + 4 pad + 8 + 8, matches readWriteArgs layout

// Service bundles a Ring with the data Pool submissions copy their
// payload into, implementing spec.md §4.8's "blocking write" protocol
// end to end.
type Service struct {
	Ring *Ring
	Pool *Pool
}

// NewService wires a Ring and Pool created from the same SCF shared
// region (ring for the descriptor/index machinery, pool for the
// variable-length payload bytes).
func NewService(ring *Ring, pool *Pool) *Service {
	return &Service{Ring: ring, Pool: pool}
}

// BlockingWrite copies data into the shared pool, submits a Write
// request, and busy-yields (via yield) until the external handler
// completes it, returning the handler's reported length.
//
// TODO: a task killed while parked in cv.Wait leaves its token in the
// ring's in-flight table; the eventual completion still calls
// cv.Signal, but nothing is waiting on cv anymore and the value is
// silently dropped. Fixing this needs a cancellation flag threaded
// through the token so PollCompletions can skip signalling a cancelled
// CondVar (spec.md §9 open question, left unimplemented for now).
func (s *Service) BlockingWrite(fd uint32, data []byte, yield func()) (int64, error) {
	bufOff, buf := s.Pool.Alloc(uintptr(len(data)))
	copy(buf, data)
	defer s.Pool.Free(bufOff)

	argsOff, argsBuf := s.Pool.Alloc(readWriteArgsSize)
	defer s.Pool.Free(argsOff)
	putReadWriteArgs(argsBuf, readWriteArgs{FD: fd, BufOffset: uint64(bufOff), Len: uint64(len(data))})

	cv := &CondVar{}
	if err := s.Ring.Submit(OpcodeWrite, uint64(argsOff), cv); err != nil {
		return 0, err
	}
	return int64(cv.Wait(yield)), nil
}

// BlockingRead submits a Read request sized to len(dst), waits for the
// external handler's completion, and copies the returned bytes into
// dst, returning how many were actually read.
func (s *Service) BlockingRead(fd uint32, dst []byte, yield func()) (int64, error) {
	bufOff, _ := s.Pool.Alloc(uintptr(len(dst)))
	defer s.Pool.Free(bufOff)

	argsOff, argsBuf := s.Pool.Alloc(readWriteArgsSize)
	defer s.Pool.Free(argsOff)
	putReadWriteArgs(argsBuf, readWriteArgs{FD: fd, BufOffset: uint64(bufOff), Len: uint64(len(dst))})

	cv := &CondVar{}
	if err := s.Ring.Submit(OpcodeRead, uint64(argsOff), cv); err != nil {
		return 0, err
	}
	n := int64(cv.Wait(yield))
	if n > 0 {
		copy(dst, s.Pool.At(bufOff, uintptr(n)))
	}
	return n, nil
}

func putReadWriteArgs(buf []byte, a readWriteArgs) {
	le32(buf[0:4], a.FD)
	le64(buf[8:16], a.BufOffset)
	le64(buf[16:24], a.Len)
}

func readReadWriteArgs(buf []byte) readWriteArgs {
	return readWriteArgs{
		FD:        uint32(le32get(buf[0:4])),
		BufOffset: le64get(buf[8:16]),
		Len:       le64get(buf[16:24]),
	}
}

func le32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
func le32get(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func le64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func le64get(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// LoopbackHandler is a Go-goroutine stand-in for the external process
// a real deployment would run on the other side of the SCF mapping; it
// is how this module's tests exercise the ring end to end (spec.md §8
// "SCF write loopback"). handle computes a response for one request;
// a typical test handler for Write just echoes back the request's Len.
type LoopbackHandler struct {
	ring   *Ring
	pool   *Pool
	handle func(opcode Opcode, args readWriteArgs) uint64
	wake   chan struct{}
	stop   chan struct{}
}

// NewLoopbackHandler wires ring.Notify to wake a servicing goroutine
// that decodes readWriteArgs out of pool and calls handle.
func NewLoopbackHandler(ring *Ring, pool *Pool, handle func(opcode Opcode, args readWriteArgs) uint64) *LoopbackHandler {
	h := &LoopbackHandler{ring: ring, pool: pool, handle: handle, wake: make(chan struct{}, 1), stop: make(chan struct{})}
	ring.Notify = h.notify
	go h.run()
	return h
}

func (h *LoopbackHandler) notify() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *LoopbackHandler) run() {
	for {
		select {
		case <-h.stop:
			return
		case <-h.wake:
			h.ring.ExternalStep(func(opcode Opcode, argsOffset uint64) uint64 {
				args := readReadWriteArgs(h.pool.At(uintptr(argsOffset), readWriteArgsSize))
				return h.handle(opcode, args)
			})
		}
	}
}

// Stop terminates the handler goroutine.
func (h *LoopbackHandler) Stop() { close(h.stop) }

package transport

import (
	"unsafe"

	"github.com/nvmeof-rdma/target/rdma"
)

// requestState is one position in a slot's lifecycle between RECV
// completion and SEND acknowledgement.
type requestState int

const (
	// stateIdle means the slot is posted for RECV; there is no
	// in-flight request occupying it.
	stateIdle requestState = iota
	stateWaitBuf
	stateWaitRW
	stateRWPosted
	stateExecuting
	stateSendPosted
)

func (s requestState) String() string {
	switch s {
	case stateIdle:
		return "POSTED"
	case stateWaitBuf:
		return "WAIT_BUF"
	case stateWaitRW:
		return "WAIT_RW"
	case stateRWPosted:
		return "RW_POSTED"
	case stateExecuting:
		return "EXECUTING"
	case stateSendPosted:
		return "SEND_POSTED"
	default:
		return "UNKNOWN"
	}
}

// prepOutcome is the result of inspecting a freshly-received command.
type prepOutcome int

const (
	prepReady prepOutcome = iota
	prepPendingBuffer
	prepPendingData
	prepError
)

// Request is one slot in a connection's fixed-size array of in-flight
// requests. Its WRID is the slot's index into the connection's arrays --
// a stable cookie attached to every work request posted on its behalf,
// recovering the owning slot in O(1) on any completion. The opcode
// class is recovered from the completion itself rather than packed into
// the id.
type Request struct {
	conn *Connection
	idx  uint16

	cmd CommandCapsule
	cpl CompletionCapsule
	icd []byte // this slot's in-capsule data buffer

	data       []byte
	dataLKey   uint32
	length     uint32
	xfer       Xfer
	remoteAddr uint64
	remoteKey  uint32

	holdsChunk bool
	chunk      sessionChunk

	state requestState
	span  Span

	// Response is the completion capsule the backend fills in before
	// calling Transport.ReqComplete.
	Response *CompletionCapsule
}

// WRID returns the cookie the transport attaches to every work request
// posted on this slot's behalf.
func (r *Request) WRID() uint64 { return uint64(r.idx) }

// Data is the buffer the backend should read from (HOST_TO_CONTROLLER)
// or fill in (CONTROLLER_TO_HOST / NONE with in-capsule data).
func (r *Request) Data() []byte { return r.data }

// Length is the prepared transfer length.
func (r *Request) Length() uint32 { return r.length }

// Xfer is the prepared transfer direction.
func (r *Request) Xfer() Xfer { return r.xfer }

// Command exposes the command capsule for the backend to interpret.
func (r *Request) Command() CommandCapsule { return r.cmd }

// Completion exposes the response capsule for the backend to fill in
// status fields before calling Transport.ReqComplete.
func (r *Request) Completion() CompletionCapsule { return r.cpl }

func newRequest(conn *Connection, idx uint16, cmdBuf, cplBuf, icdBuf []byte) *Request {
	return &Request{
		conn:  conn,
		idx:   idx,
		cmd:   CommandCapsule{raw: cmdBuf},
		cpl:   CompletionCapsule{raw: cplBuf},
		icd:   icdBuf,
		state: stateIdle,
	}
}

// onRecv runs when this slot's RECV completes with at least
// CommandCapsuleSize bytes. It increments cur_queue_depth, clears the
// response, runs prep, and routes the request to its next state.
func (r *Request) onRecv() int {
	c := r.conn
	c.curQueueDepth++
	r.cpl.Reset()
	r.cpl.SetCID(r.cmd.CID())
	r.Response = &r.cpl
	r.xfer = xferForOpcode(r.cmd.OpCode())

	outcome, status := r.prep()
	switch outcome {
	case prepReady:
		return c.executeBackend(r)
	case prepPendingBuffer:
		r.state = stateWaitBuf
		c.pendingDataBufQueue = append(c.pendingDataBufQueue, r)
	case prepPendingData:
		r.transferData()
	case prepError:
		r.cpl.SetStatus(status)
		c.sendCompletion(r)
	}
	return 0
}

// prep reads the command's SGL descriptor and decides how the request's
// data buffer is sourced: the in-capsule area, a session chunk, or no
// buffer at all for commands that move no data.
func (r *Request) prep() (prepOutcome, Code) {
	if r.xfer == XferNone {
		r.length = 0
		r.data = nil
		return prepReady, StatusSuccess
	}

	sgl := r.cmd.SGL()
	c := r.conn

	switch sgl.Type {
	case SGLTypeKeyed:
		if sgl.Subtype != SGLSubtypeAddress && sgl.Subtype != SGLSubtypeInvalidateKey {
			return prepError, StatusSGLDescriptorTypeInvalid
		}
		if sgl.Length > c.defaults.MaxIOSize {
			return prepError, StatusDataSGLLengthInvalid
		}
		if sgl.Length == 0 {
			r.length = 0
			r.data = nil
			return prepReady, StatusSuccess
		}
		r.length = sgl.Length
		r.remoteAddr = sgl.Address
		r.remoteKey = sgl.Key

		if sgl.Length > c.defaults.InCapsuleDataSize {
			if c.session == nil {
				return prepPendingBuffer, StatusSuccess
			}
			chunk, err := c.session.acquire()
			if err != nil {
				return prepPendingBuffer, StatusSuccess
			}
			r.holdsChunk = true
			r.chunk = chunk
			r.data = chunk.data[:sgl.Length]
			r.dataLKey = chunk.lkey
		} else {
			r.data = r.icd[:sgl.Length]
			r.dataLKey = c.icdLKey
		}

		if r.xfer == XferHostToController {
			return prepPendingData, StatusSuccess
		}
		return prepReady, StatusSuccess

	case SGLTypeDataBlock:
		if sgl.Subtype != SGLSubtypeOffset {
			return prepError, StatusSGLDescriptorTypeInvalid
		}
		offset := sgl.Address
		if offset > uint64(c.defaults.InCapsuleDataSize) {
			return prepError, StatusInvalidSGLOffset
		}
		if uint64(sgl.Length) > uint64(c.defaults.InCapsuleDataSize)-offset {
			return prepError, StatusDataSGLLengthInvalid
		}
		if sgl.Length == 0 {
			r.length = 0
			r.data = nil
			return prepReady, StatusSuccess
		}
		r.length = sgl.Length
		r.data = r.icd[offset : offset+uint64(sgl.Length)]
		r.dataLKey = c.icdLKey
		return prepReady, StatusSuccess

	default:
		return prepError, StatusSGLDescriptorTypeInvalid
	}
}

// transferData posts a single-SGE RDMA READ (HOST_TO_CONTROLLER) or
// WRITE (CONTROLLER_TO_HOST), or parks the request on
// pending_rdma_rw_queue when no RW credit is available.
func (r *Request) transferData() {
	c := r.conn
	if c.curRWDepth == c.maxRWDepth {
		r.state = stateWaitRW
		c.pendingRDMARWQueue = append(c.pendingRDMARWQueue, r)
		return
	}

	op := rdma.OpcodeRDMARead
	if r.xfer == XferControllerToHost {
		op = rdma.OpcodeRDMAWrite
	}
	req := rdma.RDMARequest{
		WRID:   r.WRID(),
		Opcode: op,
		Local: rdma.SGE{
			Addr:   uintptr(unsafe.Pointer(&r.data[0])),
			Length: uint32(len(r.data)),
			LKey:   r.dataLKey,
		},
		RemoteAddr: r.remoteAddr,
		RemoteKey:  r.remoteKey,
	}
	if err := c.qp.PostRDMA(req); err != nil {
		c.fatal(err)
		return
	}
	c.curRWDepth++
	r.state = stateRWPosted
}

// backendComplete runs when the backend calls Transport.ReqComplete. A
// successful CONTROLLER_TO_HOST result still owes the host its data, so
// it goes back through transferData for the RDMA WRITE; everything else
// proceeds straight to the completion SEND. Sending may have returned a
// session chunk, so requests parked on the buffer-wait queue get a
// drain turn here too, not only on RW credit release.
func (r *Request) backendComplete() error {
	c := r.conn
	if r.xfer == XferControllerToHost && r.length > 0 && r.cpl.Status() == StatusSuccess {
		r.transferData()
		return nil
	}
	c.sendCompletion(r)
	c.drainPending()
	return nil
}

// release abandons the request without sending a completion (ReqRelease).
func (r *Request) release() {
	c := r.conn
	r.returnChunk()
	c.curQueueDepth--
	r.state = stateIdle
}

func (r *Request) returnChunk() {
	if r.holdsChunk {
		r.conn.session.release(r.chunk)
		r.holdsChunk = false
		r.chunk = sessionChunk{}
	}
}

package rdma

import (
	"net"
	"unsafe"
)

// Loopback is a software-only backend implementing Domain, QueuePair,
// CompletionQueue, EventChannel and CMId entirely in Go slices and
// queues. It never touches real hardware, which is what lets the
// transport's request state machine, negotiation, and acceptor logic be
// unit-tested without RDMA hardware or cgo.
//
// Fidelity note: RDMA READ/WRITE completions are generated immediately
// and do not move bytes between "local" and "remote" memory -- the
// transport's credit accounting and pending-queue ordering are exercised
// faithfully, but wire content for READ/WRITE is out of scope for the
// loopback. RECV does move bytes (Deliver scatters the host's capsule
// into the posted buffers), since the command capsule is what the request
// state machine inspects. SEND only produces a completion carrying its
// length; the completion capsule's bytes are not copied anywhere.

// LoopbackDomain is an in-process stand-in for a protection domain.
type LoopbackDomain struct {
	device Device
}

// NewLoopbackDomain constructs a domain reporting the given device limits.
func NewLoopbackDomain(device Device) *LoopbackDomain {
	return &LoopbackDomain{device: device}
}

func (d *LoopbackDomain) Register(buf []byte, access AccessFlag) (MemoryRegion, error) {
	if len(buf) == 0 {
		return nil, errZeroLength
	}
	return &loopbackMR{buf: buf, lkey: nextKey(), rkey: nextKey()}, nil
}

func (d *LoopbackDomain) CreateQueuePair(attr QueuePairAttr) (QueuePair, error) {
	sendCQ, _ := d.CreateCompletionQueue(int(attr.MaxSendWR))
	recvCQ, _ := d.CreateCompletionQueue(int(attr.MaxRecvWR))
	if attr.SendCQ != nil {
		sendCQ = attr.SendCQ
	}
	if attr.RecvCQ != nil {
		recvCQ = attr.RecvCQ
	}
	return &LoopbackQP{sendCQ: sendCQ.(*LoopbackCQ), recvCQ: recvCQ.(*LoopbackCQ)}, nil
}

func (d *LoopbackDomain) CreateCompletionQueue(depth int) (CompletionQueue, error) {
	return &LoopbackCQ{}, nil
}

func (d *LoopbackDomain) Close() error { return nil }

var keyCounter uint32

func nextKey() uint32 {
	keyCounter++
	return keyCounter
}

type loopbackMR struct {
	buf        []byte
	lkey, rkey uint32
	closed     bool
}

func (m *loopbackMR) Bytes() []byte { return m.buf }
func (m *loopbackMR) LKey() uint32  { return m.lkey }
func (m *loopbackMR) RKey() uint32  { return m.rkey }

func (m *loopbackMR) Deregister() error {
	m.closed = true
	return nil
}

// LoopbackCQ is a FIFO of harvested work completions. A drain is the run
// of Poll calls between two ErrAgain results; completions pushed while a
// drain is in progress surface on the next drain, matching the latency
// of real hardware, where posting a work request never produces a
// completion within the same ibv_poll_cq pass.
type LoopbackCQ struct {
	queue     []WorkCompletion
	draining  bool
	remaining int
}

func (q *LoopbackCQ) Poll() (WorkCompletion, error) {
	if !q.draining {
		if len(q.queue) == 0 {
			return WorkCompletion{}, ErrAgain
		}
		q.draining = true
		q.remaining = len(q.queue)
	}
	if q.remaining == 0 || len(q.queue) == 0 {
		q.draining = false
		return WorkCompletion{}, ErrAgain
	}
	wc := q.queue[0]
	q.queue = q.queue[1:]
	q.remaining--
	return wc, nil
}

// Push injects a completion, used by LoopbackQP and by tests that want
// to simulate a WC status error directly.
func (q *LoopbackCQ) Push(wc WorkCompletion) {
	q.queue = append(q.queue, wc)
}

func (q *LoopbackCQ) Destroy() error { return nil }

// LoopbackQP is an in-process queue pair.
type LoopbackQP struct {
	sendCQ, recvCQ *LoopbackCQ
	pendingRecv    []RecvRequest
	destroyed      bool
}

func (qp *LoopbackQP) PostRecv(req RecvRequest) error {
	if qp.destroyed {
		return ErrClosed
	}
	qp.pendingRecv = append(qp.pendingRecv, req)
	return nil
}

func (qp *LoopbackQP) PostSend(req SendRequest) error {
	if qp.destroyed {
		return ErrClosed
	}
	var length uint32
	for _, s := range req.SGEs {
		length += s.Length
	}
	qp.sendCQ.Push(WorkCompletion{WRID: req.WRID, Opcode: OpcodeSend, Length: length})
	return nil
}

func (qp *LoopbackQP) PostRDMA(req RDMARequest) error {
	if qp.destroyed {
		return ErrClosed
	}
	qp.sendCQ.Push(WorkCompletion{WRID: req.WRID, Opcode: req.Opcode, Length: req.Local.Length})
	return nil
}

func (qp *LoopbackQP) Destroy() error {
	qp.destroyed = true
	return nil
}

// Deliver simulates the host posting a SEND that satisfies the oldest
// outstanding RECV on this queue pair, scattering data across that
// RECV's SGE list the same way a real device would.
func (qp *LoopbackQP) Deliver(data []byte) error {
	if len(qp.pendingRecv) == 0 {
		return ErrAgain
	}
	req := qp.pendingRecv[0]
	qp.pendingRecv = qp.pendingRecv[1:]

	remaining := data
	for _, sge := range req.SGEs {
		if len(remaining) == 0 {
			break
		}
		n := int(sge.Length)
		if n > len(remaining) {
			n = len(remaining)
		}
		dst := sgeBytes(sge)
		copy(dst, remaining[:n])
		remaining = remaining[n:]
	}
	qp.recvCQ.Push(WorkCompletion{WRID: req.WRID, Opcode: OpcodeRecv, Length: uint32(len(data))})
	return nil
}

// PendingRecvCount reports how many RECVs are currently posted and
// unsatisfied, useful for asserting the connection keeps the receive
// queue topped up.
func (qp *LoopbackQP) PendingRecvCount() int { return len(qp.pendingRecv) }

func sgeBytes(s SGE) []byte {
	if s.Length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(s.Addr)), int(s.Length))
}

// LoopbackEventChannel is a FIFO of CM events.
type LoopbackEventChannel struct {
	queue []CMEvent
}

func NewLoopbackEventChannel() *LoopbackEventChannel {
	return &LoopbackEventChannel{}
}

func (c *LoopbackEventChannel) Poll() (CMEvent, error) {
	if len(c.queue) == 0 {
		return CMEvent{}, ErrAgain
	}
	ev := c.queue[0]
	c.queue = c.queue[1:]
	return ev, nil
}

// Push injects an event, used by tests driving the acceptor directly.
func (c *LoopbackEventChannel) Push(ev CMEvent) {
	c.queue = append(c.queue, ev)
}

func (c *LoopbackEventChannel) Destroy() error { return nil }

// LoopbackListener adapts a LoopbackEventChannel to the Listener
// interface, standing in for a real listening rdma_cm_id. Production
// deployments would extend internal/verbs with an rdma_cm-backed
// listener following the same pattern used for device enumeration.
type LoopbackListener struct {
	ch *LoopbackEventChannel
}

// NewLoopbackListener wraps ch as a Listener.
func NewLoopbackListener(ch *LoopbackEventChannel) *LoopbackListener {
	return &LoopbackListener{ch: ch}
}

func (l *LoopbackListener) EventChannel() EventChannel { return l.ch }

func (l *LoopbackListener) Destroy() error { return nil }

// LoopbackCMId is an in-process stand-in for one rdma_cm_id.
type LoopbackCMId struct {
	device       Device
	domain       *LoopbackDomain
	remote       net.Addr
	Accepted     bool
	Rejected     bool
	RejectData   []byte
	Disconnected bool
	Destroyed    bool
	AcceptParam  ConnParam
}

// NewLoopbackCMId constructs a CM id bound to a loopback domain for the
// given device, used both for the listening id and per-connection ids
// produced by simulated CONNECT_REQUEST events.
func NewLoopbackCMId(device Device, remote net.Addr) *LoopbackCMId {
	return &LoopbackCMId{device: device, domain: NewLoopbackDomain(device), remote: remote}
}

func (id *LoopbackCMId) Device() Device { return id.device }

func (id *LoopbackCMId) OpenDomain() (Domain, error) { return id.domain, nil }

func (id *LoopbackCMId) Accept(qp QueuePair, param ConnParam) error {
	id.Accepted = true
	id.AcceptParam = param
	return nil
}

func (id *LoopbackCMId) Reject(privateData []byte) error {
	id.Rejected = true
	id.RejectData = privateData
	return nil
}

func (id *LoopbackCMId) Disconnect() error {
	id.Disconnected = true
	return nil
}

func (id *LoopbackCMId) Destroy() error {
	id.Destroyed = true
	return nil
}

func (id *LoopbackCMId) RemoteAddr() net.Addr { return id.remote }

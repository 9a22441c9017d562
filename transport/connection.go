package transport

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/google/uuid"

	"github.com/nvmeof-rdma/target/rdma"
)

// Connection owns one RDMA queue pair and its per-connection pinned
// arrays of command capsules, completion capsules, and in-capsule data
// buffers. It is exclusively owned by the executor that polls it;
// nothing here is safe to call concurrently from two goroutines.
type Connection struct {
	id        uuid.UUID
	transport *Transport

	cmID   rdma.CMId
	domain rdma.Domain
	qp     rdma.QueuePair
	sendCQ rdma.CompletionQueue
	recvCQ rdma.CompletionQueue

	session  *Session
	defaults Defaults

	maxQueueDepth uint16
	maxRWDepth    uint16
	curQueueDepth uint16
	curRWDepth    uint16

	sqHead    uint16
	sqHeadMax uint16

	pendingDataBufQueue []*Request
	pendingRDMARWQueue  []*Request

	slots []*Request

	cmdsMR, cplsMR, bufsMR    rdma.MemoryRegion
	cmdLKey, icdLKey, cplLKey uint32

	fatalErr error
}

// ID is the connection's identifier.
func (c *Connection) ID() uuid.UUID { return c.id }

// NewConnection creates the queue pair and pins/registers the three
// per-slot arrays, posting an initial RECV for every slot. The
// connection is not yet accepted; the acceptor calls Accept once this
// succeeds.
func NewConnection(t *Transport, cmID rdma.CMId, maxQueueDepth, maxRWDepth uint16, defaults Defaults) (conn *Connection, err error) {
	conn = &Connection{
		id:            uuid.New(),
		transport:     t,
		cmID:          cmID,
		defaults:      defaults,
		maxQueueDepth: maxQueueDepth,
		maxRWDepth:    maxRWDepth,
		sqHeadMax:     maxQueueDepth - 1,
	}

	defer func() {
		if err != nil {
			_ = conn.destroy()
		}
	}()

	conn.domain, err = cmID.OpenDomain()
	if err != nil {
		return nil, fmt.Errorf("transport: open domain: %w", err)
	}

	conn.sendCQ, err = conn.domain.CreateCompletionQueue(int(2 * maxQueueDepth))
	if err != nil {
		return nil, fmt.Errorf("transport: create send CQ: %w", err)
	}
	conn.recvCQ, err = conn.domain.CreateCompletionQueue(int(maxQueueDepth))
	if err != nil {
		return nil, fmt.Errorf("transport: create recv CQ: %w", err)
	}

	conn.qp, err = conn.domain.CreateQueuePair(rdma.QueuePairAttr{
		MaxSendWR:  uint32(2 * maxQueueDepth),
		MaxRecvWR:  uint32(maxQueueDepth),
		MaxSendSGE: 1,
		MaxRecvSGE: 2,
		SendCQ:     conn.sendCQ,
		RecvCQ:     conn.recvCQ,
	})
	if err != nil {
		return nil, fmt.Errorf("transport: create queue pair: %w", err)
	}

	cmdsBuf := rdma.AlignedAlloc(int(maxQueueDepth) * CommandCapsuleSize)
	cplsBuf := rdma.AlignedAlloc(int(maxQueueDepth) * CompletionCapsuleSize)
	bufsBuf := rdma.AlignedAlloc(int(maxQueueDepth) * int(defaults.InCapsuleDataSize))

	conn.cmdsMR, err = conn.domain.Register(cmdsBuf, rdma.AccessLocalWrite)
	if err != nil {
		return nil, fmt.Errorf("transport: register cmds: %w", err)
	}
	conn.cplsMR, err = conn.domain.Register(cplsBuf, rdma.AccessLocalWrite)
	if err != nil {
		return nil, fmt.Errorf("transport: register cpls: %w", err)
	}
	conn.bufsMR, err = conn.domain.Register(bufsBuf, rdma.AccessLocalWrite)
	if err != nil {
		return nil, fmt.Errorf("transport: register bufs: %w", err)
	}
	conn.cmdLKey = conn.cmdsMR.LKey()
	conn.icdLKey = conn.bufsMR.LKey()
	conn.cplLKey = conn.cplsMR.LKey()

	conn.slots = make([]*Request, maxQueueDepth)
	for i := uint16(0); i < maxQueueDepth; i++ {
		cmdBuf := cmdsBuf[int(i)*CommandCapsuleSize : (int(i)+1)*CommandCapsuleSize]
		cplBuf := cplsBuf[int(i)*CompletionCapsuleSize : (int(i)+1)*CompletionCapsuleSize]
		icdBuf := bufsBuf[int(i)*int(defaults.InCapsuleDataSize) : (int(i)+1)*int(defaults.InCapsuleDataSize)]
		req := newRequest(conn, i, cmdBuf, cplBuf, icdBuf)
		conn.slots[i] = req
		if err := conn.repost(req); err != nil {
			return nil, fmt.Errorf("transport: post initial recv: %w", err)
		}
	}

	return conn, nil
}

// destroy deregisters the three memory regions, destroys the queue pair
// and the CM id, and frees all arrays. It tolerates partially
// initialized state, so constructor rollback and caller-driven teardown
// share it.
func (c *Connection) destroy() error {
	if c == nil {
		return nil
	}
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.cmdsMR != nil {
		record(c.cmdsMR.Deregister())
		c.cmdsMR = nil
	}
	if c.cplsMR != nil {
		record(c.cplsMR.Deregister())
		c.cplsMR = nil
	}
	if c.bufsMR != nil {
		record(c.bufsMR.Deregister())
		c.bufsMR = nil
	}
	if c.qp != nil {
		record(c.qp.Destroy())
		c.qp = nil
	}
	if c.cmID != nil {
		record(c.cmID.Destroy())
		c.cmID = nil
	}
	c.metricConnectionDestroyed()
	return firstErr
}

func (c *Connection) repost(r *Request) error {
	req := rdma.RecvRequest{
		WRID: r.WRID(),
		SGEs: []rdma.SGE{
			{Addr: addrOf(r.cmd.raw), Length: CommandCapsuleSize, LKey: c.cmdLKey},
			{Addr: addrOf(r.icd), Length: uint32(len(r.icd)), LKey: c.icdLKey},
		},
	}
	return c.qp.PostRecv(req)
}

// poll drives one tick of the connection's two completion queues. It
// returns the count of successful backend invocations, or a negative
// value on a fatal error.
func (c *Connection) poll() int {
	backendInvocations := 0

	for {
		wc, err := c.sendCQ.Poll()
		if err == rdma.ErrAgain {
			break
		}
		if err != nil {
			c.fatal(fmt.Errorf("transport: send CQ poll: %w", err))
			return -1
		}
		if wc.Status != nil {
			c.fatal(fmt.Errorf("%w: %v (opcode=%s)", ErrCompletionStatus, wc.Status, wc.Opcode))
			return -1
		}
		if int(wc.WRID) >= len(c.slots) {
			c.fatal(fmt.Errorf("transport: send CQ wr_id out of range: %d", wc.WRID))
			return -1
		}
		slot := c.slots[wc.WRID]
		switch wc.Opcode {
		case rdma.OpcodeSend:
			c.ackCompletion(slot)
		case rdma.OpcodeRDMAWrite:
			c.curRWDepth--
			c.sendCompletion(slot)
			c.drainPending()
		case rdma.OpcodeRDMARead:
			c.curRWDepth--
			backendInvocations += c.executeBackend(slot)
			c.drainPending()
		case rdma.OpcodeRecv:
			c.fatal(fmt.Errorf("%w: RECV on send CQ", ErrUnexpectedOpcode))
			return -1
		default:
			c.fatal(fmt.Errorf("%w: %s", ErrUnexpectedOpcode, wc.Opcode))
			return -1
		}
		if c.fatalErr != nil {
			return -1
		}
	}

	for c.curQueueDepth < c.maxQueueDepth {
		wc, err := c.recvCQ.Poll()
		if err == rdma.ErrAgain {
			break
		}
		if err != nil {
			c.fatal(fmt.Errorf("transport: recv CQ poll: %w", err))
			return -1
		}
		if wc.Status != nil {
			c.fatal(fmt.Errorf("%w: %v", ErrCompletionStatus, wc.Status))
			return -1
		}
		if wc.Length < CommandCapsuleSize {
			c.fatal(ErrCapsuleTooSmall)
			return -1
		}
		if int(wc.WRID) >= len(c.slots) {
			c.fatal(fmt.Errorf("transport: recv CQ wr_id out of range: %d", wc.WRID))
			return -1
		}
		slot := c.slots[wc.WRID]
		backendInvocations += slot.onRecv()
		if c.fatalErr != nil {
			return -1
		}
	}

	c.metricDepths()
	return backendInvocations
}

// executeBackend dispatches req to the configured Backend and reports 1
// (a successful backend invocation) for the poller's return value.
func (c *Connection) executeBackend(req *Request) int {
	req.state = stateExecuting
	if c.transport.cfg.Backend == nil {
		c.fatal(fmt.Errorf("transport: no backend configured"))
		return 0
	}
	_, span := c.transport.startSpan(context.Background(), "connection.execute",
		TraceAttribute{Key: "conn_id", Value: c.id.String()},
		TraceAttribute{Key: "wrid", Value: int64(req.WRID())},
	)
	req.span = span
	c.transport.cfg.Backend.Execute(req)
	return 1
}

// sendCompletion returns any session chunk to the pool, advances
// sq_head, stamps sqhd, re-posts the slot's RECV, then posts the SEND of
// the completion capsule.
func (c *Connection) sendCompletion(r *Request) {
	if r.span != nil {
		var err error
		if r.cpl.Status() != StatusSuccess {
			err = r.cpl.Status()
		}
		r.span.End(err)
		r.span = nil
	}
	r.returnChunk()
	c.sqHead = (c.sqHead + 1) % (c.sqHeadMax + 1)
	r.cpl.SetSQHead(c.sqHead)

	if err := c.repost(r); err != nil {
		c.fatal(fmt.Errorf("transport: repost recv: %w", err))
		return
	}

	req := rdma.SendRequest{
		WRID: r.WRID(),
		SGEs: []rdma.SGE{{Addr: addrOf(r.cpl.raw), Length: CompletionCapsuleSize, LKey: c.cplLKey}},
	}
	if err := c.qp.PostSend(req); err != nil {
		c.fatal(fmt.Errorf("%w: %v", ErrPostFailed, err))
		return
	}
	r.state = stateSendPosted
	c.metricRequestCompleted(r)
}

// ackCompletion advances sq_head a second time for the same request,
// matching the observable wire behavior hosts are calibrated against,
// and decrements cur_queue_depth.
func (c *Connection) ackCompletion(r *Request) {
	c.sqHead = (c.sqHead + 1) % (c.sqHeadMax + 1)
	c.curQueueDepth--
	r.state = stateIdle
}

// drainPending runs after any RW credit or buffer release: first it
// hands freed session chunks to requests waiting on
// pending_data_buf_queue, then it services pending_rdma_rw_queue with
// whatever RW credit remains.
func (c *Connection) drainPending() {
	for len(c.pendingDataBufQueue) > 0 && c.session != nil {
		chunk, err := c.session.acquire()
		if err != nil {
			break
		}
		req := c.pendingDataBufQueue[0]
		c.pendingDataBufQueue = c.pendingDataBufQueue[1:]
		req.holdsChunk = true
		req.chunk = chunk
		req.data = chunk.data[:req.length]
		req.dataLKey = chunk.lkey

		if req.xfer == XferHostToController {
			req.state = stateWaitRW
			c.pendingRDMARWQueue = append(c.pendingRDMARWQueue, req)
		} else {
			c.executeBackend(req)
		}
	}

	for c.curRWDepth < c.maxRWDepth && len(c.pendingRDMARWQueue) > 0 {
		req := c.pendingRDMARWQueue[0]
		c.pendingRDMARWQueue = c.pendingRDMARWQueue[1:]
		req.transferData()
	}
	c.metricPendingLengths()
}

func (c *Connection) fatal(err error) {
	if c.fatalErr == nil {
		c.fatalErr = err
	}
	c.transport.logDebugw("connection fatal error", "conn_id", c.id.String(), "error", err)
	c.metricPollError(err)
}

func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

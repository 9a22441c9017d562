package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/nvmeof-rdma/target/rdma"
)

// Dispatcher hands a closure to the executor that owns a session once a
// connection has already been handed off to it. cmd/nvmfrdmad does not
// set one, so its acceptor destroys such connections itself (see
// Config.Dispatcher).
type Dispatcher interface {
	Dispatch(sess *Session, fn func())
}

// acceptor is the transport's CM event loop state: the listening id's
// event channel, the global pending (pre-CONNECT) connection sequence,
// and a lookup from CM id to every connection the acceptor has ever
// created, kept until a disconnect event or fatal poll retires it.
type acceptor struct {
	listener rdma.Listener
	ch       rdma.EventChannel

	pending []*Connection
	byCMID  map[rdma.CMId]*Connection
}

var errAcceptorNotInitialized = errors.New("transport: acceptor not initialized")

// AcceptorInit binds the transport to a listening CM id's event
// channel. The listener is produced by whatever CM layer the caller
// wires in -- a real rdma_cm listener in production, or a
// rdma.NewLoopbackEventChannel-backed test double.
func (t *Transport) AcceptorInit(listener rdma.Listener) error {
	if t.acceptor != nil {
		return errors.New("transport: acceptor already initialized")
	}
	t.acceptor = &acceptor{
		listener: listener,
		ch:       listener.EventChannel(),
		byCMID:   make(map[rdma.CMId]*Connection),
	}
	t.logDebugw("acceptor listening", "address", t.cfg.Address)
	return nil
}

// AcceptorFini drains every still-pending connection before closing the
// event channel and listener.
func (t *Transport) AcceptorFini() error {
	a := t.acceptor
	if a == nil {
		return nil
	}
	for _, conn := range a.pending {
		_ = conn.destroy()
	}
	a.pending = nil
	a.byCMID = nil

	var firstErr error
	if err := a.ch.Destroy(); err != nil {
		firstErr = err
	}
	if err := a.listener.Destroy(); err != nil && firstErr == nil {
		firstErr = err
	}
	t.acceptor = nil
	return firstErr
}

// AcceptorPoll drains all currently-pending CM events, then gives every
// pending connection one poll turn, retiring any connection that has
// processed at least one request -- assumed to be the NVMe-oF CONNECT
// command -- from the pending sequence.
func (t *Transport) AcceptorPoll() error {
	a := t.acceptor
	if a == nil {
		return errAcceptorNotInitialized
	}

	for {
		ev, err := a.ch.Poll()
		if err == rdma.ErrAgain {
			break
		}
		if err != nil {
			return fmt.Errorf("transport: CM event channel poll: %w", err)
		}
		t.handleCMEvent(a, ev)
	}

	stillPending := a.pending[:0]
	for _, conn := range a.pending {
		n := conn.poll()
		switch {
		case n < 0:
			delete(a.byCMID, conn.cmID)
			_ = conn.destroy()
		case n > 0:
			// Processed its first request; leaves the pending sequence
			// but stays in byCMID for future disconnect lookups.
		default:
			stillPending = append(stillPending, conn)
		}
	}
	a.pending = stillPending
	return nil
}

func (t *Transport) handleCMEvent(a *acceptor, ev rdma.CMEvent) {
	switch {
	case ev.Type == rdma.CMEventConnectRequest:
		t.handleConnectRequest(a, ev)
	case ev.Type.IsDisconnectClass():
		t.handleDisconnect(a, ev)
	default:
		t.logDebugw("unhandled CM event", "type", ev.Type.String())
	}
}

func (t *Transport) handleConnectRequest(a *acceptor, ev rdma.CMEvent) {
	_, span := t.startSpan(context.Background(), "acceptor.negotiate")

	dev := ev.ID.Device()
	limits := negotiate(t.cfg.Defaults, dev.Limits.MaxQPWR, dev.Limits.MaxQPRdAtom, ev.Param.InitiatorDepth, ev.PrivateData)
	if span != nil {
		span.AddEvent("negotiated", TraceAttribute{Key: "max_queue_depth", Value: int(limits.MaxQueueDepth)}, TraceAttribute{Key: "max_rw_depth", Value: int(limits.MaxRWDepth)})
	}

	conn, err := NewConnection(t, ev.ID, limits.MaxQueueDepth, limits.MaxRWDepth, t.cfg.Defaults)
	if err != nil {
		t.logDebugw("connection setup failed, rejecting", "error", err)
		_ = ev.ID.Reject(encodeRejectPrivateData(StatusInternalError))
		t.metricConnectionRejected("setup_failed")
		if span != nil {
			span.End(err)
		}
		return
	}

	acceptParam := rdma.ConnParam{
		ResponderResources: 0,
		InitiatorDepth:     uint8(limits.MaxRWDepth),
		PrivateData:        encodeAcceptPrivateData(limits.MaxQueueDepth),
	}
	if err := ev.ID.Accept(conn.qp, acceptParam); err != nil {
		t.logDebugw("accept failed", "error", err)
		_ = conn.destroy()
		if span != nil {
			span.End(err)
		}
		return
	}

	a.pending = append(a.pending, conn)
	a.byCMID[conn.cmID] = conn
	t.metricConnectionAccepted(conn)
	if span != nil {
		span.End(nil)
	}
}

func (t *Transport) handleDisconnect(a *acceptor, ev rdma.CMEvent) {
	conn, ok := a.byCMID[ev.ID]
	if !ok {
		t.logDebugw("disconnect for unknown CM id", "type", ev.Type.String())
		return
	}
	delete(a.byCMID, conn.cmID)

	if conn.session == nil {
		a.removePending(conn)
		_ = conn.destroy()
		return
	}

	if t.cfg.Dispatcher == nil {
		_ = conn.destroy()
		return
	}
	t.cfg.Dispatcher.Dispatch(conn.session, func() {
		_ = t.ConnFini(conn)
	})
}

func (a *acceptor) removePending(conn *Connection) {
	for i, p := range a.pending {
		if p == conn {
			a.pending = append(a.pending[:i], a.pending[i+1:]...)
			return
		}
	}
}

func encodeAcceptPrivateData(maxQueueDepth uint16) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b[0:2], 0) // recfmt
	binary.LittleEndian.PutUint16(b[2:4], maxQueueDepth)
	return b
}

func encodeRejectPrivateData(status Code) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(status))
	return b
}

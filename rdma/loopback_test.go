package rdma

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestLoopbackDomain_RegisterAndDeregister(t *testing.T) {
	d := NewLoopbackDomain(Device{Name: "loopback0"})

	buf := AlignedAlloc(4096)
	mr, err := d.Register(buf, AccessLocalWrite)
	require.NoError(t, err)
	require.Equal(t, buf, mr.Bytes())
	require.NotZero(t, mr.LKey())
	require.NoError(t, mr.Deregister())
}

func TestLoopbackDomain_RegisterZeroLength(t *testing.T) {
	d := NewLoopbackDomain(Device{})
	_, err := d.Register(nil, AccessLocalWrite)
	require.Error(t, err)
}

func TestLoopbackCQ_PollEmptyReturnsErrAgain(t *testing.T) {
	cq := &LoopbackCQ{}
	_, err := cq.Poll()
	require.ErrorIs(t, err, ErrAgain)
}

func TestLoopbackCQ_PollFIFO(t *testing.T) {
	cq := &LoopbackCQ{}
	cq.Push(WorkCompletion{WRID: 1})
	cq.Push(WorkCompletion{WRID: 2})

	wc, err := cq.Poll()
	require.NoError(t, err)
	require.EqualValues(t, 1, wc.WRID)

	wc, err = cq.Poll()
	require.NoError(t, err)
	require.EqualValues(t, 2, wc.WRID)

	_, err = cq.Poll()
	require.ErrorIs(t, err, ErrAgain)
}

func TestLoopbackQP_DeliverSatisfiesOldestRecv(t *testing.T) {
	d := NewLoopbackDomain(Device{})
	qpAny, err := d.CreateQueuePair(QueuePairAttr{MaxSendWR: 4, MaxRecvWR: 4})
	require.NoError(t, err)
	qp := qpAny.(*LoopbackQP)

	buf := AlignedAlloc(128)

	require.NoError(t, qp.PostRecv(RecvRequest{
		WRID: 7,
		SGEs: []SGE{{Addr: addrOf(buf), Length: uint32(len(buf))}},
	}))
	require.Equal(t, 1, qp.PendingRecvCount())

	payload := []byte("command capsule bytes")
	require.NoError(t, qp.Deliver(payload))
	require.Equal(t, 0, qp.PendingRecvCount())
	require.Equal(t, payload, buf[:len(payload)])

	wc, err := qp.recvCQ.Poll()
	require.NoError(t, err)
	require.EqualValues(t, 7, wc.WRID)
	require.Equal(t, OpcodeRecv, wc.Opcode)
}

func TestLoopbackQP_DeliverWithNoPendingRecvIsErrAgain(t *testing.T) {
	d := NewLoopbackDomain(Device{})
	qpAny, err := d.CreateQueuePair(QueuePairAttr{MaxSendWR: 4, MaxRecvWR: 4})
	require.NoError(t, err)
	qp := qpAny.(*LoopbackQP)

	require.ErrorIs(t, qp.Deliver([]byte("x")), ErrAgain)
}

func TestLoopbackQP_PostSendPushesSendCompletion(t *testing.T) {
	d := NewLoopbackDomain(Device{})
	qpAny, err := d.CreateQueuePair(QueuePairAttr{MaxSendWR: 4, MaxRecvWR: 4})
	require.NoError(t, err)
	qp := qpAny.(*LoopbackQP)

	require.NoError(t, qp.PostSend(SendRequest{WRID: 42, SGEs: []SGE{{Length: 16}}}))

	wc, err := qp.sendCQ.Poll()
	require.NoError(t, err)
	require.EqualValues(t, 42, wc.WRID)
	require.Equal(t, OpcodeSend, wc.Opcode)
	require.EqualValues(t, 16, wc.Length)
}

func TestLoopbackQP_PostRDMAPushesOpcodeSpecificCompletion(t *testing.T) {
	d := NewLoopbackDomain(Device{})
	qpAny, err := d.CreateQueuePair(QueuePairAttr{MaxSendWR: 4, MaxRecvWR: 4})
	require.NoError(t, err)
	qp := qpAny.(*LoopbackQP)

	require.NoError(t, qp.PostRDMA(RDMARequest{WRID: 9, Opcode: OpcodeRDMARead, Local: SGE{Length: 64}}))

	wc, err := qp.sendCQ.Poll()
	require.NoError(t, err)
	require.Equal(t, OpcodeRDMARead, wc.Opcode)
	require.EqualValues(t, 64, wc.Length)
}

func TestLoopbackCMId_AcceptRejectDisconnect(t *testing.T) {
	id := NewLoopbackCMId(Device{Name: "loopback0"}, nil)

	require.NoError(t, id.Accept(nil, ConnParam{InitiatorDepth: 4}))
	require.True(t, id.Accepted)
	require.EqualValues(t, 4, id.AcceptParam.InitiatorDepth)

	id2 := NewLoopbackCMId(Device{}, nil)
	require.NoError(t, id2.Reject([]byte{0x06, 0x00}))
	require.True(t, id2.Rejected)

	require.NoError(t, id.Disconnect())
	require.True(t, id.Disconnected)
	require.NoError(t, id.Destroy())
	require.True(t, id.Destroyed)
}

func TestLoopbackEventChannel_FIFOAndErrAgain(t *testing.T) {
	ch := NewLoopbackEventChannel()
	_, err := ch.Poll()
	require.ErrorIs(t, err, ErrAgain)

	ch.Push(CMEvent{Type: CMEventConnectRequest})
	ev, err := ch.Poll()
	require.NoError(t, err)
	require.Equal(t, CMEventConnectRequest, ev.Type)
}

func addrOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

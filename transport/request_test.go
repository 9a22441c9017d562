package transport

import (
	"testing"

	"github.com/nvmeof-rdma/target/rdma"
)

// echoBackend immediately completes every request with StatusSuccess,
// standing in for a real NVMe command executor.
type echoBackend struct {
	tr    *Transport
	calls int
}

func (b *echoBackend) Execute(req *Request) {
	b.calls++
	req.Completion().SetStatus(StatusSuccess)
	if err := b.tr.ReqComplete(req); err != nil {
		panic(err)
	}
}

func buildCapsule(opcode Opcode, cid uint16, sgl SGLDescriptor, icd []byte) []byte {
	buf := make([]byte, CommandCapsuleSize+len(icd))
	cc := CommandCapsule{raw: buf[:CommandCapsuleSize]}
	cc.SetOpCode(opcode)
	cc.SetCID(cid)
	cc.SetSGL(sgl)
	copy(buf[CommandCapsuleSize:], icd)
	return buf
}

func deliver(t *testing.T, conn *Connection, data []byte) {
	t.Helper()
	qp, ok := conn.qp.(*rdma.LoopbackQP)
	if !ok {
		t.Fatalf("connection queue pair is not a LoopbackQP")
	}
	if err := qp.Deliver(data); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
}

// A small write with an OFFSET-subtype SGL is served straight from the
// in-capsule buffer and reaches the backend on the same poll tick.
func TestRequest_SmallInCapsuleWrite(t *testing.T) {
	defaults := Defaults{MaxQueueDepth: 4, MaxIOSize: 64 * 1024, InCapsuleDataSize: 4096}
	tr := New(Config{Defaults: defaults})
	backend := &echoBackend{tr: tr}
	tr.cfg.Backend = backend

	cmID := rdma.NewLoopbackCMId(rdma.Device{}, nil)
	conn, err := NewConnection(tr, cmID, defaults.MaxQueueDepth, 2, defaults)
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i)
	}
	capsule := buildCapsule(OpcodeWrite, 1, SGLDescriptor{
		Type: SGLTypeDataBlock, Subtype: SGLSubtypeOffset, Address: 0, Length: uint32(len(payload)),
	}, payload)
	deliver(t, conn, capsule)

	if n := conn.poll(); n != 1 {
		t.Fatalf("first poll backend invocations = %d, want 1", n)
	}
	if backend.calls != 1 {
		t.Fatalf("backend.calls = %d, want 1", backend.calls)
	}
	if conn.curQueueDepth != 1 {
		t.Fatalf("cur_queue_depth after execute = %d, want 1 (SEND not yet acked)", conn.curQueueDepth)
	}

	if n := conn.poll(); n != 0 {
		t.Fatalf("second poll backend invocations = %d, want 0", n)
	}
	if conn.curQueueDepth != 0 {
		t.Fatalf("cur_queue_depth after ack = %d, want 0", conn.curQueueDepth)
	}
	if conn.fatalErr != nil {
		t.Fatalf("unexpected fatal error: %v", conn.fatalErr)
	}
}

// A reserved SGL descriptor type is reported in the completion capsule
// without posting any RDMA READ/WRITE, and the slot's RECV is re-posted.
func TestRequest_MalformedSGLTypeIsRejected(t *testing.T) {
	defaults := Defaults{MaxQueueDepth: 4, MaxIOSize: 64 * 1024, InCapsuleDataSize: 4096}
	tr := New(Config{Defaults: defaults})
	backend := &echoBackend{tr: tr}
	tr.cfg.Backend = backend

	cmID := rdma.NewLoopbackCMId(rdma.Device{}, nil)
	conn, err := NewConnection(tr, cmID, defaults.MaxQueueDepth, 2, defaults)
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}

	capsule := buildCapsule(OpcodeWrite, 2, SGLDescriptor{
		Type: 0x1, Subtype: 0x2, Length: 128,
	}, nil)
	deliver(t, conn, capsule)

	if n := conn.poll(); n != 0 {
		t.Fatalf("backend invocations = %d, want 0 for a malformed SGL", n)
	}
	if backend.calls != 0 {
		t.Fatalf("backend.calls = %d, want 0", backend.calls)
	}
	if qp := conn.qp.(*rdma.LoopbackQP); qp.PendingRecvCount() != int(defaults.MaxQueueDepth) {
		t.Fatalf("pending recv count = %d, want %d (the slot was re-posted)", qp.PendingRecvCount(), defaults.MaxQueueDepth)
	}

	// The completion was already posted with SEND; harvest its ack.
	if n := conn.poll(); n != 0 {
		t.Fatalf("second poll backend invocations = %d, want 0", n)
	}
	if conn.curQueueDepth != 0 {
		t.Fatalf("cur_queue_depth = %d, want 0", conn.curQueueDepth)
	}
}

func TestRequest_FlushHasNoTransfer(t *testing.T) {
	defaults := Defaults{MaxQueueDepth: 4, MaxIOSize: 64 * 1024, InCapsuleDataSize: 4096}
	tr := New(Config{Defaults: defaults})
	backend := &echoBackend{tr: tr}
	tr.cfg.Backend = backend

	cmID := rdma.NewLoopbackCMId(rdma.Device{}, nil)
	conn, err := NewConnection(tr, cmID, defaults.MaxQueueDepth, 2, defaults)
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}

	capsule := buildCapsule(OpcodeFlush, 3, SGLDescriptor{Type: SGLTypeDataBlock, Subtype: SGLSubtypeOffset}, nil)
	deliver(t, conn, capsule)

	if n := conn.poll(); n != 1 {
		t.Fatalf("backend invocations = %d, want 1", n)
	}
}

package transport

import (
	"testing"

	"github.com/nvmeof-rdma/target/rdma"
)

func newTestDomainConnection(t *testing.T, maxQueueDepth uint16, maxRWDepth uint16, defaults Defaults) *Connection {
	t.Helper()
	tr := New(Config{Defaults: defaults})
	cmID := rdma.NewLoopbackCMId(rdma.Device{Name: "loopback0"}, nil)
	conn, err := NewConnection(tr, cmID, maxQueueDepth, maxRWDepth, defaults)
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}
	return conn
}

func TestSession_BindCarvesExactlyMaxQueueDepthChunks(t *testing.T) {
	defaults := Defaults{MaxQueueDepth: 4, MaxIOSize: 4096, InCapsuleDataSize: 512}
	conn := newTestDomainConnection(t, defaults.MaxQueueDepth, 2, defaults)

	sess := NewSession()
	if err := sess.bind(conn, defaults); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if sess.Free() != int(defaults.MaxQueueDepth) {
		t.Fatalf("Free() = %d, want %d", sess.Free(), defaults.MaxQueueDepth)
	}
}

func TestSession_BindTwiceFails(t *testing.T) {
	defaults := Defaults{MaxQueueDepth: 2, MaxIOSize: 4096, InCapsuleDataSize: 512}
	conn := newTestDomainConnection(t, defaults.MaxQueueDepth, 1, defaults)

	sess := NewSession()
	if err := sess.bind(conn, defaults); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := sess.bind(conn, defaults); err != ErrSessionAlreadyBound {
		t.Fatalf("second bind error = %v, want ErrSessionAlreadyBound", err)
	}
}

func TestSession_AcquireReleasePoolConservation(t *testing.T) {
	defaults := Defaults{MaxQueueDepth: 3, MaxIOSize: 4096, InCapsuleDataSize: 512}
	conn := newTestDomainConnection(t, defaults.MaxQueueDepth, 1, defaults)

	sess := NewSession()
	if err := sess.bind(conn, defaults); err != nil {
		t.Fatalf("bind: %v", err)
	}

	var held []sessionChunk
	for i := 0; i < int(defaults.MaxQueueDepth); i++ {
		chunk, err := sess.acquire()
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		held = append(held, chunk)
	}
	if sess.Free() != 0 {
		t.Fatalf("Free() = %d, want 0 with every chunk held", sess.Free())
	}
	if _, err := sess.acquire(); err != ErrPoolExhausted {
		t.Fatalf("acquire on empty pool = %v, want ErrPoolExhausted", err)
	}

	for _, c := range held {
		sess.release(c)
	}
	if sess.Free() != int(defaults.MaxQueueDepth) {
		t.Fatalf("Free() after releasing all = %d, want %d", sess.Free(), defaults.MaxQueueDepth)
	}
}

func TestSession_TeardownIsIdempotent(t *testing.T) {
	defaults := Defaults{MaxQueueDepth: 2, MaxIOSize: 4096, InCapsuleDataSize: 512}
	conn := newTestDomainConnection(t, defaults.MaxQueueDepth, 1, defaults)

	sess := NewSession()
	if err := sess.bind(conn, defaults); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := sess.teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if err := sess.teardown(); err != nil {
		t.Fatalf("second teardown: %v", err)
	}
}

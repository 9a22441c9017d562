package transport

import (
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/nvmeof-rdma/target/rdma"
)

func TestOTelTracer_NegotiationSpanRecorded(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := OTelTracer{Tracer: provider.Tracer("transport-test")}

	defaults := Defaults{MaxQueueDepth: 4, MaxIOSize: 4096, InCapsuleDataSize: 512}
	tr := New(Config{Defaults: defaults, Tracer: tracer})
	tr.cfg.Backend = &echoBackend{tr: tr}

	ch := rdma.NewLoopbackEventChannel()
	if err := tr.AcceptorInit(rdma.NewLoopbackListener(ch)); err != nil {
		t.Fatalf("AcceptorInit: %v", err)
	}
	device := rdma.Device{Name: "loopback0", Limits: rdma.DeviceLimits{MaxQPWR: 32, MaxQPRdAtom: 8}}
	ch.Push(connectRequestEvent(device))
	if err := tr.AcceptorPoll(); err != nil {
		t.Fatalf("AcceptorPoll: %v", err)
	}

	var negotiate int
	for _, span := range recorder.Ended() {
		if span.Name() == "acceptor.negotiate" {
			negotiate++
		}
	}
	if negotiate != 1 {
		t.Fatalf("acceptor.negotiate spans = %d, want 1", negotiate)
	}
}

func TestOTelTracer_ExecuteSpanEndsOnCompletion(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := OTelTracer{Tracer: provider.Tracer("transport-test")}

	defaults := Defaults{MaxQueueDepth: 4, MaxIOSize: 64 * 1024, InCapsuleDataSize: 4096}
	tr := New(Config{Defaults: defaults, Tracer: tracer})
	tr.cfg.Backend = &echoBackend{tr: tr}

	cmID := rdma.NewLoopbackCMId(rdma.Device{}, nil)
	conn, err := NewConnection(tr, cmID, defaults.MaxQueueDepth, 2, defaults)
	if err != nil {
		t.Fatalf("NewConnection: %v", err)
	}

	payload := []byte("in-capsule payload")
	deliver(t, conn, buildCapsule(OpcodeWrite, 1, SGLDescriptor{
		Type: SGLTypeDataBlock, Subtype: SGLSubtypeOffset, Length: uint32(len(payload)),
	}, payload))
	conn.poll()
	conn.poll()

	var execute int
	for _, span := range recorder.Ended() {
		if span.Name() == "connection.execute" {
			execute++
		}
	}
	if execute != 1 {
		t.Fatalf("connection.execute spans = %d, want 1", execute)
	}
}

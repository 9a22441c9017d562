package transport

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestOTelMetrics_RecordsTransportEvents(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewOTelMetrics(OTelMetricsOptions{MeterProvider: provider})
	if err != nil {
		t.Fatalf("NewOTelMetrics: %v", err)
	}

	m.ConnectionAccepted(map[string]string{"conn_id": "c1"})
	m.ConnectionRejected("setup_failed", nil)
	m.ConnectionDestroyed(map[string]string{"conn_id": "c1"})
	m.QueueDepth(3, 8, map[string]string{"conn_id": "c1"})
	m.RWDepth(1, 4, map[string]string{"conn_id": "c1"})
	m.PendingBufQueueLength(2, nil)
	m.PendingRWQueueLength(1, nil)
	m.RequestCompleted("SUCCESS", nil)
	m.PollError("poll", errors.New("boom"), nil)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	got := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			got[metric.Name] = true
		}
	}
	for _, want := range []string{
		"nvmf.rdma.connections.accepted",
		"nvmf.rdma.connections.rejected",
		"nvmf.rdma.connections.destroyed",
		"nvmf.rdma.cur_queue_depth",
		"nvmf.rdma.cur_rw_depth",
		"nvmf.rdma.pending_data_buf_queue_length",
		"nvmf.rdma.pending_rdma_rw_queue_length",
		"nvmf.rdma.requests.completed",
		"nvmf.rdma.poll.errors",
	} {
		if !got[want] {
			t.Errorf("instrument %q was not recorded", want)
		}
	}
}

func TestOTelMetrics_DefaultMeterWhenUnconfigured(t *testing.T) {
	m, err := NewOTelMetrics(OTelMetricsOptions{})
	if err != nil {
		t.Fatalf("NewOTelMetrics with defaults: %v", err)
	}
	// Must not panic against the global no-op provider.
	m.ConnectionAccepted(nil)
	m.RequestCompleted("SUCCESS", nil)
}

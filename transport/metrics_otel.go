package transport

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetricsOptions configures NewOTelMetrics.
type OTelMetricsOptions struct {
	MeterProvider          metric.MeterProvider
	Meter                  metric.Meter
	InstrumentationName    string
	InstrumentationVersion string
}

var _ MetricHook = (*OTelMetrics)(nil)

// OTelMetrics implements MetricHook using OpenTelemetry instruments.
type OTelMetrics struct {
	connAccepted  metric.Int64Counter
	connRejected  metric.Int64Counter
	connDestroyed metric.Int64Counter
	queueDepth    metric.Int64UpDownCounter
	rwDepth       metric.Int64UpDownCounter
	pendingBufLen metric.Int64UpDownCounter
	pendingRWLen  metric.Int64UpDownCounter
	reqsCompleted metric.Int64Counter
	pollErrors    metric.Int64Counter
}

// NewOTelMetrics constructs a MetricHook that emits OpenTelemetry measurements.
func NewOTelMetrics(opts OTelMetricsOptions) (*OTelMetrics, error) {
	meter := opts.Meter
	if meter == nil {
		provider := opts.MeterProvider
		if provider == nil {
			provider = otel.GetMeterProvider()
		}
		name := opts.InstrumentationName
		if name == "" {
			name = "github.com/nvmeof-rdma/target/transport"
		}
		meter = provider.Meter(name, metric.WithInstrumentationVersion(opts.InstrumentationVersion))
	}

	var err error
	o := &OTelMetrics{}
	if o.connAccepted, err = meter.Int64Counter("nvmf.rdma.connections.accepted"); err != nil {
		return nil, err
	}
	if o.connRejected, err = meter.Int64Counter("nvmf.rdma.connections.rejected"); err != nil {
		return nil, err
	}
	if o.connDestroyed, err = meter.Int64Counter("nvmf.rdma.connections.destroyed"); err != nil {
		return nil, err
	}
	if o.queueDepth, err = meter.Int64UpDownCounter("nvmf.rdma.cur_queue_depth"); err != nil {
		return nil, err
	}
	if o.rwDepth, err = meter.Int64UpDownCounter("nvmf.rdma.cur_rw_depth"); err != nil {
		return nil, err
	}
	if o.pendingBufLen, err = meter.Int64UpDownCounter("nvmf.rdma.pending_data_buf_queue_length"); err != nil {
		return nil, err
	}
	if o.pendingRWLen, err = meter.Int64UpDownCounter("nvmf.rdma.pending_rdma_rw_queue_length"); err != nil {
		return nil, err
	}
	if o.reqsCompleted, err = meter.Int64Counter("nvmf.rdma.requests.completed"); err != nil {
		return nil, err
	}
	if o.pollErrors, err = meter.Int64Counter("nvmf.rdma.poll.errors"); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *OTelMetrics) ConnectionAccepted(attrs map[string]string) {
	o.connAccepted.Add(context.Background(), 1, metric.WithAttributes(attrMap(attrs)...))
}

func (o *OTelMetrics) ConnectionRejected(reason string, attrs map[string]string) {
	kvs := append(attrMap(attrs), attribute.String("reason", reason))
	o.connRejected.Add(context.Background(), 1, metric.WithAttributes(kvs...))
}

func (o *OTelMetrics) ConnectionDestroyed(attrs map[string]string) {
	o.connDestroyed.Add(context.Background(), 1, metric.WithAttributes(attrMap(attrs)...))
}

func (o *OTelMetrics) QueueDepth(cur, _ uint16, attrs map[string]string) {
	o.queueDepth.Add(context.Background(), int64(cur), metric.WithAttributes(attrMap(attrs)...))
}

func (o *OTelMetrics) RWDepth(cur, _ uint16, attrs map[string]string) {
	o.rwDepth.Add(context.Background(), int64(cur), metric.WithAttributes(attrMap(attrs)...))
}

func (o *OTelMetrics) PendingBufQueueLength(n int, attrs map[string]string) {
	o.pendingBufLen.Add(context.Background(), int64(n), metric.WithAttributes(attrMap(attrs)...))
}

func (o *OTelMetrics) PendingRWQueueLength(n int, attrs map[string]string) {
	o.pendingRWLen.Add(context.Background(), int64(n), metric.WithAttributes(attrMap(attrs)...))
}

func (o *OTelMetrics) RequestCompleted(outcome string, attrs map[string]string) {
	kvs := append(attrMap(attrs), attribute.String("outcome", outcome))
	o.reqsCompleted.Add(context.Background(), 1, metric.WithAttributes(kvs...))
}

func (o *OTelMetrics) PollError(kind string, _ error, attrs map[string]string) {
	kvs := append(attrMap(attrs), attribute.String("kind", kind))
	o.pollErrors.Add(context.Background(), 1, metric.WithAttributes(kvs...))
}

func attrMap(attrs map[string]string) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kvs = append(kvs, attribute.String(k, v))
	}
	return kvs
}

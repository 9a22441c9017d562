package transport

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetricsOptions configures NewPrometheusMetrics.
type PrometheusMetricsOptions struct {
	Registerer  prometheus.Registerer
	Namespace   string
	Subsystem   string
	ConstLabels prometheus.Labels
}

// PrometheusMetrics implements MetricHook using Prometheus counters and
// gauges.
type PrometheusMetrics struct {
	connAccepted   *prometheus.CounterVec
	connRejected   *prometheus.CounterVec
	connDestroyed  *prometheus.CounterVec
	queueDepth     *prometheus.GaugeVec
	rwDepth        *prometheus.GaugeVec
	pendingBufLen  *prometheus.GaugeVec
	pendingRWLen   *prometheus.GaugeVec
	reqsCompleted  *prometheus.CounterVec
	pollErrors     *prometheus.CounterVec
}

var _ MetricHook = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics constructs a MetricHook backed by Prometheus.
func NewPrometheusMetrics(opts PrometheusMetricsOptions) (*PrometheusMetrics, error) {
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &PrometheusMetrics{
		connAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem,
			Name: "nvmf_rdma_connections_accepted_total", Help: "Connections accepted by the RDMA acceptor",
			ConstLabels: opts.ConstLabels,
		}, []string{}),
		connRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem,
			Name: "nvmf_rdma_connections_rejected_total", Help: "Connections rejected by the RDMA acceptor",
			ConstLabels: opts.ConstLabels,
		}, []string{"reason"}),
		connDestroyed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem,
			Name: "nvmf_rdma_connections_destroyed_total", Help: "Connections destroyed",
			ConstLabels: opts.ConstLabels,
		}, []string{}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem,
			Name: "nvmf_rdma_cur_queue_depth", Help: "Outstanding requests per connection",
			ConstLabels: opts.ConstLabels,
		}, []string{"conn_id"}),
		rwDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem,
			Name: "nvmf_rdma_cur_rw_depth", Help: "Outstanding RDMA READ/WRITE operations per connection",
			ConstLabels: opts.ConstLabels,
		}, []string{"conn_id"}),
		pendingBufLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem,
			Name: "nvmf_rdma_pending_data_buf_queue_length", Help: "Requests waiting for a session pool chunk",
			ConstLabels: opts.ConstLabels,
		}, []string{"conn_id"}),
		pendingRWLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem,
			Name: "nvmf_rdma_pending_rdma_rw_queue_length", Help: "Requests waiting for RDMA READ/WRITE credit",
			ConstLabels: opts.ConstLabels,
		}, []string{"conn_id"}),
		reqsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem,
			Name: "nvmf_rdma_requests_completed_total", Help: "Requests completed by outcome",
			ConstLabels: opts.ConstLabels,
		}, []string{"outcome"}),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace, Subsystem: opts.Subsystem,
			Name: "nvmf_rdma_poll_errors_total", Help: "Completion-queue poll errors by kind",
			ConstLabels: opts.ConstLabels,
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{
		p.connAccepted, p.connRejected, p.connDestroyed,
		p.queueDepth, p.rwDepth, p.pendingBufLen, p.pendingRWLen,
		p.reqsCompleted, p.pollErrors,
	} {
		if err := registerCollector(reg, c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return nil
		}
		return err
	}
	return nil
}

func (p *PrometheusMetrics) ConnectionAccepted(map[string]string) { p.connAccepted.WithLabelValues().Inc() }

func (p *PrometheusMetrics) ConnectionRejected(reason string, _ map[string]string) {
	p.connRejected.WithLabelValues(reason).Inc()
}

func (p *PrometheusMetrics) ConnectionDestroyed(map[string]string) {
	p.connDestroyed.WithLabelValues().Inc()
}

func (p *PrometheusMetrics) QueueDepth(cur, _ uint16, attrs map[string]string) {
	p.queueDepth.WithLabelValues(attrs["conn_id"]).Set(float64(cur))
}

func (p *PrometheusMetrics) RWDepth(cur, _ uint16, attrs map[string]string) {
	p.rwDepth.WithLabelValues(attrs["conn_id"]).Set(float64(cur))
}

func (p *PrometheusMetrics) PendingBufQueueLength(n int, attrs map[string]string) {
	p.pendingBufLen.WithLabelValues(attrs["conn_id"]).Set(float64(n))
}

func (p *PrometheusMetrics) PendingRWQueueLength(n int, attrs map[string]string) {
	p.pendingRWLen.WithLabelValues(attrs["conn_id"]).Set(float64(n))
}

func (p *PrometheusMetrics) RequestCompleted(outcome string, _ map[string]string) {
	p.reqsCompleted.WithLabelValues(outcome).Inc()
}

func (p *PrometheusMetrics) PollError(kind string, _ error, _ map[string]string) {
	p.pollErrors.WithLabelValues(kind).Inc()
}

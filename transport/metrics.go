package transport

// MetricHook captures transport telemetry events: connections
// accepted/rejected/destroyed, queue-depth and rw-depth gauges,
// pending-queue lengths, requests completed per outcome, and CQ poll
// error counts.
type MetricHook interface {
	ConnectionAccepted(attrs map[string]string)
	ConnectionRejected(reason string, attrs map[string]string)
	ConnectionDestroyed(attrs map[string]string)
	QueueDepth(cur, max uint16, attrs map[string]string)
	RWDepth(cur, max uint16, attrs map[string]string)
	PendingBufQueueLength(n int, attrs map[string]string)
	PendingRWQueueLength(n int, attrs map[string]string)
	RequestCompleted(outcome string, attrs map[string]string)
	PollError(kind string, err error, attrs map[string]string)
}

func (c *Connection) metricAttrs(extra ...string) map[string]string {
	attrs := map[string]string{}
	if c == nil {
		return attrs
	}
	attrs["conn_id"] = c.id.String()
	for i := 0; i+1 < len(extra); i += 2 {
		attrs[extra[i]] = extra[i+1]
	}
	return attrs
}

func (c *Connection) metrics() MetricHook {
	if c == nil || c.transport == nil {
		return nil
	}
	return c.transport.metrics
}

func (t *Transport) metricConnectionAccepted(conn *Connection) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.ConnectionAccepted(conn.metricAttrs())
}

func (t *Transport) metricConnectionRejected(reason string) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.ConnectionRejected(reason, map[string]string{})
}

func (c *Connection) metricConnectionDestroyed() {
	if m := c.metrics(); m != nil {
		m.ConnectionDestroyed(c.metricAttrs())
	}
}

func (c *Connection) metricDepths() {
	if m := c.metrics(); m != nil {
		attrs := c.metricAttrs()
		m.QueueDepth(c.curQueueDepth, c.maxQueueDepth, attrs)
		m.RWDepth(c.curRWDepth, c.maxRWDepth, attrs)
	}
}

func (c *Connection) metricPendingLengths() {
	if m := c.metrics(); m != nil {
		attrs := c.metricAttrs()
		m.PendingBufQueueLength(len(c.pendingDataBufQueue), attrs)
		m.PendingRWQueueLength(len(c.pendingRDMARWQueue), attrs)
	}
}

func (c *Connection) metricRequestCompleted(r *Request) {
	if m := c.metrics(); m != nil {
		m.RequestCompleted(r.cpl.Status().String(), c.metricAttrs())
	}
}

func (c *Connection) metricPollError(err error) {
	if m := c.metrics(); m != nil {
		m.PollError("poll", err, c.metricAttrs())
	}
}

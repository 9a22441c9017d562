package rdma

// QueuePairAttr configures queue-pair creation. Send capacity must
// cover a SEND per request plus a concurrent READ/WRITE per request,
// while receive capacity covers one RECV per request.
type QueuePairAttr struct {
	MaxSendWR  uint32
	MaxRecvWR  uint32
	MaxSendSGE uint32
	MaxRecvSGE uint32
	SendCQ     CompletionQueue
	RecvCQ     CompletionQueue
}

// QueuePair is a Reliable Connected queue pair bound to one connection.
type QueuePair interface {
	PostRecv(req RecvRequest) error
	PostSend(req SendRequest) error
	PostRDMA(req RDMARequest) error
	Destroy() error
}

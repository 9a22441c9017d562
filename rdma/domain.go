package rdma

// Domain is a protection domain: memory regions registered on one Domain
// may only be referenced by queue pairs created on that same Domain,
// which is why a session pool's registration is affine to the first
// connection's device.
type Domain interface {
	Register(buf []byte, access AccessFlag) (MemoryRegion, error)
	CreateQueuePair(attr QueuePairAttr) (QueuePair, error)
	CreateCompletionQueue(depth int) (CompletionQueue, error)
	Close() error
}

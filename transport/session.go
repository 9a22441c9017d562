package transport

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/nvmeof-rdma/target/rdma"
)

// Session is one large pinned buffer of size max_queue_depth*max_io_size,
// registered once and carved into max_queue_depth equal chunks kept on
// a LIFO free-stack. It is shared by every connection belonging to the
// session but mutated only by the session's executor.
type Session struct {
	ID uuid.UUID

	maxQueueDepth uint16
	chunkSize     uint32

	region  rdma.MemoryRegion
	backing []byte

	// free is a LIFO free-stack of byte-range chunks carved from region.
	free []sessionChunk
}

// sessionChunk is one borrowable slice of the session's pinned buffer.
type sessionChunk struct {
	data []byte
	lkey uint32
}

// NewSession allocates a Session identifier; the pool itself is
// allocated lazily by bind on the first connection.
func NewSession() *Session {
	return &Session{ID: newSessionID()}
}

// bind is the session-init hook: on the first connection of a session,
// allocate one pinned block sized max_queue_depth*max_io_size, register
// it as a single memory region on that connection's domain, and push
// max_queue_depth equal-sized chunks onto the free-stack.
func (s *Session) bind(conn *Connection, defaults Defaults) error {
	if s.region != nil {
		return ErrSessionAlreadyBound
	}
	if conn == nil || conn.domain == nil {
		return fmt.Errorf("transport: session bind requires a connection with an open domain")
	}

	s.maxQueueDepth = defaults.MaxQueueDepth
	s.chunkSize = defaults.MaxIOSize

	total := int(s.maxQueueDepth) * int(s.chunkSize)
	backing := rdma.AlignedAlloc(total)
	region, err := conn.domain.Register(backing, rdma.AccessLocalWrite)
	if err != nil {
		return fmt.Errorf("transport: register session pool: %w", err)
	}

	s.backing = backing
	s.region = region
	s.free = make([]sessionChunk, 0, s.maxQueueDepth)
	for i := 0; i < int(s.maxQueueDepth); i++ {
		start := i * int(s.chunkSize)
		s.free = append(s.free, sessionChunk{
			data: backing[start : start+int(s.chunkSize)],
			lkey: region.LKey(),
		})
	}
	return nil
}

// teardown deregisters the region and frees the block.
func (s *Session) teardown() error {
	if s == nil || s.region == nil {
		return nil
	}
	err := s.region.Deregister()
	s.region = nil
	s.backing = nil
	s.free = nil
	return err
}

// acquire pops the head of the free-stack or reports ErrPoolExhausted.
func (s *Session) acquire() (sessionChunk, error) {
	n := len(s.free)
	if n == 0 {
		return sessionChunk{}, ErrPoolExhausted
	}
	chunk := s.free[n-1]
	s.free = s.free[:n-1]
	return chunk, nil
}

// release pushes chunk back onto the head of the free-stack.
func (s *Session) release(chunk sessionChunk) {
	s.free = append(s.free, chunk)
}

// Free reports the number of chunks currently available, for tests
// asserting pool conservation.
func (s *Session) Free() int {
	return len(s.free)
}

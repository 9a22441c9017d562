// Package rdma provides a Go-native abstraction over the RDMA verbs and
// connection-manager primitives the NVMe-oF transport needs: device
// discovery, protection domains, pinned memory regions, queue pairs, and
// completion queues. A cgo backend (internal/verbs) enumerates real
// devices; a software loopback backend (see loopback.go) implements the
// domain, queue-pair, completion-queue and CM interfaces in-process.
package rdma

import "errors"

// ErrAgain is returned by a non-blocking poll when no work is currently
// available, mirroring the EAGAIN convention of the underlying verbs and
// CM APIs.
var ErrAgain = errors.New("rdma: no completion available")

// ErrClosed is returned by operations on a handle that has already been
// torn down.
var ErrClosed = errors.New("rdma: handle closed")

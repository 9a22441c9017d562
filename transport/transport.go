// Package transport implements the RDMA transport for an NVMe-oF target:
// connection lifecycle, per-connection and per-session pinned memory
// pools, request preparation from NVMe SGL descriptors, the three-phase
// request completion pipeline, pending-queue scheduling, and
// completion-queue polling.
//
// The transport never blocks and never spawns goroutines on the
// request-processing hot path; it is driven entirely by the caller's
// poll loop (ConnPoll, AcceptorPoll). Each connection is owned by a
// single cooperative executor and nothing here is safe for concurrent
// use across executors.
package transport

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nvmeof-rdma/target/rdma"
)

// Defaults bundles the transport-wide negotiated ceilings:
// max_queue_depth, max_io_size, and in_capsule_data_size.
type Defaults struct {
	MaxQueueDepth     uint16
	MaxIOSize         uint32
	InCapsuleDataSize uint32
}

// Config controls transport construction. It is a plain struct: loading
// it from flags, environment, or a config file is an external concern
// (cmd/nvmfrdmad demonstrates binding it to cobra flags).
type Config struct {
	Defaults Defaults
	Address  string // listen address for AcceptorInit, e.g. "192.0.2.10:4420"
	Backend  Backend

	Logger           Logger
	StructuredLogger StructuredLogger
	Tracer           Tracer
	Metrics          MetricHook

	// Dispatcher hands a disconnect closure to the executor that owns a
	// session's connections once a connection has left the pending
	// sequence. Nil means every connection is destroyed synchronously
	// by the acceptor -- correct for a single-executor deployment.
	Dispatcher Dispatcher
}

// Backend is the NVMe command-execution collaborator the transport
// invokes once a request is fully prepared. It is assumed to eventually
// call Transport.ReqComplete.
type Backend interface {
	Execute(req *Request)
}

// Transport bundles the process-wide transport state: the negotiated
// defaults, the enumerated devices, and the pending-connections
// sequence. A process creates exactly one per listen address.
type Transport struct {
	cfg     Config
	devices []rdma.Device

	acceptor *acceptor

	logger           Logger
	structuredLogger StructuredLogger
	tracer           Tracer
	metrics          MetricHook
}

// New constructs a Transport from Config without touching any RDMA
// device; call Init to enumerate devices.
func New(cfg Config) *Transport {
	return &Transport{
		cfg:              cfg,
		logger:           cfg.Logger,
		structuredLogger: cfg.StructuredLogger,
		tracer:           cfg.Tracer,
		metrics:          cfg.Metrics,
	}
}

// Init enumerates RDMA devices, records their capabilities for logging,
// and stores the negotiated defaults. It returns the count of usable
// devices; zero leaves the acceptor inert.
func (t *Transport) Init() (int, error) {
	if t.cfg.Defaults.MaxQueueDepth == 0 || t.cfg.Defaults.MaxIOSize == 0 {
		return 0, errors.New("transport: Defaults.MaxQueueDepth and MaxIOSize must be positive")
	}
	devices, err := rdma.Discover()
	if err != nil {
		return 0, fmt.Errorf("transport: discover devices: %w", err)
	}
	t.devices = devices
	for _, d := range devices {
		t.logDebugw("rdma device discovered",
			"name", d.Name,
			"max_qp_wr", d.Limits.MaxQPWR,
			"max_qp_rd_atom", d.Limits.MaxQPRdAtom,
			"max_sge", d.Limits.MaxSGE,
			"max_cqe", d.Limits.MaxCQE,
		)
	}
	return len(devices), nil
}

// Fini is a no-op: the acceptor owns teardown of the listening id and
// event channel.
func (t *Transport) Fini() {}

// Devices exposes the devices enumerated by Init, for diagnostics.
func (t *Transport) Devices() []rdma.Device {
	return append([]rdma.Device(nil), t.devices...)
}

// SessionInit is the session-init hook: it runs on the first connection
// of a session and allocates the session's pinned pool against that
// connection's domain.
func (t *Transport) SessionInit(sess *Session, conn *Connection) error {
	if err := sess.bind(conn, t.cfg.Defaults); err != nil && err != ErrSessionAlreadyBound {
		return err
	}
	conn.session = sess
	return nil
}

// SessionFini tears down a session's pool.
func (t *Transport) SessionFini(sess *Session) error {
	return sess.teardown()
}

// ReqComplete is called by the Backend once it has filled in the
// response capsule's status fields. It resumes the request state
// machine at the EXECUTING state.
func (t *Transport) ReqComplete(req *Request) error {
	return req.backendComplete()
}

// ReqRelease abandons a request without sending a completion, used by a
// backend that cannot proceed (e.g. connection already torn down).
func (t *Transport) ReqRelease(req *Request) {
	req.release()
}

// ConnFini destroys a connection and all of its pinned resources.
func (t *Transport) ConnFini(conn *Connection) error {
	return conn.destroy()
}

// ConnPoll drives one poll tick of a connection's send and receive
// completion queues. It returns the number of successful
// backend invocations, or a negative value on a fatal connection error
// (the caller must then call ConnFini).
func (t *Transport) ConnPoll(conn *Connection) int {
	return conn.poll()
}

// DiscoveryLogEntry is the subset of an NVMe-oF discovery log page entry
// this transport is responsible for filling in; the discovery-service
// log-page machinery itself lives outside the transport.
type DiscoveryLogEntry struct {
	TrType        string
	AdrFam        string
	SecureChannel string
	QPType        string
	PrType        string
	CMS           string
	Address       string
}

// ListenAddrDiscover writes the RDMA-transport-specific fields of a
// discovery log entry for the given listen address.
func (t *Transport) ListenAddrDiscover(addr string, entry *DiscoveryLogEntry) {
	*entry = DiscoveryLogEntry{
		TrType:        "RDMA",
		AdrFam:        "IPv4",
		SecureChannel: "NOT_SPECIFIED",
		QPType:        "RELIABLE_CONNECTED",
		PrType:        "NONE",
		CMS:           "RDMA_CM",
		Address:       addr,
	}
}

func newSessionID() uuid.UUID {
	return uuid.New()
}

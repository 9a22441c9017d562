package rdma

import "net"

// CMEventType enumerates the rdma_cm event types the acceptor acts on.
type CMEventType int

const (
	CMEventConnectRequest CMEventType = iota
	CMEventEstablished
	CMEventDisconnected
	CMEventAddrChange
	CMEventDeviceRemoval
	CMEventTimewaitExit
	CMEventUnhandled
)

func (t CMEventType) String() string {
	switch t {
	case CMEventConnectRequest:
		return "CONNECT_REQUEST"
	case CMEventEstablished:
		return "ESTABLISHED"
	case CMEventDisconnected:
		return "DISCONNECTED"
	case CMEventAddrChange:
		return "ADDR_CHANGE"
	case CMEventDeviceRemoval:
		return "DEVICE_REMOVAL"
	case CMEventTimewaitExit:
		return "TIMEWAIT_EXIT"
	default:
		return "UNHANDLED"
	}
}

// IsDisconnectClass reports whether the event is one of the
// disconnect-class events: DISCONNECTED, ADDR_CHANGE, DEVICE_REMOVAL,
// TIMEWAIT_EXIT.
func (t CMEventType) IsDisconnectClass() bool {
	switch t {
	case CMEventDisconnected, CMEventAddrChange, CMEventDeviceRemoval, CMEventTimewaitExit:
		return true
	default:
		return false
	}
}

// ConnectPrivateData is the host-supplied private data carried on a
// CONNECT_REQUEST event, laid out per the NVMe-oF RDMA CM request
// private data format.
type ConnectPrivateData struct {
	RecFmt  uint16
	QID     uint16
	HRQSize uint16
	HSQSize uint16
}

// ConnectPrivateDataLen is the wire length private data must carry for
// HRQSize/HSQSize to be trusted.
const ConnectPrivateDataLen = 8

// AcceptPrivateData is the target's private data sent back on accept.
type AcceptPrivateData struct {
	RecFmt  uint16
	CRQSize uint16
}

// RejectPrivateData is the target's private data sent back on reject,
// encoding an NVMe status code.
type RejectPrivateData struct {
	Status uint16
}

// ConnParam negotiates the RDMA CM's own resource limits, independent of
// the NVMe-oF private data payload.
type ConnParam struct {
	InitiatorDepth     uint8
	ResponderResources uint8
	PrivateData        []byte
}

// CMEvent is one event harvested from an EventChannel.
type CMEvent struct {
	Type        CMEventType
	ID          CMId
	PrivateData []byte
	Param       ConnParam
}

// CMId represents one rdma_cm_id: either the listening id or a per-connection
// id produced by a CONNECT_REQUEST event.
type CMId interface {
	// Device exposes the local device limits the id's queue pairs would be
	// created against.
	Device() Device
	// OpenDomain opens (or returns the already-open) protection domain
	// for this id's device.
	OpenDomain() (Domain, error)
	// Accept completes the handshake for a CONNECT_REQUEST id.
	Accept(qp QueuePair, param ConnParam) error
	// Reject rejects a CONNECT_REQUEST id with the given private data.
	Reject(privateData []byte) error
	// Disconnect tears down an established connection's RC channel.
	Disconnect() error
	// Destroy releases the id itself.
	Destroy() error
	// RemoteAddr is the peer's network address, for logging/discovery.
	RemoteAddr() net.Addr
}

// EventChannel is a non-blocking source of CM events, as produced by
// rdma_create_event_channel + rdma_get_cm_event in the underlying API.
type EventChannel interface {
	// Poll harvests the next event, returning ErrAgain when none is
	// currently pending.
	Poll() (CMEvent, error)
	Destroy() error
}

// Listener is the listening CM id created by AcceptorInit.
type Listener interface {
	EventChannel() EventChannel
	Destroy() error
}

package rdma

// Opcode identifies the kind of work a posted or completed work request
// represents. Values mirror the subset of ibv_wc_opcode the transport
// cares about.
type Opcode int

const (
	OpcodeRecv Opcode = iota
	OpcodeSend
	OpcodeRDMARead
	OpcodeRDMAWrite
)

func (o Opcode) String() string {
	switch o {
	case OpcodeRecv:
		return "RECV"
	case OpcodeSend:
		return "SEND"
	case OpcodeRDMARead:
		return "RDMA_READ"
	case OpcodeRDMAWrite:
		return "RDMA_WRITE"
	default:
		return "UNKNOWN"
	}
}

// SGE is a single scatter/gather element: a contiguously registered span
// of local memory plus the key the device needs to reference it.
type SGE struct {
	Addr   uintptr
	Length uint32
	LKey   uint32
}

// RecvRequest posts a receive. The transport's per-slot RECV always
// scatters into two segments: the command capsule and the in-capsule
// data buffer.
type RecvRequest struct {
	WRID uint64
	SGEs []SGE
}

// SendRequest posts a SEND of the local SGE list (the transport always
// sends a single-SGE completion capsule).
type SendRequest struct {
	WRID   uint64
	SGEs   []SGE
	Inline bool
}

// RDMARequest posts an RDMA READ or WRITE against a remote, keyed
// address. Opcode must be OpcodeRDMARead or OpcodeRDMAWrite.
type RDMARequest struct {
	WRID       uint64
	Opcode     Opcode
	Local      SGE
	RemoteAddr uint64
	RemoteKey  uint32
}

// WorkCompletion is a harvested entry from a completion queue.
type WorkCompletion struct {
	WRID   uint64
	Opcode Opcode
	Status error // nil on success; non-nil means the WR failed
	Length uint32
}

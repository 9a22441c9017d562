package transport

import "encoding/binary"

// A command capsule is 64 bytes plus optional in-capsule data; a
// response (completion) capsule is 16 bytes.
const (
	CommandCapsuleSize    = 64
	CompletionCapsuleSize = 16
)

// Opcode classifies the NVMe command carried in a capsule. Command
// semantics beyond data-transfer direction belong to the backend; these
// three values are the ones the transport itself must recognize to
// decide whether a request moves data and in which direction.
type Opcode byte

const (
	OpcodeFlush Opcode = 0x00 // no data transfer
	OpcodeWrite Opcode = 0x01 // host to controller
	OpcodeRead  Opcode = 0x02 // controller to host
)

// Xfer is the data-transfer direction a prepared request carries.
type Xfer int

const (
	XferNone Xfer = iota
	XferHostToController
	XferControllerToHost
)

func (x Xfer) String() string {
	switch x {
	case XferHostToController:
		return "HOST_TO_CONTROLLER"
	case XferControllerToHost:
		return "CONTROLLER_TO_HOST"
	default:
		return "NONE"
	}
}

// SGLType distinguishes the two supported descriptor families: a keyed
// data block descriptor carrying a remote memory key and address for
// RDMA READ/WRITE, or a data block descriptor carrying an offset into
// the in-capsule data area.
type SGLType byte

const (
	SGLTypeDataBlock SGLType = 0x0
	SGLTypeKeyed     SGLType = 0x4
)

// SGLSubtype further qualifies an SGLType.
type SGLSubtype byte

const (
	SGLSubtypeOffset        SGLSubtype = 0x1 // valid with SGLTypeDataBlock
	SGLSubtypeAddress       SGLSubtype = 0x0 // valid with SGLTypeKeyed
	SGLSubtypeInvalidateKey SGLSubtype = 0xF // valid with SGLTypeKeyed
)

// SGLDescriptor is the first SGL descriptor (SGL1) of a command capsule,
// the only one the transport inspects.
type SGLDescriptor struct {
	Address uint64
	Length  uint32
	Key     uint32
	Type    SGLType
	Subtype SGLSubtype
}

// command capsule byte layout (little-endian), kept intentionally small:
// the NVMe command fields the transport does not interpret are left as
// opaque reserved bytes; the 16-byte SGL descriptor occupies bytes 24-39,
// where NVMe's "SGL1" (DPTR) field sits.
const (
	cmdOffOpcode = 0
	cmdOffCID    = 2
	cmdOffSGL    = 24
)

// CommandCapsule is a view over one slot's 64-byte pinned command buffer.
type CommandCapsule struct {
	raw []byte
}

func (c CommandCapsule) OpCode() Opcode {
	return Opcode(c.raw[cmdOffOpcode])
}

func (c CommandCapsule) SetOpCode(op Opcode) {
	c.raw[cmdOffOpcode] = byte(op)
}

func (c CommandCapsule) CID() uint16 {
	return binary.LittleEndian.Uint16(c.raw[cmdOffCID:])
}

func (c CommandCapsule) SetCID(cid uint16) {
	binary.LittleEndian.PutUint16(c.raw[cmdOffCID:], cid)
}

func (c CommandCapsule) SGL() SGLDescriptor {
	b := c.raw[cmdOffSGL:]
	typeSubtype := b[15]
	return SGLDescriptor{
		Address: binary.LittleEndian.Uint64(b[0:8]),
		Length:  binary.LittleEndian.Uint32(b[8:12]),
		Key:     binary.LittleEndian.Uint32(b[12:16]),
		Type:    SGLType(typeSubtype >> 4),
		Subtype: SGLSubtype(typeSubtype & 0x0F),
	}
}

func (c CommandCapsule) SetSGL(sgl SGLDescriptor) {
	b := c.raw[cmdOffSGL:]
	binary.LittleEndian.PutUint64(b[0:8], sgl.Address)
	binary.LittleEndian.PutUint32(b[8:12], sgl.Length)
	binary.LittleEndian.PutUint32(b[12:16], sgl.Key)
	b[15] = byte(sgl.Type)<<4 | byte(sgl.Subtype)
}

// xferForOpcode classifies an opcode's data-transfer direction. Any
// opcode outside the recognized set is treated as no-transfer.
func xferForOpcode(op Opcode) Xfer {
	switch op {
	case OpcodeWrite:
		return XferHostToController
	case OpcodeRead:
		return XferControllerToHost
	default:
		return XferNone
	}
}

// completion capsule byte layout.
const (
	cplOffCID    = 0
	cplOffStatus = 2
	cplOffSQHead = 4
)

// CompletionCapsule is a view over one slot's 16-byte pinned completion
// buffer.
type CompletionCapsule struct {
	raw []byte
}

func (c CompletionCapsule) Reset() {
	for i := range c.raw {
		c.raw[i] = 0
	}
}

func (c CompletionCapsule) CID() uint16 {
	return binary.LittleEndian.Uint16(c.raw[cplOffCID:])
}

func (c CompletionCapsule) SetCID(cid uint16) {
	binary.LittleEndian.PutUint16(c.raw[cplOffCID:], cid)
}

func (c CompletionCapsule) Status() Code {
	return Code(binary.LittleEndian.Uint16(c.raw[cplOffStatus:]))
}

func (c CompletionCapsule) SetStatus(code Code) {
	binary.LittleEndian.PutUint16(c.raw[cplOffStatus:], uint16(code))
}

func (c CompletionCapsule) SQHead() uint16 {
	return binary.LittleEndian.Uint16(c.raw[cplOffSQHead:])
}

func (c CompletionCapsule) SetSQHead(v uint16) {
	binary.LittleEndian.PutUint16(c.raw[cplOffSQHead:], v)
}

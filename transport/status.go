package transport

import "fmt"

// Code is an NVMe status code, stamped into a completion capsule's
// status field. Mirrors capi.Errno's Error()-on-an-integral-type shape.
type Code uint16

// Status codes the request state machine produces directly. The
// generic-success code is included for completeness of
// the completion capsule's status field; the backend fills in any
// command-specific status on the success path.
const (
	StatusSuccess                  Code = 0x00
	StatusInternalError            Code = 0x06
	StatusSGLDescriptorTypeInvalid Code = 0x11
	StatusInvalidSGLOffset         Code = 0x16
	StatusDataSGLLengthInvalid     Code = 0x0F
)

func (c Code) Error() string {
	return c.String()
}

func (c Code) String() string {
	switch c {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInternalError:
		return "INTERNAL_ERROR"
	case StatusSGLDescriptorTypeInvalid:
		return "SGL_DESCRIPTOR_TYPE_INVALID"
	case StatusInvalidSGLOffset:
		return "INVALID_SGL_OFFSET"
	case StatusDataSGLLengthInvalid:
		return "DATA_SGL_LENGTH_INVALID"
	default:
		return fmt.Sprintf("STATUS(0x%02x)", uint16(c))
	}
}

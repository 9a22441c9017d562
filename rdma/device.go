package rdma

import "fmt"

// DeviceLimits captures the capability fields the transport's negotiation
// step needs from a local RDMA device. Field names mirror ibv_device_attr.
type DeviceLimits struct {
	MaxQPWR     uint32 // max_qp_wr: deepest queue pair work-request depth
	MaxQPRdAtom uint32 // max_qp_rd_atom: deepest outstanding RDMA read/atomic
	MaxSGE      uint32 // max_sge: scatter/gather entries per work request
	MaxCQE      uint32 // max_cqe: completion queue entries
}

// Device represents one enumerated RDMA-capable NIC.
type Device struct {
	Name   string
	Limits DeviceLimits
}

func (d Device) String() string {
	return fmt.Sprintf("%s(max_qp_wr=%d max_qp_rd_atom=%d)", d.Name, d.Limits.MaxQPWR, d.Limits.MaxQPRdAtom)
}

// Discoverer enumerates RDMA devices available to the process. No type in
// this module implements it; the package-level Discover function is the
// compiled-in enumeration.
type Discoverer interface {
	Discover() ([]Device, error)
}

// Discover enumerates the RDMA devices visible to this process via the
// compiled-in backend. When built without the hardware backend wired up
// (no devices reachable, or running in a software-only test harness) it
// returns an empty, non-error slice so callers can fall back to the
// loopback backend.
func Discover() ([]Device, error) {
	return discoverDevices()
}

//go:build cgo

// Package verbs wraps the pieces of libibverbs/librdmacm the transport's
// rdma package needs at the cgo boundary: device enumeration and the
// capability fields (max_qp_wr, max_qp_rd_atom) that feed negotiation.
// Queue-pair, completion-queue, and connection-manager operations are
// driven through the rdma package's loopback types (rdma/loopback.go) in
// this module; a production deployment
// wires the rdma.Domain/QueuePair/CompletionQueue/CMId interfaces to the
// remaining ibv_*/rdma_* calls the same way this file wires device
// discovery, which is the piece every negotiation decision depends on.
package verbs

import "fmt"

/*
#cgo LDFLAGS: -libverbs
#include <infiniband/verbs.h>
#include <stdlib.h>

static inline struct ibv_device *verbs_device_at(struct ibv_device **list, int i) {
	return list[i];
}
*/
import "C"

// DeviceInfo mirrors the ibv_device_attr fields rdma.DeviceLimits needs.
type DeviceInfo struct {
	Name        string
	MaxQPWR     uint32
	MaxQPRdAtom uint32
	MaxSGE      uint32
	MaxCQE      uint32
}

// ListDevices enumerates every RDMA device visible to this process via
// ibv_get_device_list, querying each one's attributes with
// ibv_query_device. Devices that fail to open are skipped rather than
// aborting the whole enumeration.
func ListDevices() ([]DeviceInfo, error) {
	var numDevices C.int
	list := C.ibv_get_device_list(&numDevices)
	if list == nil {
		return nil, fmt.Errorf("verbs: ibv_get_device_list failed")
	}
	defer C.ibv_free_device_list(list)

	devices := make([]DeviceInfo, 0, int(numDevices))
	for i := 0; i < int(numDevices); i++ {
		dev := C.verbs_device_at(list, C.int(i))
		ctx := C.ibv_open_device(dev)
		if ctx == nil {
			continue
		}

		var attr C.struct_ibv_device_attr
		if C.ibv_query_device(ctx, &attr) != 0 {
			C.ibv_close_device(ctx)
			continue
		}

		devices = append(devices, DeviceInfo{
			Name:        C.GoString(C.ibv_get_device_name(dev)),
			MaxQPWR:     uint32(attr.max_qp_wr),
			MaxQPRdAtom: uint32(attr.max_qp_rd_atom),
			MaxSGE:      uint32(attr.max_sge),
			MaxCQE:      uint32(attr.max_cqe),
		})

		C.ibv_close_device(ctx)
	}
	return devices, nil
}

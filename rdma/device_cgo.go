//go:build cgo

package rdma

import "github.com/nvmeof-rdma/target/internal/verbs"

func discoverDevices() ([]Device, error) {
	raw, err := verbs.ListDevices()
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(raw))
	for _, d := range raw {
		devices = append(devices, Device{
			Name: d.Name,
			Limits: DeviceLimits{
				MaxQPWR:     d.MaxQPWR,
				MaxQPRdAtom: d.MaxQPRdAtom,
				MaxSGE:      d.MaxSGE,
				MaxCQE:      d.MaxCQE,
			},
		})
	}
	return devices, nil
}

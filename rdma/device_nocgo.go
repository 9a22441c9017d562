//go:build !cgo

package rdma

// Without cgo there is no way to call into libibverbs, so no hardware
// devices are enumerated. The acceptor treats zero devices as inert;
// tests exercise the transport against the loopback backend instead.
func discoverDevices() ([]Device, error) {
	return nil, nil
}

package transport

import (
	"encoding/binary"

	"github.com/nvmeof-rdma/target/rdma"
)

// negotiatedLimits is the pair an accepted connection is created with.
type negotiatedLimits struct {
	MaxQueueDepth uint16
	MaxRWDepth    uint16
}

// negotiate computes the negotiated limits for a CONNECT_REQUEST, a pure
// function of the inputs so it is unit-testable without any RDMA
// hardware.
//
//   - max_queue_depth = min(targetDefault, deviceMaxQPWR, hrqsize?, hsqsize?)
//   - max_rw_depth     = min(targetDefault, deviceMaxQPRdAtom, remoteInitiatorDepth)
//
// hrqsize/hsqsize are only trusted when the private-data block is at
// least ConnectPrivateDataLen bytes; a short or absent block falls back
// to the target default for that term.
func negotiate(targetDefault Defaults, deviceMaxQPWR, deviceMaxQPRdAtom uint32, remoteInitiatorDepth uint8, privateData []byte) negotiatedLimits {
	maxQueueDepth := uint32(targetDefault.MaxQueueDepth)
	if deviceMaxQPWR < maxQueueDepth {
		maxQueueDepth = deviceMaxQPWR
	}

	if hrqsize, hsqsize, ok := parseConnectPrivateData(privateData); ok {
		if uint32(hrqsize) < maxQueueDepth {
			maxQueueDepth = uint32(hrqsize)
		}
		if uint32(hsqsize) < maxQueueDepth {
			maxQueueDepth = uint32(hsqsize)
		}
	}

	maxRWDepth := uint32(targetDefault.MaxQueueDepth)
	if deviceMaxQPRdAtom < maxRWDepth {
		maxRWDepth = deviceMaxQPRdAtom
	}
	if uint32(remoteInitiatorDepth) < maxRWDepth {
		maxRWDepth = uint32(remoteInitiatorDepth)
	}

	if maxQueueDepth == 0 {
		maxQueueDepth = 1
	}

	return negotiatedLimits{
		MaxQueueDepth: uint16(maxQueueDepth),
		MaxRWDepth:    uint16(maxRWDepth),
	}
}

// parseConnectPrivateData decodes {recfmt, qid, hrqsize, hsqsize} from a
// CONNECT_REQUEST's private data, reporting ok=false when the block is
// shorter than ConnectPrivateDataLen.
func parseConnectPrivateData(b []byte) (hrqsize, hsqsize uint16, ok bool) {
	if len(b) < rdma.ConnectPrivateDataLen {
		return 0, 0, false
	}
	hrqsize = binary.LittleEndian.Uint16(b[4:6])
	hsqsize = binary.LittleEndian.Uint16(b[6:8])
	return hrqsize, hsqsize, true
}

package transport

import (
	"encoding/binary"
	"testing"

	"github.com/nvmeof-rdma/target/rdma"
)

func connectPrivateData(hrqsize, hsqsize uint16) []byte {
	b := make([]byte, rdma.ConnectPrivateDataLen)
	binary.LittleEndian.PutUint16(b[0:2], 0)
	binary.LittleEndian.PutUint16(b[2:4], 1)
	binary.LittleEndian.PutUint16(b[4:6], hrqsize)
	binary.LittleEndian.PutUint16(b[6:8], hsqsize)
	return b
}

func TestNegotiate_TakesMinimumOfAllTerms(t *testing.T) {
	defaults := Defaults{MaxQueueDepth: 128, MaxIOSize: 64 * 1024, InCapsuleDataSize: 8192}

	got := negotiate(defaults, 64, 8, 4, connectPrivateData(256, 256))
	if got.MaxQueueDepth != 64 {
		t.Errorf("max_queue_depth = %d, want 64 (device max_qp_wr is the binding term)", got.MaxQueueDepth)
	}
	if got.MaxRWDepth != 4 {
		t.Errorf("max_rw_depth = %d, want 4 (remote initiator_depth is the binding term)", got.MaxRWDepth)
	}
}

func TestNegotiate_HostHRQSizeAndHSQSizeBind(t *testing.T) {
	defaults := Defaults{MaxQueueDepth: 128}

	got := negotiate(defaults, 256, 32, 16, connectPrivateData(32, 20))
	if got.MaxQueueDepth != 20 {
		t.Errorf("max_queue_depth = %d, want 20 (min(hrqsize=32, hsqsize=20) binds)", got.MaxQueueDepth)
	}
}

func TestNegotiate_ShortPrivateDataFallsBackToTargetDefault(t *testing.T) {
	defaults := Defaults{MaxQueueDepth: 128}

	got := negotiate(defaults, 256, 32, 16, []byte{0x00, 0x00})
	if got.MaxQueueDepth != 128 {
		t.Errorf("max_queue_depth = %d, want 128 (short private data must not be trusted)", got.MaxQueueDepth)
	}
}

func TestNegotiate_NilPrivateDataFallsBackToTargetDefault(t *testing.T) {
	defaults := Defaults{MaxQueueDepth: 128}

	got := negotiate(defaults, 256, 32, 16, nil)
	if got.MaxQueueDepth != 128 {
		t.Errorf("max_queue_depth = %d, want 128", got.MaxQueueDepth)
	}
}

func TestNegotiate_TargetDefaultIsTheCeiling(t *testing.T) {
	defaults := Defaults{MaxQueueDepth: 32}

	got := negotiate(defaults, 256, 256, 255, connectPrivateData(1024, 1024))
	if got.MaxQueueDepth != 32 {
		t.Errorf("max_queue_depth = %d, want 32 (target default is the ceiling)", got.MaxQueueDepth)
	}
	if got.MaxRWDepth != 32 {
		t.Errorf("max_rw_depth = %d, want 32 (target default is the ceiling)", got.MaxRWDepth)
	}
}

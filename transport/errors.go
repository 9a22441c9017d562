package transport

import "errors"

// Sentinel errors for the transport's structural failure paths.
// Malformed capsules and SGLs are reported via Code in the completion
// capsule, not these sentinels -- these cover the paths that are fatal
// to the connection or that the caller must react to structurally.
var (
	// ErrCapsuleTooSmall means a RECV completed with fewer bytes than
	// the 64-byte command capsule header; fatal to the connection.
	ErrCapsuleTooSmall = errors.New("transport: RECV shorter than capsule header")

	// ErrPostFailed wraps a work-request posting failure; fatal to the
	// connection.
	ErrPostFailed = errors.New("transport: failed to post work request")

	// ErrCompletionStatus means a harvested work completion carried a
	// non-zero status; fatal to the connection.
	ErrCompletionStatus = errors.New("transport: work completion reported non-zero status")

	// ErrUnexpectedOpcode means a completion queue produced an opcode
	// the poller does not expect on that queue (e.g. RECV on the send
	// CQ); fatal to the connection.
	ErrUnexpectedOpcode = errors.New("transport: unexpected opcode on completion queue")

	// ErrSessionAlreadyBound means a session's pool was already bound
	// when bind ran again; SessionInit treats it as success and attaches
	// the further connection to the existing pool.
	ErrSessionAlreadyBound = errors.New("transport: session already bound to a connection")

	// ErrPoolExhausted is returned internally by the session pool's
	// acquire when it has no free chunks; it is never surfaced as a
	// request-fatal error -- buffer exhaustion means "queue", not
	// "fail".
	ErrPoolExhausted = errors.New("transport: session buffer pool exhausted")
)

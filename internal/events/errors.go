package events

import "errors"

var (
	// ErrDecodeFailed indicates a malformed event frame. The frame is
	// logged and dropped; decoding failures never stop the stream.
	ErrDecodeFailed = errors.New("events: decode failed")

	// ErrConnectionFailed indicates the transport could not be opened
	// or the subscription handshake failed.
	ErrConnectionFailed = errors.New("events: connection failed")

	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("events: session closed")

	// ErrHeartbeatTimeout indicates no liveness signal was observed
	// within the watchdog window. Treated like any session failure.
	ErrHeartbeatTimeout = errors.New("events: heartbeat timeout")

	// ErrRetriesExhausted indicates the supervisor hit its configured
	// attempt ceiling without reaching a live session.
	ErrRetriesExhausted = errors.New("events: reconnect attempts exhausted")
)

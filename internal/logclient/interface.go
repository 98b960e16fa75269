// Package logclient abstracts the partitioned, ordered, replayable log the
// registry's state machine is built on (the LogClient capability of
// SPEC_FULL.md §2/D.1). The only shipped implementation is backed by a
// single-subject NATS JetStream stream.
package logclient

import "context"

// Record is one delivered log entry. Ack must be called once the caller has
// durably applied Payload; failing to call it (e.g. a crash mid-apply) causes
// the broker to redeliver the record, which is how "at least once" delivery
// is honored end to end rather than just at the transport layer.
type Record struct {
	Offset  uint64
	Payload []byte
	Ack     func() error
}

// Client produces to and tails a single-partition topic.
type Client interface {
	// Produce appends payload and returns the offset (stream sequence) it was
	// assigned. Transient broker errors are retried internally; a permanent
	// failure is returned as *Error.
	Produce(ctx context.Context, payload []byte) (offset uint64, err error)

	// Tail starts a new ordered delivery of every record from the beginning
	// of the topic. The returned channel is closed when
	// ctx is done or the client is closed.
	Tail(ctx context.Context) (<-chan Record, error)

	// Close releases the underlying connection/subscription.
	Close() error
}

// Error is a permanent, non-retryable failure from the log backend.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "logclient: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

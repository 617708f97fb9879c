package queue

import "context"

// Msg is one queue message.
//
// Key is used for partitioning when supported by the backend.
// Headers are forwarded as message headers in key order.
type Msg struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

type Publisher interface {
	// Publish blocks until the backend confirms delivery or ctx is done.
	Publish(ctx context.Context, message Msg) error

	// Close flushes in-flight messages and releases resources. Canceling ctx
	// may drop messages that are still queued.
	Close(ctx context.Context)
}

// FailureNotifier is implemented by publishers that can fail permanently.
// Errors delivers such a failure and is closed when the publisher closes.
type FailureNotifier interface {
	Errors() <-chan error
}

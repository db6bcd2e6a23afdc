package batcher

import "errors"

var (
	// ErrInvalidBatchSize is returned when MaxBatchSize is not a positive integer.
	ErrInvalidBatchSize = errors.New("batcher: max batch size must be a positive integer")

	// ErrInvalidTimeout is returned when BatchWaitTimeout is negative.
	ErrInvalidTimeout = errors.New("batcher: batch wait timeout must not be negative")

	// ErrNilBatchFunc is returned when New or NewStream is given a nil function.
	ErrNilBatchFunc = errors.New("batcher: batch function must not be nil")

	// ErrShapeMismatch is returned when a batch function's result does not
	// have one element per request in the batch.
	ErrShapeMismatch = errors.New("batcher: batch function returned a malformed result")

	// ErrUserPanic wraps a recovered panic from a batch function.
	ErrUserPanic = errors.New("batcher: batch function panicked")

	// ErrClosed is returned to any request that is still pending, or newly
	// enqueued, once the Batcher has been closed.
	ErrClosed = errors.New("batcher: batcher is closed")

	// ErrTimeoutTooShort is returned by Call/CallStream when ctx's deadline
	// leaves less time than BatchWaitTimeout: a request that can't outlive
	// the wait a batch may need to form can never be usefully enqueued.
	ErrTimeoutTooShort = errors.New("batcher: ctx deadline must exceed batch wait timeout")

	// ErrStreamDone is returned by Stream.Recv once the stream has been
	// drained to normal completion. It is not a failure.
	ErrStreamDone = errors.New("batcher: stream exhausted")
)

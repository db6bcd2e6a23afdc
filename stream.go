package batcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// StreamItem is one element of the lazy sequence a StreamFunc produces.
// An item with Err set broadcasts a terminal failure to every request in
// the batch and ends the sequence; closing the channel signals normal
// completion. An item without Err whose Values length differs from the
// batch size (a zero StreamItem included) is a shape mismatch.
type StreamItem[Out any] struct {
	// Values holds one result per request in the batch, in batch order.
	Values []Out
	// Err, if non-nil, terminates every request's stream with this error.
	Err error
}

// StreamFunc produces a finite, ordered sequence of per-batch result
// lists. The returned channel must be closed once the sequence ends.
type StreamFunc[In, Out any] func(ctx context.Context, inputs []In) <-chan StreamItem[Out]

// StreamBatcher is the streaming-mode counterpart of Batcher: each produced
// StreamItem is fanned out element-by-element, so every caller of
// CallStream receives its own ordered Stream of per-batch values.
type StreamBatcher[In, Out any] struct {
	core   *core[In]
	fn     StreamFunc[In, Out]
	logger *zap.Logger
}

// NewStream builds a StreamBatcher from a StreamFunc.
func NewStream[In, Out any](fn StreamFunc[In, Out], opts ...Option) (*StreamBatcher[In, Out], error) {
	if fn == nil {
		return nil, ErrNilBatchFunc
	}

	s := defaultSettings()
	for _, opt := range opts {
		opt(s)
	}
	if err := s.config.validate(); err != nil {
		return nil, err
	}

	logger := s.logger.With(zap.String("component", "stream_batcher"), zap.String("batcher_name", s.name))
	sb := &StreamBatcher[In, Out]{fn: fn, logger: logger}
	sb.core = newCore[In](s.config, s.name, logger, newBatcherMetrics(s.registerer, s.name), sb.dispatch, sb.failSink)
	return sb, nil
}

// Stream is the lazy, pull-based sequence a streaming caller consumes.
// Recv returns ErrStreamDone once the sequence has ended normally.
type Stream[Out any] struct {
	ch <-chan streamMsg[Out]
}

// Recv blocks for the next value, or until ctx is done.
func (s *Stream[Out]) Recv(ctx context.Context) (Out, error) {
	var zero Out
	select {
	case msg, ok := <-s.ch:
		if !ok {
			return zero, ErrStreamDone
		}
		if msg.done {
			if msg.err != nil {
				return zero, msg.err
			}
			return zero, ErrStreamDone
		}
		return msg.val, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// CallStream enqueues a single input and returns immediately with a Stream
// that will yield this call's share of every element the batch function
// produces, in order, then terminate. A ctx whose deadline leaves less
// time than BatchWaitTimeout is rejected immediately with
// ErrTimeoutTooShort.
func (sb *StreamBatcher[In, Out]) CallStream(ctx context.Context, in In) (*Stream[Out], error) {
	sink := newStreamSink[Out]()
	if err := sb.core.enqueue(ctx, in, sink); err != nil {
		return nil, err
	}
	return &Stream[Out]{ch: sink.ch}, nil
}

// Close stops accepting new formation, fails every request still pending
// with ErrClosed, and waits for the formation loop to exit.
func (sb *StreamBatcher[In, Out]) Close() {
	sb.core.Close()
}

func (sb *StreamBatcher[In, Out]) dispatch(ctx context.Context, bt batch[In]) {
	start := time.Now()
	size := len(bt.requests)
	items := sb.safeCall(ctx, bt.inputs())

	failed := false
	count := 0
	for item := range items {
		count++
		if item.Err != nil {
			sb.broadcastErr(bt, item.Err)
			failed = true
			break
		}
		if len(item.Values) != size {
			shapeErr := fmt.Errorf("%w: batch function yielded %d results for %d requests", ErrShapeMismatch, len(item.Values), size)
			sb.broadcastErr(bt, shapeErr)
			failed = true
			break
		}
		for i, r := range bt.requests {
			r.sink.(*streamSink[Out]).deliver(item.Values[i])
		}
	}

	dur := time.Since(start)
	sb.core.metrics.observeDispatch(size, dur, failed)
	sb.logger.Debug("stream batch dispatched",
		zap.String("batch_id", bt.id.String()),
		zap.Int("batch_size", size),
		zap.Int("items_yielded", count),
		zap.Duration("latency", dur),
		zap.Bool("failed", failed),
	)

	if failed {
		// drain any further sends so a slow/blocked producer goroutine
		// doesn't leak once the coordinator has stopped reading.
		for range items {
		}
		return
	}

	for _, r := range bt.requests {
		r.sink.(*streamSink[Out]).finish()
	}
}

func (sb *StreamBatcher[In, Out]) broadcastErr(bt batch[In], err error) {
	for _, r := range bt.requests {
		r.sink.(*streamSink[Out]).fail(err)
	}
}

// safeCall recovers a panic raised synchronously while constructing the
// item channel (e.g. a bad precondition check before the producer
// goroutine is spawned) and turns it into a one-item error stream. A panic
// inside a user-spawned producer goroutine cannot be recovered here — it
// is the user function's responsibility per ordinary Go goroutine rules.
func (sb *StreamBatcher[In, Out]) safeCall(ctx context.Context, inputs []In) (items <-chan StreamItem[Out]) {
	defer func() {
		if p := recover(); p != nil {
			ch := make(chan StreamItem[Out], 1)
			ch <- StreamItem[Out]{Err: fmt.Errorf("%w: %v", ErrUserPanic, p)}
			close(ch)
			items = ch
		}
	}()
	return sb.fn(ctx, inputs)
}

func (sb *StreamBatcher[In, Out]) failSink(sink any, err error) {
	sink.(*streamSink[Out]).fail(err)
}

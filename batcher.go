package batcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// BatchFunc processes a whole batch of inputs at once. It must return
// either one result per input, in the same order, or an error — a result
// slice of any other length is treated as a shape-mismatch failure for the
// whole batch.
type BatchFunc[In, Out any] func(ctx context.Context, inputs []In) ([]Out, error)

// Batcher aggregates concurrent Call invocations into batches of up to
// MaxBatchSize inputs and dispatches them to a single BatchFunc, fanning
// each element of the result back to the caller that contributed the
// matching input.
//
// A Batcher is safe for concurrent use and must be constructed with New.
type Batcher[In, Out any] struct {
	core   *core[In]
	fn     BatchFunc[In, Out]
	logger *zap.Logger
}

// New builds a Batcher from a BatchFunc. Construction-time validation
// happens here: a misconfigured Config or a nil fn fails immediately and no
// goroutine is started.
func New[In, Out any](fn BatchFunc[In, Out], opts ...Option) (*Batcher[In, Out], error) {
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

	logger := s.logger.With(zap.String("component", "batcher"), zap.String("batcher_name", s.name))
	b := &Batcher[In, Out]{fn: fn, logger: logger}
	b.core = newCore[In](s.config, s.name, logger, newBatcherMetrics(s.registerer, s.name), b.dispatch, b.failSink)
	return b, nil
}

// Call enqueues a single input and blocks until its batch has been
// dispatched and this call's share of the result is available, or until
// ctx is done — whichever comes first. A ctx cancelled before dispatch
// causes this request to be excised from the forming batch; a ctx
// cancelled after dispatch has started simply stops this caller from
// waiting on an outcome that will still be delivered to the sink (and
// discarded harmlessly, since nothing reads it anymore). A ctx whose
// deadline leaves less time than BatchWaitTimeout is rejected immediately
// with ErrTimeoutTooShort.
func (b *Batcher[In, Out]) Call(ctx context.Context, in In) (Out, error) {
	var zero Out

	sink := newScalarSink[Out]()
	if err := b.core.enqueue(ctx, in, sink); err != nil {
		return zero, err
	}

	select {
	case res := <-sink.ch:
		return res.val, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close stops accepting new formation, fails every request still pending
// with ErrClosed, and waits for the formation loop to exit.
func (b *Batcher[In, Out]) Close() {
	b.core.Close()
}

func (b *Batcher[In, Out]) dispatch(ctx context.Context, bt batch[In]) {
	start := time.Now()
	vals, err := b.safeCall(ctx, bt.inputs())
	dur := time.Since(start)
	size := len(bt.requests)

	if err != nil {
		b.logger.Warn("batch dispatch failed",
			zap.String("batch_id", bt.id.String()),
			zap.Int("batch_size", size),
			zap.Error(err),
		)
		b.core.metrics.observeDispatch(size, dur, true)
		for _, r := range bt.requests {
			r.sink.(*scalarSink[Out]).fail(err)
		}
		return
	}

	if len(vals) != size {
		shapeErr := fmt.Errorf("%w: batch function returned %d results for %d requests", ErrShapeMismatch, len(vals), size)
		b.logger.Warn("batch dispatch shape mismatch",
			zap.String("batch_id", bt.id.String()),
			zap.Int("batch_size", size),
			zap.Int("result_size", len(vals)),
		)
		b.core.metrics.observeDispatch(size, dur, true)
		for _, r := range bt.requests {
			r.sink.(*scalarSink[Out]).fail(shapeErr)
		}
		return
	}

	b.core.metrics.observeDispatch(size, dur, false)
	b.logger.Debug("batch dispatched",
		zap.String("batch_id", bt.id.String()),
		zap.Int("batch_size", size),
		zap.Duration("latency", dur),
	)
	for i, r := range bt.requests {
		r.sink.(*scalarSink[Out]).deliver(vals[i])
	}
}

// safeCall recovers a panicking BatchFunc so a single misbehaving dispatch
// cannot take down the formation loop — it becomes an ordinary broadcast
// user error instead.
func (b *Batcher[In, Out]) safeCall(ctx context.Context, inputs []In) (vals []Out, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrUserPanic, p)
		}
	}()
	return b.fn(ctx, inputs)
}

func (b *Batcher[In, Out]) failSink(sink any, err error) {
	sink.(*scalarSink[Out]).fail(err)
}

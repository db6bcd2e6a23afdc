package batcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// core implements the batch-formation loop shared by Batcher and
// StreamBatcher: eager formation under a size+timer policy, strictly
// sequential dispatch, FIFO ordering. It is generic only over the
// input type — the dispatch and failSink callbacks close over the output
// type on behalf of the owner, which is how one loop serves both the
// scalar and streaming wrappers without duplicating it.
type core[In any] struct {
	cfg     Config
	name    string
	logger  *zap.Logger
	metrics *batcherMetrics

	dispatch func(ctx context.Context, b batch[In])
	failSink func(sink any, err error)

	mu      sync.Mutex
	queue   []pendingRequest[In]
	wake    chan struct{}
	closed  bool
	closeCh chan struct{}
	done    chan struct{}
}

func newCore[In any](
	cfg Config,
	name string,
	logger *zap.Logger,
	metrics *batcherMetrics,
	dispatch func(context.Context, batch[In]),
	failSink func(any, error),
) *core[In] {
	c := &core[In]{
		cfg:      cfg,
		name:     name,
		logger:   logger,
		metrics:  metrics,
		dispatch: dispatch,
		failSink: failSink,
		wake:     make(chan struct{}, 1),
		closeCh:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	go c.run()
	return c
}

// enqueue appends a pending request to the queue and wakes the formation
// loop. It is the single cooperative entry point producers use; apart from
// it, the queue is mutated only by the loop goroutine and by Close.
//
// A ctx whose deadline leaves less time than BatchWaitTimeout is rejected
// up front: such a request could never survive the wait a batch may need
// to form.
func (c *core[In]) enqueue(ctx context.Context, arg In, sink any) error {
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining <= c.cfg.BatchWaitTimeout {
			return fmt.Errorf("%w: %v left, batch wait timeout is %v", ErrTimeoutTooShort, remaining, c.cfg.BatchWaitTimeout)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, pendingRequest[In]{
		ctx:        ctx,
		arg:        arg,
		sink:       sink,
		enqueuedAt: time.Now(),
	})
	depth := len(c.queue)
	c.mu.Unlock()

	c.metrics.setQueueDepth(depth)
	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Close drains the queue, failing every still-pending request with
// ErrClosed, and waits for the formation loop to exit. A batch already cut
// and mid-dispatch when Close is called is allowed to finish normally.
func (c *core[In]) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	pending := c.queue
	c.queue = nil
	c.mu.Unlock()

	close(c.closeCh)
	for _, r := range pending {
		c.failSink(r.sink, ErrClosed)
	}
	c.metrics.setQueueDepth(0)
	<-c.done
}

func (c *core[In]) run() {
	defer close(c.done)
	for {
		c.mu.Lock()
		empty := len(c.queue) == 0
		closed := c.closed
		c.mu.Unlock()

		if empty {
			if closed {
				return
			}
			select {
			case <-c.wake:
			case <-c.closeCh:
			}
			continue
		}

		b, ok := c.formBatch()
		if !ok {
			continue
		}
		c.metrics.setQueueDepth(c.queueLen())
		c.dispatch(context.Background(), b)
	}
}

// formBatch implements the size+timer formation policy. Requests whose
// context has already been cancelled are excised before they ever enter a
// batch, rather than merely being ignored at fan-out.
func (c *core[In]) formBatch() (batch[In], bool) {
	c.mu.Lock()
	c.pruneCancelledLocked()

	if len(c.queue) == 0 {
		c.mu.Unlock()
		return batch[In]{}, false
	}

	if len(c.queue) >= c.cfg.MaxBatchSize {
		reqs := c.take(c.cfg.MaxBatchSize)
		c.mu.Unlock()
		return c.newBatch(reqs), true
	}

	firstArrival := c.queue[0].enqueuedAt
	c.mu.Unlock()

	timer := time.NewTimer(time.Until(firstArrival.Add(c.cfg.BatchWaitTimeout)))
	defer timer.Stop()

	for {
		select {
		case <-c.wake:
			c.mu.Lock()
			c.pruneCancelledLocked()
			if len(c.queue) >= c.cfg.MaxBatchSize {
				reqs := c.take(c.cfg.MaxBatchSize)
				c.mu.Unlock()
				return c.newBatch(reqs), true
			}
			c.mu.Unlock()

		case <-timer.C:
			return c.cutWhateverRemains()

		case <-c.closeCh:
			return c.cutWhateverRemains()
		}
	}
}

// cutWhateverRemains dispatches the currently queued prefix (capped at
// MaxBatchSize) without waiting further. Used when the wait timer fires or
// the batcher is being closed.
func (c *core[In]) cutWhateverRemains() (batch[In], bool) {
	c.mu.Lock()
	c.pruneCancelledLocked()
	n := len(c.queue)
	if n == 0 {
		c.mu.Unlock()
		return batch[In]{}, false
	}
	if n > c.cfg.MaxBatchSize {
		n = c.cfg.MaxBatchSize
	}
	reqs := c.take(n)
	c.mu.Unlock()
	return c.newBatch(reqs), true
}

// take removes and returns the first n requests. Caller must hold c.mu.
func (c *core[In]) take(n int) []pendingRequest[In] {
	reqs := make([]pendingRequest[In], n)
	copy(reqs, c.queue[:n])
	c.queue = c.queue[n:]
	return reqs
}

// pruneCancelledLocked drops requests whose caller has already given up,
// failing their sink with the context's error. Caller must hold c.mu.
func (c *core[In]) pruneCancelledLocked() {
	kept := c.queue[:0]
	for _, r := range c.queue {
		if r.ctx != nil && r.ctx.Err() != nil {
			c.failSink(r.sink, r.ctx.Err())
			continue
		}
		kept = append(kept, r)
	}
	c.queue = kept
}

func (c *core[In]) newBatch(reqs []pendingRequest[In]) batch[In] {
	return batch[In]{id: uuid.New(), requests: reqs}
}

func (c *core[In]) queueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

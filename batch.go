package batcher

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// pendingRequest is the unit of the input queue. sink is typed any because
// the queue itself (core[In]) is generic only over the input type; the
// owning Batcher[In, Out] or StreamBatcher[In, Out] knows the concrete
// sink type and type-asserts it back in its dispatch closure.
type pendingRequest[In any] struct {
	ctx        context.Context
	arg        In
	sink       any
	enqueuedAt time.Time
}

// batch is a contiguous, already-claimed slice of pending requests: formed
// once, dispatched once.
type batch[In any] struct {
	id       uuid.UUID
	requests []pendingRequest[In]
}

func (b batch[In]) inputs() []In {
	out := make([]In, len(b.requests))
	for i, r := range b.requests {
		out[i] = r.arg
	}
	return out
}

package batcher

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry lazily constructs and memoizes one Batcher per receiver
// instance. R is typically a pointer to the receiver type, so distinct
// instances never share a batch.
type Registry[R comparable, In, Out any] struct {
	mu       sync.Mutex
	batchers map[R]*Batcher[In, Out]
	newFn    BatchFunc[In, Out]
	opts     []Option
}

// NewRegistry builds a Registry that will construct a Batcher from fn and
// opts the first time a given receiver is seen.
func NewRegistry[R comparable, In, Out any](fn BatchFunc[In, Out], opts ...Option) *Registry[R, In, Out] {
	return &Registry[R, In, Out]{
		batchers: make(map[R]*Batcher[In, Out]),
		newFn:    fn,
		opts:     opts,
	}
}

// For returns the Batcher cached for receiver, constructing one on first
// use. Configuration errors surface on that first call.
func (reg *Registry[R, In, Out]) For(receiver R) (*Batcher[In, Out], error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if b, ok := reg.batchers[receiver]; ok {
		return b, nil
	}
	// Each per-receiver Batcher gets its own metrics registry: many
	// receivers sharing one prometheus.Registerer would either collide on
	// identical collector labels or blow up label cardinality one series
	// per receiver. Isolating them is the safer default for a map that can
	// grow unboundedly with live receivers.
	opts := append(append([]Option{}, reg.opts...), WithRegisterer(prometheus.NewRegistry()))
	b, err := New(reg.newFn, opts...)
	if err != nil {
		return nil, err
	}
	reg.batchers[receiver] = b
	return b, nil
}

// CloseAll closes every Batcher this Registry has constructed.
func (reg *Registry[R, In, Out]) CloseAll() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, b := range reg.batchers {
		b.Close()
	}
}

// StreamRegistry is the streaming-mode counterpart of Registry.
type StreamRegistry[R comparable, In, Out any] struct {
	mu       sync.Mutex
	batchers map[R]*StreamBatcher[In, Out]
	newFn    StreamFunc[In, Out]
	opts     []Option
}

// NewStreamRegistry builds a StreamRegistry that will construct a
// StreamBatcher from fn and opts the first time a given receiver is seen.
func NewStreamRegistry[R comparable, In, Out any](fn StreamFunc[In, Out], opts ...Option) *StreamRegistry[R, In, Out] {
	return &StreamRegistry[R, In, Out]{
		batchers: make(map[R]*StreamBatcher[In, Out]),
		newFn:    fn,
		opts:     opts,
	}
}

// For returns the StreamBatcher cached for receiver, constructing one on
// first use.
func (reg *StreamRegistry[R, In, Out]) For(receiver R) (*StreamBatcher[In, Out], error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if b, ok := reg.batchers[receiver]; ok {
		return b, nil
	}
	opts := append(append([]Option{}, reg.opts...), WithRegisterer(prometheus.NewRegistry()))
	b, err := NewStream(reg.newFn, opts...)
	if err != nil {
		return nil, err
	}
	reg.batchers[receiver] = b
	return b, nil
}

// CloseAll closes every StreamBatcher this StreamRegistry has constructed.
func (reg *StreamRegistry[R, In, Out]) CloseAll() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, b := range reg.batchers {
		b.Close()
	}
}

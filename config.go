package batcher

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Default config values: a small positive default batch size and a
// zero-wait default so a Batcher is usable out of the box without tuning.
const (
	DefaultMaxBatchSize     = 10
	DefaultBatchWaitTimeout = 0 * time.Millisecond
)

// Config controls how a Batcher forms batches. It is immutable once a
// Batcher has been constructed from it.
type Config struct {
	// MaxBatchSize is the upper bound on how many requests one dispatch of
	// the batch function may carry. Must be > 0.
	MaxBatchSize int

	// BatchWaitTimeout is how long the coordinator waits, from the arrival
	// of the first request in a forming batch, for more requests before
	// dispatching whatever it has. Zero means dispatch immediately with
	// whatever is available at formation time.
	BatchWaitTimeout time.Duration
}

// DefaultConfig returns the Config used when New/NewStream are called
// without options.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:     DefaultMaxBatchSize,
		BatchWaitTimeout: DefaultBatchWaitTimeout,
	}
}

// validate aggregates every violated check rather than failing fast on the
// first one, so a misconfigured decoration reports everything wrong with it
// in a single error.
func (c Config) validate() error {
	var err error
	if c.MaxBatchSize <= 0 {
		err = multierr.Append(err, ErrInvalidBatchSize)
	}
	if c.BatchWaitTimeout < 0 {
		err = multierr.Append(err, ErrInvalidTimeout)
	}
	return err
}

// Option configures a Batcher or StreamBatcher at construction time.
type Option func(*settings)

type settings struct {
	config     Config
	logger     *zap.Logger
	registerer prometheus.Registerer
	name       string
}

func defaultSettings() *settings {
	return &settings{
		config:     DefaultConfig(),
		logger:     zap.NewNop(),
		registerer: prometheus.DefaultRegisterer,
		name:       "default",
	}
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegisterer overrides where this Batcher's prometheus collectors are
// registered. Defaults to the global prometheus.DefaultRegisterer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) {
		if reg != nil {
			s.registerer = reg
		}
	}
}

// WithMaxBatchSize overrides the default maximum batch size.
func WithMaxBatchSize(n int) Option {
	return func(s *settings) { s.config.MaxBatchSize = n }
}

// WithBatchWaitTimeout overrides the default batch formation wait timer.
func WithBatchWaitTimeout(d time.Duration) Option {
	return func(s *settings) { s.config.BatchWaitTimeout = d }
}

// WithName labels the Batcher for logging and metrics. Distinct Batchers
// registered into the same registerer must use distinct names: constructing
// a second one under a name already registered there panics, because its
// collectors are registered with MustRegister.
func WithName(name string) Option {
	return func(s *settings) { s.name = name }
}

package batcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		desc    string
		cfg     Config
		wantErr error
	}{
		{"defaults are valid", DefaultConfig(), nil},
		{"zero batch size", Config{MaxBatchSize: 0, BatchWaitTimeout: 0}, ErrInvalidBatchSize},
		{"negative batch size", Config{MaxBatchSize: -1, BatchWaitTimeout: 0}, ErrInvalidBatchSize},
		{"negative timeout", Config{MaxBatchSize: 1, BatchWaitTimeout: -time.Millisecond}, ErrInvalidTimeout},
		{"zero timeout is fine", Config{MaxBatchSize: 1, BatchWaitTimeout: 0}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			err := tc.cfg.validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestConfigValidateAggregatesAllViolations(t *testing.T) {
	err := Config{MaxBatchSize: -5, BatchWaitTimeout: -time.Second}.validate()
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(func(ctx context.Context, in []int) ([]int, error) {
		return in, nil
	}, WithMaxBatchSize(0))
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
}

func TestDefaultsAreSanePositive(t *testing.T) {
	assert.Greater(t, DefaultMaxBatchSize, 0)
	assert.GreaterOrEqual(t, DefaultBatchWaitTimeout, time.Duration(0))
}

package batcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStreamingOrderedFanout checks that two concurrent callers each
// receive their own ordered sequence of 5 values, in order, then the
// sequence terminates normally for both.
func TestStreamingOrderedFanout(t *testing.T) {
	const items = 5

	sb, err := NewStream(func(ctx context.Context, inputs []string) <-chan StreamItem[string] {
		out := make(chan StreamItem[string])
		go func() {
			defer close(out)
			for i := 0; i < items; i++ {
				vals := make([]string, len(inputs))
				for j, in := range inputs {
					vals[j] = fmt.Sprintf("%s-%d", in, i)
				}
				out <- StreamItem[string]{Values: vals}
			}
		}()
		return out
	}, WithMaxBatchSize(2), WithBatchWaitTimeout(200*time.Millisecond), WithName("stream-fanout"))
	require.NoError(t, err)
	defer sb.Close()

	var wg sync.WaitGroup
	results := make([][]string, 2)
	callers := []string{"a", "b"}
	for i := range callers {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream, err := sb.CallStream(context.Background(), callers[i])
			require.NoError(t, err)
			for {
				v, err := stream.Recv(context.Background())
				if err == ErrStreamDone {
					break
				}
				require.NoError(t, err)
				results[i] = append(results[i], v)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"a-0", "a-1", "a-2", "a-3", "a-4"}, results[0])
	assert.Equal(t, []string{"b-0", "b-1", "b-2", "b-3", "b-4"}, results[1])
}

// TestStreamingMidSequenceFailure checks that a mid-sequence error in the
// batch function terminates every caller's stream with that same error, at
// the same index.
func TestStreamingMidSequenceFailure(t *testing.T) {
	sb, err := NewStream(func(ctx context.Context, inputs []int) <-chan StreamItem[int] {
		out := make(chan StreamItem[int])
		go func() {
			defer close(out)
			out <- StreamItem[int]{Values: inputs}
			out <- StreamItem[int]{Err: fmt.Errorf("backend exploded")}
		}()
		return out
	}, WithMaxBatchSize(2), WithBatchWaitTimeout(200*time.Millisecond), WithName("stream-fail"))
	require.NoError(t, err)
	defer sb.Close()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	counts := make([]int, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream, err := sb.CallStream(context.Background(), i)
			require.NoError(t, err)
			for {
				_, err := stream.Recv(context.Background())
				if err != nil {
					errs[i] = err
					return
				}
				counts[i]++
			}
		}()
	}
	wg.Wait()

	for i := range errs {
		assert.ErrorContains(t, errs[i], "backend exploded")
		assert.Equal(t, 1, counts[i], "exactly one successful item before the failure")
	}
}

// TestStreamingShapeMismatch checks a malformed yielded element broadcasts
// a shape-mismatch error to every caller's stream.
func TestStreamingShapeMismatch(t *testing.T) {
	sb, err := NewStream(func(ctx context.Context, inputs []int) <-chan StreamItem[int] {
		out := make(chan StreamItem[int])
		go func() {
			defer close(out)
			out <- StreamItem[int]{Values: inputs[:len(inputs)-1]}
		}()
		return out
	}, WithMaxBatchSize(2), WithBatchWaitTimeout(50*time.Millisecond), WithName("stream-shape"))
	require.NoError(t, err)
	defer sb.Close()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream, err := sb.CallStream(context.Background(), i)
			require.NoError(t, err)
			_, errs[i] = stream.Recv(context.Background())
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrShapeMismatch)
	}
}

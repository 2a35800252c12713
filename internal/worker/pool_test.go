package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentmemory/memory-service/internal/worker"
	"github.com/stretchr/testify/require"
)

func TestSubmitAddRunsAndReturnsValue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := worker.New(ctx, 2, 2, 4)

	v, err := worker.SubmitAdd(context.Background(), pool, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, v)
}

func TestSubmitSearchPropagatesError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := worker.New(ctx, 2, 2, 4)

	boom := errors.New("boom")
	_, err := worker.SubmitSearch(context.Background(), pool, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
}

func TestAddLaneDoesNotStarveSearchLane(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Single add worker held busy; search must still complete promptly on
	// its own dedicated lane.
	pool := worker.New(ctx, 1, 1, 8)

	var running int32
	release := make(chan struct{})
	go func() {
		_, _ = worker.SubmitAdd(context.Background(), pool, func(ctx context.Context) (int, error) {
			atomic.AddInt32(&running, 1)
			<-release
			return 0, nil
		})
	}()
	// Give the add goroutine a moment to occupy the single add worker.
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		_, _ = worker.SubmitSearch(context.Background(), pool, func(ctx context.Context) (int, error) {
			return 1, nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("search submission blocked behind a long-running add task")
	}
	close(release)
}

func TestSubmitRespectsCallerContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := worker.New(ctx, 1, 1, 0)

	callCtx, callCancel := context.WithCancel(context.Background())
	callCancel()
	_, err := worker.SubmitAdd(callCtx, pool, func(ctx context.Context) (int, error) {
		return 0, nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

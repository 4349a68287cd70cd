package throttle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_AllSucceed(t *testing.T) {
	tasks := make([]Task, 10)
	for i := range tasks {
		v := i
		tasks[i] = func(context.Context) (any, error) { return v, nil }
	}

	outcomes := Run(context.Background(), 3, tasks)
	require.Len(t, outcomes, 10)

	for i, o := range outcomes {
		assert.True(t, o.Succeeded())
		assert.Equal(t, i, o.Value)
	}

	assert.Zero(t, CountFailures(outcomes))
}

func TestRun_FailuresReportedInBand(t *testing.T) {
	boom := errors.New("boom")
	tasks := []Task{
		func(context.Context) (any, error) { return "ok", nil },
		func(context.Context) (any, error) { return nil, boom },
		func(context.Context) (any, error) { return "ok", nil },
	}

	outcomes := Run(context.Background(), 2, tasks)
	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.ErrorIs(t, outcomes[1].Err, boom)
	assert.Equal(t, 1, CountFailures(outcomes))
}

func TestRun_ConcurrencyBound(t *testing.T) {
	const limit = 3

	var inFlight, peak atomic.Int32

	var mu sync.Mutex

	tasks := make([]Task, 20)
	for i := range tasks {
		tasks[i] = func(context.Context) (any, error) {
			n := inFlight.Add(1)

			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)

			return nil, nil
		}
	}

	Run(context.Background(), limit, tasks)

	assert.LessOrEqual(t, peak.Load(), int32(limit))
}

func TestRun_CancelStopsScheduling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 1)

	tasks := []Task{
		func(context.Context) (any, error) {
			started <- struct{}{}
			time.Sleep(20 * time.Millisecond)

			return "done", nil
		},
	}

	// Fill the remainder with tasks that should never start.
	for i := 0; i < 10; i++ {
		tasks = append(tasks, func(context.Context) (any, error) {
			return "late", nil
		})
	}

	go func() {
		<-started
		cancel()
	}()

	outcomes := Run(ctx, 1, tasks)

	// The in-flight task completed; at least the tail settled with the
	// context error.
	assert.Equal(t, "done", outcomes[0].Value)
	assert.ErrorIs(t, outcomes[len(outcomes)-1].Err, context.Canceled)
}

func TestRun_ZeroLimitTreatedAsOne(t *testing.T) {
	outcomes := Run(context.Background(), 0, []Task{
		func(context.Context) (any, error) { return 1, nil },
	})
	require.Len(t, outcomes, 1)
	assert.Equal(t, 1, outcomes[0].Value)
}

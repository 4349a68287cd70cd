// Package throttle runs a batch of tasks with bounded concurrency and
// reports a per-task outcome. The aggregate call never fails — task errors
// are delivered in-band so callers can count successes and failures.
package throttle

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Task is one unit of work.
type Task func(ctx context.Context) (any, error)

// Outcome is the settled result of one task, in task order.
type Outcome struct {
	Value any
	Err   error
}

// Succeeded reports whether the task settled without error.
func (o Outcome) Succeeded() bool { return o.Err == nil }

// Run executes tasks with at most limit in flight and returns once all have
// settled. When the context is cancelled, in-flight tasks run to completion
// but no new tasks start; unstarted tasks settle with the context error.
// limit values below 1 are treated as 1.
func Run(ctx context.Context, limit int, tasks []Task) []Outcome {
	if limit < 1 {
		limit = 1
	}

	sem := semaphore.NewWeighted(int64(limit))
	outcomes := make([]Outcome, len(tasks))

	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context cancelled — settle the remainder without starting
			// it, but let in-flight tasks run to completion.
			for j := i; j < len(tasks); j++ {
				outcomes[j] = Outcome{Err: err}
			}

			_ = sem.Acquire(context.Background(), int64(limit))

			return outcomes
		}

		go func(i int, task Task) {
			defer sem.Release(1)

			v, err := task(ctx)
			outcomes[i] = Outcome{Value: v, Err: err}
		}(i, task)
	}

	// Draining the full weight waits for every in-flight task.
	_ = sem.Acquire(context.Background(), int64(limit))

	return outcomes
}

// CountFailures returns the number of settled tasks with a non-nil error.
func CountFailures(outcomes []Outcome) int {
	n := 0

	for _, o := range outcomes {
		if o.Err != nil {
			n++
		}
	}

	return n
}

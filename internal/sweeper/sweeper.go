// Package sweeper runs the periodic maintenance tasks: expiring presence,
// lifting suspensions, purging revoked tokens and flushing trash.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"huddle/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Task is one periodic job. Run returns how many rows it changed.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int64, error)
}

// Runner ticks every task on its own goroutine. With a Redis client, each
// tick first takes a short lease so only one instance runs a task at a time.
type Runner struct {
	tasks []Task
	rdb   *redis.Client
	owner string

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a Runner. rdb may be nil; owner identifies this instance in leases.
func New(rdb *redis.Client, owner string, tasks ...Task) *Runner {
	return &Runner{tasks: tasks, rdb: rdb, owner: owner}
}

// Tasks returns the configured tasks.
func (r *Runner) Tasks() []Task {
	return r.tasks
}

// Start launches the task loops. Tasks with a non-positive interval are skipped.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	for _, t := range r.tasks {
		if t.Interval <= 0 || t.Run == nil {
			continue
		}
		r.wg.Add(1)
		go r.loop(ctx, t)
	}
}

// Stop cancels the loops and waits for in-flight runs to return.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, t Task) {
	defer r.wg.Done()
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = r.RunOnce(ctx, t)
		}
	}
}

// RunOnce runs t immediately. It reports false without running when another
// instance holds the task's lease.
func (r *Runner) RunOnce(ctx context.Context, t Task) (ran bool, err error) {
	logger := observability.NewTaskLogger(t.Name)
	defer func() {
		if rec := recover(); rec != nil {
			ran, err = true, fmt.Errorf("task %s panicked: %v", t.Name, rec)
			logger.LogError(ctx, err)
		}
	}()

	ok, err := r.lease(ctx, t)
	if err != nil {
		// Run without a lease.
		observability.RedisErrorRate.WithLabelValues("sweeper_lease").Inc()
	} else if !ok {
		return false, nil
	}

	affected, err := t.Run(ctx)
	if err != nil {
		logger.LogError(ctx, err)
		return true, err
	}
	logger.LogRun(ctx, affected)
	return true, nil
}

func (r *Runner) lease(ctx context.Context, t Task) (bool, error) {
	if r.rdb == nil {
		return true, nil
	}
	ttl := t.Interval / 2
	if ttl < time.Second {
		ttl = time.Second
	}
	return r.rdb.SetNX(ctx, "sweeper:lease:"+t.Name, r.owner, ttl).Result()
}

package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"huddle/internal/models"
	"huddle/internal/presence"
	"huddle/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunOnce(t *testing.T) {
	r := New(nil, "a")
	ctx := context.Background()

	ran, err := r.RunOnce(ctx, Task{Name: "ok", Run: func(context.Context) (int64, error) { return 3, nil }})
	assert.True(t, ran)
	assert.NoError(t, err)

	ran, err = r.RunOnce(ctx, Task{Name: "fails", Run: func(context.Context) (int64, error) { return 0, errors.New("db down") }})
	assert.True(t, ran)
	assert.EqualError(t, err, "db down")

	ran, err = r.RunOnce(ctx, Task{Name: "panics", Run: func(context.Context) (int64, error) { panic("boom") }})
	assert.True(t, ran)
	assert.ErrorContains(t, err, "boom")
}

func TestRunOnce_LeaseIsExclusive(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	ctx := context.Background()
	var runs atomic.Int32
	task := Task{Name: "presence", Interval: 10 * time.Second, Run: func(context.Context) (int64, error) {
		runs.Add(1)
		return 0, nil
	}}

	a := New(rdb, "instance-a", task)
	b := New(rdb, "instance-b", task)

	ran, err := a.RunOnce(ctx, task)
	require.NoError(t, err)
	assert.True(t, ran)
	ran, err = b.RunOnce(ctx, task)
	require.NoError(t, err)
	assert.False(t, ran)

	mr.FastForward(6 * time.Second)
	ran, err = b.RunOnce(ctx, task)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, int32(2), runs.Load())

	owner, err := mr.Get("sweeper:lease:presence")
	require.NoError(t, err)
	assert.Equal(t, "instance-b", owner)
}

func TestRunOnce_RedisDownStillRuns(t *testing.T) {
	mr, rdb := testutil.NewRedis(t)
	mr.Close()
	r := New(rdb, "a")
	ran, err := r.RunOnce(context.Background(), Task{Name: "t", Interval: time.Minute, Run: func(context.Context) (int64, error) { return 1, nil }})
	assert.True(t, ran)
	assert.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	var runs atomic.Int32
	r := New(nil, "a",
		Task{Name: "fast", Interval: 10 * time.Millisecond, Run: func(context.Context) (int64, error) {
			runs.Add(1)
			return 0, nil
		}},
		Task{Name: "disabled", Interval: 0, Run: func(context.Context) (int64, error) {
			t.Error("disabled task ran")
			return 0, nil
		}},
	)
	r.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	r.Stop()

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestStandardTasks(t *testing.T) {
	assert.Empty(t, StandardTasks(Deps{}))

	db := testutil.NewDB(t)
	tracker := presence.NewTracker(presence.NewMemoryStore(), db, time.Minute)
	tasks := StandardTasks(Deps{Presence: tracker, PresenceInterval: 5 * time.Second})
	require.Len(t, tasks, 1)
	assert.Equal(t, "presence", tasks[0].Name)
	assert.Equal(t, 5*time.Second, tasks[0].Interval)

	clock := testutil.NewClock(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	tracker.SetClock(clock.Now)
	u := testutil.CreateUser(t, db, "idle")
	_, err := tracker.Heartbeat(context.Background(), u)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)
	ran, err := New(nil, "a").RunOnce(context.Background(), tasks[0])
	require.NoError(t, err)
	assert.True(t, ran)

	st, err := tracker.GetUserStatus(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OnlineStatusOffline, st.Status)
}

package backup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RejectsInvalidCronExpression(t *testing.T) {
	sched := NewScheduler(context.Background(), nil)

	err := sched.Register("full-backup", "not a cron spec", func(ctx context.Context) error { return nil })

	require.Error(t, err)
	assert.Equal(t, FailureKindConfiguration, KindOf(err))
	assert.Contains(t, err.Error(), "full-backup")
}

func TestScheduler_RunsRegisteredJob(t *testing.T) {
	sched := NewScheduler(context.Background(), nil)

	var runs atomic.Int32
	err := sched.Register("tick", "@every 100ms", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	})
	require.NoError(t, err)

	sched.Start()
	defer sched.Stop(context.Background())

	require.Eventually(t, func() bool {
		return runs.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond)
}

func TestScheduler_SkipsOverlappingRuns(t *testing.T) {
	sched := NewScheduler(context.Background(), nil)

	var started atomic.Int32
	release := make(chan struct{})
	err := sched.Register("slow", "@every 100ms", func(ctx context.Context) error {
		started.Add(1)
		<-release
		return nil
	})
	require.NoError(t, err)

	sched.Start()

	require.Eventually(t, func() bool {
		return started.Load() == 1
	}, 3*time.Second, 20*time.Millisecond)

	// Let several more ticks fire while the first run is still blocked
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), started.Load())

	close(release)
	require.NoError(t, sched.Stop(context.Background()))
}

func TestScheduler_StopTimesOutWithRunningJob(t *testing.T) {
	sched := NewScheduler(context.Background(), nil)

	release := make(chan struct{})
	defer close(release)

	started := make(chan struct{})
	var once atomic.Bool
	err := sched.Register("stuck", "@every 50ms", func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
		<-release
		return nil
	})
	require.NoError(t, err)

	sched.Start()
	<-started

	stopCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = sched.Stop(stopCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_ShutdownSignalDoesNotCancelRunningJob(t *testing.T) {
	// Jobs run under a base context detached from the shutdown signal, the
	// way the daemon wires it. Cancelling the signal context mid-run must
	// leave the job's context intact so a dump in flight can finish.
	sched := NewScheduler(context.Background(), nil)

	signalCtx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var jobCtxErr error
	var finished atomic.Bool
	var once atomic.Bool
	err := sched.Register("slow-dump", "@every 50ms", func(ctx context.Context) error {
		if !once.CompareAndSwap(false, true) {
			return nil
		}
		close(started)
		<-release
		jobCtxErr = ctx.Err()
		finished.Store(true)
		return nil
	})
	require.NoError(t, err)

	sched.Start()
	<-started

	cancel()
	<-signalCtx.Done()
	close(release)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, sched.Stop(stopCtx))

	assert.True(t, finished.Load())
	assert.NoError(t, jobCtxErr)
}

func TestScheduler_JobReceivesBaseContext(t *testing.T) {
	type ctxKey struct{}
	base := context.WithValue(context.Background(), ctxKey{}, "pipeline")
	sched := NewScheduler(base, nil)

	got := make(chan interface{}, 1)
	var once atomic.Bool
	err := sched.Register("ctx-check", "@every 50ms", func(ctx context.Context) error {
		if once.CompareAndSwap(false, true) {
			got <- ctx.Value(ctxKey{})
		}
		return nil
	})
	require.NoError(t, err)

	sched.Start()
	defer sched.Stop(context.Background())

	select {
	case v := <-got:
		assert.Equal(t, "pipeline", v)
	case <-time.After(3 * time.Second):
		t.Fatal("job did not run")
	}
}

package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/internal/db/models"
)

// poolFixture is a two-stage chain of pools over a shared slot manager
type poolFixture struct {
	slots  *Slots
	firstQ *Queue
	nextQ  *Queue
}

func startPoolsWith(t *testing.T, env *testEnv, first, next StageDef) *poolFixture {
	t.Helper()

	f := &poolFixture{
		slots:  NewSlots(1),
		firstQ: NewQueue(),
		nextQ:  NewQueue(),
	}
	next.In = f.nextQ
	first.In = f.firstQ
	first.Next = &next

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	NewPool(first, env.repo, f.slots, noSleepClock(), nil).Start(ctx, &wg)
	NewPool(next, env.repo, f.slots, noSleepClock(), nil).Start(ctx, &wg)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return f
}

func TestPoolReleasesGPUSlotBeforeHandoff(t *testing.T) {
	env := newTestEnv(t)

	job := env.createJob(t, &models.Job{Kind: models.JobKindUpscale, FilePath: "/tmp/a.mp4"})

	duringFirst := make(chan int, 1)
	duringNext := make(chan int, 1)

	var f *poolFixture
	first := StageDef{
		Name:         "gpu-stage",
		EntryStage:   models.StageQueuedGPU,
		NeedsGPUSlot: true,
		Handler: func(context.Context, *models.Job) Outcome {
			duringFirst <- f.slots.ActiveGPU()
			return Succeed()
		},
	}
	next := StageDef{
		Name:       "post-stage",
		EntryStage: models.StageQueuedResultDownload,
		Handler: func(context.Context, *models.Job) Outcome {
			duringNext <- f.slots.ActiveGPU()
			return Succeed()
		},
	}
	f = startPoolsWith(t, env, first, next)
	f.firstQ.Push(job.UUID)

	select {
	case held := <-duringFirst:
		require.Equal(t, 1, held, "handler must hold the GPU slot")
	case <-time.After(2 * time.Second):
		t.Fatal("first stage never ran")
	}
	select {
	case held := <-duringNext:
		require.Zero(t, held, "slot must be released before the next stage starts")
	case <-time.After(2 * time.Second):
		t.Fatal("next stage never ran")
	}
}

func TestPoolPersistsHandoffBeforePush(t *testing.T) {
	env := newTestEnv(t)

	job := env.createJob(t, &models.Job{Kind: models.JobKindUpscale, FilePath: "/tmp/a.mp4"})

	observed := make(chan *models.Job, 1)
	first := StageDef{
		Name:       "stage-a",
		EntryStage: models.StageQueued,
		Handler: func(context.Context, *models.Job) Outcome {
			return Succeed()
		},
	}
	next := StageDef{
		Name:       "stage-b",
		EntryStage: models.StageQueuedGPU,
		Handler: func(_ context.Context, j *models.Job) Outcome {
			observed <- j
			return Succeed()
		},
	}
	f := startPoolsWith(t, env, first, next)
	f.firstQ.Push(job.UUID)

	select {
	case j := <-observed:
		// The worker reloads from the database, so seeing the hand-off
		// stage here proves it was persisted before the push
		require.Equal(t, models.StageQueuedGPU, j.Stage)
		require.Equal(t, models.JobStatusQueued, j.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("second stage never ran")
	}

	final := env.waitTerminal(t, job.UUID)
	require.Equal(t, models.JobStatusDone, final.Status)
	require.Equal(t, models.StageDone, final.Stage)
}

func TestPoolRetryRequeues(t *testing.T) {
	env := newTestEnv(t)

	job := env.createJob(t, &models.Job{Kind: models.JobKindUpscale, FilePath: "/tmp/a.mp4"})

	var calls atomic.Int32
	first := StageDef{
		Name:       "flaky-stage",
		EntryStage: models.StageQueued,
		Handler: func(context.Context, *models.Job) Outcome {
			if calls.Add(1) == 1 {
				return RetryWith(fmt.Errorf("transient blip"))
			}
			return Succeed()
		},
	}
	next := StageDef{
		Name:       "after-stage",
		EntryStage: models.StageQueuedGPU,
		Handler: func(context.Context, *models.Job) Outcome {
			return Succeed()
		},
	}
	f := startPoolsWith(t, env, first, next)
	f.firstQ.Push(job.UUID)

	final := env.waitTerminal(t, job.UUID)
	require.Equal(t, models.JobStatusDone, final.Status)
	require.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestPoolFatalFailsJob(t *testing.T) {
	env := newTestEnv(t)

	job := env.createJob(t, &models.Job{Kind: models.JobKindUpscale, FilePath: "/tmp/a.mp4"})

	first := StageDef{
		Name:       "doomed-stage",
		EntryStage: models.StageQueued,
		Handler: func(context.Context, *models.Job) Outcome {
			return Fail(fmt.Errorf("config rejected"))
		},
	}
	next := StageDef{
		Name:       "never-stage",
		EntryStage: models.StageQueuedGPU,
		Handler: func(context.Context, *models.Job) Outcome {
			t.Error("stage after a fatal failure must not run")
			return Succeed()
		},
	}
	f := startPoolsWith(t, env, first, next)
	f.firstQ.Push(job.UUID)

	final := env.waitTerminal(t, job.UUID)
	require.Equal(t, models.JobStatusError, final.Status)
	require.Equal(t, "config rejected", final.Error)
	// Stage is preserved for diagnosis
	require.Equal(t, models.StageQueued, final.Stage)
}

func TestPoolCanceledMidStageStaysCanceled(t *testing.T) {
	env := newTestEnv(t)

	job := env.createJob(t, &models.Job{Kind: models.JobKindUpscale, FilePath: "/tmp/a.mp4"})

	entered := make(chan struct{})
	release := make(chan struct{})
	first := StageDef{
		Name:       "slow-stage",
		EntryStage: models.StageQueued,
		Handler: func(context.Context, *models.Job) Outcome {
			close(entered)
			<-release
			return Succeed()
		},
	}
	var nextRuns atomic.Int32
	next := StageDef{
		Name:       "after-stage",
		EntryStage: models.StageQueuedGPU,
		Handler: func(context.Context, *models.Job) Outcome {
			nextRuns.Add(1)
			return Succeed()
		},
	}
	f := startPoolsWith(t, env, first, next)
	f.firstQ.Push(job.UUID)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("stage never ran")
	}
	// Cancel lands while the stage handler still holds a stale record
	require.NoError(t, env.repo.UpdateStatus(context.Background(), job.UUID, models.JobStatusCanceled))
	close(release)

	time.Sleep(200 * time.Millisecond)
	got, err := env.repo.GetByUUID(context.Background(), job.UUID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCanceled, got.Status)
	require.Zero(t, nextRuns.Load(), "canceled job must not advance")
	require.False(t, f.nextQ.Contains(job.UUID))
}

func TestPoolCanceledMidStageNotRequeued(t *testing.T) {
	env := newTestEnv(t)

	job := env.createJob(t, &models.Job{Kind: models.JobKindUpscale, FilePath: "/tmp/a.mp4"})

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	first := StageDef{
		Name:       "flaky-stage",
		EntryStage: models.StageQueued,
		Handler: func(context.Context, *models.Job) Outcome {
			if calls.Add(1) == 1 {
				close(entered)
				<-release
				return RetryWith(fmt.Errorf("transient blip"))
			}
			return Succeed()
		},
	}
	next := StageDef{
		Name:       "after-stage",
		EntryStage: models.StageQueuedGPU,
		Handler: func(context.Context, *models.Job) Outcome {
			return Succeed()
		},
	}
	f := startPoolsWith(t, env, first, next)
	f.firstQ.Push(job.UUID)

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("stage never ran")
	}
	require.NoError(t, env.repo.UpdateStatus(context.Background(), job.UUID, models.JobStatusCanceled))
	close(release)

	time.Sleep(200 * time.Millisecond)
	got, err := env.repo.GetByUUID(context.Background(), job.UUID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCanceled, got.Status)
	require.Equal(t, int32(1), calls.Load(), "canceled job must not be retried")
	require.False(t, f.firstQ.Contains(job.UUID))
}

func TestPoolDropsTerminalJob(t *testing.T) {
	env := newTestEnv(t)

	job := env.createJob(t, &models.Job{Kind: models.JobKindUpscale, FilePath: "/tmp/a.mp4"})
	env.setJobState(t, job, models.JobStatusCanceled, models.StageQueued)

	var calls atomic.Int32
	first := StageDef{
		Name:       "stage-a",
		EntryStage: models.StageQueued,
		Handler: func(context.Context, *models.Job) Outcome {
			calls.Add(1)
			return Succeed()
		},
	}
	next := StageDef{
		Name:       "stage-b",
		EntryStage: models.StageQueuedGPU,
		Handler: func(context.Context, *models.Job) Outcome {
			return Succeed()
		},
	}
	f := startPoolsWith(t, env, first, next)
	f.firstQ.Push(job.UUID)
	// Unknown ids are dropped the same way
	f.firstQ.Push(uuid.New().String())

	time.Sleep(200 * time.Millisecond)
	require.Zero(t, calls.Load())

	got, err := env.repo.GetByUUID(context.Background(), job.UUID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCanceled, got.Status)
}

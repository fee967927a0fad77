package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/clipforge/clipforge/internal/db/models"
	"github.com/clipforge/clipforge/internal/db/repos"
	"github.com/clipforge/clipforge/internal/logger"
)

// Worker loop timing
const (
	// popTimeout bounds each queue wait so workers observe shutdown and idle
	popTimeout = 500 * time.Millisecond
	// retryDelay is the pause before a transient failure is requeued
	retryDelay = time.Second
)

// OutcomeKind classifies a stage handler result
type OutcomeKind int

const (
	// OutcomeSuccess advances the job to the next stage
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRetry requeues the job at the same stage after a short delay
	OutcomeRetry
	// OutcomeFatal fails the job with no automatic retry
	OutcomeFatal
)

// Outcome is the only way a handler reports back to the worker loop;
// handlers never panic or write error state themselves
type Outcome struct {
	Kind OutcomeKind
	Err  error
}

// Succeed reports a completed stage
func Succeed() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// RetryWith reports a transient failure
func RetryWith(err error) Outcome {
	return Outcome{Kind: OutcomeRetry, Err: err}
}

// Fail reports a permanent failure
func Fail(err error) Outcome {
	return Outcome{Kind: OutcomeFatal, Err: err}
}

// Handler advances a job through one stage. It may persist sub-stage
// transitions itself but must express the final result as an Outcome.
type Handler func(ctx context.Context, job *models.Job) Outcome

// StageDef describes one stage of a pipeline
type StageDef struct {
	// Name identifies the worker pool in logs and busy gauges
	Name string
	// EntryStage is the persisted stage value while the job waits on In
	EntryStage string
	// Concurrency is the number of long-lived workers
	Concurrency int
	// In is the queue this pool consumes
	In *Queue
	// Next is the following stage, nil when this stage is terminal
	Next *StageDef
	// Handler advances the job
	Handler Handler
	// NeedsGPUSlot makes workers hold a GPU slot around the handler. The
	// slot is released before the hand-off so the next stage never waits on
	// a slot its predecessor no longer needs.
	NeedsGPUSlot bool
}

// Pool runs a bounded set of workers consuming one stage's queue
type Pool struct {
	def       StageDef
	repo      *repos.JobRepository
	slots     *Slots
	clock     Clock
	idleProbe func(context.Context)
}

// NewPool creates a worker pool for a stage. idleProbe is invoked on empty
// pops; the engine wires it to the instance manager's StopIfIdle.
func NewPool(def StageDef, repo *repos.JobRepository, slots *Slots, clock Clock, idleProbe func(context.Context)) *Pool {
	if def.Concurrency < 1 {
		def.Concurrency = 1
	}
	if idleProbe == nil {
		idleProbe = func(context.Context) {}
	}
	return &Pool{def: def, repo: repo, slots: slots, clock: clock, idleProbe: idleProbe}
}

// Start launches the workers; they run until ctx is done
func (p *Pool) Start(ctx context.Context, wg *sync.WaitGroup) {
	for i := 0; i < p.def.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	logger.Infof("stage pool %s started with %d workers", p.def.Name, p.def.Concurrency)
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, ok := p.def.In.PopTimeout(popTimeout)
		if !ok {
			p.idleProbe(ctx)
			continue
		}
		p.handle(ctx, id)
	}
}

func (p *Pool) handle(ctx context.Context, id string) {
	job, err := p.repo.GetByUUID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Deleted while queued; nothing to do
			return
		}
		logger.Errorf("%s: failed to load job %s: %v", p.def.Name, id, err)
		p.clock.Sleep(retryDelay)
		p.def.In.Push(id)
		return
	}
	if job.Status.IsTerminal() {
		logger.Debugf("%s: dropping %s job %s", p.def.Name, job.Status, id)
		return
	}

	p.slots.Enter(p.def.Name)
	if p.def.NeedsGPUSlot {
		if err := p.slots.AcquireGPU(ctx); err != nil {
			p.slots.Exit(p.def.Name)
			p.def.In.Push(id)
			return
		}
	}

	outcome := p.def.Handler(ctx, job)

	if p.def.NeedsGPUSlot {
		p.slots.ReleaseGPU()
	}
	p.slots.Exit(p.def.Name)

	// A handler persist that found no live row means the job was canceled
	// or deleted mid-stage; the worker's stale record must not win
	if outcome.Err != nil && errors.Is(outcome.Err, repos.ErrJobGone) {
		logger.Debugf("%s: job %s finished elsewhere, dropping", p.def.Name, id)
		return
	}

	switch outcome.Kind {
	case OutcomeSuccess:
		p.advance(ctx, job)
	case OutcomeRetry:
		p.requeue(ctx, job, outcome.Err)
	case OutcomeFatal:
		p.fail(ctx, job, outcome.Err)
	}
}

// advance persists the hand-off before pushing, so a crash between the two
// re-enters the job at the already-persisted stage instead of losing it.
// Worker persists are conditional on the stored row still being live; a job
// canceled or deleted mid-stage is dropped instead of overwritten.
func (p *Pool) advance(ctx context.Context, job *models.Job) {
	if p.def.Next == nil {
		job.Status = models.JobStatusDone
		job.Stage = models.StageDone
		job.Progress = 100
		job.Error = ""
		job.ClearRemoteRefs()
		if err := p.repo.UpdateLive(ctx, job); err != nil {
			if errors.Is(err, repos.ErrJobGone) {
				logger.Debugf("%s: job %s finished elsewhere, dropping", p.def.Name, job.UUID)
				return
			}
			logger.Errorf("%s: failed to persist done for job %s: %v", p.def.Name, job.UUID, err)
			return
		}
		logger.Infof("%s: job %s done", p.def.Name, job.UUID)
		return
	}

	job.Status = models.JobStatusQueued
	job.Stage = p.def.Next.EntryStage
	if err := p.repo.UpdateLive(ctx, job); err != nil {
		if errors.Is(err, repos.ErrJobGone) {
			logger.Debugf("%s: job %s finished elsewhere, dropping", p.def.Name, job.UUID)
			return
		}
		logger.Errorf("%s: failed to persist hand-off for job %s: %v", p.def.Name, job.UUID, err)
		return
	}
	p.def.Next.In.Push(job.UUID)
}

func (p *Pool) requeue(ctx context.Context, job *models.Job, cause error) {
	logger.Warnf("%s: transient failure for job %s, requeueing: %v", p.def.Name, job.UUID, cause)
	job.Status = models.JobStatusQueued
	job.Stage = p.def.EntryStage
	if err := p.repo.UpdateLive(ctx, job); err != nil {
		if errors.Is(err, repos.ErrJobGone) {
			logger.Debugf("%s: job %s finished elsewhere, dropping", p.def.Name, job.UUID)
			return
		}
		logger.Errorf("%s: failed to persist requeue for job %s: %v", p.def.Name, job.UUID, err)
	}
	p.clock.Sleep(retryDelay)
	p.def.In.Push(job.UUID)
}

func (p *Pool) fail(ctx context.Context, job *models.Job, cause error) {
	logger.ErrorWithFields("stage failed permanently", map[string]interface{}{
		"pool":  p.def.Name,
		"job":   job.UUID,
		"stage": job.Stage,
		"error": cause.Error(),
	})
	job.Status = models.JobStatusError
	job.Error = cause.Error()
	if err := p.repo.UpdateLive(ctx, job); err != nil {
		if errors.Is(err, repos.ErrJobGone) {
			logger.Debugf("%s: job %s finished elsewhere, dropping", p.def.Name, job.UUID)
			return
		}
		logger.Errorf("%s: failed to persist error for job %s: %v", p.def.Name, job.UUID, err)
	}
}

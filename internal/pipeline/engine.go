// Package pipeline implements the job orchestration engine: per-stage
// bounded worker pools, the stage-transition state machine, the stall
// watchdog, and the startup reconciler.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/db/models"
	"github.com/clipforge/clipforge/internal/db/repos"
	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/internal/remote"
)

// Stage pool names
const (
	PoolCutDownload     = "cut-download"
	PoolCutProcess      = "cut-process"
	PoolUpscaleUpload   = "upscale-upload"
	PoolUpscaleGPU      = "upscale-gpu"
	PoolUpscaleDownload = "upscale-download"
)

// DefaultGPUConcurrency bounds simultaneous GPU-process stages
const DefaultGPUConcurrency = 2

// Options configures an Engine
type Options struct {
	// GPUConcurrency is the GPU-process slot count, default 2
	GPUConcurrency int
	// WatchdogInterval overrides the stall scan period
	WatchdogInterval time.Duration
	Clock            Clock
}

// Engine owns both pipelines: it builds the queues and worker pools, wires
// the shared resource manager into them, and runs the watchdog and startup
// reconciler around them.
type Engine struct {
	repo    *repos.JobRepository
	manager *remote.Manager
	slots   *Slots
	clock   Clock

	cutDownloadQ *Queue
	cutProcessQ  *Queue
	upUploadQ    *Queue
	upGPUQ       *Queue
	upDownloadQ  *Queue

	pools    []*Pool
	watchdog *Watchdog

	// pools whose handlers interact with the GPU instance; used by the
	// idle-stop gate
	gpuPools []string

	mu      sync.Mutex
	started bool
}

// NewEngine wires the pipelines into an engine. The cut pipeline's offload
// configuration decides whether cut-process counts as a GPU pool.
func NewEngine(repo *repos.JobRepository, manager *remote.Manager, cut *CutPipeline, upscale *UpscalePipeline, opts Options) *Engine {
	if opts.GPUConcurrency == 0 {
		opts.GPUConcurrency = DefaultGPUConcurrency
	}
	if opts.Clock.Now == nil {
		opts.Clock = RealClock()
	}

	e := &Engine{
		repo:         repo,
		manager:      manager,
		slots:        NewSlots(opts.GPUConcurrency),
		clock:        opts.Clock,
		cutDownloadQ: NewQueue(),
		cutProcessQ:  NewQueue(),
		upUploadQ:    NewQueue(),
		upGPUQ:       NewQueue(),
		upDownloadQ:  NewQueue(),
	}

	e.gpuPools = []string{PoolUpscaleUpload, PoolUpscaleGPU, PoolUpscaleDownload}
	if cut.offload != nil {
		e.gpuPools = append(e.gpuPools, PoolCutProcess)
	}

	idleProbe := func(ctx context.Context) {
		e.manager.StopIfIdle(ctx, e)
	}

	upDownload := StageDef{
		Name:        PoolUpscaleDownload,
		EntryStage:  models.StageQueuedResultDownload,
		Concurrency: 1,
		In:          e.upDownloadQ,
		Handler:     upscale.DownloadResult,
	}
	upGPU := StageDef{
		Name:         PoolUpscaleGPU,
		EntryStage:   models.StageQueuedGPU,
		Concurrency:  opts.GPUConcurrency,
		In:           e.upGPUQ,
		Next:         &upDownload,
		Handler:      upscale.GPUProcess,
		NeedsGPUSlot: true,
	}
	upUpload := StageDef{
		Name:        PoolUpscaleUpload,
		EntryStage:  models.StageQueued,
		Concurrency: 1,
		In:          e.upUploadQ,
		Next:        &upGPU,
		Handler:     upscale.Upload,
	}
	cutProcess := StageDef{
		Name:        PoolCutProcess,
		EntryStage:  models.StageQueuedProcess,
		Concurrency: 1,
		In:          e.cutProcessQ,
		Handler:     cut.Process,
	}
	cutDownload := StageDef{
		Name:        PoolCutDownload,
		EntryStage:  models.StageQueuedDownload,
		Concurrency: 1,
		In:          e.cutDownloadQ,
		Next:        &cutProcess,
		Handler:     cut.Download,
	}

	for _, def := range []StageDef{cutDownload, cutProcess, upUpload, upGPU, upDownload} {
		e.pools = append(e.pools, NewPool(def, repo, e.slots, e.clock, idleProbe))
	}

	e.watchdog = NewWatchdog(repo, e, e.slots, e.clock, opts.WatchdogInterval)
	return e
}

// Start reconciles leftover jobs and launches all workers and the watchdog
func (e *Engine) Start(ctx context.Context, wg *sync.WaitGroup) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	if _, err := NewReconciler(e.repo, e).Reconcile(ctx); err != nil {
		return fmt.Errorf("startup reconciliation failed: %w", err)
	}

	for _, pool := range e.pools {
		pool.Start(ctx, wg)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		e.watchdog.Run(ctx)
	}()

	logger.Info("orchestration engine started")
	return nil
}

// Submit places a queued job on its pipeline's first queue
func (e *Engine) Submit(job *models.Job) error {
	if job.Status.IsTerminal() {
		return fmt.Errorf("cannot submit %s job %s", job.Status, job.UUID)
	}
	e.enqueueFirst(job)
	return nil
}

func (e *Engine) enqueueFirst(job *models.Job) {
	if job.Kind == models.JobKindCut {
		e.cutDownloadQ.Push(job.UUID)
		return
	}
	e.upUploadQ.Push(job.UUID)
}

func (e *Engine) queues() []*Queue {
	return []*Queue{e.cutDownloadQ, e.cutProcessQ, e.upUploadQ, e.upGPUQ, e.upDownloadQ}
}

// Purge removes a job id from every stage queue, returning how many entries
// were dropped
func (e *Engine) Purge(id string) int {
	removed := 0
	for _, q := range e.queues() {
		removed += q.Purge(id)
	}
	return removed
}

// QueuesEmpty reports whether every stage queue across both pipelines is empty
func (e *Engine) QueuesEmpty() bool {
	for _, q := range e.queues() {
		if q.Len() > 0 {
			return false
		}
	}
	return true
}

// GPUBusy reports whether any job is currently inside a GPU-bound stage
func (e *Engine) GPUBusy() bool {
	return e.slots.ActiveGPU() > 0 || e.slots.AnyBusy(e.gpuPools...)
}

// Slots exposes the engine's resource manager for status reporting
func (e *Engine) Slots() *Slots {
	return e.slots
}

// Watchdog exposes the stall watchdog, mainly for a manual scan trigger
func (e *Engine) Watchdog() *Watchdog {
	return e.watchdog
}

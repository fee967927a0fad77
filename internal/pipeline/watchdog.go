package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clipforge/clipforge/internal/db/models"
	"github.com/clipforge/clipforge/internal/db/repos"
	"github.com/clipforge/clipforge/internal/logger"
)

// Watchdog timeouts per stage class
const (
	// DefaultWatchdogInterval is the scan period
	DefaultWatchdogInterval = 5 * time.Minute
	// queuedStallTimeout catches jobs that claim to have started a stage
	// but never persisted progress again
	queuedStallTimeout = 10 * time.Minute
	// uploadStallTimeout bounds the uploading stage
	uploadStallTimeout = 30 * time.Minute
	// processStallTimeout bounds the processing stage
	processStallTimeout = 60 * time.Minute
)

// Watchdog periodically scans persisted jobs and fully resets any whose
// stage stopped advancing. A stall is presumed lost remote state, so the
// reset restarts the pipeline from stage one rather than resuming.
type Watchdog struct {
	repo     *repos.JobRepository
	engine   *Engine
	slots    *Slots
	clock    Clock
	interval time.Duration
}

// NewWatchdog creates a stall watchdog over the engine's queues
func NewWatchdog(repo *repos.JobRepository, engine *Engine, slots *Slots, clock Clock, interval time.Duration) *Watchdog {
	if interval == 0 {
		interval = DefaultWatchdogInterval
	}
	return &Watchdog{repo: repo, engine: engine, slots: slots, clock: clock, interval: interval}
}

// Run scans on a fixed interval until ctx is done
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.Scan(ctx); n > 0 {
				logger.Infof("watchdog reset %d stalled jobs", n)
			}
		}
	}
}

// entry stages are where a queued job legitimately sits for a long time;
// queued_gpu is deliberately absent because its exemption is conditional
var watchdogExemptStages = []string{
	models.StageQueuedDownload,
	models.StageQueuedProcess,
	models.StageQueued,
	models.StageQueuedResultDownload,
}

// Scan performs one watchdog pass and returns how many jobs were reset
func (w *Watchdog) Scan(ctx context.Context) int {
	now := w.clock.Now()
	stalled := make(map[string]*models.Job)

	// Queued jobs that left their queue-entry stage and went silent
	jobs, err := w.repo.ListStalledQueued(ctx, watchdogExemptStages, now.Add(-queuedStallTimeout))
	if err != nil {
		logger.Errorf("watchdog: queued scan failed: %v", err)
	}
	for i := range jobs {
		job := jobs[i]
		// Jobs waiting for a saturated GPU are not stalled, just unlucky
		if job.Stage == models.StageQueuedGPU && w.slots.GPUSaturated() {
			continue
		}
		stalled[job.UUID] = &job
	}

	for _, rule := range []struct {
		stage   string
		timeout time.Duration
	}{
		{models.StageUploading, uploadStallTimeout},
		{models.StageProcessing, processStallTimeout},
	} {
		jobs, err := w.repo.ListStalled(ctx, rule.stage, now.Add(-rule.timeout))
		if err != nil {
			logger.Errorf("watchdog: %s scan failed: %v", rule.stage, err)
			continue
		}
		for i := range jobs {
			stalled[jobs[i].UUID] = &jobs[i]
		}
	}

	reset := 0
	for _, job := range stalled {
		ok, err := w.reset(ctx, job)
		if err != nil {
			logger.Errorf("watchdog: failed to reset job %s: %v", job.UUID, err)
			continue
		}
		if ok {
			reset++
		}
	}
	return reset
}

// reset restarts the job's pipeline from its first stage. Partial remote
// state cannot be trusted after a stall, so remote refs are dropped too.
// Returns false when the job went terminal between the scan and the write.
func (w *Watchdog) reset(ctx context.Context, job *models.Job) (bool, error) {
	logger.WarnWithFields("watchdog resetting stalled job", map[string]interface{}{
		"job":        job.UUID,
		"stage":      job.Stage,
		"updated_at": job.UpdatedAt,
	})

	stuckStage := job.Stage
	w.engine.Purge(job.UUID)

	job.Status = models.JobStatusQueued
	job.Stage = job.FirstStage()
	job.Progress = 0
	job.Error = fmt.Sprintf("auto-reset by watchdog (stuck in %s)", stuckStage)
	job.ClearRemoteRefs()
	if err := w.repo.UpdateLive(ctx, job); err != nil {
		if errors.Is(err, repos.ErrJobGone) {
			return false, nil
		}
		return false, err
	}

	w.engine.enqueueFirst(job)
	return true, nil
}

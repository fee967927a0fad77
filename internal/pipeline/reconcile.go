package pipeline

import (
	"context"
	"errors"

	"github.com/clipforge/clipforge/internal/db/models"
	"github.com/clipforge/clipforge/internal/db/repos"
	"github.com/clipforge/clipforge/internal/logger"
)

// Reconciler re-enqueues jobs a previous process left mid-flight. It runs
// once, before any worker starts, so no job is silently dropped across a
// restart.
type Reconciler struct {
	repo   *repos.JobRepository
	engine *Engine
}

// NewReconciler creates a startup reconciler over the engine's queues
func NewReconciler(repo *repos.JobRepository, engine *Engine) *Reconciler {
	return &Reconciler{repo: repo, engine: engine}
}

// Reconcile scans all non-terminal jobs and re-enters each at its last safe
// checkpoint. Returns the number of jobs re-enqueued.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	jobs, err := r.repo.ListNonTerminal(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range jobs {
		job := jobs[i]
		queue, entryStage := r.checkpoint(&job)

		job.Status = models.JobStatusQueued
		job.Stage = entryStage
		if err := r.repo.UpdateLive(ctx, &job); err != nil {
			if errors.Is(err, repos.ErrJobGone) {
				continue
			}
			logger.Errorf("reconciler: failed to persist job %s: %v", job.UUID, err)
			continue
		}
		queue.Push(job.UUID)
		count++
		logger.InfoWithFields("reconciled job", map[string]interface{}{
			"job":   job.UUID,
			"kind":  job.Kind,
			"stage": entryStage,
		})
	}
	if count > 0 {
		logger.Infof("reconciler re-enqueued %d jobs left in flight", count)
	}
	return count, nil
}

// checkpoint maps a mid-flight job to the queue and entry stage it can
// safely restart from. Interrupted work restarts at the head of its stage;
// stages whose inputs were lost with the process restart from stage one.
func (r *Reconciler) checkpoint(job *models.Job) (*Queue, string) {
	if job.Kind == models.JobKindCut {
		switch job.Stage {
		case models.StageQueuedDownload, models.StageDownloading:
			return r.engine.cutDownloadQ, models.StageQueuedDownload
		default:
			// Any processing sub-stage restarts at the process queue; the
			// downloaded file is still on disk. Offload sub-stages rerun
			// from scratch since partial remote state is untrusted.
			job.ClearRemoteRefs()
			if job.DownloadedPath == "" {
				return r.engine.cutDownloadQ, models.StageQueuedDownload
			}
			return r.engine.cutProcessQ, models.StageQueuedProcess
		}
	}

	switch job.Stage {
	case models.StageQueuedGPU, models.StageProcessing:
		// The upload completed; resubmitting the remote job is an
		// idempotent retry as long as the remote paths survived
		if job.RemoteInputPath != "" && job.RemoteOutputPath != "" {
			return r.engine.upGPUQ, models.StageQueuedGPU
		}
	case models.StageQueuedResultDownload, models.StageDownloading:
		if job.RemoteOutputPath != "" {
			return r.engine.upDownloadQ, models.StageQueuedResultDownload
		}
	}
	// queued, ensuring_instance, uploading, or lost refs: full restart
	job.ClearRemoteRefs()
	return r.engine.upUploadQ, models.StageQueued
}

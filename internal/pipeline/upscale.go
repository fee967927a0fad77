package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clipforge/clipforge/internal/db/models"
	"github.com/clipforge/clipforge/internal/db/repos"
	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/internal/media"
	"github.com/clipforge/clipforge/internal/remote"
)

// gpuPollInterval is the delay between remote job status polls
const gpuPollInterval = 10 * time.Second

// UpscalePipeline holds the stage handlers for upscale jobs: upload the
// source to the GPU host, run the remote job, download the result.
type UpscalePipeline struct {
	repo     *repos.JobRepository
	manager  *remote.Manager
	transfer *remote.Transfer
	gpuHost  *remote.GPUHost
	prober   media.Prober
	clock    Clock
	// resultsDir receives downloaded outputs
	resultsDir string
}

// NewUpscalePipeline wires the upscale stage handlers
func NewUpscalePipeline(repo *repos.JobRepository, manager *remote.Manager, transfer *remote.Transfer, gpuHost *remote.GPUHost, prober media.Prober, clock Clock, resultsDir string) *UpscalePipeline {
	return &UpscalePipeline{
		repo:       repo,
		manager:    manager,
		transfer:   transfer,
		gpuHost:    gpuHost,
		prober:     prober,
		clock:      clock,
		resultsDir: resultsDir,
	}
}

// setStage persists a sub-stage transition. Progress never decreases within
// a run; the persisted updated_at is what keeps the watchdog off the job.
// The write is conditional on the row still being live so a cancel landing
// mid-stage is not overwritten.
func setStage(ctx context.Context, repo *repos.JobRepository, job *models.Job, stage string, progress int) error {
	job.Status = models.JobStatusRunning
	job.Stage = stage
	if progress > job.Progress {
		job.Progress = progress
	}
	return repo.UpdateLive(ctx, job)
}

// remoteOutcome classifies a remote-layer error: transient failures requeue,
// everything else fails the job
func remoteOutcome(err error) Outcome {
	if remote.IsTransient(err) {
		return RetryWith(err)
	}
	return Fail(err)
}

// ensureOutcome classifies an EnsureRunning failure. Start failures are
// never a permanent job failure; only missing configuration is.
func ensureOutcome(err error) Outcome {
	if errors.Is(err, remote.ErrNotConfigured) {
		return Fail(err)
	}
	return RetryWith(err)
}

// Upload brings the instance up and stages the input file on it
func (p *UpscalePipeline) Upload(ctx context.Context, job *models.Job) Outcome {
	if err := setStage(ctx, p.repo, job, models.StageEnsuringInstance, 5); err != nil {
		return RetryWith(err)
	}

	inst, err := p.manager.EnsureRunning(ctx)
	if err != nil {
		return ensureOutcome(err)
	}
	job.RemoteInstanceID = inst.ID

	if err := setStage(ctx, p.repo, job, models.StageUploading, 20); err != nil {
		return RetryWith(err)
	}

	remoteIn, remoteOut, err := p.transfer.Upload(ctx, inst, job.FilePath)
	if err != nil {
		return remoteOutcome(err)
	}

	job.RemoteInputPath = remoteIn
	job.RemoteOutputPath = remoteOut
	job.Progress = 35
	return Succeed()
}

// GPUProcess submits the remote job and polls it to a terminal state. The
// worker holds a GPU slot for the duration of this handler only.
func (p *UpscalePipeline) GPUProcess(ctx context.Context, job *models.Job) Outcome {
	if job.RemoteInputPath == "" || job.RemoteOutputPath == "" {
		return RetryWith(fmt.Errorf("job %s reached gpu stage without remote paths", job.UUID))
	}

	if err := setStage(ctx, p.repo, job, models.StageProcessing, 50); err != nil {
		return RetryWith(err)
	}

	inst, err := p.manager.EnsureRunning(ctx)
	if err != nil {
		return ensureOutcome(err)
	}

	remoteJobID, err := p.gpuHost.SubmitUpscale(ctx, inst, job.RemoteInputPath, job.RemoteOutputPath)
	if err != nil {
		return remoteOutcome(err)
	}
	job.RemoteJobID = remoteJobID
	if err := p.repo.UpdateLive(ctx, job); err != nil {
		return RetryWith(err)
	}

	status, outcome := p.pollRemoteJob(ctx, inst, job)
	if outcome != nil {
		return *outcome
	}
	if status != remote.GPUJobCompleted {
		return Fail(fmt.Errorf("remote job %s ended in state %q", remoteJobID, status))
	}

	job.Progress = 80
	return Succeed()
}

// pollRemoteJob polls until the remote job reaches a terminal state. Status
// read failures keep polling; the processing-stage watchdog timeout bounds
// the overall wait.
func (p *UpscalePipeline) pollRemoteJob(ctx context.Context, inst *remote.InstanceDetails, job *models.Job) (string, *Outcome) {
	for {
		select {
		case <-ctx.Done():
			o := RetryWith(ctx.Err())
			return "", &o
		default:
		}

		status, err := p.gpuHost.JobStatus(ctx, inst, job.RemoteJobID)
		if err != nil {
			logger.Debugf("remote job %s status poll failed: %v", job.RemoteJobID, err)
		} else {
			switch status {
			case remote.GPUJobCompleted, remote.GPUJobFailed:
				return status, nil
			}
			// Refresh updated_at so the watchdog sees live progress
			if err := p.repo.UpdateLive(ctx, job); err != nil {
				if errors.Is(err, repos.ErrJobGone) {
					o := RetryWith(err)
					return "", &o
				}
				logger.Warnf("failed to refresh job %s during poll: %v", job.UUID, err)
			}
		}
		p.clock.Sleep(gpuPollInterval)
	}
}

// DownloadResult fetches the remote output into local storage
func (p *UpscalePipeline) DownloadResult(ctx context.Context, job *models.Job) Outcome {
	if job.RemoteOutputPath == "" {
		return RetryWith(fmt.Errorf("job %s reached download stage without a remote output path", job.UUID))
	}

	if err := setStage(ctx, p.repo, job, models.StageDownloading, 90); err != nil {
		return RetryWith(err)
	}

	inst, err := p.manager.EnsureRunning(ctx)
	if err != nil {
		return ensureOutcome(err)
	}

	localPath, err := p.transfer.Download(ctx, inst, job.RemoteOutputPath, p.resultsDir)
	if err != nil {
		return remoteOutcome(err)
	}

	// A result that ffprobe cannot open means the remote output is bad, not
	// that the download flaked; re-running the download would fetch the same
	// broken file.
	if p.prober != nil {
		if err := p.prober.Probe(ctx, localPath); err != nil {
			return Fail(fmt.Errorf("downloaded result unreadable: %w", err))
		}
	}

	job.ResultPath = localPath
	return Succeed()
}

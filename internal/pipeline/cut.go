package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/clipforge/clipforge/internal/db/models"
	"github.com/clipforge/clipforge/internal/db/repos"
	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/internal/media"
	"github.com/clipforge/clipforge/internal/remote"
)

// GPUOffload bundles the remote collaborators a cut pipeline uses when clip
// cutting is offloaded to the GPU host. Nil means cut locally.
type GPUOffload struct {
	Manager  *remote.Manager
	Transfer *remote.Transfer
	GPUHost  *remote.GPUHost
}

// CutPipeline holds the stage handlers for cut jobs: fetch the source video,
// then derive clips from it, either locally or on the GPU host.
type CutPipeline struct {
	repo        *repos.JobRepository
	fetcher     media.Fetcher
	transcriber media.Transcriber
	selector    media.ClipSelector
	cutter      media.Cutter
	clock       Clock
	videosDir   string
	clipsDir    string
	offload     *GPUOffload
}

// NewCutPipeline wires the cut stage handlers
func NewCutPipeline(repo *repos.JobRepository, fetcher media.Fetcher, transcriber media.Transcriber, selector media.ClipSelector, cutter media.Cutter, clock Clock, videosDir, clipsDir string, offload *GPUOffload) *CutPipeline {
	return &CutPipeline{
		repo:        repo,
		fetcher:     fetcher,
		transcriber: transcriber,
		selector:    selector,
		cutter:      cutter,
		clock:       clock,
		videosDir:   videosDir,
		clipsDir:    clipsDir,
		offload:     offload,
	}
}

// Download fetches the source video into local storage
func (p *CutPipeline) Download(ctx context.Context, job *models.Job) Outcome {
	if err := setStage(ctx, p.repo, job, models.StageDownloading, 5); err != nil {
		return RetryWith(err)
	}

	res, err := p.fetcher.Fetch(ctx, job.URL, p.videosDir)
	if err != nil {
		return Fail(fmt.Errorf("video fetch failed: %w", err))
	}

	job.VideoID = res.VideoID
	job.OriginalName = res.Title
	job.DownloadedPath = res.LocalPath
	job.Progress = 25
	return Succeed()
}

// Process derives clips from the downloaded video. Sub-steps are reported
// through the persisted stage but share this one queue slot.
func (p *CutPipeline) Process(ctx context.Context, job *models.Job) Outcome {
	if job.DownloadedPath == "" {
		return Fail(fmt.Errorf("job %s has no downloaded file", job.UUID))
	}

	if job.Mode != models.CutModeAuto {
		return p.processSimple(ctx, job)
	}
	if p.offload != nil {
		return p.processOffloaded(ctx, job)
	}
	return p.processAuto(ctx, job)
}

// processSimple optionally trims the download; with no trim window the
// download itself is the result
func (p *CutPipeline) processSimple(ctx context.Context, job *models.Job) Outcome {
	if job.StartTime == 0 && job.EndTime == 0 {
		job.ProcessedPath = job.DownloadedPath
		job.Progress = 95
		return Succeed()
	}

	if err := setStage(ctx, p.repo, job, models.StageCutting, 80); err != nil {
		return RetryWith(err)
	}
	out, err := p.cutter.Trim(ctx, job.DownloadedPath, p.videosDir, job.StartTime, job.EndTime)
	if err != nil {
		return Fail(fmt.Errorf("trim failed: %w", err))
	}
	job.ProcessedPath = out
	job.Progress = 95
	return Succeed()
}

// processAuto runs transcription, clip selection, and local cutting
func (p *CutPipeline) processAuto(ctx context.Context, job *models.Job) Outcome {
	baseName := strings.TrimSuffix(filepath.Base(job.DownloadedPath), filepath.Ext(job.DownloadedPath))
	outDir := filepath.Join(p.clipsDir, baseName)
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return Fail(fmt.Errorf("failed to create clips directory: %w", err))
	}

	if err := setStage(ctx, p.repo, job, models.StageTranscribing, 40); err != nil {
		return RetryWith(err)
	}
	transcript, err := p.transcriber.Transcribe(ctx, job.DownloadedPath)
	if err != nil {
		return Fail(fmt.Errorf("transcription failed: %w", err))
	}
	transcriptPath := filepath.Join(outDir, baseName+"_transcript.json")
	if err := writeJSON(transcriptPath, transcript); err != nil {
		return Fail(err)
	}
	job.TranscriptPath = transcriptPath

	if err := setStage(ctx, p.repo, job, models.StageSelectingClips, 70); err != nil {
		return RetryWith(err)
	}
	clips, err := p.selector.SelectClips(ctx, transcript)
	if err != nil {
		return Fail(fmt.Errorf("clip selection failed: %w", err))
	}
	clipsPath := filepath.Join(outDir, baseName+"_clips.json")
	if err := writeJSON(clipsPath, clips); err != nil {
		return Fail(err)
	}
	job.ClipsJSONPath = clipsPath

	// No clips selected is a valid, empty result
	if len(clips) == 0 {
		logger.Infof("job %s: selector returned no clips", job.UUID)
		job.ClipsDir = outDir
		job.Progress = 95
		return Succeed()
	}

	if err := setStage(ctx, p.repo, job, models.StageCutting, 80); err != nil {
		return RetryWith(err)
	}
	files, err := p.cutter.Cut(ctx, job.DownloadedPath, clips, outDir)
	if err != nil {
		return Fail(fmt.Errorf("cutting failed: %w", err))
	}
	logger.Infof("job %s: produced %d clips in %s", job.UUID, len(files), outDir)

	job.ClipsDir = outDir
	job.Progress = 95
	return Succeed()
}

// processOffloaded mirrors the upscale upload/submit/poll/download sequence,
// producing an archive of clips on the GPU host
func (p *CutPipeline) processOffloaded(ctx context.Context, job *models.Job) Outcome {
	if err := setStage(ctx, p.repo, job, models.StageEnsuringInstance, 30); err != nil {
		return RetryWith(err)
	}
	inst, err := p.offload.Manager.EnsureRunning(ctx)
	if err != nil {
		return ensureOutcome(err)
	}
	job.RemoteInstanceID = inst.ID

	if err := setStage(ctx, p.repo, job, models.StageUploading, 40); err != nil {
		return RetryWith(err)
	}
	remoteIn, remoteOut, err := p.offload.Transfer.Upload(ctx, inst, job.DownloadedPath)
	if err != nil {
		return remoteOutcome(err)
	}
	job.RemoteInputPath = remoteIn
	job.RemoteOutputPath = strings.TrimSuffix(remoteOut, filepath.Ext(remoteOut)) + "_clips.tar"

	if err := setStage(ctx, p.repo, job, models.StageProcessing, 55); err != nil {
		return RetryWith(err)
	}
	remoteJobID, err := p.offload.GPUHost.SubmitCut(ctx, inst, job.RemoteInputPath, job.RemoteOutputPath)
	if err != nil {
		return remoteOutcome(err)
	}
	job.RemoteJobID = remoteJobID
	if err := p.repo.UpdateLive(ctx, job); err != nil {
		return RetryWith(err)
	}

	status, outcome := p.pollOffloaded(ctx, inst, job)
	if outcome != nil {
		return *outcome
	}
	if status != remote.GPUJobCompleted {
		return Fail(fmt.Errorf("remote cut job %s ended in state %q", remoteJobID, status))
	}

	if err := setStage(ctx, p.repo, job, models.StageDownloading, 85); err != nil {
		return RetryWith(err)
	}
	localPath, err := p.offload.Transfer.Download(ctx, inst, job.RemoteOutputPath, p.clipsDir)
	if err != nil {
		return remoteOutcome(err)
	}
	job.ClipsDir = localPath
	job.Progress = 95
	return Succeed()
}

func (p *CutPipeline) pollOffloaded(ctx context.Context, inst *remote.InstanceDetails, job *models.Job) (string, *Outcome) {
	for {
		select {
		case <-ctx.Done():
			o := RetryWith(ctx.Err())
			return "", &o
		default:
		}
		status, err := p.offload.GPUHost.JobStatus(ctx, inst, job.RemoteJobID)
		if err == nil {
			switch status {
			case remote.GPUJobCompleted, remote.GPUJobFailed:
				return status, nil
			}
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

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

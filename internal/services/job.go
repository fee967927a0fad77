// Package services provides business logic implementation for the API
package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/clipforge/clipforge/internal/db/models"
	"github.com/clipforge/clipforge/internal/db/repos"
	"github.com/clipforge/clipforge/internal/logger"
)

// Scheduler is the slice of the orchestration engine the service needs
type Scheduler interface {
	// Submit places a non-terminal job on its pipeline's entry queue
	Submit(job *models.Job) error
	// Purge drops a job id from every stage queue
	Purge(id string) int
}

// Job handles job-related operations
type Job struct {
	repo   *repos.JobRepository
	engine Scheduler
	// workDir is the root under which all job-scoped files live; deletion
	// never touches anything outside it
	workDir string
}

// NewJobService creates a new instance of the job service
func NewJobService(repo *repos.JobRepository, engine Scheduler, workDir string) *Job {
	return &Job{
		repo:    repo,
		engine:  engine,
		workDir: workDir,
	}
}

// CreateCut creates and submits a cut job
func (s *Job) CreateCut(ctx context.Context, url string, mode models.CutMode, start, end float64) (*models.Job, error) {
	job := &models.Job{
		UUID:      uuid.New().String(),
		Kind:      models.JobKindCut,
		URL:       url,
		Mode:      mode,
		StartTime: start,
		EndTime:   end,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if err := s.engine.Submit(job); err != nil {
		return nil, err
	}
	return job, nil
}

// CreateUpscale creates and submits an upscale job for a local file
func (s *Job) CreateUpscale(ctx context.Context, filePath string) (*models.Job, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("input file not found: %s", filePath)
	}
	job := &models.Job{
		UUID:     uuid.New().String(),
		Kind:     models.JobKindUpscale,
		FilePath: filePath,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	if err := s.engine.Submit(job); err != nil {
		return nil, err
	}
	return job, nil
}

// Get retrieves a job by its external id
func (s *Job) Get(ctx context.Context, id string) (*models.Job, error) {
	return s.repo.GetByUUID(ctx, id)
}

// List retrieves jobs with pagination and optional filters
func (s *Job) List(ctx context.Context, opts *models.ListOptions) ([]models.Job, error) {
	return s.repo.List(ctx, opts)
}

// Retry resets a failed or canceled job to its first stage and resubmits it
func (s *Job) Retry(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.repo.GetByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsTerminal() {
		return nil, fmt.Errorf("job %s is still in flight", id)
	}

	job.Status = models.JobStatusQueued
	job.Stage = job.FirstStage()
	job.Progress = 0
	job.Error = ""
	job.ClearRemoteRefs()
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, err
	}
	if err := s.engine.Submit(job); err != nil {
		return nil, err
	}
	logger.Infof("job %s resubmitted", id)
	return job, nil
}

// Cancel marks a job canceled and purges it from the stage queues. A stage
// already running is not preempted; its final persist fails against the
// canceled status and the worker drops the job.
func (s *Job) Cancel(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.repo.GetByUUID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}

	s.engine.Purge(id)
	job.Status = models.JobStatusCanceled
	if err := s.repo.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Delete purges the job from every queue, removes its record, and removes
// local files that provably live under the managed working directory
func (s *Job) Delete(ctx context.Context, id string) error {
	job, err := s.repo.GetByUUID(ctx, id)
	if err != nil {
		return err
	}

	s.engine.Purge(id)

	for _, path := range []string{
		job.DownloadedPath,
		job.ProcessedPath,
		job.ClipsDir,
		job.TranscriptPath,
		job.ClipsJSONPath,
		job.ResultPath,
	} {
		s.removeScoped(path)
	}

	return s.repo.Delete(ctx, id)
}

// removeScoped removes path only when it is contained in the work dir.
// Anything else was never created by this service and stays untouched.
func (s *Job) removeScoped(path string) {
	if path == "" || s.workDir == "" {
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	rel, err := filepath.Rel(s.workDir, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		logger.Warnf("refusing to delete %s: outside working directory", path)
		return
	}
	if err := os.RemoveAll(abs); err != nil {
		logger.Warnf("failed to delete %s: %v", abs, err)
	}
}

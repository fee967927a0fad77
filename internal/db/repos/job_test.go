package repos

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/clipforge/clipforge/internal/db/models"
)

type JobRepositoryTestSuite struct {
	DBRepositoryTestSuite
}

func TestJobRepository(t *testing.T) {
	suite.Run(t, new(JobRepositoryTestSuite))
}

func (s *JobRepositoryTestSuite) TestCreate() {
	job := s.createTestJob(models.JobKindCut)
	s.NotZero(job.ID)
	s.Equal(models.JobStatusQueued, job.Status)
	s.Equal(models.StageQueuedDownload, job.Stage)

	// Upscale jobs enter their own pipeline
	up := s.createTestJob(models.JobKindUpscale)
	s.Equal(models.StageQueued, up.Stage)

	// Missing payload should fail validation
	err := s.jobRepo.Create(s.ctx, &models.Job{
		UUID: uuid.New().String(),
		Kind: models.JobKindCut,
	})
	s.Error(err)
	s.Contains(err.Error(), "requires a url")
}

func (s *JobRepositoryTestSuite) TestGetByUUID() {
	original := s.createTestJob(models.JobKindCut)

	found, err := s.jobRepo.GetByUUID(s.ctx, original.UUID)
	s.NoError(err)
	s.Equal(original.ID, found.ID)
	s.Equal(original.URL, found.URL)

	_, err = s.jobRepo.GetByUUID(s.ctx, uuid.New().String())
	s.ErrorIs(err, gorm.ErrRecordNotFound)
}

func (s *JobRepositoryTestSuite) TestList() {
	cut := s.createTestJob(models.JobKindCut)
	up := s.createTestJob(models.JobKindUpscale)

	done := s.createTestJob(models.JobKindCut)
	done.Status = models.JobStatusDone
	s.Require().NoError(s.jobRepo.Update(s.ctx, done))

	jobs, err := s.jobRepo.List(s.ctx, &models.ListOptions{Limit: 10})
	s.NoError(err)
	s.Len(jobs, 3)

	queued := models.JobStatusQueued
	jobs, err = s.jobRepo.List(s.ctx, &models.ListOptions{Limit: 10, Status: &queued})
	s.NoError(err)
	s.Len(jobs, 2)

	upscale := models.JobKindUpscale
	jobs, err = s.jobRepo.List(s.ctx, &models.ListOptions{Limit: 10, Kind: &upscale})
	s.NoError(err)
	s.Len(jobs, 1)
	s.Equal(up.UUID, jobs[0].UUID)

	jobs, err = s.jobRepo.List(s.ctx, &models.ListOptions{Limit: 1, Offset: 2})
	s.NoError(err)
	s.Len(jobs, 1)
	_ = cut
}

func (s *JobRepositoryTestSuite) TestUpdateStatus() {
	job := s.createTestJob(models.JobKindCut)

	err := s.jobRepo.UpdateStatus(s.ctx, job.UUID, models.JobStatusCanceled)
	s.NoError(err)

	found, err := s.jobRepo.GetByUUID(s.ctx, job.UUID)
	s.NoError(err)
	s.Equal(models.JobStatusCanceled, found.Status)
}

func (s *JobRepositoryTestSuite) TestUpdateLive() {
	job := s.createTestJob(models.JobKindUpscale)

	job.Status = models.JobStatusRunning
	job.Stage = models.StageUploading
	job.Progress = 20
	s.NoError(s.jobRepo.UpdateLive(s.ctx, job))

	found, err := s.jobRepo.GetByUUID(s.ctx, job.UUID)
	s.NoError(err)
	s.Equal(models.JobStatusRunning, found.Status)
	s.Equal(models.StageUploading, found.Stage)
	s.Equal(20, found.Progress)

	// A cancel persisted behind the caller's back wins over the stale record
	s.NoError(s.jobRepo.UpdateStatus(s.ctx, job.UUID, models.JobStatusCanceled))
	job.Status = models.JobStatusDone
	job.Stage = models.StageDone
	s.ErrorIs(s.jobRepo.UpdateLive(s.ctx, job), ErrJobGone)

	found, err = s.jobRepo.GetByUUID(s.ctx, job.UUID)
	s.NoError(err)
	s.Equal(models.JobStatusCanceled, found.Status)
	s.Equal(models.StageUploading, found.Stage)

	// Deleted rows report the same way
	gone := s.createTestJob(models.JobKindCut)
	s.NoError(s.jobRepo.Delete(s.ctx, gone.UUID))
	gone.Status = models.JobStatusRunning
	s.ErrorIs(s.jobRepo.UpdateLive(s.ctx, gone), ErrJobGone)
}

func (s *JobRepositoryTestSuite) TestDelete() {
	job := s.createTestJob(models.JobKindCut)

	s.NoError(s.jobRepo.Delete(s.ctx, job.UUID))

	_, err := s.jobRepo.GetByUUID(s.ctx, job.UUID)
	s.ErrorIs(err, gorm.ErrRecordNotFound)
}

func (s *JobRepositoryTestSuite) TestListNonTerminal() {
	active := s.createTestJob(models.JobKindCut)

	failed := s.createTestJob(models.JobKindCut)
	failed.Status = models.JobStatusError
	s.Require().NoError(s.jobRepo.Update(s.ctx, failed))

	canceled := s.createTestJob(models.JobKindUpscale)
	canceled.Status = models.JobStatusCanceled
	s.Require().NoError(s.jobRepo.Update(s.ctx, canceled))

	jobs, err := s.jobRepo.ListNonTerminal(s.ctx)
	s.NoError(err)
	s.Len(jobs, 1)
	s.Equal(active.UUID, jobs[0].UUID)
}

func (s *JobRepositoryTestSuite) TestListStalled() {
	fresh := s.createTestJob(models.JobKindUpscale)
	fresh.Status = models.JobStatusRunning
	fresh.Stage = models.StageUploading
	s.Require().NoError(s.jobRepo.Update(s.ctx, fresh))

	stale := s.createTestJob(models.JobKindUpscale)
	stale.Status = models.JobStatusRunning
	stale.Stage = models.StageUploading
	s.Require().NoError(s.jobRepo.Update(s.ctx, stale))
	s.backdate(stale, time.Now().Add(-45*time.Minute))

	// A terminal job at the same stage never counts as stalled
	dead := s.createTestJob(models.JobKindUpscale)
	dead.Status = models.JobStatusError
	dead.Stage = models.StageUploading
	s.Require().NoError(s.jobRepo.Update(s.ctx, dead))
	s.backdate(dead, time.Now().Add(-45*time.Minute))

	jobs, err := s.jobRepo.ListStalled(s.ctx, models.StageUploading, time.Now().Add(-30*time.Minute))
	s.NoError(err)
	s.Len(jobs, 1)
	s.Equal(stale.UUID, jobs[0].UUID)
}

func (s *JobRepositoryTestSuite) TestListStalledQueued() {
	entryStages := []string{
		models.StageQueuedDownload,
		models.StageQueuedProcess,
		models.StageQueued,
		models.StageQueuedResultDownload,
	}

	// Sitting at an entry stage is a normal backlog, not a stall
	waiting := s.createTestJob(models.JobKindCut)
	s.backdate(waiting, time.Now().Add(-20*time.Minute))

	// Queued status at a mid-pipeline stage with no recent persist is a stall
	orphan := s.createTestJob(models.JobKindCut)
	orphan.Stage = models.StageDownloading
	s.Require().NoError(s.jobRepo.Update(s.ctx, orphan))
	s.backdate(orphan, time.Now().Add(-20*time.Minute))

	jobs, err := s.jobRepo.ListStalledQueued(s.ctx, entryStages, time.Now().Add(-10*time.Minute))
	s.NoError(err)
	s.Len(jobs, 1)
	s.Equal(orphan.UUID, jobs[0].UUID)
}

package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/clipforge/clipforge/internal/db/models"
	"github.com/clipforge/clipforge/internal/db/repos"
)

// fakeScheduler records submissions and purges
type fakeScheduler struct {
	submitted []string
	purged    []string
}

func (f *fakeScheduler) Submit(job *models.Job) error {
	f.submitted = append(f.submitted, job.UUID)
	return nil
}

func (f *fakeScheduler) Purge(id string) int {
	f.purged = append(f.purged, id)
	return 0
}

type JobServiceTestSuite struct {
	suite.Suite
	ctx       context.Context
	repo      *repos.JobRepository
	scheduler *fakeScheduler
	workDir   string
	service   *Job
}

func TestJobService(t *testing.T) {
	suite.Run(t, new(JobServiceTestSuite))
}

func (s *JobServiceTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(s.T(), err)
	require.NoError(s.T(), db.AutoMigrate(&models.Job{}))

	s.ctx = context.Background()
	s.repo = repos.NewJobRepository(db)
	s.scheduler = &fakeScheduler{}
	s.workDir = s.T().TempDir()
	s.service = NewJobService(s.repo, s.scheduler, s.workDir)
}

func (s *JobServiceTestSuite) TestCreateCut() {
	job, err := s.service.CreateCut(s.ctx, "https://example.com/v/abc", models.CutModeAuto, 0, 0)
	s.NoError(err)
	s.NotEmpty(job.UUID)
	s.Equal(models.JobStatusQueued, job.Status)
	s.Equal(models.StageQueuedDownload, job.Stage)
	s.Equal([]string{job.UUID}, s.scheduler.submitted)
}

func (s *JobServiceTestSuite) TestCreateUpscale() {
	input := filepath.Join(s.workDir, "input.mp4")
	s.Require().NoError(os.WriteFile(input, []byte("data"), 0o600))

	job, err := s.service.CreateUpscale(s.ctx, input)
	s.NoError(err)
	s.Equal(models.StageQueued, job.Stage)
	s.Equal([]string{job.UUID}, s.scheduler.submitted)

	// A missing input file is rejected before anything is persisted
	_, err = s.service.CreateUpscale(s.ctx, filepath.Join(s.workDir, "missing.mp4"))
	s.Error(err)
	jobs, err := s.service.List(s.ctx, &models.ListOptions{Limit: 10})
	s.NoError(err)
	s.Len(jobs, 1)
}

func (s *JobServiceTestSuite) TestRetry() {
	job, err := s.service.CreateCut(s.ctx, "https://example.com/v/abc", models.CutModeSimple, 0, 0)
	s.Require().NoError(err)

	// In-flight jobs cannot be retried
	_, err = s.service.Retry(s.ctx, job.UUID)
	s.Error(err)
	s.Contains(err.Error(), "still in flight")

	job.Status = models.JobStatusError
	job.Stage = models.StageDownloading
	job.Error = "video fetch failed"
	job.RemoteJobID = "rjob-1"
	s.Require().NoError(s.repo.Update(s.ctx, job))

	retried, err := s.service.Retry(s.ctx, job.UUID)
	s.NoError(err)
	s.Equal(models.JobStatusQueued, retried.Status)
	s.Equal(models.StageQueuedDownload, retried.Stage)
	s.Zero(retried.Progress)
	s.Empty(retried.Error)
	s.False(retried.HasRemoteRefs())
	s.Len(s.scheduler.submitted, 2)
}

func (s *JobServiceTestSuite) TestCancel() {
	job, err := s.service.CreateCut(s.ctx, "https://example.com/v/abc", models.CutModeSimple, 0, 0)
	s.Require().NoError(err)

	canceled, err := s.service.Cancel(s.ctx, job.UUID)
	s.NoError(err)
	s.Equal(models.JobStatusCanceled, canceled.Status)
	s.Equal([]string{job.UUID}, s.scheduler.purged)

	// Canceling again is a no-op
	again, err := s.service.Cancel(s.ctx, job.UUID)
	s.NoError(err)
	s.Equal(models.JobStatusCanceled, again.Status)
	s.Len(s.scheduler.purged, 1)
}

func (s *JobServiceTestSuite) TestDeleteRemovesScopedFiles() {
	job, err := s.service.CreateCut(s.ctx, "https://example.com/v/abc", models.CutModeSimple, 0, 0)
	s.Require().NoError(err)

	inside := filepath.Join(s.workDir, "videos", "abc.mp4")
	s.Require().NoError(os.MkdirAll(filepath.Dir(inside), 0o750))
	s.Require().NoError(os.WriteFile(inside, []byte("data"), 0o600))

	outsideDir := s.T().TempDir()
	outside := filepath.Join(outsideDir, "keep.mp4")
	s.Require().NoError(os.WriteFile(outside, []byte("data"), 0o600))

	job.DownloadedPath = inside
	job.ProcessedPath = outside
	s.Require().NoError(s.repo.Update(s.ctx, job))

	s.NoError(s.service.Delete(s.ctx, job.UUID))

	_, err = s.service.Get(s.ctx, job.UUID)
	s.ErrorIs(err, gorm.ErrRecordNotFound)
	s.NoFileExists(inside)
	// Files outside the working directory are never touched
	s.FileExists(outside)
	s.Equal([]string{job.UUID}, s.scheduler.purged)
}

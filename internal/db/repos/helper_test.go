package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/clipforge/clipforge/internal/db/models"
)

// DBRepositoryTestSuite provides a base test suite for repository tests
type DBRepositoryTestSuite struct {
	suite.Suite
	db      *gorm.DB
	ctx     context.Context
	jobRepo *JobRepository
}

func (s *DBRepositoryTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err, "Failed to create in-memory database")

	err = db.AutoMigrate(&models.Job{})
	require.NoError(s.T(), err, "Failed to run database migrations")

	s.db = db
	s.ctx = context.Background()
	s.jobRepo = NewJobRepository(db)
}

func (s *DBRepositoryTestSuite) TearDownTest() {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		require.NoError(s.T(), err)
		require.NoError(s.T(), sqlDB.Close())
	}
}

// createTestJob inserts a cut job with sensible defaults
func (s *DBRepositoryTestSuite) createTestJob(kind models.JobKind) *models.Job {
	job := &models.Job{
		UUID: uuid.New().String(),
		Kind: kind,
		URL:  "https://example.com/v/abc",
		Mode: models.CutModeSimple,
	}
	if kind == models.JobKindUpscale {
		job.URL = ""
		job.Mode = ""
		job.FilePath = "/data/videos/input.mp4"
	}
	err := s.jobRepo.Create(s.ctx, job)
	s.Require().NoError(err)
	return job
}

// backdate rewrites a job's updated_at without touching anything else
func (s *DBRepositoryTestSuite) backdate(job *models.Job, to time.Time) {
	err := s.db.Model(&models.Job{}).
		Where("uuid = ?", job.UUID).
		UpdateColumn(models.JobUpdatedAtField, to).Error
	s.Require().NoError(err)
}

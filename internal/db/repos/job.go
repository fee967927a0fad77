package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/clipforge/clipforge/internal/db/models"
)

// ErrJobGone reports a conditional update that matched no live row: the job
// reached a terminal status or was deleted while the caller held it.
var ErrJobGone = errors.New("job is no longer live")

var terminalJobStatuses = []models.JobStatus{
	models.JobStatusDone,
	models.JobStatusError,
	models.JobStatusCanceled,
}

// JobRepository handles database operations for jobs
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new instance of JobRepository
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{
		db: db,
	}
}

// Create creates a new job in the database
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByUUID retrieves a job by its external id
func (r *JobRepository) GetByUUID(ctx context.Context, uuid string) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).
		Where(models.Job{UUID: uuid}).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// List retrieves jobs with pagination and optional status/kind filters
func (r *JobRepository) List(ctx context.Context, opts *models.ListOptions) ([]models.Job, error) {
	var jobs []models.Job
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if opts != nil {
		if opts.Status != nil {
			query = query.Where(models.Job{Status: *opts.Status})
		}
		if opts.Kind != nil {
			query = query.Where(models.Job{Kind: *opts.Kind})
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		query = query.Offset(opts.Offset)
	}
	err := query.Find(&jobs).Error
	return jobs, err
}

// Update persists the full job record unconditionally. Caller-driven
// transitions (retry, cancel) use it; worker persists go through UpdateLive.
func (r *JobRepository) Update(ctx context.Context, job *models.Job) error {
	return r.db.WithContext(ctx).Save(job).Error
}

// UpdateLive persists the full job record only while the stored row is still
// non-terminal. A cancel or delete that lands while a worker holds a stale
// in-memory record therefore wins over the worker's write.
func (r *JobRepository) UpdateLive(ctx context.Context, job *models.Job) error {
	res := r.db.WithContext(ctx).Model(&models.Job{}).
		Where(models.Job{UUID: job.UUID}).
		Where("status NOT IN ?", terminalJobStatuses).
		Select("*").Omit("id", "created_at").
		Updates(job)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobGone
	}
	return nil
}

// UpdateStatus updates only the status of a job
func (r *JobRepository) UpdateStatus(ctx context.Context, uuid string, status models.JobStatus) error {
	return r.db.WithContext(ctx).Model(&models.Job{}).
		Where(models.Job{UUID: uuid}).
		Update(models.JobStatusField, status).Error
}

// Delete removes a job record
func (r *JobRepository) Delete(ctx context.Context, uuid string) error {
	return r.db.WithContext(ctx).
		Where(models.Job{UUID: uuid}).
		Delete(&models.Job{}).Error
}

// ListNonTerminal retrieves all jobs whose status still allows progress
func (r *JobRepository) ListNonTerminal(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.JobStatus{models.JobStatusQueued, models.JobStatusRunning}).
		Find(&jobs).Error
	return jobs, err
}

// ListStalled retrieves non-terminal jobs at the given stage whose last
// mutation is older than the cutoff
func (r *JobRepository) ListStalled(ctx context.Context, stage string, cutoff time.Time) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("status IN ?", []models.JobStatus{models.JobStatusQueued, models.JobStatusRunning}).
		Where("stage = ?", stage).
		Where("updated_at < ?", cutoff).
		Find(&jobs).Error
	return jobs, err
}

// ListStalledQueued retrieves jobs that claim queued status but left their
// queue-entry stage and then stopped persisting progress before the cutoff
func (r *JobRepository) ListStalledQueued(ctx context.Context, entryStages []string, cutoff time.Time) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("status = ?", models.JobStatusQueued).
		Where("stage NOT IN ?", entryStages).
		Where("updated_at < ?", cutoff).
		Find(&jobs).Error
	return jobs, err
}

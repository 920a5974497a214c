package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"catalog-service/internal/models"
)

type ImportJobsRepository struct {
	db *gorm.DB
}

func NewImportJobsRepository(db *gorm.DB) *ImportJobsRepository {
	return &ImportJobsRepository{db: db}
}

// Create persists a new import job
func (r *ImportJobsRepository) Create(ctx context.Context, job *models.ImportJob) error {
	job.CreatedAt = time.Now()
	job.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a fresh job snapshot
func (r *ImportJobsRepository) GetByID(ctx context.Context, id string) (*models.ImportJob, error) {
	var job models.ImportJob
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// List retrieves jobs newest first with pagination
func (r *ImportJobsRepository) List(ctx context.Context, page, perPage int) ([]models.ImportJob, int64, error) {
	var jobs []models.ImportJob
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.ImportJob{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * perPage
	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Offset(offset).Limit(perPage).
		Find(&jobs).Error; err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// UpdateProgress applies a partial update as a single UPDATE keyed by id.
// The job is never mutated through a held in-memory instance; this keeps a
// slow pipeline from clobbering a concurrently issued cancellation. A job
// that no longer exists is a silent no-op.
func (r *ImportJobsRepository) UpdateProgress(ctx context.Context, id string, upd models.JobProgressUpdate) error {
	fields := upd.Fields()
	if len(fields) == 0 {
		return nil
	}
	fields["updated_at"] = time.Now()
	return r.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("id = ?", id).
		Updates(fields).Error
}

// ResetForRetry zeroes counters, clears the error message and re-queues the
// job. Only meaningful for failed or cancelled jobs; the caller checks that.
func (r *ImportJobsRepository) ResetForRetry(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         models.ImportStatusQueued,
			"total_rows":     0,
			"processed_rows": 0,
			"success_count":  0,
			"error_count":    0,
			"error_message":  nil,
			"updated_at":     time.Now(),
		}).Error
}

// IsNotFound reports whether err is the store's missing-record error
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

package mysql

import (
	"context"
	"errors"

	"github.com/wyfcoding/pricecatalog/internal/ingestion/domain"
	"github.com/wyfcoding/pricecatalog/pkg/db"
	"gorm.io/gorm"
)

type uploadJobRepository struct{ db *db.DB }

func NewUploadJobRepository(database *db.DB) domain.UploadJobRepository {
	return &uploadJobRepository{db: database}
}

func (r *uploadJobRepository) Save(ctx context.Context, job *domain.UploadJob) error {
	return r.db.WithContext(ctx).Save(job).Error
}

func (r *uploadJobRepository) GetByJobID(ctx context.Context, jobID string) (*domain.UploadJob, error) {
	var job domain.UploadJob
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (r *uploadJobRepository) RequestCancel(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).
		Model(&domain.UploadJob{}).
		Where("job_id = ?", jobID).
		Update("cancel_requested", true).Error
}

func (r *uploadJobRepository) ListRecent(ctx context.Context, limit int) ([]domain.UploadJob, error) {
	var jobs []domain.UploadJob
	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *uploadJobRepository) Delete(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Delete(&domain.UploadJob{}).Error
}

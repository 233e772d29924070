package mysql

import (
	"context"

	"github.com/wyfcoding/pricecatalog/internal/catalog/domain"
	"github.com/wyfcoding/pricecatalog/pkg/db"
)

type historyRepository struct{ db *db.DB }

func NewHistoryRepository(database *db.DB) domain.HistoryRepository {
	return &historyRepository{db: database}
}

func (r *historyRepository) ListByProduct(ctx context.Context, productID uint, limit int) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	q := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, wrapStoreErr(err)
	}
	return entries, nil
}

func (r *historyRepository) ListByUpload(ctx context.Context, uploadID string, changeType domain.ChangeType, offset, limit int) ([]domain.HistoryEntry, int64, error) {
	q := r.db.WithContext(ctx).Model(&domain.HistoryEntry{}).Where("upload_id = ?", uploadID)
	if changeType != "" {
		q = q.Where("change_type = ?", changeType)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrapStoreErr(err)
	}

	var entries []domain.HistoryEntry
	err := q.Order("id DESC").Offset(offset).Limit(limit).Find(&entries).Error
	if err != nil {
		return nil, 0, wrapStoreErr(err)
	}
	return entries, total, nil
}

func (r *historyRepository) ListAllByUpload(ctx context.Context, uploadID string) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	err := r.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return entries, nil
}

func (r *historyRepository) CountByUpload(ctx context.Context, uploadID string) (map[domain.ChangeType]int64, error) {
	type row struct {
		ChangeType domain.ChangeType
		Count      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&domain.HistoryEntry{}).
		Select("change_type, COUNT(*) AS count").
		Where("upload_id = ?", uploadID).
		Group("change_type").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	counts := make(map[domain.ChangeType]int64, len(rows))
	for _, r := range rows {
		counts[r.ChangeType] = r.Count
	}
	return counts, nil
}

func (r *historyRepository) DeleteByUpload(ctx context.Context, uploadID string) error {
	err := r.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Delete(&domain.HistoryEntry{}).Error
	return wrapStoreErr(err)
}

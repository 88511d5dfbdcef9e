package persistence

import (
	"MemoLink/internal/modules/memory/domain/entity"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/pkg/xerr"
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type vectorOrphanRepositoryImpl struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewVectorOrphanRepository(db *gorm.DB, timeout time.Duration) repository.VectorOrphanRepository {
	if timeout <= 0 {
		timeout = defaultRepoTimeout
	}
	return &vectorOrphanRepositoryImpl{db: db, timeout: timeout}
}

func (r *vectorOrphanRepositoryImpl) Record(ctx context.Context, memoryID, ownerID, reason string) error {
	now := nowMillis()
	row := &entity.VectorOrphan{
		MemoryId:    memoryID,
		OwnerId:     ownerID,
		Reason:      truncate(reason, 255),
		NextRetryAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "memory_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "next_retry_at", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return nil
}

func (r *vectorOrphanRepositoryImpl) ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.VectorOrphan, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var rows []*entity.VectorOrphan
	err := r.db.WithContext(ctx).
		Where("next_retry_at <= ?", now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return rows, nil
}

func (r *vectorOrphanRepositoryImpl) Resolve(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.db.WithContext(ctx).Delete(&entity.VectorOrphan{}, id).Error; err != nil {
		return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return nil
}

func (r *vectorOrphanRepositoryImpl) MarkRetry(ctx context.Context, id int64, nextRetryAt time.Time, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.db.WithContext(ctx).Model(&entity.VectorOrphan{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"next_retry_at": nextRetryAt,
			"reason":        truncate(reason, 255),
			"updated_at":    nowMillis(),
		}).Error
	if err != nil {
		return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return nil
}

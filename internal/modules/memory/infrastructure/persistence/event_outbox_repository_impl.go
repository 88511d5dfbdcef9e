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

type eventOutboxRepositoryImpl struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewEventOutboxRepository(db *gorm.DB, timeout time.Duration) repository.EventOutboxRepository {
	if timeout <= 0 {
		timeout = defaultRepoTimeout
	}
	return &eventOutboxRepositoryImpl{db: db, timeout: timeout}
}

func (r *eventOutboxRepositoryImpl) Enqueue(ctx context.Context, row *entity.EventOutbox) error {
	if row == nil || row.Topic == "" {
		return xerr.Wrapf(xerr.ErrInvalidInput, "outbox topic is required")
	}
	now := nowMillis()
	row.Id = 0
	row.PublishStatus = entity.OutboxPending
	row.RetryCount = 0
	if row.NextRetryAt.IsZero() {
		row.NextRetryAt = now
	}
	row.CreatedAt = now
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return nil
}

func (r *eventOutboxRepositoryImpl) ClaimForPublish(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*entity.EventOutbox, error) {
	if limit <= 0 {
		limit = 100
	}
	if lease <= 0 {
		lease = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var rows []*entity.EventOutbox
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&entity.EventOutbox{})
		// SQLite 没有行锁，单连接下事务本身已互斥
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.
			Where("publish_status IN ?", []string{entity.OutboxPending, entity.OutboxFailed, entity.OutboxPublishing}).
			Where("next_retry_at <= ?", now).
			Order("id ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]int64, 0, len(rows))
		for _, row := range rows {
			ids = append(ids, row.Id)
		}
		return tx.Model(&entity.EventOutbox{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"publish_status": entity.OutboxPublishing,
				"next_retry_at":  now.Add(lease),
			}).Error
	})
	if err != nil {
		return nil, xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return rows, nil
}

func (r *eventOutboxRepositoryImpl) MarkPublished(ctx context.Context, id int64, publishedAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.db.WithContext(ctx).Model(&entity.EventOutbox{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"publish_status": entity.OutboxPublished,
			"published_at":   publishedAt,
			"last_error":     "",
		}).Error
	if err != nil {
		return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return nil
}

func (r *eventOutboxRepositoryImpl) MarkPublishFailed(ctx context.Context, id int64, nextRetryAt time.Time, lastErr string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.db.WithContext(ctx).Model(&entity.EventOutbox{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"publish_status": entity.OutboxFailed,
			"retry_count":    gorm.Expr("retry_count + 1"),
			"next_retry_at":  nextRetryAt,
			"last_error":     truncate(lastErr, 500),
		}).Error
	if err != nil {
		return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return nil
}

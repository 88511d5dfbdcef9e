package persistence

import (
	"MemoLink/internal/modules/memory/domain/entity"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/pkg/util"
	"MemoLink/pkg/xerr"
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

const defaultRepoTimeout = 5 * time.Second

type memoryRepositoryImpl struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewMemoryRepository 创建基于 gorm 的记忆仓储，timeout 约束每次数据库调用
func NewMemoryRepository(db *gorm.DB, timeout time.Duration) repository.MemoryRepository {
	if timeout <= 0 {
		timeout = defaultRepoTimeout
	}
	return &memoryRepositoryImpl{db: db, timeout: timeout}
}

// AutoMigrate 创建/更新记忆相关表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entity.MemoryRecord{},
		&entity.MemoryTag{},
		&entity.VectorOrphan{},
		&entity.EventOutbox{},
	)
}

func (r *memoryRepositoryImpl) Create(ctx context.Context, rec *entity.MemoryRecord) error {
	if rec == nil || strings.TrimSpace(rec.Id) == "" || strings.TrimSpace(rec.OwnerId) == "" {
		return xerr.Wrapf(xerr.ErrInvalidInput, "memory id/owner is required")
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	now := nowMillis()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	if rec.ContentHash == "" {
		rec.ContentHash = util.Sha256Hex(rec.Content)
	}
	if rec.EmbeddingState == "" {
		rec.EmbeddingState = entity.EmbeddingStatePending
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		return replaceTags(tx, rec.Id, rec.OwnerId, rec.Tags)
	})
	if err != nil {
		return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return nil
}

func (r *memoryRepositoryImpl) GetByID(ctx context.Context, id, ownerID string) (*entity.MemoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return takeOwned(r.db.WithContext(ctx), id, ownerID)
}

func (r *memoryRepositoryImpl) FindByIDs(ctx context.Context, ownerID string, ids []string) ([]*entity.MemoryRecord, error) {
	if len(ids) == 0 || strings.TrimSpace(ownerID) == "" {
		return []*entity.MemoryRecord{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var recs []*entity.MemoryRecord
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND id IN ?", ownerID, ids).
		Find(&recs).Error
	if err != nil {
		return nil, xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return recs, nil
}

func (r *memoryRepositoryImpl) Update(ctx context.Context, id, ownerID string, patch entity.MemoryPatch) (*entity.MemoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out *entity.MemoryRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := takeOwned(tx, id, ownerID)
		if err != nil {
			return err
		}
		// updated_at 单调递增，即使系统时钟回拨或同一毫秒内连续更新
		now := nowMillis()
		if !now.After(rec.UpdatedAt) {
			now = rec.UpdatedAt.Add(time.Millisecond)
		}
		cols := []string{"updated_at"}
		rec.UpdatedAt = now

		if patch.Title != nil {
			rec.Title = *patch.Title
			cols = append(cols, "title")
		}
		if patch.Content != nil {
			rec.Content = *patch.Content
			rec.ContentHash = util.Sha256Hex(rec.Content)
			rec.EmbeddingState = entity.EmbeddingStatePending
			rec.EmbeddingError = ""
			rec.NextSyncAt = sql.NullTime{}
			cols = append(cols, "content", "content_hash", "embedding_state", "embedding_error", "next_sync_at")
		}
		if patch.Tags != nil {
			rec.Tags = *patch.Tags
			if rec.Tags == nil {
				rec.Tags = []string{}
			}
			cols = append(cols, "tags")
		}
		if err := tx.Model(rec).Select(cols).Updates(rec).Error; err != nil {
			return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
		}
		if patch.Tags != nil {
			if err := replaceTags(tx, rec.Id, rec.OwnerId, rec.Tags); err != nil {
				return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
			}
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, asRepoError(err)
	}
	return out, nil
}

func (r *memoryRepositoryImpl) Delete(ctx context.Context, id, ownerID string) (*entity.MemoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var out *entity.MemoryRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := takeOwned(tx, id, ownerID)
		if err != nil {
			return err
		}
		if err := tx.Where("id = ? AND owner_id = ?", id, ownerID).Delete(&entity.MemoryRecord{}).Error; err != nil {
			return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
		}
		if err := tx.Where("memory_id = ?", id).Delete(&entity.MemoryTag{}).Error; err != nil {
			return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, asRepoError(err)
	}
	return out, nil
}

func (r *memoryRepositoryImpl) List(ctx context.Context, q repository.ListQuery) ([]*entity.MemoryRecord, int64, error) {
	owner := strings.TrimSpace(q.OwnerID)
	if owner == "" {
		return nil, 0, xerr.Wrapf(xerr.ErrInvalidInput, "owner is required")
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	base := func() *gorm.DB {
		db := r.db.WithContext(ctx).Model(&entity.MemoryRecord{}).Where("owner_id = ?", owner)
		if len(q.Tags) > 0 {
			sub := r.db.Model(&entity.MemoryTag{}).Select("memory_id").Where("owner_id = ? AND tag IN ?", owner, q.Tags)
			db = db.Where("id IN (?)", sub)
		}
		if s := strings.TrimSpace(q.Search); s != "" {
			like := "%" + escapeLike(strings.ToLower(s)) + "%"
			db = db.Where("(LOWER(content) LIKE ? ESCAPE '!' OR LOWER(title) LIKE ? ESCAPE '!')", like, like)
		}
		return db
	}

	var total int64
	if err := base().Count(&total).Error; err != nil {
		return nil, 0, xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	var recs []*entity.MemoryRecord
	if total == 0 {
		return recs, 0, nil
	}
	err := base().
		Order("created_at DESC").Order("id ASC").
		Offset((page - 1) * limit).Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, 0, xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return recs, total, nil
}

func (r *memoryRepositoryImpl) UpdateEmbeddingState(ctx context.Context, id, contentHash string, state entity.EmbeddingState, errMsg string) (bool, error) {
	if !state.Valid() {
		return false, xerr.Wrapf(xerr.ErrInvalidInput, "invalid embedding state %q", state)
	}
	updates := map[string]interface{}{
		"embedding_state": state,
		"embedding_error": truncate(errMsg, 255),
		"sync_attempts":   gorm.Expr("sync_attempts + 1"),
	}
	if state == entity.EmbeddingStateSynced {
		updates["embedded_at"] = sql.NullTime{Time: nowMillis(), Valid: true}
	}
	if state != entity.EmbeddingStateFailed {
		updates["next_sync_at"] = nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	res := r.db.WithContext(ctx).Model(&entity.MemoryRecord{}).
		Where("id = ? AND content_hash = ?", id, contentHash).
		Updates(updates)
	if res.Error != nil {
		return false, xerr.Wrap(xerr.ErrRepositoryUnavailable, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *memoryRepositoryImpl) MarkStale(ctx context.Context, id, contentHash string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.db.WithContext(ctx).Model(&entity.MemoryRecord{}).
		Where("id = ? AND content_hash <> ?", id, contentHash).
		Updates(map[string]interface{}{
			"embedding_state": entity.EmbeddingStatePending,
			"embedding_error": "",
			"next_sync_at":    nil,
		}).Error
	if err != nil {
		return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return nil
}

func (r *memoryRepositoryImpl) ListForResync(ctx context.Context, now, pendingBefore time.Time, limit int) ([]*entity.MemoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var recs []*entity.MemoryRecord
	err := r.db.WithContext(ctx).
		Where("(embedding_state = ? AND (next_sync_at IS NULL OR next_sync_at <= ?)) OR (embedding_state = ? AND updated_at < ?)",
			entity.EmbeddingStateFailed, now, entity.EmbeddingStatePending, pendingBefore).
		Order("sync_attempts ASC").Order("updated_at ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return recs, nil
}

func (r *memoryRepositoryImpl) DeferResync(ctx context.Context, id, contentHash string, next time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.db.WithContext(ctx).Model(&entity.MemoryRecord{}).
		Where("id = ? AND content_hash = ? AND embedding_state = ?", id, contentHash, entity.EmbeddingStateFailed).
		Update("next_sync_at", next).Error
	if err != nil {
		return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
	}
	return nil
}

func takeOwned(db *gorm.DB, id, ownerID string) (*entity.MemoryRecord, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(ownerID) == "" {
		return nil, xerr.Wrapf(xerr.ErrNotFound, "memory %q", id)
	}
	var rec entity.MemoryRecord
	err := db.Where("id = ? AND owner_id = ?", id, ownerID).Take(&rec).Error
	if err == nil {
		if rec.Tags == nil {
			rec.Tags = []string{}
		}
		return &rec, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, xerr.Wrapf(xerr.ErrNotFound, "memory %q", id)
	}
	return nil, xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
}

func replaceTags(tx *gorm.DB, memoryID, ownerID string, tags []string) error {
	if err := tx.Where("memory_id = ?", memoryID).Delete(&entity.MemoryTag{}).Error; err != nil {
		return err
	}
	if len(tags) == 0 {
		return nil
	}
	rows := make([]entity.MemoryTag, 0, len(tags))
	for _, t := range tags {
		rows = append(rows, entity.MemoryTag{MemoryId: memoryID, OwnerId: ownerID, Tag: t})
	}
	return tx.Create(&rows).Error
}

// asRepoError 事务中返回的错误若已归类则原样返回，否则归为存储不可用
func asRepoError(err error) error {
	if _, ok := xerr.From(err); ok {
		return err
	}
	return xerr.Wrap(xerr.ErrRepositoryUnavailable, err)
}

func escapeLike(s string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(s)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func nowMillis() time.Time {
	return time.Now().Truncate(time.Millisecond)
}

package repository

import (
	"MemoLink/internal/modules/memory/domain/entity"
	"context"
	"time"
)

// ListQuery 记忆分页查询条件
type ListQuery struct {
	OwnerID string
	Page    int      // 从 1 开始
	Limit   int      // 每页条数
	Tags    []string // 命中任一标签即可
	Search  string   // content / title 不区分大小写的子串匹配
}

// MemoryRepository 记忆主记录仓储
//
// 除 Create 外的所有读写都按 ownerID 过滤；记录不存在与属于他人返回同一个 xerr.ErrNotFound。
// 存储层故障统一返回 xerr.ErrRepositoryUnavailable。
type MemoryRepository interface {
	Create(ctx context.Context, rec *entity.MemoryRecord) error
	GetByID(ctx context.Context, id, ownerID string) (*entity.MemoryRecord, error)
	// FindByIDs 批量读取 ownerID 名下的记录，不存在的 id 直接忽略
	FindByIDs(ctx context.Context, ownerID string, ids []string) ([]*entity.MemoryRecord, error)
	Update(ctx context.Context, id, ownerID string, patch entity.MemoryPatch) (*entity.MemoryRecord, error)
	Delete(ctx context.Context, id, ownerID string) (*entity.MemoryRecord, error)
	List(ctx context.Context, q ListQuery) ([]*entity.MemoryRecord, int64, error)

	// UpdateEmbeddingState 仅当记录的 content_hash 仍等于 contentHash 时写入状态，返回是否生效
	UpdateEmbeddingState(ctx context.Context, id, contentHash string, state entity.EmbeddingState, errMsg string) (bool, error)
	// MarkStale 内容已被更新（content_hash != contentHash）时把状态重置为 PENDING
	MarkStale(ctx context.Context, id, contentHash string) error
	// ListForResync 返回 next_sync_at 已到期的 FAILED 记录以及 updated_at 早于 pendingBefore 的 PENDING 记录
	ListForResync(ctx context.Context, now, pendingBefore time.Time, limit int) ([]*entity.MemoryRecord, error)
	// DeferResync 推迟 FAILED 记录的下一次对账重试；内容已变化时不生效
	DeferResync(ctx context.Context, id, contentHash string, next time.Time) error
}

// VectorOrphanRepository 删除失败的向量登记表
type VectorOrphanRepository interface {
	Record(ctx context.Context, memoryID, ownerID, reason string) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*entity.VectorOrphan, error)
	Resolve(ctx context.Context, id int64) error
	MarkRetry(ctx context.Context, id int64, nextRetryAt time.Time, reason string) error
}

// EventOutboxRepository 事件发件箱
type EventOutboxRepository interface {
	Enqueue(ctx context.Context, row *entity.EventOutbox) error
	// ClaimForPublish 认领到期的 pending/failed 事件并标记为 publishing；
	// publishing 超过 lease 未完成的事件视为投递进程已退出，可被重新认领
	ClaimForPublish(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*entity.EventOutbox, error)
	MarkPublished(ctx context.Context, id int64, publishedAt time.Time) error
	MarkPublishFailed(ctx context.Context, id int64, nextRetryAt time.Time, lastErr string) error
}

package pipeline

import (
	"context"
	"fmt"
	"time"

	"MemoLink/internal/modules/memory/domain/entity"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/internal/modules/memory/infrastructure/mq"
	"MemoLink/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

// SyncSnapshot 触发同步时记录的不可变快照，同步全程只使用这里的值
type SyncSnapshot struct {
	ID          string
	OwnerID     string
	Content     string
	Title       string
	Tags        []string
	CreatedAt   time.Time
	ContentHash string
}

// SnapshotOf 从刚写入成功的记录中截取快照
func SnapshotOf(rec *entity.MemoryRecord) SyncSnapshot {
	tags := make([]string, len(rec.Tags))
	copy(tags, rec.Tags)
	return SyncSnapshot{
		ID:          rec.Id,
		OwnerID:     rec.OwnerId,
		Content:     rec.Content,
		Title:       rec.Title,
		Tags:        tags,
		CreatedAt:   rec.CreatedAt,
		ContentHash: rec.ContentHash,
	}
}

// SyncOutcome 一次同步的可观测结果
type SyncOutcome struct {
	MemoryID string
	State    entity.EmbeddingState
	// Applied 状态是否写回；内容已变更或记录已删除时为 false
	Applied bool
	// Stale 快照已过期，记录被重置为 PENDING 等待后续同步
	Stale         bool
	Err           error
	StateWriteErr error
	EmbedMs       int64
	UpsertMs      int64
	DurationMs    int64
}

// RemoveOutcome 删除记忆后清理向量的结果
type RemoveOutcome struct {
	MemoryID       string
	CleanupPending bool
	Err            error
}

// SyncPipeline 记忆向量同步（Prepare → Embed → Upsert → StatusUpdate）
//
// 同步失败只体现在 embeddingState 与 SyncOutcome 上，从不返回给写入调用方。
type SyncPipeline struct {
	repo    repository.MemoryRepository
	orphans repository.VectorOrphanRepository
	gw      repository.EmbeddingGateway
	events  *mq.EventEmitter
	r       compose.Runnable[*SyncSnapshot, *SyncOutcome]
}

func NewSyncPipeline(repo repository.MemoryRepository, orphans repository.VectorOrphanRepository, gw repository.EmbeddingGateway, events *mq.EventEmitter) (*SyncPipeline, error) {
	if repo == nil {
		return nil, fmt.Errorf("memory repository is nil")
	}
	if gw == nil {
		return nil, fmt.Errorf("embedding gateway is nil")
	}
	p := &SyncPipeline{repo: repo, orphans: orphans, gw: gw, events: events}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Sync 对快照执行一次完整同步；返回值总是非 nil
func (p *SyncPipeline) Sync(ctx context.Context, snap SyncSnapshot) *SyncOutcome {
	out, err := p.r.Invoke(ctx, &snap)
	if err != nil {
		// 图执行本身出错（例如 ctx 已取消），记录保持 PENDING 交给对账任务
		zlog.Error("memory sync graph failed", zap.String("memory_id", snap.ID), zap.Error(err))
		return &SyncOutcome{MemoryID: snap.ID, State: entity.EmbeddingStatePending, Err: err}
	}
	return out
}

// Remove 在主记录删除后清理向量；失败时登记孤儿向量，删除本身仍视为成功
func (p *SyncPipeline) Remove(ctx context.Context, memoryID, ownerID string) RemoveOutcome {
	out := RemoveOutcome{MemoryID: memoryID}
	err := p.gw.Delete(ctx, memoryID)
	if err == nil {
		return out
	}

	out.Err = err
	out.CleanupPending = true
	zlog.Warn("memory vector delete failed, recorded as orphan",
		zap.String("memory_id", memoryID),
		zap.String("owner_id", ownerID),
		zap.Error(err))

	if p.orphans != nil {
		if rerr := p.orphans.Record(ctx, memoryID, ownerID, err.Error()); rerr != nil {
			zlog.Error("record vector orphan failed", zap.String("memory_id", memoryID), zap.Error(rerr))
		}
	}
	if eerr := p.events.Emit(ctx, mq.MemoryEvent{
		Type:     mq.EventVectorOrphaned,
		MemoryID: memoryID,
		OwnerID:  ownerID,
		Reason:   err.Error(),
	}); eerr != nil {
		zlog.Warn("publish vector orphaned event failed", zap.String("memory_id", memoryID), zap.Error(eerr))
	}
	return out
}

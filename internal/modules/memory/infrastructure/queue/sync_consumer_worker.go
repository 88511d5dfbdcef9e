package queue

import (
	"context"
	"errors"

	"MemoLink/internal/modules/memory/domain/entity"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/internal/modules/memory/infrastructure/mq"
	"MemoLink/internal/modules/memory/infrastructure/pipeline"
	"MemoLink/pkg/xerr"
	"MemoLink/pkg/zlog"

	"go.uber.org/zap"
)

// SyncConsumerWorker 消费 memory.sync_requested 事件并执行向量同步
type SyncConsumerWorker struct {
	consumer mq.Consumer
	repo     repository.MemoryRepository
	sync     *pipeline.SyncCoordinator
}

func NewSyncConsumerWorker(consumer mq.Consumer, repo repository.MemoryRepository, sync *pipeline.SyncCoordinator) *SyncConsumerWorker {
	return &SyncConsumerWorker{consumer: consumer, repo: repo, sync: sync}
}

func (w *SyncConsumerWorker) Run(ctx context.Context) error {
	if w == nil || w.consumer == nil {
		return errors.New("consumer is nil")
	}
	if w.repo == nil || w.sync == nil {
		return errors.New("sync worker dependencies are nil")
	}
	return w.consumer.Run(ctx, w)
}

// Handle 只有存储不可用时返回错误，让消息重新投递；其余情况一律确认
func (w *SyncConsumerWorker) Handle(ctx context.Context, msg mq.Message) error {
	ev, err := mq.ParseMemoryEvent(msg)
	if err != nil || ev.MemoryID == "" || ev.OwnerID == "" {
		zlog.Warn("memory sync consumer invalid message", zap.String("topic", msg.Topic), zap.Error(err))
		return nil
	}
	if ev.Type != mq.EventSyncRequested {
		return nil
	}

	rec, err := w.repo.GetByID(ctx, ev.MemoryID, ev.OwnerID)
	if err != nil {
		if errors.Is(err, xerr.ErrNotFound) {
			// 记录已删除
			return nil
		}
		zlog.Warn("memory sync consumer load record failed", zap.String("memory_id", ev.MemoryID), zap.Error(err))
		return err
	}
	// 内容已变化且已同步过，说明有更新的同步请求已完成
	if ev.ContentHash != "" && ev.ContentHash != rec.ContentHash && rec.EmbeddingState == entity.EmbeddingStateSynced {
		return nil
	}

	out := w.sync.Run(ctx, pipeline.SnapshotOf(rec))
	if out.StateWriteErr != nil && errors.Is(out.StateWriteErr, xerr.ErrRepositoryUnavailable) {
		return out.StateWriteErr
	}
	return nil
}

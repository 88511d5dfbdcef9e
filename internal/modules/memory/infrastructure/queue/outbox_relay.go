package queue

import (
	"context"
	"errors"
	"time"

	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/internal/modules/memory/infrastructure/mq"
	"MemoLink/pkg/zlog"

	"go.uber.org/zap"
)

// OutboxRelay 轮询发件箱并把事件投递到真实的 Kafka publisher
type OutboxRelay struct {
	repo         repository.EventOutboxRepository
	pub          mq.Publisher
	batchSize    int
	pollInterval time.Duration
	lease        time.Duration
	now          func() time.Time
}

func NewOutboxRelay(repo repository.EventOutboxRepository, pub mq.Publisher, batchSize int, pollInterval time.Duration) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &OutboxRelay{
		repo:         repo,
		pub:          pub,
		batchSize:    batchSize,
		pollInterval: pollInterval,
		lease:        time.Minute,
		now:          time.Now,
	}
}

func (r *OutboxRelay) Run(ctx context.Context) error {
	if r == nil || r.repo == nil || r.pub == nil {
		return errors.New("outbox relay dependencies are nil")
	}
	backoff := r.pollInterval
	for {
		n, err := r.RunOnce(ctx)
		switch {
		case err != nil:
			zlog.Warn("outbox relay run failed", zap.Error(err))
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		case n > 0:
			// 还有积压，立即继续
			backoff = r.pollInterval
			continue
		default:
			backoff = r.pollInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// RunOnce 认领一批到期事件并逐条投递，返回成功投递数
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	now := r.now()
	rows, err := r.repo.ClaimForPublish(ctx, now, r.lease, r.batchSize)
	if err != nil {
		return 0, err
	}
	published := 0
	for _, row := range rows {
		msg, err := mq.OutboxMessage(row)
		if err != nil {
			// 载荷损坏，推迟到最大退避后再看
			if mErr := r.repo.MarkPublishFailed(ctx, row.Id, now.Add(maxRetryDelay), err.Error()); mErr != nil {
				zlog.Warn("outbox mark failed error", zap.Int64("outbox_id", row.Id), zap.Error(mErr))
			}
			zlog.Warn("outbox message decode failed", zap.Int64("outbox_id", row.Id), zap.Error(err))
			continue
		}
		if _, err := r.pub.Publish(ctx, msg); err != nil {
			next := now.Add(computeNextRetry(row.RetryCount))
			if mErr := r.repo.MarkPublishFailed(ctx, row.Id, next, err.Error()); mErr != nil {
				zlog.Warn("outbox mark failed error", zap.Int64("outbox_id", row.Id), zap.Error(mErr))
			}
			zlog.Warn("outbox publish failed",
				zap.Int64("outbox_id", row.Id),
				zap.String("topic", row.Topic),
				zap.Int("retry_count", row.RetryCount),
				zap.Error(err))
			continue
		}
		if err := r.repo.MarkPublished(ctx, row.Id, r.now()); err != nil {
			// 已投递但未能标记，租约到期后会重复投递一次
			zlog.Warn("outbox mark published failed", zap.Int64("outbox_id", row.Id), zap.Error(err))
			continue
		}
		published++
	}
	return published, nil
}

const maxRetryDelay = 5 * time.Minute

func computeNextRetry(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	d := 500 * time.Millisecond
	for i := 0; i < retryCount && d < maxRetryDelay; i++ {
		d *= 2
	}
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

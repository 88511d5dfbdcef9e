package service

import (
	"context"
	"sync"
	"time"

	"MemoLink/internal/modules/memory/application/dto/respond"
	"MemoLink/internal/modules/memory/domain/entity"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/internal/modules/memory/infrastructure/pipeline"
	"MemoLink/pkg/zlog"

	"go.uber.org/zap"
)

const (
	orphanBaseBackoff = 10 * time.Second
	orphanMaxBackoff  = 5 * time.Minute
	resyncBaseBackoff = time.Minute
	resyncMaxBackoff  = time.Hour
)

type ReconcileOptions struct {
	BatchSize    int
	PendingGrace time.Duration
}

// ReconcileService 对账：重新同步 FAILED / 超时 PENDING 的记录，清理删除失败留下的孤儿向量
type ReconcileService interface {
	ResyncStale(ctx context.Context) (synced, failed, stale int, err error)
	SweepOrphans(ctx context.Context) (cleaned, retrying int, err error)
	// RunOnce 依次执行两项任务；已有任务在运行时直接跳过
	RunOnce(ctx context.Context) (*respond.ReconcileRespond, error)
}

type reconcileServiceImpl struct {
	repo    repository.MemoryRepository
	orphans repository.VectorOrphanRepository
	gw      repository.EmbeddingGateway
	syncer  *pipeline.SyncCoordinator
	opts    ReconcileOptions
	running sync.Mutex
	now     func() time.Time
}

func NewReconcileService(repo repository.MemoryRepository, orphans repository.VectorOrphanRepository, gw repository.EmbeddingGateway, syncer *pipeline.SyncCoordinator, opts ReconcileOptions) ReconcileService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.PendingGrace <= 0 {
		opts.PendingGrace = 5 * time.Minute
	}
	return &reconcileServiceImpl{repo: repo, orphans: orphans, gw: gw, syncer: syncer, opts: opts, now: time.Now}
}

func (s *reconcileServiceImpl) RunOnce(ctx context.Context) (*respond.ReconcileRespond, error) {
	if !s.running.TryLock() {
		return &respond.ReconcileRespond{Skipped: true}, nil
	}
	defer s.running.Unlock()

	start := time.Now()
	out := &respond.ReconcileRespond{}
	var err error
	out.Resynced, out.ResyncFailed, out.ResyncStale, err = s.ResyncStale(ctx)
	if err != nil {
		return nil, err
	}
	out.OrphansCleaned, out.OrphansRetrying, err = s.SweepOrphans(ctx)
	if err != nil {
		return nil, err
	}
	out.DurationMs = time.Since(start).Milliseconds()
	zlog.Info("memory reconcile done",
		zap.Int("resynced", out.Resynced),
		zap.Int("resync_failed", out.ResyncFailed),
		zap.Int("resync_stale", out.ResyncStale),
		zap.Int("orphans_cleaned", out.OrphansCleaned),
		zap.Int("orphans_retrying", out.OrphansRetrying),
		zap.Int64("duration_ms", out.DurationMs))
	return out, nil
}

func (s *reconcileServiceImpl) ResyncStale(ctx context.Context) (synced, failed, stale int, err error) {
	now := s.now()
	recs, err := s.repo.ListForResync(ctx, now, now.Add(-s.opts.PendingGrace), s.opts.BatchSize)
	if err != nil {
		return 0, 0, 0, err
	}
	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		out := s.syncer.Run(ctx, pipeline.SnapshotOf(rec))
		switch {
		case out.Stale:
			stale++
		case out.State == entity.EmbeddingStateSynced && out.Err == nil:
			synced++
		default:
			failed++
			if !out.Applied {
				continue
			}
			next := now.Add(ResyncBackoff(rec.SyncAttempts + 1))
			if derr := s.repo.DeferResync(ctx, rec.Id, rec.ContentHash, next); derr != nil {
				return synced, failed, stale, derr
			}
			zlog.Warn("memory resync failed",
				zap.String("memory_id", rec.Id),
				zap.Int("sync_attempts", rec.SyncAttempts+1),
				zap.Time("next_sync_at", next),
				zap.Error(out.Err))
		}
	}
	return synced, failed, stale, nil
}

func (s *reconcileServiceImpl) SweepOrphans(ctx context.Context) (cleaned, retrying int, err error) {
	now := s.now()
	rows, err := s.orphans.ListDue(ctx, now, s.opts.BatchSize)
	if err != nil {
		return 0, 0, err
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			break
		}
		if derr := s.gw.Delete(ctx, row.MemoryId); derr != nil {
			next := now.Add(OrphanBackoff(row.RetryCount + 1))
			if merr := s.orphans.MarkRetry(ctx, row.Id, next, derr.Error()); merr != nil {
				return cleaned, retrying, merr
			}
			retrying++
			zlog.Warn("vector orphan cleanup failed",
				zap.String("memory_id", row.MemoryId),
				zap.Int("retry_count", row.RetryCount+1),
				zap.Time("next_retry_at", next),
				zap.Error(derr))
			continue
		}
		if rerr := s.orphans.Resolve(ctx, row.Id); rerr != nil {
			return cleaned, retrying, rerr
		}
		cleaned++
	}
	return cleaned, retrying, nil
}

// ResyncBackoff 按累计同步次数退避：1 次 1 分钟，之后翻倍，上限 1 小时
func ResyncBackoff(attempts int) time.Duration {
	return expBackoff(attempts, resyncBaseBackoff, resyncMaxBackoff)
}

// OrphanBackoff 指数退避：10s、20s、40s…，上限 5 分钟
func OrphanBackoff(attempt int) time.Duration {
	return expBackoff(attempt, orphanBaseBackoff, orphanMaxBackoff)
}

func expBackoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return d
}

package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"MemoLink/internal/modules/memory/infrastructure/mq"
	"MemoLink/pkg/zlog"

	"go.uber.org/zap"
)

type SyncMode string

const (
	// SyncModeInline 写入成功后在当前请求内同步，受 budget 限制
	SyncModeInline SyncMode = "inline"
	// SyncModeAsync 写入成功后交给后台 goroutine
	SyncModeAsync SyncMode = "async"
	// SyncModeKafka 发布同步请求，由消费组执行
	SyncModeKafka SyncMode = "kafka"
)

func ParseSyncMode(s string) SyncMode {
	switch SyncMode(strings.ToLower(strings.TrimSpace(s))) {
	case SyncModeAsync:
		return SyncModeAsync
	case SyncModeKafka:
		return SyncModeKafka
	default:
		return SyncModeInline
	}
}

// SyncCoordinator 决定同步在哪里执行；同步使用脱离请求取消的 context
type SyncCoordinator struct {
	p        *SyncPipeline
	mode     SyncMode
	budget   time.Duration
	requests *mq.EventEmitter
	wg       sync.WaitGroup
}

func NewSyncCoordinator(p *SyncPipeline, mode SyncMode, budget time.Duration, requests *mq.EventEmitter) *SyncCoordinator {
	if budget <= 0 {
		budget = 30 * time.Second
	}
	if mode == SyncModeKafka && !requests.Enabled() {
		zlog.Warn("sync mode kafka without publisher, falling back to async")
		mode = SyncModeAsync
	}
	return &SyncCoordinator{p: p, mode: mode, budget: budget, requests: requests}
}

func (c *SyncCoordinator) Mode() SyncMode { return c.mode }

// Trigger 触发一次同步；inline 模式返回结果，其余模式返回 nil
func (c *SyncCoordinator) Trigger(ctx context.Context, snap SyncSnapshot) *SyncOutcome {
	switch c.mode {
	case SyncModeKafka:
		err := c.requests.Emit(ctx, mq.MemoryEvent{
			Type:        mq.EventSyncRequested,
			MemoryID:    snap.ID,
			OwnerID:     snap.OwnerID,
			ContentHash: snap.ContentHash,
		})
		if err == nil {
			return nil
		}
		zlog.Warn("publish sync request failed, syncing in background",
			zap.String("memory_id", snap.ID), zap.Error(err))
		c.goSync(ctx, snap)
		return nil
	case SyncModeAsync:
		c.goSync(ctx, snap)
		return nil
	default:
		return c.Run(ctx, snap)
	}
}

// Run 在 budget 内同步执行，不受调用方取消影响
func (c *SyncCoordinator) Run(ctx context.Context, snap SyncSnapshot) *SyncOutcome {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.budget)
	defer cancel()
	return c.p.Sync(sctx, snap)
}

// Remove 向量清理同样脱离请求取消
func (c *SyncCoordinator) Remove(ctx context.Context, memoryID, ownerID string) RemoveOutcome {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.budget)
	defer cancel()
	return c.p.Remove(sctx, memoryID, ownerID)
}

func (c *SyncCoordinator) goSync(ctx context.Context, snap SyncSnapshot) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.Run(ctx, snap)
	}()
}

// Wait 等待后台同步全部结束，用于优雅退出与测试
func (c *SyncCoordinator) Wait() {
	c.wg.Wait()
}

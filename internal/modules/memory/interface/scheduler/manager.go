package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MemoLink/internal/modules/memory/application/service"
	"MemoLink/pkg/zlog"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Locker 跨实例互斥（Redis 分布式锁），未配置时只在进程内互斥
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

const reconcileLockKey = "memolink:reconcile:lock"

type Manager struct {
	cron      *cron.Cron
	reconcile service.ReconcileService
	spec      string
	locker    Locker
	lockTTL   time.Duration
	timeout   time.Duration

	mu      sync.Mutex
	entryID cron.EntryID
	started bool
}

// NewManager spec 使用标准 5 段表达式或 @every 描述符
func NewManager(reconcile service.ReconcileService, spec string, locker Locker, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Manager{
		cron:      cron.New(),
		reconcile: reconcile,
		spec:      spec,
		locker:    locker,
		lockTTL:   timeout,
		timeout:   timeout,
	}
}

func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	id, err := m.cron.AddFunc(m.spec, m.tick)
	if err != nil {
		return fmt.Errorf("invalid reconcile cron %q: %w", m.spec, err)
	}
	m.entryID = id
	m.cron.Start()
	m.started = true
	zlog.Info("memory reconcile scheduler started", zap.String("cron", m.spec))
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.mu.Unlock()
	<-m.cron.Stop().Done()
}

func (m *Manager) tick() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error("memory reconcile panic", zap.Any("panic", r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	if m.locker != nil {
		ok, err := m.locker.Lock(ctx, reconcileLockKey, m.lockTTL)
		if err != nil {
			zlog.Warn("reconcile lock failed, running locally", zap.Error(err))
		} else if !ok {
			zlog.Debug("reconcile held by another instance")
			return
		} else {
			defer func() { _ = m.locker.Unlock(context.Background(), reconcileLockKey) }()
		}
	}

	if _, err := m.reconcile.RunOnce(ctx); err != nil {
		zlog.Error("memory reconcile failed", zap.Error(err))
	}
}

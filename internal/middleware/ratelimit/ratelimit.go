package ratelimit

import (
	"context"
	"strconv"
	"sync"
	"time"

	"MemoLink/pkg/back"
	"MemoLink/pkg/redis"
	"MemoLink/pkg/xerr"
	"MemoLink/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const keyPrefix = "memolink:ratelimit:"

// Store 固定窗口计数器
type Store interface {
	// Incr 计数加一，返回窗口内的计数与窗口剩余时间
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisStore 多实例共享的计数器
type RedisStore struct{}

func (RedisStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	return redis.IncrWindow(ctx, keyPrefix+key, window)
}

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryStore 进程内计数器，窗口到期后整体重置
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
	sweepAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*window), now: time.Now}
}

func (s *MemoryStore) Incr(_ context.Context, key string, win time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweep(now)

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(win)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

// sweep 周期性清理过期窗口
func (s *MemoryStore) sweep(now time.Time) {
	if now.Before(s.sweepAt) {
		return
	}
	for k, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, k)
		}
	}
	s.sweepAt = now.Add(time.Minute)
}

// Limit 按客户端 IP 限流；存储故障时放行
func Limit(store Store, max int, win time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		count, remaining, err := store.Incr(c.Request.Context(), c.ClientIP(), win)
		if err != nil {
			zlog.Warn("rate limit store unavailable", zap.Error(err))
			c.Next()
			return
		}
		left := int64(max) - count
		if left < 0 {
			left = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(max))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(left, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(remaining.Seconds()), 10))
		if count > int64(max) {
			c.Header("Retry-After", strconv.FormatInt(int64(remaining.Seconds())+1, 10))
			back.Error(c, xerr.TooManyRequests, xerr.ErrTooManyRequests.Message)
			c.Abort()
			return
		}
		c.Next()
	}
}

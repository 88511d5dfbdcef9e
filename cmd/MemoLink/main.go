package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpServer "MemoLink/api/http"
	"MemoLink/internal/config"
	"MemoLink/internal/initial"
	"MemoLink/internal/middleware/ratelimit"
	"MemoLink/internal/modules/memory/infrastructure/pipeline"
	"MemoLink/internal/modules/memory/infrastructure/queue"
	memoryHandler "MemoLink/internal/modules/memory/interface/http"
	"MemoLink/internal/modules/memory/interface/scheduler"
	"MemoLink/pkg/redis"
	"MemoLink/pkg/util/myjwt"
	"MemoLink/pkg/zlog"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Globals 各子命令共享的运行参数
type Globals struct {
	Conf *config.Config
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("memolink"),
		kong.Description("记忆存储与基于记忆的问答服务"),
		kong.UsageOnError(),
		kongVars(),
	)

	// .env 中通常放 provider 的 API Key，不存在时忽略
	_ = godotenv.Load(cli.Env)

	conf, err := config.LoadConfig(cli.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败，使用默认配置: %v\n", err)
	}
	config.SetConfig(conf)

	if err := zlog.Init(zlog.Options{
		LogPath:    conf.LogConfig.LogPath,
		Level:      conf.LogConfig.Level,
		MaxSizeMB:  conf.LogConfig.MaxSizeMB,
		MaxBackups: conf.LogConfig.MaxBackups,
		MaxAgeDays: conf.LogConfig.MaxAgeDays,
		Console:    conf.LogConfig.Console,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
	}
	defer zlog.Sync()

	kctx.FatalIfErrorf(kctx.Run(&Globals{Conf: conf}))
}

func (ServeCmd) Run(g *Globals) error {
	conf := g.Conf
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, conf)
	if err != nil {
		return err
	}
	defer app.Close()

	checks := []memoryHandler.HealthCheck{{
		Name:     "mysql",
		Required: true,
		Check: func(ctx context.Context) error {
			sqlDB, err := app.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}

	var (
		limitStore ratelimit.Store
		locker     scheduler.Locker
	)
	if initial.InitRedis(conf) {
		defer func() { _ = redis.Close() }()
		limitStore = ratelimit.RedisStore{}
		locker = redis.Locker{}
		checks = append(checks, memoryHandler.HealthCheck{Name: "redis", Check: redis.Ping})
	}

	if conf.ReconcileConfig.Enabled {
		mgr := scheduler.NewManager(app.Reconcile, conf.ReconcileConfig.Cron, locker, 0)
		if err := mgr.Start(); err != nil {
			return err
		}
		defer mgr.Stop()
	}

	workerDone := make(chan struct{})
	if app.Sync.Mode() == pipeline.SyncModeKafka {
		consumer, err := initial.NewSyncConsumer(conf)
		if err != nil {
			return fmt.Errorf("sync consumer: %w", err)
		}
		worker := queue.NewSyncConsumerWorker(consumer, app.Repo, app.Sync)
		go func() {
			defer close(workerDone)
			if err := worker.Run(ctx); err != nil {
				zlog.Error("sync consumer stopped", zap.Error(err))
			}
		}()
	} else {
		close(workerDone)
	}

	relayDone := make(chan struct{})
	if app.Relay != nil {
		go func() {
			defer close(relayDone)
			if err := app.Relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				zlog.Error("outbox relay stopped", zap.Error(err))
			}
		}()
	} else {
		close(relayDone)
	}

	router := httpServer.NewRouter(httpServer.Deps{
		Conf:           conf,
		Version:        version,
		MemorySvc:      app.Memory,
		QuerySvc:       app.Query,
		ReconcileSvc:   app.Reconcile,
		HealthChecks:   checks,
		RateLimitStore: limitStore,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.MainConfig.Host, conf.MainConfig.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("服务器正在启动", zap.String("addr", srv.Addr), zap.String("sync_mode", string(app.Sync.Mode())))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		serveErr = fmt.Errorf("服务器启动失败: %w", err)
	}
	// 后台 goroutine 都挂在 ctx 上，先取消再等待，最后才由 app.Close 释放 publisher
	stop()

	zlog.Info("正在关闭服务器...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown", zap.Error(err))
	}
	<-workerDone
	<-relayDone
	zlog.Info("服务器已关闭")
	return serveErr
}

func (c TokenCmd) Run(_ *Globals) error {
	var ttl time.Duration
	if c.TTL != "" {
		d, err := time.ParseDuration(c.TTL)
		if err != nil {
			return fmt.Errorf("invalid ttl: %w", err)
		}
		ttl = d
	}
	tok, err := myjwt.GenerateTokenWithTTL(c.UUID, c.Username, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func (ReconcileCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, g.Conf)
	if err != nil {
		return err
	}
	defer app.Close()

	out, err := app.Reconcile.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("resynced=%d resync_failed=%d resync_stale=%d orphans_cleaned=%d orphans_retrying=%d duration_ms=%d\n",
		out.Resynced, out.ResyncFailed, out.ResyncStale, out.OrphansCleaned, out.OrphansRetrying, out.DurationMs)
	return nil
}

func (VersionCmd) Run(_ *Globals) error {
	fmt.Println("memolink", version)
	return nil
}

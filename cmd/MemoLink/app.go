package main

import (
	"context"
	"fmt"
	"time"

	"MemoLink/internal/config"
	"MemoLink/internal/initial"
	"MemoLink/internal/modules/memory/application/service"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/internal/modules/memory/infrastructure/embedding"
	"MemoLink/internal/modules/memory/infrastructure/llm"
	"MemoLink/internal/modules/memory/infrastructure/mq"
	"MemoLink/internal/modules/memory/infrastructure/persistence"
	"MemoLink/internal/modules/memory/infrastructure/pipeline"
	"MemoLink/internal/modules/memory/infrastructure/queue"
	"MemoLink/pkg/zlog"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App 组装好的进程级依赖
type App struct {
	Conf      *config.Config
	DB        *gorm.DB
	Repo      repository.MemoryRepository
	Sync      *pipeline.SyncCoordinator
	Memory    service.MemoryService
	Query     service.QueryService
	Reconcile service.ReconcileService
	Publisher mq.Publisher
	// Relay 仅在 kafkaConfig.useOutbox 打开时非空
	Relay *queue.OutboxRelay

	closers []func() error
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func buildApp(ctx context.Context, conf *config.Config) (*App, error) {
	app := &App{Conf: conf}

	db, err := initial.InitGorm(conf)
	if err != nil {
		return nil, err
	}
	app.DB = db
	if sqlDB, err := db.DB(); err == nil {
		app.closers = append(app.closers, sqlDB.Close)
	}

	embedder, embMeta, err := embedding.NewEmbedderFromConfig(ctx, conf)
	if err != nil {
		return nil, app.fail(fmt.Errorf("embedder: %w", err))
	}
	chatModel, chatMeta, err := llm.NewChatModelFromConfig(ctx, conf)
	if err != nil {
		return nil, app.fail(fmt.Errorf("chat model: %w", err))
	}
	zlog.Info("ai providers ready",
		zap.String("embedding_provider", embMeta.Provider),
		zap.String("embedding_model", embMeta.Model),
		zap.Int("dim", embMeta.Dim),
		zap.String("chat_provider", chatMeta.Provider),
		zap.String("chat_model", chatMeta.Model))

	index, closeIndex, err := initial.InitVectorIndex(ctx, conf, embMeta.Dim)
	if err != nil {
		return nil, app.fail(err)
	}
	app.closers = append(app.closers, closeIndex)

	gw, err := embedding.NewGateway(embedder, index,
		seconds(conf.SyncConfig.EmbedTimeoutSeconds),
		seconds(conf.VectorConfig.IndexTimeoutSeconds))
	if err != nil {
		return nil, app.fail(err)
	}

	pub, err := initial.InitKafka(conf)
	if err != nil {
		// 事件发布不是主流程依赖
		zlog.Warn("kafka unavailable, lifecycle events disabled", zap.Error(err))
		pub = nil
	}
	if pub != nil {
		app.Publisher = pub
		app.closers = append(app.closers, pub.Close)
	}

	repoTimeout := seconds(conf.SyncConfig.RepoTimeoutSeconds)
	repo := persistence.NewMemoryRepository(db, repoTimeout)
	orphans := persistence.NewVectorOrphanRepository(db, repoTimeout)
	app.Repo = repo

	eventPub := pub
	if pub != nil && conf.KafkaConfig.UseOutbox {
		outbox := persistence.NewEventOutboxRepository(db, repoTimeout)
		eventPub = mq.NewOutboxPublisher(outbox)
		app.Relay = queue.NewOutboxRelay(outbox, pub,
			conf.KafkaConfig.OutboxBatchSize,
			time.Duration(conf.KafkaConfig.OutboxPollMillis)*time.Millisecond)
	}

	syncPipeline, err := pipeline.NewSyncPipeline(repo, orphans, gw, mq.NewEventEmitter(eventPub, conf.KafkaConfig.EventTopic))
	if err != nil {
		return nil, app.fail(err)
	}
	app.Sync = pipeline.NewSyncCoordinator(syncPipeline,
		pipeline.ParseSyncMode(conf.SyncConfig.Mode),
		seconds(conf.SyncConfig.BudgetSeconds),
		mq.NewEventEmitter(pub, conf.KafkaConfig.SyncTopic))

	rag, err := pipeline.NewRAGPipeline(repo, gw, chatModel, pipeline.RAGOptions{
		DefaultTopK:       conf.RAGConfig.DefaultTopK,
		MaxTopK:           conf.RAGConfig.MaxTopK,
		MaxQueryChars:     conf.RAGConfig.MaxQueryChars,
		GenerationTimeout: seconds(conf.RAGConfig.GenerationTimeoutSeconds),
	})
	if err != nil {
		return nil, app.fail(err)
	}

	app.Memory = service.NewMemoryService(repo, app.Sync)
	app.Query = service.NewQueryService(rag)
	app.Reconcile = service.NewReconcileService(repo, orphans, gw, app.Sync, service.ReconcileOptions{
		BatchSize:    conf.ReconcileConfig.BatchSize,
		PendingGrace: seconds(conf.ReconcileConfig.PendingGraceSeconds),
	})
	return app, nil
}

func (a *App) fail(err error) error {
	a.Close()
	return err
}

// Close 等待后台同步结束后按创建的逆序释放资源
func (a *App) Close() {
	if a.Sync != nil {
		a.Sync.Wait()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			zlog.Warn("close resource failed", zap.Error(err))
		}
	}
	a.closers = nil
}

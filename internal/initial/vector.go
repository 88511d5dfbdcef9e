package initial

import (
	"context"
	"fmt"
	"strings"

	"MemoLink/internal/config"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/internal/modules/memory/infrastructure/vectordb"
	"MemoLink/pkg/zlog"

	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const (
	BackendMilvus = "milvus"
	BackendLocal  = "local"
)

// InitVectorIndex 按 vectorConfig.backend 构造向量索引，返回的 closer 在退出时调用
func InitVectorIndex(ctx context.Context, conf *config.Config, dim int) (repository.VectorIndex, func() error, error) {
	backend := strings.ToLower(strings.TrimSpace(conf.VectorConfig.Backend))
	switch backend {
	case BackendMilvus:
		cli, err := InitMilvus(ctx, conf, dim)
		if err != nil {
			return nil, nil, fmt.Errorf("milvus init: %w", err)
		}
		store, err := vectordb.NewMilvusStore(cli, conf.MilvusConfig.CollectionName, dim, entity.MetricType(conf.MilvusConfig.MetricType))
		if err != nil {
			_ = cli.Close()
			return nil, nil, err
		}
		zlog.Info("vector index ready", zap.String("backend", backend), zap.Int("dim", dim))
		return store, cli.Close, nil
	case BackendLocal, "":
		db, err := InitChromem(conf)
		if err != nil {
			return nil, nil, err
		}
		store, err := vectordb.NewChromemStore(db, conf.VectorConfig.LocalCollection, dim)
		if err != nil {
			return nil, nil, err
		}
		zlog.Info("vector index ready",
			zap.String("backend", BackendLocal),
			zap.String("path", conf.VectorConfig.LocalPath),
			zap.Int("dim", dim))
		return store, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported vector backend: %s", backend)
	}
}

// InitChromem localPath 为空时使用纯内存库
func InitChromem(conf *config.Config) (*chromem.DB, error) {
	path := strings.TrimSpace(conf.VectorConfig.LocalPath)
	if path == "" {
		return chromem.NewDB(), nil
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("open chromem db %s: %w", path, err)
	}
	return db, nil
}

package initial

import (
	"context"
	"fmt"
	"strings"

	"MemoLink/internal/config"
	"MemoLink/internal/modules/memory/infrastructure/vectordb"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// InitMilvus 连接 Milvus，按需创建数据库、记忆向量集合与索引，并加载集合
func InitMilvus(ctx context.Context, conf *config.Config, dim int) (mclient.Client, error) {
	addr := strings.TrimSpace(conf.MilvusConfig.Address)
	if addr == "" {
		return nil, fmt.Errorf("milvusConfig.address is empty")
	}
	dbName := strings.TrimSpace(conf.MilvusConfig.DBName)
	if dbName == "" {
		dbName = "memolink"
	}
	collection := strings.TrimSpace(conf.MilvusConfig.CollectionName)
	if dim <= 0 {
		dim = conf.MilvusConfig.VectorDim
	}

	defaultCli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  addr,
		Username: strings.TrimSpace(conf.MilvusConfig.Username),
		Password: strings.TrimSpace(conf.MilvusConfig.Password),
		DBName:   "default",
	})
	if err != nil {
		return nil, err
	}
	defer defaultCli.Close()

	dbs, err := defaultCli.ListDatabases(ctx)
	if err != nil {
		return nil, err
	}
	exists := false
	for _, db := range dbs {
		if db.Name == dbName {
			exists = true
			break
		}
	}
	if !exists {
		if err := defaultCli.CreateDatabase(ctx, dbName); err != nil {
			return nil, err
		}
	}

	cli, err := mclient.NewClient(ctx, mclient.Config{
		Address:  addr,
		Username: strings.TrimSpace(conf.MilvusConfig.Username),
		Password: strings.TrimSpace(conf.MilvusConfig.Password),
		DBName:   dbName,
	})
	if err != nil {
		return nil, err
	}

	has, err := cli.HasCollection(ctx, collection)
	if err != nil {
		_ = cli.Close()
		return nil, err
	}
	if !has {
		if err := createMemoryCollection(ctx, cli, collection, dim, entity.MetricType(conf.MilvusConfig.MetricType)); err != nil {
			_ = cli.Close()
			return nil, err
		}
	}

	if err := cli.LoadCollection(ctx, collection, false); err != nil {
		_ = cli.Close()
		return nil, err
	}
	return cli, nil
}

func createMemoryCollection(ctx context.Context, cli mclient.Client, collection string, dim int, metric entity.MetricType) error {
	// varchar 的 max_length 按字节计算，标题与标签按 4 字节/字符预留
	schema := &entity.Schema{
		CollectionName: collection,
		Description:    "MemoLink memory vectors",
		Fields: []*entity.Field{
			{
				Name:       vectordb.FieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       vectordb.FieldVector,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{entity.TypeParamDim: fmt.Sprintf("%d", dim)},
			},
			{
				Name:       vectordb.FieldOwnerID,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       vectordb.FieldTitle,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "800"},
			},
			{
				Name:       vectordb.FieldTags,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "2100"},
			},
			{
				Name:     vectordb.FieldCreatedAt,
				DataType: entity.FieldTypeInt64,
			},
			{
				Name:       vectordb.FieldContentHash,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "64"},
			},
		},
	}
	if err := cli.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return err
	}

	if metric == "" {
		metric = entity.COSINE
	}
	idx, err := entity.NewIndexAUTOINDEX(metric)
	if err != nil {
		return err
	}
	return cli.CreateIndex(ctx, collection, vectordb.FieldVector, idx, false)
}

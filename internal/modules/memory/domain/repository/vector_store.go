package repository

import (
	"context"
	"time"
)

// VectorMetadata 向量附带的固定结构元数据，写入与检索两侧共用
type VectorMetadata struct {
	OwnerID     string
	Title       string
	Tags        []string
	CreatedAt   time.Time
	ContentHash string
}

// VectorEntry 与 MemoryRecord 一一对应，ID 即记忆 ID
type VectorEntry struct {
	ID       string
	Vector   []float32
	Metadata VectorMetadata
}

// VectorFilter 检索过滤条件，OwnerID 必填
type VectorFilter struct {
	OwnerID string
}

type VectorHit struct {
	ID       string
	Score    float32
	Metadata VectorMetadata
}

// VectorIndex 底层向量索引（Milvus / chromem）
type VectorIndex interface {
	// Upsert 按 ID 幂等覆盖
	Upsert(ctx context.Context, entries []VectorEntry) error
	// Search 返回按相似度降序排列的至多 topK 条命中
	Search(ctx context.Context, vector []float32, topK int, filter VectorFilter) ([]VectorHit, error)
	// DeleteByIDs 删除不存在的 ID 不报错
	DeleteByIDs(ctx context.Context, ids []string) error
	Dim() int
	Name() string
}

// EmbeddingGateway 对外屏蔽向量化服务与向量索引，并按故障域归类错误
//
//   - Embed  失败 -> xerr.ErrEmbeddingUnavailable
//   - Upsert 失败 -> xerr.ErrIndexWriteFailed
//   - Query  失败 -> xerr.ErrIndexQueryFailed
//   - Delete 失败 -> xerr.ErrIndexDeleteFailed
type EmbeddingGateway interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Upsert(ctx context.Context, entry VectorEntry) error
	Query(ctx context.Context, vector []float32, topK int, filter VectorFilter) ([]VectorHit, error)
	Delete(ctx context.Context, id string) error
	Dim() int
}

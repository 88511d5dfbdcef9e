package embedding

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"MemoLink/internal/modules/memory/domain/entity"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/pkg/util"
	"MemoLink/pkg/xerr"

	"github.com/cloudwego/eino/components/embedding"
)

const (
	defaultEmbedTimeout = 15 * time.Second
	defaultIndexTimeout = 10 * time.Second
)

// Gateway 组合 eino Embedder 与向量索引，实现 repository.EmbeddingGateway
type Gateway struct {
	embedder     embedding.Embedder
	index        repository.VectorIndex
	embedTimeout time.Duration
	indexTimeout time.Duration
}

var _ repository.EmbeddingGateway = (*Gateway)(nil)

func NewGateway(embedder embedding.Embedder, index repository.VectorIndex, embedTimeout, indexTimeout time.Duration) (*Gateway, error) {
	if embedder == nil {
		return nil, errors.New("embedder is nil")
	}
	if index == nil {
		return nil, errors.New("vector index is nil")
	}
	if embedTimeout <= 0 {
		embedTimeout = defaultEmbedTimeout
	}
	if indexTimeout <= 0 {
		indexTimeout = defaultIndexTimeout
	}
	return &Gateway{embedder: embedder, index: index, embedTimeout: embedTimeout, indexTimeout: indexTimeout}, nil
}

func (g *Gateway) Dim() int { return g.index.Dim() }

func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, xerr.Wrapf(xerr.ErrInvalidInput, "embed text is empty")
	}
	vecs, err := util.CallWithTimeout(ctx, g.embedTimeout, func(ctx context.Context) ([][]float64, error) {
		return g.embedder.EmbedStrings(ctx, []string{text})
	})
	if err != nil {
		return nil, xerr.Wrap(xerr.ErrEmbeddingUnavailable, err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil, xerr.Wrapf(xerr.ErrEmbeddingUnavailable, "embedding result is empty")
	}
	vec64 := vecs[0]
	if want := g.index.Dim(); len(vec64) != want {
		return nil, xerr.Wrapf(xerr.ErrEmbeddingUnavailable, "embedding dim mismatch: got=%d want=%d", len(vec64), want)
	}
	// Milvus / chromem 都使用 float32
	vec32 := make([]float32, len(vec64))
	for i, v := range vec64 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, xerr.Wrapf(xerr.ErrEmbeddingUnavailable, "embedding contains non-finite value at %d", i)
		}
		vec32[i] = float32(v)
	}
	return vec32, nil
}

func (g *Gateway) Upsert(ctx context.Context, e repository.VectorEntry) error {
	if err := g.validateEntry(e); err != nil {
		return err
	}
	_, err := util.CallWithTimeout(ctx, g.indexTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.index.Upsert(ctx, []repository.VectorEntry{e})
	})
	if err != nil {
		return xerr.Wrap(xerr.ErrIndexWriteFailed, err)
	}
	return nil
}

func (g *Gateway) Query(ctx context.Context, vector []float32, topK int, filter repository.VectorFilter) ([]repository.VectorHit, error) {
	if strings.TrimSpace(filter.OwnerID) == "" {
		return nil, xerr.Wrapf(xerr.ErrInvalidInput, "owner filter is required")
	}
	if topK <= 0 {
		return nil, xerr.Wrapf(xerr.ErrInvalidInput, "topK must be positive: %d", topK)
	}
	if len(vector) != g.index.Dim() {
		return nil, xerr.Wrapf(xerr.ErrInvalidInput, "query vector dim mismatch: got=%d want=%d", len(vector), g.index.Dim())
	}
	hits, err := util.CallWithTimeout(ctx, g.indexTimeout, func(ctx context.Context) ([]repository.VectorHit, error) {
		return g.index.Search(ctx, vector, topK, filter)
	})
	if err != nil {
		return nil, xerr.Wrap(xerr.ErrIndexQueryFailed, err)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	if hits == nil {
		hits = []repository.VectorHit{}
	}
	return hits, nil
}

func (g *Gateway) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return xerr.Wrapf(xerr.ErrInvalidInput, "delete id is empty")
	}
	_, err := util.CallWithTimeout(ctx, g.indexTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.index.DeleteByIDs(ctx, []string{id})
	})
	if err != nil {
		return xerr.Wrap(xerr.ErrIndexDeleteFailed, err)
	}
	return nil
}

// validateEntry 校验固定结构的向量元数据
func (g *Gateway) validateEntry(e repository.VectorEntry) error {
	if strings.TrimSpace(e.ID) == "" {
		return xerr.Wrapf(xerr.ErrInvalidInput, "vector entry id is empty")
	}
	if len(e.Vector) != g.index.Dim() {
		return xerr.Wrapf(xerr.ErrInvalidInput, "vector dim mismatch for id=%s: got=%d want=%d", e.ID, len(e.Vector), g.index.Dim())
	}
	m := e.Metadata
	if strings.TrimSpace(m.OwnerID) == "" {
		return xerr.Wrapf(xerr.ErrInvalidInput, "vector entry %s missing owner", e.ID)
	}
	if m.CreatedAt.IsZero() {
		return xerr.Wrapf(xerr.ErrInvalidInput, "vector entry %s missing createdAt", e.ID)
	}
	if err := entity.ValidateTitle(m.Title); err != nil {
		return err
	}
	if len(m.Tags) > entity.MaxTags {
		return xerr.Wrapf(xerr.ErrInvalidInput, "vector entry %s has %d tags", e.ID, len(m.Tags))
	}
	for _, t := range m.Tags {
		if t == "" || strings.Contains(t, ",") {
			return xerr.Wrapf(xerr.ErrInvalidInput, "vector entry %s has invalid tag %q", e.ID, t)
		}
	}
	return nil
}

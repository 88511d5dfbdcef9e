package vectordb

import (
	"MemoLink/internal/modules/memory/domain/repository"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/philippgille/chromem-go"
)

// ChromemStore 基于 chromem-go 的内嵌向量索引，适合单机部署与测试
//
// chromem 的 Query 要求 nResults 不超过集合文档数，读写锁保证计数与查询之间集合不变。
type ChromemStore struct {
	col *chromem.Collection
	dim int
	mu  sync.RWMutex
}

var _ repository.VectorIndex = (*ChromemStore)(nil)

// NewChromemStore 在 db 中获取或创建集合；db 可以是内存库或持久化库
func NewChromemStore(db *chromem.DB, collection string, dim int) (*ChromemStore, error) {
	if db == nil {
		return nil, errors.New("chromem db is nil")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("collection is empty")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("invalid vectorDim: %d", dim)
	}
	// 向量总是由调用方提供，集合不需要自己的 embedding 函数
	col, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, err
	}
	return &ChromemStore{col: col, dim: dim}, nil
}

func (s *ChromemStore) Name() string { return "chromem" }

func (s *ChromemStore) Dim() int { return s.dim }

func (s *ChromemStore) Upsert(ctx context.Context, entries []repository.VectorEntry) error {
	for _, e := range entries {
		if e.ID == "" {
			return errors.New("upsert entry missing ID")
		}
		if len(e.Vector) != s.dim {
			return fmt.Errorf("vector dim mismatch for id=%s, got=%d want=%d", e.ID, len(e.Vector), s.dim)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		doc := chromem.Document{
			ID:        e.ID,
			Metadata:  toChromemMetadata(e.Metadata),
			Embedding: vec,
			Content:   e.Metadata.Title,
		}
		// 同 ID 的文档整体替换
		if err := s.col.AddDocument(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChromemStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.col.Delete(ctx, nil, nil, ids...)
}

func (s *ChromemStore) Search(ctx context.Context, vector []float32, topK int, filter repository.VectorFilter) ([]repository.VectorHit, error) {
	if len(vector) != s.dim {
		return nil, fmt.Errorf("vector dim mismatch, got=%d want=%d", len(vector), s.dim)
	}
	if strings.TrimSpace(filter.OwnerID) == "" {
		return nil, errors.New("owner filter is required")
	}
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.col.Count()
	if n == 0 {
		return []repository.VectorHit{}, nil
	}
	if topK > n {
		topK = n
	}
	query := make([]float32, len(vector))
	copy(query, vector)
	res, err := s.col.QueryEmbedding(ctx, query, topK, map[string]string{FieldOwnerID: filter.OwnerID}, nil)
	if err != nil {
		return nil, err
	}
	hits := make([]repository.VectorHit, 0, len(res))
	for _, r := range res {
		hits = append(hits, repository.VectorHit{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: fromChromemMetadata(r.Metadata),
		})
	}
	return hits, nil
}

func toChromemMetadata(m repository.VectorMetadata) map[string]string {
	return map[string]string{
		FieldOwnerID:     m.OwnerID,
		FieldTitle:       m.Title,
		FieldTags:        joinTags(m.Tags),
		FieldCreatedAt:   m.CreatedAt.UTC().Format(time.RFC3339Nano),
		FieldContentHash: m.ContentHash,
	}
}

func fromChromemMetadata(m map[string]string) repository.VectorMetadata {
	out := repository.VectorMetadata{
		OwnerID:     m[FieldOwnerID],
		Title:       m[FieldTitle],
		Tags:        splitTags(m[FieldTags]),
		ContentHash: m[FieldContentHash],
	}
	if t, err := time.Parse(time.RFC3339Nano, m[FieldCreatedAt]); err == nil {
		out.CreatedAt = t
	}
	return out
}

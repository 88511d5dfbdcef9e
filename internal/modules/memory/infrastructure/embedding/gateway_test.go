package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/internal/modules/memory/infrastructure/vectordb"
	"MemoLink/pkg/xerr"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	vecs  [][]float64
	err   error
	delay time.Duration
}

func (s *stubEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.vecs, s.err
}

type stubIndex struct {
	dim       int
	hits      []repository.VectorHit
	err       error
	upserted  []repository.VectorEntry
	deleted   []string
	lastTopK  int
	lastOwner string
}

func (s *stubIndex) Upsert(_ context.Context, entries []repository.VectorEntry) error {
	if s.err != nil {
		return s.err
	}
	s.upserted = append(s.upserted, entries...)
	return nil
}

func (s *stubIndex) Search(_ context.Context, _ []float32, topK int, f repository.VectorFilter) ([]repository.VectorHit, error) {
	s.lastTopK, s.lastOwner = topK, f.OwnerID
	return s.hits, s.err
}

func (s *stubIndex) DeleteByIDs(_ context.Context, ids []string) error {
	if s.err != nil {
		return s.err
	}
	s.deleted = append(s.deleted, ids...)
	return nil
}

func (s *stubIndex) Dim() int     { return s.dim }
func (s *stubIndex) Name() string { return "stub" }

func newChromemGateway(t *testing.T, dim int) *Gateway {
	t.Helper()
	store, err := vectordb.NewChromemStore(chromem.NewDB(), "gateway-test", dim)
	require.NoError(t, err)
	gw, err := NewGateway(NewMockEmbedder(dim), store, time.Second, time.Second)
	require.NoError(t, err)
	return gw
}

func meta(owner string) repository.VectorMetadata {
	return repository.VectorMetadata{
		OwnerID:   owner,
		Title:     "t",
		Tags:      []string{"travel"},
		CreatedAt: time.Now(),
	}
}

func TestGatewayRoundTrip(t *testing.T) {
	ctx := context.Background()
	gw := newChromemGateway(t, 64)

	vec, err := gw.Embed(ctx, "Paris trip notes")
	require.NoError(t, err)
	require.Len(t, vec, 64)

	require.NoError(t, gw.Upsert(ctx, repository.VectorEntry{ID: "mem_x", Vector: vec, Metadata: meta("u1")}))
	// 重复写入同一 ID 只保留一条
	require.NoError(t, gw.Upsert(ctx, repository.VectorEntry{ID: "mem_x", Vector: vec, Metadata: meta("u1")}))

	other, err := gw.Embed(ctx, "grocery list milk eggs")
	require.NoError(t, err)
	require.NoError(t, gw.Upsert(ctx, repository.VectorEntry{ID: "mem_y", Vector: other, Metadata: meta("u1")}))

	hits, err := gw.Query(ctx, vec, 5, repository.VectorFilter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "mem_x", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-4)

	hits, err = gw.Query(ctx, vec, 5, repository.VectorFilter{OwnerID: "u2"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestGatewayDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	gw := newChromemGateway(t, 16)

	vec, err := gw.Embed(ctx, "hello")
	require.NoError(t, err)
	require.NoError(t, gw.Upsert(ctx, repository.VectorEntry{ID: "mem_a", Vector: vec, Metadata: meta("u1")}))

	require.NoError(t, gw.Delete(ctx, "mem_a"))
	require.NoError(t, gw.Delete(ctx, "mem_a"))
	require.NoError(t, gw.Delete(ctx, "never_existed"))

	hits, err := gw.Query(ctx, vec, 3, repository.VectorFilter{OwnerID: "u1"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	assert.ErrorIs(t, gw.Delete(ctx, " "), xerr.ErrInvalidInput)
}

func TestGatewayEmbedFailures(t *testing.T) {
	ctx := context.Background()
	idx := &stubIndex{dim: 3}

	cases := []struct {
		name string
		emb  *stubEmbedder
	}{
		{"provider error", &stubEmbedder{err: errors.New("boom")}},
		{"empty result", &stubEmbedder{vecs: [][]float64{}}},
		{"wrong dim", &stubEmbedder{vecs: [][]float64{{1, 2}}}},
		{"nan", &stubEmbedder{vecs: [][]float64{{1, math.NaN(), 0}}}},
		{"timeout", &stubEmbedder{vecs: [][]float64{{1, 0, 0}}, delay: time.Second}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			gw, err := NewGateway(c.emb, idx, 50*time.Millisecond, time.Second)
			require.NoError(t, err)
			_, err = gw.Embed(ctx, "text")
			assert.ErrorIs(t, err, xerr.ErrEmbeddingUnavailable)
		})
	}

	gw, err := NewGateway(&stubEmbedder{}, idx, time.Second, time.Second)
	require.NoError(t, err)
	_, err = gw.Embed(ctx, "   ")
	assert.ErrorIs(t, err, xerr.ErrInvalidInput)
}

func TestGatewayUpsertValidatesMetadata(t *testing.T) {
	ctx := context.Background()
	idx := &stubIndex{dim: 2}
	gw, err := NewGateway(&stubEmbedder{}, idx, time.Second, time.Second)
	require.NoError(t, err)

	vec := []float32{1, 0}
	bad := []repository.VectorEntry{
		{ID: "", Vector: vec, Metadata: meta("u1")},
		{ID: "a", Vector: []float32{1}, Metadata: meta("u1")},
		{ID: "a", Vector: vec, Metadata: meta("")},
		{ID: "a", Vector: vec, Metadata: repository.VectorMetadata{OwnerID: "u1"}},
		{ID: "a", Vector: vec, Metadata: repository.VectorMetadata{OwnerID: "u1", CreatedAt: time.Now(), Tags: []string{"a,b"}}},
	}
	for i, e := range bad {
		assert.ErrorIs(t, gw.Upsert(ctx, e), xerr.ErrInvalidInput, "case %d", i)
	}
	assert.Empty(t, idx.upserted)

	require.NoError(t, gw.Upsert(ctx, repository.VectorEntry{ID: "a", Vector: vec, Metadata: meta("u1")}))
	assert.Len(t, idx.upserted, 1)

	idx.err = errors.New("milvus down")
	assert.ErrorIs(t, gw.Upsert(ctx, repository.VectorEntry{ID: "a", Vector: vec, Metadata: meta("u1")}), xerr.ErrIndexWriteFailed)
	assert.ErrorIs(t, gw.Delete(ctx, "a"), xerr.ErrIndexDeleteFailed)
}

func TestGatewayQuerySortsAndTruncates(t *testing.T) {
	ctx := context.Background()
	idx := &stubIndex{dim: 2, hits: []repository.VectorHit{
		{ID: "b", Score: 0.5},
		{ID: "a", Score: 0.9},
		{ID: "c", Score: 0.7},
	}}
	gw, err := NewGateway(&stubEmbedder{}, idx, time.Second, time.Second)
	require.NoError(t, err)

	hits, err := gw.Query(ctx, []float32{1, 0}, 2, repository.VectorFilter{OwnerID: "u1"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "c", hits[1].ID)
	assert.Equal(t, "u1", idx.lastOwner)

	_, err = gw.Query(ctx, []float32{1, 0}, 2, repository.VectorFilter{})
	assert.ErrorIs(t, err, xerr.ErrInvalidInput)
	_, err = gw.Query(ctx, []float32{1, 0}, 0, repository.VectorFilter{OwnerID: "u1"})
	assert.ErrorIs(t, err, xerr.ErrInvalidInput)

	idx.err = errors.New("timeout")
	_, err = gw.Query(ctx, []float32{1, 0}, 2, repository.VectorFilter{OwnerID: "u1"})
	assert.ErrorIs(t, err, xerr.ErrIndexQueryFailed)
}

package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"MemoLink/internal/modules/memory/domain/entity"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/internal/modules/memory/infrastructure/embedding"
	"MemoLink/internal/modules/memory/infrastructure/llm"
	"MemoLink/internal/modules/memory/infrastructure/persistence"
	"MemoLink/internal/modules/memory/infrastructure/vectordb"
	"MemoLink/pkg/xerr"

	"github.com/cloudwego/eino/schema"
	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ragFixture struct {
	repo repository.MemoryRepository
	gw   *fakeGateway
	cm   *fakeChatModel
	p    *RAGPipeline
}

func newRAGFixture(t *testing.T) *ragFixture {
	t.Helper()
	f := &ragFixture{
		repo: persistence.NewMemoryRepository(newTestDB(t), time.Second),
		gw:   &fakeGateway{},
		cm:   &fakeChatModel{reply: schema.AssistantMessage("grounded answer", nil)},
	}
	p, err := NewRAGPipeline(f.repo, f.gw, f.cm, RAGOptions{})
	require.NoError(t, err)
	f.p = p
	return f
}

func refIDs(refs []Reference) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ID)
	}
	return out
}

func TestRAGOrdersByScore(t *testing.T) {
	f := newRAGFixture(t)
	base := time.Now().Add(-time.Hour)
	a := seedMemory(t, f.repo, "alice", "A", "alpha", base)
	b := seedMemory(t, f.repo, "alice", "B", "beta", base.Add(time.Minute))
	c := seedMemory(t, f.repo, "alice", "C", "gamma", base.Add(2*time.Minute))
	f.gw.hits = []repository.VectorHit{
		{ID: a.Id, Score: 0.9},
		{ID: b.Id, Score: 0.5},
		{ID: c.Id, Score: 0.7},
	}

	res, err := f.p.Answer(context.Background(), &RAGRequest{OwnerID: "alice", Query: "what?", TopK: 3})
	require.NoError(t, err)
	assert.Equal(t, []string{a.Id, c.Id, b.Id}, refIDs(res.References))
	assert.Equal(t, "grounded answer", res.Answer)
	assert.Equal(t, 3, res.TotalHits)
	assert.NotEmpty(t, res.QueryID)
}

func TestRAGTieBreaksByCreatedAtDesc(t *testing.T) {
	f := newRAGFixture(t)
	base := time.Now().Add(-time.Hour)
	older := seedMemory(t, f.repo, "alice", "", "older", base)
	newer := seedMemory(t, f.repo, "alice", "", "newer", base.Add(time.Minute))
	f.gw.hits = []repository.VectorHit{
		{ID: older.Id, Score: 0.8},
		{ID: newer.Id, Score: 0.8},
	}

	res, err := f.p.Answer(context.Background(), &RAGRequest{OwnerID: "alice", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{newer.Id, older.Id}, refIDs(res.References))
}

func TestRAGRefiltersByOwnerAndDropsMissing(t *testing.T) {
	f := newRAGFixture(t)
	mine := seedMemory(t, f.repo, "alice", "", "mine", time.Time{})
	theirs := seedMemory(t, f.repo, "bob", "", "bob secret", time.Time{})
	// 索引错误地返回了他人的记录和已删除的记录
	f.gw.hits = []repository.VectorHit{
		{ID: theirs.Id, Score: 0.99, Metadata: repository.VectorMetadata{OwnerID: "bob"}},
		{ID: "mem_deleted", Score: 0.95},
		{ID: mine.Id, Score: 0.5},
	}

	res, err := f.p.Answer(context.Background(), &RAGRequest{OwnerID: "alice", Query: "secret"})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.Id}, refIDs(res.References))
	assert.Equal(t, 2, res.DroppedHits)
	assert.Equal(t, "alice", f.gw.queries[0].OwnerID)

	prompt := f.cm.calls[0][1].Content
	assert.NotContains(t, prompt, "bob secret")
}

func TestRAGDropsFailedRecords(t *testing.T) {
	f := newRAGFixture(t)
	ctx := context.Background()
	ok := seedMemory(t, f.repo, "alice", "", "synced", time.Time{})
	bad := seedMemory(t, f.repo, "alice", "", "failed", time.Time{})
	_, err := f.repo.UpdateEmbeddingState(ctx, bad.Id, bad.ContentHash, entity.EmbeddingStateFailed, "x")
	require.NoError(t, err)
	f.gw.hits = []repository.VectorHit{{ID: bad.Id, Score: 0.9}, {ID: ok.Id, Score: 0.1}}

	res, err := f.p.Answer(ctx, &RAGRequest{OwnerID: "alice", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, []string{ok.Id}, refIDs(res.References))
}

func TestRAGEmptyCandidatesStillGenerates(t *testing.T) {
	f := newRAGFixture(t)

	res, err := f.p.Answer(context.Background(), &RAGRequest{OwnerID: "alice", Query: "anything?"})
	require.NoError(t, err)
	assert.NotNil(t, res.References)
	assert.Empty(t, res.References)
	assert.NotEmpty(t, res.Answer)

	require.Len(t, f.cm.calls, 1)
	msgs := f.cm.calls[0]
	require.Len(t, msgs, 2)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "only the memories")
	assert.Contains(t, msgs[1].Content, "No memories were found")
	assert.True(t, strings.HasSuffix(msgs[1].Content, "Question: anything?"))
}

func TestRAGLeavesCallerRequestUntouched(t *testing.T) {
	f := newRAGFixture(t)

	req := &RAGRequest{OwnerID: " alice ", Query: "  anything?  "}
	res, err := f.p.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "anything?", res.Query)
	assert.Equal(t, RAGRequest{OwnerID: " alice ", Query: "  anything?  "}, *req)
}

func TestRAGPromptEnumeratesCandidates(t *testing.T) {
	refs := []Reference{
		{ID: "1", Title: "Trip", Content: "Paris", Tags: []string{"travel", "fr"}},
		{ID: "2", Content: "Rome"},
	}
	p := buildUserPrompt("where?", refs)
	assert.Contains(t, p, "Title: Trip\nContent: Paris\nTags: travel, fr\n")
	assert.Contains(t, p, "Title: Untitled\nContent: Rome")
	assert.Contains(t, p, "\n---\n")
	assert.True(t, strings.HasSuffix(p, "Question: where?"))
}

func TestRAGValidation(t *testing.T) {
	f := newRAGFixture(t)
	ctx := context.Background()
	cases := []*RAGRequest{
		{OwnerID: "alice", Query: "   "},
		{OwnerID: "alice", Query: strings.Repeat("q", 501)},
		{OwnerID: "alice", Query: "q", TopK: 21},
		{OwnerID: "alice", Query: "q", TopK: -1},
		{OwnerID: "", Query: "q"},
	}
	for i, req := range cases {
		_, err := f.p.Answer(ctx, req)
		assert.ErrorIs(t, err, xerr.ErrInvalidQuery, "case %d", i)
	}
	assert.Empty(t, f.gw.embedded)
	assert.Empty(t, f.cm.calls)

	res, err := f.p.Answer(ctx, &RAGRequest{OwnerID: "alice", Query: "q", TopK: 20})
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestRAGRetrievalFailures(t *testing.T) {
	ctx := context.Background()

	f := newRAGFixture(t)
	f.gw.embedErr = xerr.Wrap(xerr.ErrEmbeddingUnavailable, errors.New("down"))
	_, err := f.p.Answer(ctx, &RAGRequest{OwnerID: "alice", Query: "q"})
	assert.ErrorIs(t, err, xerr.ErrRetrievalUnavailable)
	assert.Empty(t, f.cm.calls)

	f = newRAGFixture(t)
	f.gw.queryErr = xerr.Wrap(xerr.ErrIndexQueryFailed, errors.New("down"))
	_, err = f.p.Answer(ctx, &RAGRequest{OwnerID: "alice", Query: "q"})
	assert.ErrorIs(t, err, xerr.ErrRetrievalUnavailable)
	assert.Empty(t, f.cm.calls)
}

func TestRAGHydrateFailureIsRetrievalFailure(t *testing.T) {
	db := newTestDB(t)
	repo := persistence.NewMemoryRepository(db, time.Second)
	gw := &fakeGateway{hits: []repository.VectorHit{{ID: "mem_x", Score: 0.9}}}
	cm := &fakeChatModel{reply: schema.AssistantMessage("x", nil)}
	p, err := NewRAGPipeline(repo, gw, cm, RAGOptions{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = p.Answer(context.Background(), &RAGRequest{OwnerID: "alice", Query: "q"})
	assert.ErrorIs(t, err, xerr.ErrRetrievalUnavailable)
	assert.Empty(t, cm.calls)
}

func TestRAGGenerationFailures(t *testing.T) {
	ctx := context.Background()

	f := newRAGFixture(t)
	f.cm.err = errors.New("model overloaded")
	res, err := f.p.Answer(ctx, &RAGRequest{OwnerID: "alice", Query: "q"})
	assert.ErrorIs(t, err, xerr.ErrGenerationUnavailable)
	assert.NotErrorIs(t, err, xerr.ErrRetrievalUnavailable)
	require.NotNil(t, res)

	f = newRAGFixture(t)
	f.cm.reply = schema.AssistantMessage("  ", nil)
	res, err = f.p.Answer(ctx, &RAGRequest{OwnerID: "alice", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, res.Answer)
	assert.True(t, res.Fallback)

	f = newRAGFixture(t)
	f.cm.reply = nil
	res, err = f.p.Answer(ctx, &RAGRequest{OwnerID: "alice", Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, FallbackAnswer, res.Answer)
}

// 创建、同步、更新、再同步、查询的完整流程，使用真实的本地向量索引
func TestParisTripScenario(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := persistence.NewMemoryRepository(db, time.Second)
	orphans := persistence.NewVectorOrphanRepository(db, time.Second)

	store, err := vectordb.NewChromemStore(chromem.NewDB(), "scenario", 128)
	require.NoError(t, err)
	gw, err := embedding.NewGateway(embedding.NewMockEmbedder(128), store, time.Second, time.Second)
	require.NoError(t, err)

	syncer, err := NewSyncPipeline(repo, orphans, gw, nil)
	require.NoError(t, err)
	rag, err := NewRAGPipeline(repo, gw, llm.NewMockChatModel(), RAGOptions{})
	require.NoError(t, err)

	paris := seedMemory(t, repo, "alice", "Trip", "Paris trip notes", time.Time{})
	grocery := seedMemory(t, repo, "alice", "", "grocery list milk eggs bread", time.Time{})
	other := seedMemory(t, repo, "bob", "", "Paris trip notes", time.Time{})
	for _, rec := range []*entity.MemoryRecord{paris, grocery, other} {
		out := syncer.Sync(ctx, SnapshotOf(rec))
		require.NoError(t, out.Err)
	}
	got, err := repo.GetByID(ctx, paris.Id, "alice")
	require.NoError(t, err)
	require.Equal(t, entity.EmbeddingStateSynced, got.EmbeddingState)

	updated, err := repo.Update(ctx, paris.Id, "alice", entity.MemoryPatch{Content: ptr("Paris trip notes, updated")})
	require.NoError(t, err)
	assert.Equal(t, entity.EmbeddingStatePending, updated.EmbeddingState)
	require.NoError(t, syncer.Sync(ctx, SnapshotOf(updated)).Err)
	got, err = repo.GetByID(ctx, paris.Id, "alice")
	require.NoError(t, err)
	assert.Equal(t, entity.EmbeddingStateSynced, got.EmbeddingState)

	res, err := rag.Answer(ctx, &RAGRequest{OwnerID: "alice", Query: "trip to Paris", TopK: 5})
	require.NoError(t, err)
	require.NotEmpty(t, res.References)
	assert.Equal(t, paris.Id, res.References[0].ID)
	assert.Equal(t, "Paris trip notes, updated", res.References[0].Content)
	for _, r := range res.References {
		assert.NotEqual(t, other.Id, r.ID)
	}
	assert.Contains(t, res.Answer, "Paris trip notes, updated")
}

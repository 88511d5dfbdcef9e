package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"MemoLink/internal/modules/memory/domain/entity"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/internal/modules/memory/infrastructure/mq"
	"MemoLink/internal/modules/memory/infrastructure/persistence"
	"MemoLink/pkg/xerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncFixture struct {
	repo    repository.MemoryRepository
	orphans repository.VectorOrphanRepository
	gw      *fakeGateway
	pub     *recordingPublisher
	p       *SyncPipeline
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	db := newTestDB(t)
	f := &syncFixture{
		repo:    persistence.NewMemoryRepository(db, time.Second),
		orphans: persistence.NewVectorOrphanRepository(db, time.Second),
		gw:      &fakeGateway{},
		pub:     &recordingPublisher{},
	}
	p, err := NewSyncPipeline(f.repo, f.orphans, f.gw, mq.NewEventEmitter(f.pub, "memolink.memory.events"))
	require.NoError(t, err)
	f.p = p
	return f
}

func (f *syncFixture) state(t *testing.T, rec *entity.MemoryRecord) *entity.MemoryRecord {
	t.Helper()
	got, err := f.repo.GetByID(context.Background(), rec.Id, rec.OwnerId)
	require.NoError(t, err)
	return got
}

func TestSyncSuccessMarksSynced(t *testing.T) {
	f := newSyncFixture(t)
	rec := seedMemory(t, f.repo, "alice", "Trip", "Paris trip notes", time.Time{})
	require.Equal(t, entity.EmbeddingStatePending, rec.EmbeddingState)

	out := f.p.Sync(context.Background(), SnapshotOf(rec))
	require.NoError(t, out.Err)
	assert.Equal(t, entity.EmbeddingStateSynced, out.State)
	assert.True(t, out.Applied)
	assert.False(t, out.Stale)

	require.Len(t, f.gw.upserts, 1)
	e := f.gw.upserts[0]
	assert.Equal(t, rec.Id, e.ID)
	assert.Equal(t, "alice", e.Metadata.OwnerID)
	assert.Equal(t, "Trip", e.Metadata.Title)
	assert.Equal(t, []string{"note"}, e.Metadata.Tags)
	assert.True(t, rec.CreatedAt.Equal(e.Metadata.CreatedAt))
	assert.Equal(t, rec.ContentHash, e.Metadata.ContentHash)

	got := f.state(t, rec)
	assert.Equal(t, entity.EmbeddingStateSynced, got.EmbeddingState)
	assert.True(t, got.EmbeddedAt.Valid)
	assert.Empty(t, f.pub.events(t))
}

func TestSyncEmbedFailureMarksFailedWithoutUpsert(t *testing.T) {
	f := newSyncFixture(t)
	f.gw.embedErr = xerr.Wrap(xerr.ErrEmbeddingUnavailable, errors.New("provider 500"))
	rec := seedMemory(t, f.repo, "alice", "", "will fail", time.Time{})

	out := f.p.Sync(context.Background(), SnapshotOf(rec))
	assert.ErrorIs(t, out.Err, xerr.ErrEmbeddingUnavailable)
	assert.Equal(t, entity.EmbeddingStateFailed, out.State)
	assert.True(t, out.Applied)
	assert.Empty(t, f.gw.upserts)

	// 记录仍可读取
	got := f.state(t, rec)
	assert.Equal(t, entity.EmbeddingStateFailed, got.EmbeddingState)
	assert.Equal(t, "will fail", got.Content)
	assert.NotEmpty(t, got.EmbeddingError)

	evs := f.pub.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, mq.EventEmbeddingFailed, evs[0].Type)
	assert.Equal(t, rec.Id, evs[0].MemoryID)
}

func TestSyncUpsertFailureMarksFailed(t *testing.T) {
	f := newSyncFixture(t)
	f.gw.upsertErr = xerr.Wrap(xerr.ErrIndexWriteFailed, errors.New("milvus down"))
	rec := seedMemory(t, f.repo, "alice", "", "content", time.Time{})

	out := f.p.Sync(context.Background(), SnapshotOf(rec))
	assert.ErrorIs(t, out.Err, xerr.ErrIndexWriteFailed)
	assert.Equal(t, entity.EmbeddingStateFailed, f.state(t, rec).EmbeddingState)
}

func TestSyncStaleSnapshotResetsToPending(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()
	rec := seedMemory(t, f.repo, "alice", "", "v1", time.Time{})
	oldSnap := SnapshotOf(rec)

	updated, err := f.repo.Update(ctx, rec.Id, "alice", entity.MemoryPatch{Content: ptr("v2")})
	require.NoError(t, err)
	require.Equal(t, entity.EmbeddingStatePending, updated.EmbeddingState)

	// 新内容先同步完成
	out := f.p.Sync(ctx, SnapshotOf(updated))
	require.True(t, out.Applied)
	require.Equal(t, entity.EmbeddingStateSynced, f.state(t, rec).EmbeddingState)

	// 旧快照随后完成：不能把记录标记为 SYNCED，向量可能已被旧内容覆盖
	out = f.p.Sync(ctx, oldSnap)
	assert.False(t, out.Applied)
	assert.True(t, out.Stale)
	assert.Equal(t, entity.EmbeddingStatePending, f.state(t, rec).EmbeddingState)
}

func TestSyncInvalidSnapshot(t *testing.T) {
	f := newSyncFixture(t)
	out := f.p.Sync(context.Background(), SyncSnapshot{Content: "x"})
	assert.ErrorIs(t, out.Err, xerr.ErrInvalidInput)
	assert.False(t, out.Applied)
	assert.Empty(t, f.gw.embedded)
}

func TestRemoveRecordsOrphanOnFailure(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	out := f.p.Remove(ctx, "mem_ok", "alice")
	assert.False(t, out.CleanupPending)
	assert.NoError(t, out.Err)
	assert.Equal(t, []string{"mem_ok"}, f.gw.deleted)

	f.gw.deleteErr = xerr.Wrap(xerr.ErrIndexDeleteFailed, errors.New("timeout"))
	out = f.p.Remove(ctx, "mem_bad", "alice")
	assert.True(t, out.CleanupPending)
	assert.ErrorIs(t, out.Err, xerr.ErrIndexDeleteFailed)

	due, err := f.orphans.ListDue(ctx, time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "mem_bad", due[0].MemoryId)
	assert.Equal(t, "alice", due[0].OwnerId)

	evs := f.pub.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, mq.EventVectorOrphaned, evs[0].Type)
}

func TestCoordinatorModes(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	inline := NewSyncCoordinator(f.p, SyncModeInline, time.Second, nil)
	rec := seedMemory(t, f.repo, "alice", "", "inline", time.Time{})
	out := inline.Trigger(ctx, SnapshotOf(rec))
	require.NotNil(t, out)
	assert.Equal(t, entity.EmbeddingStateSynced, f.state(t, rec).EmbeddingState)

	async := NewSyncCoordinator(f.p, SyncModeAsync, time.Second, nil)
	rec = seedMemory(t, f.repo, "alice", "", "async", time.Time{})
	assert.Nil(t, async.Trigger(ctx, SnapshotOf(rec)))
	async.Wait()
	assert.Equal(t, entity.EmbeddingStateSynced, f.state(t, rec).EmbeddingState)

	// 没有发布器时 kafka 模式退化为 async
	assert.Equal(t, SyncModeAsync, NewSyncCoordinator(f.p, SyncModeKafka, time.Second, nil).Mode())

	pub := &recordingPublisher{}
	viaKafka := NewSyncCoordinator(f.p, SyncModeKafka, time.Second, mq.NewEventEmitter(pub, "memolink.memory.sync"))
	rec = seedMemory(t, f.repo, "alice", "", "kafka", time.Time{})
	assert.Nil(t, viaKafka.Trigger(ctx, SnapshotOf(rec)))
	evs := pub.events(t)
	require.Len(t, evs, 1)
	assert.Equal(t, mq.EventSyncRequested, evs[0].Type)
	assert.Equal(t, rec.ContentHash, evs[0].ContentHash)
	assert.Equal(t, entity.EmbeddingStatePending, f.state(t, rec).EmbeddingState)
}

func TestCoordinatorIgnoresCallerCancellation(t *testing.T) {
	f := newSyncFixture(t)
	c := NewSyncCoordinator(f.p, SyncModeInline, time.Second, nil)
	rec := seedMemory(t, f.repo, "alice", "", "cancelled request", time.Time{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := c.Trigger(ctx, SnapshotOf(rec))
	require.NotNil(t, out)
	assert.NoError(t, out.Err)
	assert.Equal(t, entity.EmbeddingStateSynced, f.state(t, rec).EmbeddingState)
}

func TestParseSyncMode(t *testing.T) {
	assert.Equal(t, SyncModeInline, ParseSyncMode(""))
	assert.Equal(t, SyncModeAsync, ParseSyncMode(" ASYNC "))
	assert.Equal(t, SyncModeKafka, ParseSyncMode("kafka"))
	assert.Equal(t, SyncModeInline, ParseSyncMode("other"))
}

func ptr[T any](v T) *T { return &v }

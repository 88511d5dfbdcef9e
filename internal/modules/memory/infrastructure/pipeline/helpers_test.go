package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"MemoLink/internal/modules/memory/domain/entity"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/internal/modules/memory/infrastructure/mq"
	"MemoLink/internal/modules/memory/infrastructure/persistence"
	"MemoLink/pkg/util"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", util.GenerateShortUUID())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, persistence.AutoMigrate(db))
	return db
}

func seedMemory(t *testing.T, repo repository.MemoryRepository, owner, title, content string, createdAt time.Time) *entity.MemoryRecord {
	t.Helper()
	rec := &entity.MemoryRecord{
		Id:        util.GenerateID("mem_"),
		OwnerId:   owner,
		Title:     title,
		Content:   content,
		Tags:      []string{"note"},
		CreatedAt: createdAt,
	}
	require.NoError(t, repo.Create(context.Background(), rec))
	return rec
}

// fakeGateway 可编程的 EmbeddingGateway
type fakeGateway struct {
	mu        sync.Mutex
	embedErr  error
	upsertErr error
	queryErr  error
	deleteErr error
	hits      []repository.VectorHit
	embedded  []string
	upserts   []repository.VectorEntry
	queries   []repository.VectorFilter
	deleted   []string
}

func (g *fakeGateway) Embed(_ context.Context, text string) ([]float32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.embedded = append(g.embedded, text)
	if g.embedErr != nil {
		return nil, g.embedErr
	}
	return []float32{1, 0, 0, 0}, nil
}

func (g *fakeGateway) Upsert(_ context.Context, e repository.VectorEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.upsertErr != nil {
		return g.upsertErr
	}
	g.upserts = append(g.upserts, e)
	return nil
}

func (g *fakeGateway) Query(_ context.Context, _ []float32, topK int, f repository.VectorFilter) ([]repository.VectorHit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries = append(g.queries, f)
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	return g.hits, nil
}

func (g *fakeGateway) Delete(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deleteErr != nil {
		return g.deleteErr
	}
	g.deleted = append(g.deleted, id)
	return nil
}

func (g *fakeGateway) Dim() int { return 4 }

// fakeChatModel 记录收到的消息并返回预设结果
type fakeChatModel struct {
	reply *schema.Message
	err   error
	calls [][]*schema.Message
}

func (m *fakeChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls = append(m.calls, input)
	if m.err != nil {
		return nil, m.err
	}
	return m.reply, nil
}

func (m *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []mq.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg mq.Message) (mq.PublishResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return mq.PublishResult{}, nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) events(t *testing.T) []mq.MemoryEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]mq.MemoryEvent, 0, len(p.msgs))
	for _, m := range p.msgs {
		ev, err := mq.ParseMemoryEvent(m)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"MemoLink/internal/modules/memory/domain/entity"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/internal/modules/memory/infrastructure/mq"
	"MemoLink/pkg/util"
	"MemoLink/pkg/xerr"
	"MemoLink/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"go.uber.org/zap"
)

type syncState struct {
	Snap     *SyncSnapshot
	Vector   []float32
	Start    time.Time
	EmbedMs  int64
	UpsertMs int64
	Err      error
}

// buildGraph 节点顺序：Prepare → Embed → Upsert → StatusUpdate
func (p *SyncPipeline) buildGraph(ctx context.Context) (compose.Runnable[*SyncSnapshot, *SyncOutcome], error) {
	const (
		Prepare      = "Prepare"
		Embed        = "Embed"
		Upsert       = "Upsert"
		StatusUpdate = "StatusUpdate"
	)
	g := compose.NewGraph[*SyncSnapshot, *SyncOutcome]()
	_ = g.AddLambdaNode(Prepare, compose.InvokableLambdaWithOption(p.prepareNode), compose.WithNodeName(Prepare))
	_ = g.AddLambdaNode(Embed, compose.InvokableLambdaWithOption(p.embedNode), compose.WithNodeName(Embed))
	_ = g.AddLambdaNode(Upsert, compose.InvokableLambdaWithOption(p.upsertNode), compose.WithNodeName(Upsert))
	_ = g.AddLambdaNode(StatusUpdate, compose.InvokableLambdaWithOption(p.statusUpdateNode), compose.WithNodeName(StatusUpdate))
	_ = g.AddEdge(compose.START, Prepare)
	_ = g.AddEdge(Prepare, Embed)
	_ = g.AddEdge(Embed, Upsert)
	_ = g.AddEdge(Upsert, StatusUpdate)
	_ = g.AddEdge(StatusUpdate, compose.END)
	return g.Compile(ctx, compose.WithGraphName("MemorySyncPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

func (p *SyncPipeline) prepareNode(ctx context.Context, snap *SyncSnapshot, _ ...any) (*syncState, error) {
	st := &syncState{Snap: snap, Start: time.Now()}
	if snap == nil {
		st.Err = errors.New("sync snapshot is nil")
		return st, nil
	}
	if strings.TrimSpace(snap.ID) == "" || strings.TrimSpace(snap.OwnerID) == "" {
		st.Err = xerr.Wrapf(xerr.ErrInvalidInput, "sync snapshot missing id/owner")
		return st, nil
	}
	if snap.ContentHash == "" {
		snap.ContentHash = util.Sha256Hex(snap.Content)
	}
	return st, nil
}

func (p *SyncPipeline) embedNode(ctx context.Context, st *syncState, _ ...any) (*syncState, error) {
	if st.Err != nil {
		return st, nil
	}
	t := time.Now()
	vec, err := p.gw.Embed(ctx, st.Snap.Content)
	st.EmbedMs = time.Since(t).Milliseconds()
	if err != nil {
		st.Err = err
		return st, nil
	}
	st.Vector = vec
	return st, nil
}

// upsertNode 向量化失败时不写入索引
func (p *SyncPipeline) upsertNode(ctx context.Context, st *syncState, _ ...any) (*syncState, error) {
	if st.Err != nil {
		return st, nil
	}
	t := time.Now()
	err := p.gw.Upsert(ctx, repository.VectorEntry{
		ID:     st.Snap.ID,
		Vector: st.Vector,
		Metadata: repository.VectorMetadata{
			OwnerID:     st.Snap.OwnerID,
			Title:       st.Snap.Title,
			Tags:        st.Snap.Tags,
			CreatedAt:   st.Snap.CreatedAt,
			ContentHash: st.Snap.ContentHash,
		},
	})
	st.UpsertMs = time.Since(t).Milliseconds()
	if err != nil {
		st.Err = err
	}
	return st, nil
}

// statusUpdateNode 按内容哈希条件回写状态；快照过期时把记录重置为 PENDING
func (p *SyncPipeline) statusUpdateNode(ctx context.Context, st *syncState, _ ...any) (*SyncOutcome, error) {
	out := &SyncOutcome{
		State:    entity.EmbeddingStateSynced,
		Err:      st.Err,
		EmbedMs:  st.EmbedMs,
		UpsertMs: st.UpsertMs,
	}
	if st.Snap != nil {
		out.MemoryID = st.Snap.ID
	}
	if st.Err != nil {
		out.State = entity.EmbeddingStateFailed
	}
	if st.Snap == nil || st.Snap.ID == "" {
		out.DurationMs = time.Since(st.Start).Milliseconds()
		return out, nil
	}
	snap := st.Snap

	errMsg := ""
	if st.Err != nil {
		errMsg = st.Err.Error()
	}
	applied, err := p.repo.UpdateEmbeddingState(ctx, snap.ID, snap.ContentHash, out.State, errMsg)
	switch {
	case err != nil:
		out.StateWriteErr = err
		zlog.Warn("memory embedding state write failed",
			zap.String("memory_id", snap.ID),
			zap.String("embedding_state", string(out.State)),
			zap.Error(err))
	case applied:
		out.Applied = true
	default:
		out.Stale = true
		if merr := p.repo.MarkStale(ctx, snap.ID, snap.ContentHash); merr != nil {
			zlog.Warn("memory mark stale failed", zap.String("memory_id", snap.ID), zap.Error(merr))
		}
	}

	if st.Err != nil {
		zlog.Error("memory embedding sync failed",
			zap.String("memory_id", snap.ID),
			zap.String("owner_id", snap.OwnerID),
			zap.Int64("embed_ms", st.EmbedMs),
			zap.Error(st.Err))
		if out.Applied {
			if eerr := p.events.Emit(ctx, mq.MemoryEvent{
				Type:        mq.EventEmbeddingFailed,
				MemoryID:    snap.ID,
				OwnerID:     snap.OwnerID,
				ContentHash: snap.ContentHash,
				Reason:      errMsg,
			}); eerr != nil {
				zlog.Warn("publish embedding failed event failed", zap.String("memory_id", snap.ID), zap.Error(eerr))
			}
		}
	}

	out.DurationMs = time.Since(st.Start).Milliseconds()
	zlog.Info("memory sync done",
		zap.String("memory_id", snap.ID),
		zap.String("owner_id", snap.OwnerID),
		zap.String("embedding_state", string(out.State)),
		zap.Bool("applied", out.Applied),
		zap.Bool("stale", out.Stale),
		zap.Int64("embed_ms", out.EmbedMs),
		zap.Int64("upsert_ms", out.UpsertMs),
		zap.Int64("duration_ms", out.DurationMs))
	return out, nil
}

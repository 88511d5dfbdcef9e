package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"MemoLink/internal/modules/memory/domain/entity"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/pkg/util"
	"MemoLink/pkg/xerr"
	"MemoLink/pkg/zlog"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const ragSystemPrompt = `You are a personal memory assistant. Answer the user's question using only the memories supplied in the message.
Do not use outside knowledge and do not invent details.
If the memories do not contain enough information to answer, say so plainly.`

type ragState struct {
	Req          RAGRequest
	QueryID      string
	QueryVec     []float32
	Hits         []repository.VectorHit
	Refs         []Reference
	Dropped      int
	Messages     []*schema.Message
	Answer       string
	Fallback     bool
	Start        time.Time
	EmbeddingMs  int64
	SearchMs     int64
	HydrateMs    int64
	GenerationMs int64
	Err          error
}

// buildGraph 节点顺序：Validate → EmbedQuery → SearchVector → Hydrate → Rank → BuildPrompt → Generate → BuildResult
func (p *RAGPipeline) buildGraph(ctx context.Context) (compose.Runnable[*RAGRequest, *RAGResult], error) {
	const (
		Validate     = "Validate"
		EmbedQuery   = "EmbedQuery"
		SearchVector = "SearchVector"
		Hydrate      = "Hydrate"
		Rank         = "Rank"
		BuildPrompt  = "BuildPrompt"
		Generate     = "Generate"
		BuildResult  = "BuildResult"
	)
	g := compose.NewGraph[*RAGRequest, *RAGResult]()
	_ = g.AddLambdaNode(Validate, compose.InvokableLambdaWithOption(p.validateNode), compose.WithNodeName(Validate))
	_ = g.AddLambdaNode(EmbedQuery, compose.InvokableLambdaWithOption(p.embedQueryNode), compose.WithNodeName(EmbedQuery))
	_ = g.AddLambdaNode(SearchVector, compose.InvokableLambdaWithOption(p.searchVectorNode), compose.WithNodeName(SearchVector))
	_ = g.AddLambdaNode(Hydrate, compose.InvokableLambdaWithOption(p.hydrateNode), compose.WithNodeName(Hydrate))
	_ = g.AddLambdaNode(Rank, compose.InvokableLambdaWithOption(p.rankNode), compose.WithNodeName(Rank))
	_ = g.AddLambdaNode(BuildPrompt, compose.InvokableLambdaWithOption(p.buildPromptNode), compose.WithNodeName(BuildPrompt))
	_ = g.AddLambdaNode(Generate, compose.InvokableLambdaWithOption(p.generateNode), compose.WithNodeName(Generate))
	_ = g.AddLambdaNode(BuildResult, compose.InvokableLambdaWithOption(p.buildResultNode), compose.WithNodeName(BuildResult))
	_ = g.AddEdge(compose.START, Validate)
	_ = g.AddEdge(Validate, EmbedQuery)
	_ = g.AddEdge(EmbedQuery, SearchVector)
	_ = g.AddEdge(SearchVector, Hydrate)
	_ = g.AddEdge(Hydrate, Rank)
	_ = g.AddEdge(Rank, BuildPrompt)
	_ = g.AddEdge(BuildPrompt, Generate)
	_ = g.AddEdge(Generate, BuildResult)
	_ = g.AddEdge(BuildResult, compose.END)
	return g.Compile(ctx, compose.WithGraphName("MemoryRAGPipeline"), compose.WithNodeTriggerMode(compose.AllPredecessor))
}

// validateNode 在任何外部调用之前拒绝非法请求
func (p *RAGPipeline) validateNode(ctx context.Context, req *RAGRequest, _ ...any) (*ragState, error) {
	// 只规范化副本，调用方的请求保持原样
	st := &ragState{Req: *req, Start: time.Now(), QueryID: util.GenerateID("q_")}
	r := &st.Req
	r.OwnerID = strings.TrimSpace(r.OwnerID)
	if r.OwnerID == "" {
		st.Err = xerr.Wrapf(xerr.ErrInvalidQuery, "missing owner")
		return st, nil
	}
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		st.Err = xerr.Wrapf(xerr.ErrInvalidQuery, "query is empty")
		return st, nil
	}
	if n := utf8.RuneCountInString(r.Query); n > p.opts.MaxQueryChars {
		st.Err = xerr.Wrapf(xerr.ErrInvalidQuery, "query too long: %d > %d", n, p.opts.MaxQueryChars)
		return st, nil
	}
	if r.TopK == 0 {
		r.TopK = p.opts.DefaultTopK
	}
	if r.TopK < 1 || r.TopK > p.opts.MaxTopK {
		st.Err = xerr.Wrapf(xerr.ErrInvalidQuery, "topK out of range [1,%d]: %d", p.opts.MaxTopK, r.TopK)
		return st, nil
	}
	return st, nil
}

func (p *RAGPipeline) embedQueryNode(ctx context.Context, st *ragState, _ ...any) (*ragState, error) {
	if st.Err != nil {
		return st, nil
	}
	t := time.Now()
	vec, err := p.gw.Embed(ctx, st.Req.Query)
	st.EmbeddingMs = time.Since(t).Milliseconds()
	if err != nil {
		st.Err = xerr.Wrap(xerr.ErrRetrievalUnavailable, err)
		return st, nil
	}
	st.QueryVec = vec
	return st, nil
}

// searchVectorNode 按 owner 过滤检索；空结果不是错误
func (p *RAGPipeline) searchVectorNode(ctx context.Context, st *ragState, _ ...any) (*ragState, error) {
	if st.Err != nil {
		return st, nil
	}
	t := time.Now()
	hits, err := p.gw.Query(ctx, st.QueryVec, st.Req.TopK, repository.VectorFilter{OwnerID: st.Req.OwnerID})
	st.SearchMs = time.Since(t).Milliseconds()
	if err != nil {
		st.Err = xerr.Wrap(xerr.ErrRetrievalUnavailable, err)
		return st, nil
	}
	st.Hits = hits
	return st, nil
}

// hydrateNode 回表读取权威记录，并再次按 owner 过滤
//
// 已删除的记录静默丢弃；FAILED 记录的向量可能与内容不一致，同样丢弃。
func (p *RAGPipeline) hydrateNode(ctx context.Context, st *ragState, _ ...any) (*ragState, error) {
	if st.Err != nil {
		return st, nil
	}
	st.Refs = []Reference{}
	if len(st.Hits) == 0 {
		return st, nil
	}
	t := time.Now()
	ids := make([]string, 0, len(st.Hits))
	for _, h := range st.Hits {
		ids = append(ids, h.ID)
	}
	recs, err := p.repo.FindByIDs(ctx, st.Req.OwnerID, ids)
	st.HydrateMs = time.Since(t).Milliseconds()
	if err != nil {
		st.Err = xerr.Wrap(xerr.ErrRetrievalUnavailable, err)
		return st, nil
	}
	byID := make(map[string]*entity.MemoryRecord, len(recs))
	for _, r := range recs {
		if r == nil || r.OwnerId != st.Req.OwnerID {
			continue
		}
		byID[r.Id] = r
	}

	seen := make(map[string]struct{}, len(st.Hits))
	for _, h := range st.Hits {
		rec, ok := byID[h.ID]
		if _, dup := seen[h.ID]; dup {
			ok = false
		}
		if !ok || rec.EmbeddingState == entity.EmbeddingStateFailed {
			st.Dropped++
			if h.Metadata.OwnerID != "" && h.Metadata.OwnerID != st.Req.OwnerID {
				zlog.Warn("vector hit owner mismatch",
					zap.String("query_id", st.QueryID),
					zap.String("memory_id", h.ID),
					zap.String("owner_id", st.Req.OwnerID))
			}
			continue
		}
		seen[h.ID] = struct{}{}
		st.Refs = append(st.Refs, Reference{
			ID:        rec.Id,
			Title:     rec.Title,
			Content:   rec.Content,
			Tags:      rec.Tags,
			Score:     h.Score,
			CreatedAt: rec.CreatedAt,
		})
	}
	return st, nil
}

// rankNode 相似度降序，相同时按 createdAt 降序，再按 id 升序
func (p *RAGPipeline) rankNode(ctx context.Context, st *ragState, _ ...any) (*ragState, error) {
	if st.Err != nil {
		return st, nil
	}
	sortReferences(st.Refs)
	return st, nil
}

func sortReferences(refs []Reference) {
	sort.SliceStable(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func (p *RAGPipeline) buildPromptNode(ctx context.Context, st *ragState, _ ...any) (*ragState, error) {
	if st.Err != nil {
		return st, nil
	}
	st.Messages = []*schema.Message{
		schema.SystemMessage(ragSystemPrompt),
		schema.UserMessage(buildUserPrompt(st.Req.Query, st.Refs)),
	}
	return st, nil
}

func buildUserPrompt(query string, refs []Reference) string {
	var b strings.Builder
	if len(refs) == 0 {
		b.WriteString("No memories were found for this question.\n\n")
	} else {
		b.WriteString("Memories:\n\n")
		for i, r := range refs {
			if i > 0 {
				b.WriteString("\n---\n\n")
			}
			title := r.Title
			if strings.TrimSpace(title) == "" {
				title = "Untitled"
			}
			fmt.Fprintf(&b, "Title: %s\nContent: %s\nTags: %s\n", title, r.Content, strings.Join(r.Tags, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Question: %s", query)
	return b.String()
}

// generateNode 调用生成模型；无文本时使用固定回答而不是失败
func (p *RAGPipeline) generateNode(ctx context.Context, st *ragState, _ ...any) (*ragState, error) {
	if st.Err != nil {
		return st, nil
	}
	t := time.Now()
	msg, err := util.CallWithTimeout(ctx, p.opts.GenerationTimeout, func(ctx context.Context) (*schema.Message, error) {
		return p.cm.Generate(ctx, st.Messages)
	})
	st.GenerationMs = time.Since(t).Milliseconds()
	if err != nil {
		st.Err = xerr.Wrap(xerr.ErrGenerationUnavailable, err)
		return st, nil
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		st.Answer = FallbackAnswer
		st.Fallback = true
		return st, nil
	}
	st.Answer = strings.TrimSpace(msg.Content)
	return st, nil
}

func (p *RAGPipeline) buildResultNode(ctx context.Context, st *ragState, _ ...any) (*RAGResult, error) {
	res := &RAGResult{
		QueryID:      st.QueryID,
		Answer:       st.Answer,
		References:   st.Refs,
		TotalHits:    len(st.Hits),
		DroppedHits:  st.Dropped,
		Fallback:     st.Fallback,
		EmbeddingMs:  st.EmbeddingMs,
		SearchMs:     st.SearchMs,
		HydrateMs:    st.HydrateMs,
		GenerationMs: st.GenerationMs,
		DurationMs:   time.Since(st.Start).Milliseconds(),
		Err:          st.Err,
	}
	res.Query = st.Req.Query
	if res.References == nil {
		res.References = []Reference{}
	}

	ids := make([]string, 0, len(res.References))
	for _, r := range res.References {
		ids = append(ids, r.ID)
	}
	fields := []zap.Field{
		zap.String("query_id", res.QueryID),
		zap.String("owner_id", st.Req.OwnerID),
		zap.Int("top_k", st.Req.TopK),
		zap.Int("total_hits", res.TotalHits),
		zap.Int("dropped_hits", res.DroppedHits),
		zap.String("memory_ids", strings.Join(ids, ",")),
		zap.Bool("fallback", res.Fallback),
		zap.Int64("embedding_ms", res.EmbeddingMs),
		zap.Int64("search_ms", res.SearchMs),
		zap.Int64("hydrate_ms", res.HydrateMs),
		zap.Int64("generation_ms", res.GenerationMs),
		zap.Int64("duration_ms", res.DurationMs),
	}
	if res.Err != nil {
		zlog.Warn("memory rag failed", append(fields, zap.Error(res.Err))...)
	} else {
		zlog.Info("memory rag done", fields...)
	}
	return res, nil
}

package pipeline

import (
	"context"
	"fmt"
	"time"

	"MemoLink/internal/modules/memory/domain/repository"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
)

// FallbackAnswer 生成模型未返回文本时的固定回答
const FallbackAnswer = "Sorry, I could not generate a response."

// RAGRequest 问答请求，OwnerID 来自已认证的调用方
type RAGRequest struct {
	OwnerID string
	Query   string
	TopK    int // 0 表示使用默认值
}

// Reference 按排序返回的引用记忆
type Reference struct {
	ID        string
	Title     string
	Content   string
	Tags      []string
	Score     float32
	CreatedAt time.Time
}

type RAGResult struct {
	QueryID      string
	Query        string
	Answer       string
	References   []Reference
	TotalHits    int // 索引返回的命中数
	DroppedHits  int // 回表时被丢弃的命中数（已删除 / 非本人 / FAILED）
	Fallback     bool
	EmbeddingMs  int64
	SearchMs     int64
	HydrateMs    int64
	GenerationMs int64
	DurationMs   int64
	Err          error
}

type RAGOptions struct {
	DefaultTopK       int
	MaxTopK           int
	MaxQueryChars     int
	GenerationTimeout time.Duration
}

func (o RAGOptions) withDefaults() RAGOptions {
	if o.DefaultTopK <= 0 {
		o.DefaultTopK = 5
	}
	if o.MaxTopK <= 0 {
		o.MaxTopK = 20
	}
	if o.DefaultTopK > o.MaxTopK {
		o.DefaultTopK = o.MaxTopK
	}
	if o.MaxQueryChars <= 0 {
		o.MaxQueryChars = 500
	}
	if o.GenerationTimeout <= 0 {
		o.GenerationTimeout = 60 * time.Second
	}
	return o
}

// RAGPipeline 查询期流水线（基于 Eino compose.Graph）
//
// 检索阶段（向量化 / 检索 / 回表）的任何失败都让整个请求失败，不生成无依据的回答；
// 生成阶段失败单独归类，调用方可以区分两者。
type RAGPipeline struct {
	repo repository.MemoryRepository
	gw   repository.EmbeddingGateway
	cm   model.BaseChatModel
	opts RAGOptions
	r    compose.Runnable[*RAGRequest, *RAGResult]
}

func NewRAGPipeline(repo repository.MemoryRepository, gw repository.EmbeddingGateway, cm model.BaseChatModel, opts RAGOptions) (*RAGPipeline, error) {
	if repo == nil {
		return nil, fmt.Errorf("memory repository is nil")
	}
	if gw == nil {
		return nil, fmt.Errorf("embedding gateway is nil")
	}
	if cm == nil {
		return nil, fmt.Errorf("chat model is nil")
	}
	p := &RAGPipeline{repo: repo, gw: gw, cm: cm, opts: opts.withDefaults()}
	r, err := p.buildGraph(context.Background())
	if err != nil {
		return nil, err
	}
	p.r = r
	return p, nil
}

// Answer 执行一次问答；失败时 error 为 xerr 分类错误，result 仍携带已完成阶段的耗时
func (p *RAGPipeline) Answer(ctx context.Context, req *RAGRequest) (*RAGResult, error) {
	if req == nil {
		return nil, fmt.Errorf("rag request is nil")
	}
	res, err := p.r.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

package service

import (
	"context"

	"MemoLink/internal/modules/memory/application/dto/request"
	"MemoLink/internal/modules/memory/application/dto/respond"
	"MemoLink/internal/modules/memory/infrastructure/pipeline"
)

// QueryService 基于记忆的问答
type QueryService interface {
	// Answer 返回生成的回答与按相关度排序的引用；
	// 失败时为 InvalidQuery / RetrievalUnavailable / GenerationUnavailable 之一
	Answer(ctx context.Context, ownerID string, req request.AnswerQueryRequest) (*respond.AnswerQueryRespond, error)
}

type queryServiceImpl struct {
	pipeline *pipeline.RAGPipeline
}

func NewQueryService(p *pipeline.RAGPipeline) QueryService {
	return &queryServiceImpl{pipeline: p}
}

func (s *queryServiceImpl) Answer(ctx context.Context, ownerID string, req request.AnswerQueryRequest) (*respond.AnswerQueryRespond, error) {
	res, err := s.pipeline.Answer(ctx, &pipeline.RAGRequest{
		OwnerID: ownerID,
		Query:   req.Query,
		TopK:    req.Limit,
	})
	if err != nil {
		return nil, err
	}

	refs := make([]respond.ReferenceRespond, 0, len(res.References))
	for _, r := range res.References {
		tags := r.Tags
		if tags == nil {
			tags = []string{}
		}
		refs = append(refs, respond.ReferenceRespond{
			ID:        r.ID,
			Title:     r.Title,
			Content:   r.Content,
			Tags:      tags,
			Score:     r.Score,
			CreatedAt: r.CreatedAt,
		})
	}
	return &respond.AnswerQueryRespond{
		QueryID:    res.QueryID,
		Query:      res.Query,
		Answer:     res.Answer,
		References: refs,
		Fallback:   res.Fallback,
		TotalHits:  res.TotalHits,
		DurationMs: res.DurationMs,
	}, nil
}

package service

import (
	"context"
	"math"
	"strings"

	"MemoLink/internal/modules/memory/application/dto/request"
	"MemoLink/internal/modules/memory/application/dto/respond"
	"MemoLink/internal/modules/memory/domain/entity"
	"MemoLink/internal/modules/memory/domain/repository"
	"MemoLink/internal/modules/memory/infrastructure/pipeline"
	"MemoLink/pkg/util"
	"MemoLink/pkg/xerr"
)

const (
	defaultPage  = 1
	defaultLimit = 20
	maxLimit     = 100
)

// MemoryService 记忆读写
//
// 写操作只依赖主存储：向量同步的失败记录在 embedding_state 上，不会让写入失败。
type MemoryService interface {
	Create(ctx context.Context, ownerID string, req request.CreateMemoryRequest) (*respond.MemoryRespond, error)
	Get(ctx context.Context, ownerID, id string) (*respond.MemoryRespond, error)
	Update(ctx context.Context, ownerID, id string, req request.UpdateMemoryRequest) (*respond.MemoryRespond, error)
	Delete(ctx context.Context, ownerID, id string) (*respond.DeleteMemoryRespond, error)
	List(ctx context.Context, ownerID string, req request.ListMemoriesRequest) (*respond.MemoryListRespond, error)
}

type memoryServiceImpl struct {
	repo   repository.MemoryRepository
	syncer *pipeline.SyncCoordinator
}

func NewMemoryService(repo repository.MemoryRepository, syncer *pipeline.SyncCoordinator) MemoryService {
	return &memoryServiceImpl{repo: repo, syncer: syncer}
}

func (s *memoryServiceImpl) Create(ctx context.Context, ownerID string, req request.CreateMemoryRequest) (*respond.MemoryRespond, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, xerr.ErrUnauthorized
	}
	if err := entity.ValidateContent(req.Content); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if err := entity.ValidateTitle(title); err != nil {
		return nil, err
	}
	tags, err := entity.NormalizeTags(req.Tags)
	if err != nil {
		return nil, err
	}

	rec := &entity.MemoryRecord{
		Id:      util.GenerateID("mem_"),
		OwnerId: ownerID,
		Title:   title,
		Content: req.Content,
		Tags:    tags,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}

	// 先截取 PENDING 状态的响应，再触发同步
	resp := toMemoryRespond(rec)
	s.syncer.Trigger(ctx, pipeline.SnapshotOf(rec))
	return resp, nil
}

func (s *memoryServiceImpl) Get(ctx context.Context, ownerID, id string) (*respond.MemoryRespond, error) {
	rec, err := s.repo.GetByID(ctx, strings.TrimSpace(id), strings.TrimSpace(ownerID))
	if err != nil {
		return nil, err
	}
	return toMemoryRespond(rec), nil
}

func (s *memoryServiceImpl) Update(ctx context.Context, ownerID, id string, req request.UpdateMemoryRequest) (*respond.MemoryRespond, error) {
	var patch entity.MemoryPatch
	if req.Content != nil {
		if err := entity.ValidateContent(*req.Content); err != nil {
			return nil, err
		}
		patch.Content = req.Content
	}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if err := entity.ValidateTitle(title); err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	if req.Tags != nil {
		tags, err := entity.NormalizeTags(*req.Tags)
		if err != nil {
			return nil, err
		}
		patch.Tags = &tags
	}
	if patch.IsEmpty() {
		return nil, xerr.Wrapf(xerr.ErrInvalidInput, "no fields to update")
	}

	rec, err := s.repo.Update(ctx, strings.TrimSpace(id), strings.TrimSpace(ownerID), patch)
	if err != nil {
		return nil, err
	}
	resp := toMemoryRespond(rec)
	// 标题与标签也写在向量元数据里，任一字段变化都需要重新同步
	s.syncer.Trigger(ctx, pipeline.SnapshotOf(rec))
	return resp, nil
}

// Delete 主记录删除成功即视为删除成功，向量清理失败只在响应中标记
func (s *memoryServiceImpl) Delete(ctx context.Context, ownerID, id string) (*respond.DeleteMemoryRespond, error) {
	rec, err := s.repo.Delete(ctx, strings.TrimSpace(id), strings.TrimSpace(ownerID))
	if err != nil {
		return nil, err
	}
	out := s.syncer.Remove(ctx, rec.Id, rec.OwnerId)
	return &respond.DeleteMemoryRespond{
		ID:                   rec.Id,
		Deleted:              true,
		VectorCleanupPending: out.CleanupPending,
	}, nil
}

func (s *memoryServiceImpl) List(ctx context.Context, ownerID string, req request.ListMemoriesRequest) (*respond.MemoryListRespond, error) {
	page, limit := req.Page, req.Limit
	if page == 0 {
		page = defaultPage
	}
	if limit == 0 {
		limit = defaultLimit
	}
	if page < 1 {
		return nil, xerr.Wrapf(xerr.ErrInvalidInput, "page must be >= 1: %d", page)
	}
	if limit < 1 || limit > maxLimit {
		return nil, xerr.Wrapf(xerr.ErrInvalidInput, "limit out of range [1,%d]: %d", maxLimit, limit)
	}

	var tags []string
	if strings.TrimSpace(req.Tags) != "" {
		t, err := entity.NormalizeTags(strings.Split(req.Tags, ","))
		if err != nil {
			return nil, err
		}
		tags = t
	}

	recs, total, err := s.repo.List(ctx, repository.ListQuery{
		OwnerID: strings.TrimSpace(ownerID),
		Page:    page,
		Limit:   limit,
		Tags:    tags,
		Search:  strings.TrimSpace(req.Search),
	})
	if err != nil {
		return nil, err
	}

	out := &respond.MemoryListRespond{
		Memories: make([]respond.MemoryRespond, 0, len(recs)),
		Pagination: respond.Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}
	for _, r := range recs {
		out.Memories = append(out.Memories, *toMemoryRespond(r))
	}
	return out, nil
}

func toMemoryRespond(rec *entity.MemoryRecord) *respond.MemoryRespond {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	return &respond.MemoryRespond{
		ID:             rec.Id,
		OwnerID:        rec.OwnerId,
		Title:          rec.Title,
		Content:        rec.Content,
		Tags:           tags,
		EmbeddingState: string(rec.EmbeddingState),
		EmbeddingError: rec.EmbeddingError,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

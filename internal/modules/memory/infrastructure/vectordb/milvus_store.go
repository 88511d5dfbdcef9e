package vectordb

import (
	"MemoLink/internal/modules/memory/domain/repository"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mclient "github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Milvus 集合字段名
const (
	FieldID          = "id"
	FieldVector      = "vector"
	FieldOwnerID     = "owner_id"
	FieldTitle       = "title"
	FieldTags        = "tags"
	FieldCreatedAt   = "created_at"
	FieldContentHash = "content_hash"
)

var outputFields = []string{FieldOwnerID, FieldTitle, FieldTags, FieldCreatedAt, FieldContentHash}

type MilvusStore struct {
	cli         mclient.Client
	collection  string
	metricType  entity.MetricType
	vectorDim   int
	searchParam entity.SearchParam
}

var _ repository.VectorIndex = (*MilvusStore)(nil)

func NewMilvusStore(cli mclient.Client, collection string, vectorDim int, metricType entity.MetricType) (*MilvusStore, error) {
	if cli == nil {
		return nil, errors.New("milvus client is nil")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("collection is empty")
	}
	if vectorDim <= 0 {
		return nil, fmt.Errorf("invalid vectorDim: %d", vectorDim)
	}
	if metricType == "" {
		metricType = entity.COSINE
	}
	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, err
	}
	return &MilvusStore{cli: cli, collection: collection, metricType: metricType, vectorDim: vectorDim, searchParam: sp}, nil
}

func (s *MilvusStore) Name() string { return "milvus" }

func (s *MilvusStore) Dim() int { return s.vectorDim }

func (s *MilvusStore) Upsert(ctx context.Context, entries []repository.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]string, 0, len(entries))
	vectors := make([][]float32, 0, len(entries))
	owners := make([]string, 0, len(entries))
	titles := make([]string, 0, len(entries))
	tags := make([]string, 0, len(entries))
	createdAts := make([]int64, 0, len(entries))
	hashes := make([]string, 0, len(entries))

	for _, e := range entries {
		if e.ID == "" {
			return errors.New("upsert entry missing ID")
		}
		if len(e.Vector) != s.vectorDim {
			return fmt.Errorf("vector dim mismatch for id=%s, got=%d want=%d", e.ID, len(e.Vector), s.vectorDim)
		}
		ids = append(ids, e.ID)
		vectors = append(vectors, e.Vector)
		owners = append(owners, e.Metadata.OwnerID)
		titles = append(titles, e.Metadata.Title)
		tags = append(tags, joinTags(e.Metadata.Tags))
		createdAts = append(createdAts, e.Metadata.CreatedAt.UnixMilli())
		hashes = append(hashes, e.Metadata.ContentHash)
	}

	_, err := s.cli.Upsert(
		ctx,
		s.collection,
		"",
		entity.NewColumnVarChar(FieldID, ids),
		entity.NewColumnFloatVector(FieldVector, s.vectorDim, vectors),
		entity.NewColumnVarChar(FieldOwnerID, owners),
		entity.NewColumnVarChar(FieldTitle, titles),
		entity.NewColumnVarChar(FieldTags, tags),
		entity.NewColumnInt64(FieldCreatedAt, createdAts),
		entity.NewColumnVarChar(FieldContentHash, hashes),
	)
	return err
}

func (s *MilvusStore) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	quoted := make([]string, 0, len(ids))
	for _, id := range ids {
		quoted = append(quoted, quote(id))
	}
	expr := fmt.Sprintf(`%s in [%s]`, FieldID, strings.Join(quoted, ","))
	return s.cli.Delete(ctx, s.collection, "", expr)
}

func (s *MilvusStore) Search(ctx context.Context, vector []float32, topK int, filter repository.VectorFilter) ([]repository.VectorHit, error) {
	if len(vector) != s.vectorDim {
		return nil, fmt.Errorf("vector dim mismatch, got=%d want=%d", len(vector), s.vectorDim)
	}
	if strings.TrimSpace(filter.OwnerID) == "" {
		return nil, errors.New("owner filter is required")
	}
	if topK <= 0 {
		topK = 5
	}
	res, err := s.cli.Search(
		ctx,
		s.collection,
		[]string{},
		buildFilterExpr(filter),
		outputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		FieldVector,
		s.metricType,
		topK,
		s.searchParam,
	)
	if err != nil {
		return nil, err
	}
	if len(res) == 0 {
		return []repository.VectorHit{}, nil
	}
	return parseSearchResult(res[0])
}

// buildFilterExpr 构造 Milvus 过滤表达式，owner_id 必须存在以防越权
//
//	owner_id == "U123"
func buildFilterExpr(filter repository.VectorFilter) string {
	return fmt.Sprintf(`%s == %s`, FieldOwnerID, quote(filter.OwnerID))
}

func parseSearchResult(sr mclient.SearchResult) ([]repository.VectorHit, error) {
	if sr.Err != nil {
		return nil, sr.Err
	}
	hits := make([]repository.VectorHit, 0, sr.ResultCount)
	if sr.IDs == nil {
		return hits, nil
	}

	ownerCol := columnByName(sr.Fields, FieldOwnerID)
	titleCol := columnByName(sr.Fields, FieldTitle)
	tagsCol := columnByName(sr.Fields, FieldTags)
	createdCol := columnByName(sr.Fields, FieldCreatedAt)
	hashCol := columnByName(sr.Fields, FieldContentHash)

	for i := 0; i < sr.ResultCount; i++ {
		id, err := sr.IDs.GetAsString(i)
		if err != nil {
			return nil, err
		}
		h := repository.VectorHit{ID: id}
		if i < len(sr.Scores) {
			h.Score = sr.Scores[i]
		}
		if ownerCol != nil {
			h.Metadata.OwnerID, _ = ownerCol.GetAsString(i)
		}
		if titleCol != nil {
			h.Metadata.Title, _ = titleCol.GetAsString(i)
		}
		if tagsCol != nil {
			v, _ := tagsCol.GetAsString(i)
			h.Metadata.Tags = splitTags(v)
		}
		if createdCol != nil {
			ms, _ := createdCol.GetAsInt64(i)
			h.Metadata.CreatedAt = time.UnixMilli(ms)
		}
		if hashCol != nil {
			h.Metadata.ContentHash, _ = hashCol.GetAsString(i)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func columnByName(cols mclient.ResultSet, name string) entity.Column {
	for _, c := range cols {
		if c != nil && c.Name() == name {
			return c
		}
	}
	return nil
}

// quote 生成 Milvus 表达式中的字符串字面量
func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

func joinTags(tags []string) string {
	return strings.Join(tags, ",")
}

func splitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

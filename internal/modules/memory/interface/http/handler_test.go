package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"MemoLink/internal/modules/memory/application/dto/request"
	"MemoLink/internal/modules/memory/application/dto/respond"
	"MemoLink/pkg/back"
	"MemoLink/pkg/xerr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubMemoryService struct {
	lastOwner string
	lastList  request.ListMemoriesRequest
	lastPatch request.UpdateMemoryRequest
	err       error
}

func (s *stubMemoryService) Create(_ context.Context, owner string, req request.CreateMemoryRequest) (*respond.MemoryRespond, error) {
	s.lastOwner = owner
	if s.err != nil {
		return nil, s.err
	}
	return &respond.MemoryRespond{ID: "mem_1", OwnerID: owner, Content: req.Content, EmbeddingState: "PENDING", Tags: []string{}}, nil
}

func (s *stubMemoryService) Get(_ context.Context, owner, id string) (*respond.MemoryRespond, error) {
	s.lastOwner = owner
	if s.err != nil {
		return nil, s.err
	}
	return &respond.MemoryRespond{ID: id, OwnerID: owner}, nil
}

func (s *stubMemoryService) Update(_ context.Context, owner, id string, req request.UpdateMemoryRequest) (*respond.MemoryRespond, error) {
	s.lastOwner, s.lastPatch = owner, req
	if s.err != nil {
		return nil, s.err
	}
	return &respond.MemoryRespond{ID: id, OwnerID: owner}, nil
}

func (s *stubMemoryService) Delete(_ context.Context, owner, id string) (*respond.DeleteMemoryRespond, error) {
	s.lastOwner = owner
	if s.err != nil {
		return nil, s.err
	}
	return &respond.DeleteMemoryRespond{ID: id, Deleted: true}, nil
}

func (s *stubMemoryService) List(_ context.Context, owner string, req request.ListMemoriesRequest) (*respond.MemoryListRespond, error) {
	s.lastOwner, s.lastList = owner, req
	if s.err != nil {
		return nil, s.err
	}
	return &respond.MemoryListRespond{Memories: []respond.MemoryRespond{}, Pagination: respond.Pagination{Page: 1, Limit: 20}}, nil
}

type stubQueryService struct {
	err error
}

func (s *stubQueryService) Answer(_ context.Context, _ string, req request.AnswerQueryRequest) (*respond.AnswerQueryRespond, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &respond.AnswerQueryRespond{QueryID: "q_1", Query: req.Query, Answer: "ok", References: []respond.ReferenceRespond{}}, nil
}

func newTestEngine(mem *stubMemoryService, q *stubQueryService, owner string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	authed := r.Group("/")
	authed.Use(func(c *gin.Context) {
		if owner != "" {
			c.Set("uuid", owner)
		}
		c.Next()
	})
	mh := NewMemoryHandler(mem)
	authed.POST("/memories", mh.Create)
	authed.GET("/memories", mh.List)
	authed.GET("/memories/:id", mh.Get)
	authed.PUT("/memories/:id", mh.Update)
	authed.DELETE("/memories/:id", mh.Delete)
	authed.POST("/ai/search", NewQueryHandler(q).Answer)
	return r
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) back.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	var out back.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestMemoryRoutes(t *testing.T) {
	mem := &stubMemoryService{}
	r := newTestEngine(mem, &stubQueryService{}, "alice")

	out := do(t, r, http.MethodPost, "/memories", map[string]any{"content": "hello", "tags": []string{"a"}})
	assert.Equal(t, xerr.OK, out.Code)
	assert.Equal(t, "alice", mem.lastOwner)

	out = do(t, r, http.MethodGet, "/memories?page=2&limit=5&tags=a,b&search=x", nil)
	assert.Equal(t, xerr.OK, out.Code)
	assert.Equal(t, request.ListMemoriesRequest{Page: 2, Limit: 5, Tags: "a,b", Search: "x"}, mem.lastList)

	out = do(t, r, http.MethodPut, "/memories/mem_1", map[string]any{"title": "new"})
	assert.Equal(t, xerr.OK, out.Code)
	require.NotNil(t, mem.lastPatch.Title)
	assert.Equal(t, "new", *mem.lastPatch.Title)
	assert.Nil(t, mem.lastPatch.Content)

	out = do(t, r, http.MethodDelete, "/memories/mem_1", nil)
	assert.Equal(t, xerr.OK, out.Code)
	data := out.Data.(map[string]any)
	assert.Equal(t, true, data["deleted"])
}

func TestMemoryRoutesErrors(t *testing.T) {
	mem := &stubMemoryService{}
	r := newTestEngine(mem, &stubQueryService{}, "alice")

	// 缺少必填 content
	out := do(t, r, http.MethodPost, "/memories", map[string]any{"title": "x"})
	assert.Equal(t, xerr.BadRequest, out.Code)

	out = do(t, r, http.MethodGet, "/memories?page=abc", nil)
	assert.Equal(t, xerr.BadRequest, out.Code)

	mem.err = xerr.ErrNotFound
	out = do(t, r, http.MethodGet, "/memories/missing", nil)
	assert.Equal(t, xerr.NotFound, out.Code)
	assert.Equal(t, xerr.ErrNotFound.Message, out.Message)

	mem.err = xerr.Wrap(xerr.ErrRepositoryUnavailable, errors.New("db down"))
	out = do(t, r, http.MethodDelete, "/memories/mem_1", nil)
	assert.Equal(t, xerr.ServiceUnavailable, out.Code)

	mem.err = errors.New("unexpected")
	out = do(t, r, http.MethodGet, "/memories/mem_1", nil)
	assert.Equal(t, xerr.InternalServerError, out.Code)
}

func TestRoutesRequireOwner(t *testing.T) {
	r := newTestEngine(&stubMemoryService{}, &stubQueryService{}, "")
	out := do(t, r, http.MethodGet, "/memories", nil)
	assert.Equal(t, xerr.Unauthorized, out.Code)
	out = do(t, r, http.MethodPost, "/ai/search", map[string]any{"query": "q"})
	assert.Equal(t, xerr.Unauthorized, out.Code)
}

func TestAnswerRoute(t *testing.T) {
	q := &stubQueryService{}
	r := newTestEngine(&stubMemoryService{}, q, "alice")

	out := do(t, r, http.MethodPost, "/ai/search", map[string]any{"query": "trip", "limit": 3})
	assert.Equal(t, xerr.OK, out.Code)
	assert.Equal(t, "ok", out.Data.(map[string]any)["answer"])

	out = do(t, r, http.MethodPost, "/ai/search", map[string]any{})
	assert.Equal(t, xerr.BadRequest, out.Code)

	q.err = xerr.Wrap(xerr.ErrGenerationUnavailable, errors.New("llm down"))
	out = do(t, r, http.MethodPost, "/ai/search", map[string]any{"query": "trip"})
	assert.Equal(t, xerr.BadGateway, out.Code)
}

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	var dbErr error
	h := NewHealthHandler("test",
		HealthCheck{Name: "mysql", Required: true, Check: func(context.Context) error { return dbErr }},
		HealthCheck{Name: "kafka", Check: func(context.Context) error { return errors.New("no brokers") }},
	)
	r.GET("/health", h.Health)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	var out respond.HealthRespond
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, StatusDegraded, out.Status)
	assert.Equal(t, StatusOK, out.Components["mysql"])
	assert.Contains(t, out.Components["kafka"], "no brokers")

	dbErr = errors.New("refused")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

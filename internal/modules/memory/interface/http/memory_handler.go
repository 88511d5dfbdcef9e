package http

import (
	jwtMiddleware "MemoLink/internal/middleware/jwt"
	"MemoLink/internal/modules/memory/application/dto/request"
	"MemoLink/internal/modules/memory/application/service"
	"MemoLink/pkg/back"
	"MemoLink/pkg/xerr"
	"MemoLink/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MemoryHandler 记忆 CRUD HTTP Handler
type MemoryHandler struct {
	memorySvc service.MemoryService
}

func NewMemoryHandler(memorySvc service.MemoryService) *MemoryHandler {
	return &MemoryHandler{memorySvc: memorySvc}
}

// Create 路由: POST /memories
func (h *MemoryHandler) Create(c *gin.Context) {
	var req request.CreateMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		zlog.Warn("bind create memory request failed", zap.Error(err))
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	uuid, ok := jwtMiddleware.OwnerID(c)
	if !ok {
		return
	}
	data, err := h.memorySvc.Create(c.Request.Context(), uuid, req)
	if err != nil {
		logFailure("create memory", uuid, "", err)
	}
	back.Result(c, data, err)
}

// List 路由: GET /memories?page=&limit=&tags=a,b&search=
func (h *MemoryHandler) List(c *gin.Context) {
	var req request.ListMemoriesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	uuid, ok := jwtMiddleware.OwnerID(c)
	if !ok {
		return
	}
	data, err := h.memorySvc.List(c.Request.Context(), uuid, req)
	back.Result(c, data, err)
}

// Get 路由: GET /memories/:id
func (h *MemoryHandler) Get(c *gin.Context) {
	uuid, ok := jwtMiddleware.OwnerID(c)
	if !ok {
		return
	}
	data, err := h.memorySvc.Get(c.Request.Context(), uuid, c.Param("id"))
	back.Result(c, data, err)
}

// Update 路由: PUT /memories/:id
func (h *MemoryHandler) Update(c *gin.Context) {
	var req request.UpdateMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	uuid, ok := jwtMiddleware.OwnerID(c)
	if !ok {
		return
	}
	id := c.Param("id")
	data, err := h.memorySvc.Update(c.Request.Context(), uuid, id, req)
	if err != nil {
		logFailure("update memory", uuid, id, err)
	}
	back.Result(c, data, err)
}

// Delete 路由: DELETE /memories/:id
func (h *MemoryHandler) Delete(c *gin.Context) {
	uuid, ok := jwtMiddleware.OwnerID(c)
	if !ok {
		return
	}
	id := c.Param("id")
	data, err := h.memorySvc.Delete(c.Request.Context(), uuid, id)
	if err != nil {
		logFailure("delete memory", uuid, id, err)
	}
	back.Result(c, data, err)
}

// logFailure 4xx 只记 debug，依赖故障记 error
func logFailure(op, owner, id string, err error) {
	fields := []zap.Field{zap.String("owner_id", owner), zap.Error(err)}
	if id != "" {
		fields = append(fields, zap.String("memory_id", id))
	}
	if ce, ok := xerr.From(err); ok && ce.Code < xerr.InternalServerError {
		zlog.Debug(op+" rejected", fields...)
		return
	}
	zlog.Error(op+" failed", fields...)
}

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

// QueryHandler 基于记忆的问答 HTTP Handler
type QueryHandler struct {
	querySvc service.QueryService
}

func NewQueryHandler(querySvc service.QueryService) *QueryHandler {
	return &QueryHandler{querySvc: querySvc}
}

// Answer 处理问答请求
//
// 路由: POST /ai/search
// 鉴权: 需要 JWT
// 请求体: AnswerQueryRequest
// 响应体: AnswerQueryRespond
func (h *QueryHandler) Answer(c *gin.Context) {
	var req request.AnswerQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	uuid, ok := jwtMiddleware.OwnerID(c)
	if !ok {
		return
	}
	data, err := h.querySvc.Answer(c.Request.Context(), uuid, req)
	if err != nil {
		logFailure("answer query", uuid, "", err)
	} else {
		zlog.Info("answer query done",
			zap.String("owner_id", uuid),
			zap.String("query_id", data.QueryID),
			zap.Int("references", len(data.References)),
			zap.Bool("fallback", data.Fallback),
			zap.Int64("duration_ms", data.DurationMs))
	}
	back.Result(c, data, err)
}

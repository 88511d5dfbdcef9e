package http

import (
	jwtMiddleware "MemoLink/internal/middleware/jwt"
	"MemoLink/internal/modules/memory/application/service"
	"MemoLink/pkg/back"

	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	reconcileSvc service.ReconcileService
}

func NewAdminHandler(reconcileSvc service.ReconcileService) *AdminHandler {
	return &AdminHandler{reconcileSvc: reconcileSvc}
}

// Reconcile 立即执行一轮对账
//
// 路由: POST /admin/reconcile
func (h *AdminHandler) Reconcile(c *gin.Context) {
	if _, ok := jwtMiddleware.OwnerID(c); !ok {
		return
	}
	data, err := h.reconcileSvc.RunOnce(c.Request.Context())
	back.Result(c, data, err)
}

package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"MemoLink/internal/modules/memory/application/dto/respond"

	"github.com/gin-gonic/gin"
)

const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// HealthCheck 单个依赖的就绪检查
type HealthCheck struct {
	Name string
	// Required 为 true 时检查失败整体返回 503
	Required bool
	Check    func(ctx context.Context) error
}

type HealthHandler struct {
	version string
	checks  []HealthCheck
	timeout time.Duration
}

func NewHealthHandler(version string, checks ...HealthCheck) *HealthHandler {
	sort.SliceStable(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return &HealthHandler{version: version, checks: checks, timeout: 2 * time.Second}
}

// Health 路由: GET /health（无需鉴权）
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	out := respond.HealthRespond{
		Status:     StatusOK,
		Timestamp:  time.Now().UTC(),
		Version:    h.version,
		Components: make(map[string]string, len(h.checks)),
	}
	code := http.StatusOK
	for _, chk := range h.checks {
		if err := chk.Check(ctx); err != nil {
			out.Components[chk.Name] = "down: " + err.Error()
			out.Status = StatusDegraded
			if chk.Required {
				code = http.StatusServiceUnavailable
			}
			continue
		}
		out.Components[chk.Name] = StatusOK
	}
	c.JSON(code, out)
}

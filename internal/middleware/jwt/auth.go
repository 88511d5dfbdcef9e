package jwt

import (
	"MemoLink/pkg/back"
	"MemoLink/pkg/util/myjwt"
	"MemoLink/pkg/xerr"
	"MemoLink/pkg/zlog"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 上下文键，记忆的 owner 即 token 中的 uuid
const (
	OwnerKey    = "uuid"
	UsernameKey = "username"
)

// Auth 校验 Bearer token，把调用方写入上下文
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			abort(c, xerr.Unauthorized, "missing or invalid authorization header")
			return
		}
		claims, err := myjwt.ParseToken(token)
		if err != nil {
			abort(c, xerr.Unauthorized, "invalid token")
			return
		}
		owner := strings.TrimSpace(claims.Uuid)
		if owner == "" {
			abort(c, xerr.Unauthorized, "invalid token")
			return
		}
		c.Set(OwnerKey, owner)
		c.Set(UsernameKey, claims.Username)
		c.Next()
	}
}

// OwnerID 取出 Auth 写入的调用方，缺失时直接回 401
func OwnerID(c *gin.Context) (string, bool) {
	owner := strings.TrimSpace(c.GetString(OwnerKey))
	if owner == "" {
		abort(c, xerr.Unauthorized, xerr.ErrUnauthorized.Message)
		return "", false
	}
	return owner, true
}

// RequireAdmin 只放行 admins 中的调用方；列表为空时管理接口对所有人关闭
//
// 必须挂在 Auth 之后。
func RequireAdmin(admins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(admins))
	for _, a := range admins {
		if a = strings.TrimSpace(a); a != "" {
			allowed[a] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		owner, ok := OwnerID(c)
		if !ok {
			return
		}
		if _, hit := allowed[owner]; !hit {
			zlog.Warn("admin route forbidden", zap.String("owner_id", owner), zap.String("path", c.FullPath()))
			abort(c, xerr.Forbidden, xerr.ErrForbidden.Message)
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func abort(c *gin.Context, code int, msg string) {
	back.Error(c, code, msg)
	c.Abort()
}

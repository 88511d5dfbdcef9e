package jwt

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"MemoLink/internal/config"
	"MemoLink/pkg/back"
	"MemoLink/pkg/util/myjwt"
	"MemoLink/pkg/xerr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth(t *testing.T) {
	c := &config.Config{}
	c.JwtConfig.Key = "secret"
	c.ApplyDefaults()
	config.SetConfig(c)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth())
	r.GET("/me", func(c *gin.Context) { back.Success(c, c.GetString("uuid")) })

	call := func(header string) back.Response {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		var out back.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		return out
	}

	assert.Equal(t, xerr.Unauthorized, call("").Code)
	assert.Equal(t, xerr.Unauthorized, call("Token abc").Code)
	assert.Equal(t, xerr.Unauthorized, call("Bearer garbage").Code)

	tok, err := myjwt.GenerateToken("alice", "")
	require.NoError(t, err)
	out := call("Bearer " + tok)
	assert.Equal(t, xerr.OK, out.Code)
	assert.Equal(t, "alice", out.Data)
}

func TestRequireAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if owner := c.GetHeader("X-Owner"); owner != "" {
			c.Set(OwnerKey, owner)
		}
		c.Next()
	})
	r.POST("/admin/reconcile", RequireAdmin([]string{" ops ", ""}), func(c *gin.Context) { back.Success(c, "ran") })

	call := func(owner string) back.Response {
		req := httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil)
		if owner != "" {
			req.Header.Set("X-Owner", owner)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		var out back.Response
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		return out
	}

	assert.Equal(t, xerr.Unauthorized, call("").Code)
	assert.Equal(t, xerr.Forbidden, call("alice").Code)
	out := call("ops")
	assert.Equal(t, xerr.OK, out.Code)
	assert.Equal(t, "ran", out.Data)
}

package myjwt

import (
	"testing"
	"time"

	"MemoLink/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setKey(t *testing.T, key string) {
	t.Helper()
	c := &config.Config{}
	c.JwtConfig.Key = key
	c.ApplyDefaults()
	config.SetConfig(c)
}

func TestTokenRoundTrip(t *testing.T) {
	setKey(t, "secret")

	tok, err := GenerateToken("alice", "Alice")
	require.NoError(t, err)
	claims, err := ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Uuid)
	assert.Equal(t, "Alice", claims.Username)
	assert.Equal(t, "MemoLink", claims.Issuer)

	// 不同密钥签发的 token 无效
	setKey(t, "other")
	_, err = ParseToken(tok)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	setKey(t, "secret")
	claims := CustomClaims{
		Uuid: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ParseToken(tok)
	assert.Error(t, err)
}

func TestRejectsEmptyKeyAndUUID(t *testing.T) {
	setKey(t, "")
	_, err := GenerateToken("alice", "")
	assert.Error(t, err)

	setKey(t, "secret")
	_, err = GenerateToken("", "")
	assert.Error(t, err)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, CustomClaims{}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = ParseToken(tok)
	assert.Error(t, err)
}

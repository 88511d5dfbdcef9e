package myjwt

import (
	"MemoLink/internal/config"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims uuid 即记忆的 owner id
type CustomClaims struct {
	Uuid     string `json:"uuid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func GenerateToken(uuid string, username string) (string, error) {
	return GenerateTokenWithTTL(uuid, username, 0)
}

// GenerateTokenWithTTL ttl <= 0 时使用 jwtConfig.expireHours
func GenerateTokenWithTTL(uuid string, username string, ttl time.Duration) (string, error) {
	if uuid == "" {
		return "", errors.New("uuid is empty")
	}
	conf := config.GetConfig()
	key := conf.JwtConfig.Key
	if key == "" {
		return "", errors.New("jwt key is empty")
	}

	if ttl <= 0 {
		expireHours := conf.JwtConfig.ExpireHours
		if expireHours <= 0 {
			expireHours = 24
		}
		ttl = time.Duration(expireHours) * time.Hour
	}

	issuer := conf.JwtConfig.Issuer
	if issuer == "" {
		issuer = conf.MainConfig.AppName
	}

	now := time.Now()
	claims := CustomClaims{
		Uuid:     uuid,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   uuid,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(key))
}

func ParseToken(tokenString string) (*CustomClaims, error) {
	conf := config.GetConfig()
	key := conf.JwtConfig.Key
	if key == "" {
		return nil, errors.New("jwt key is empty")
	}

	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(key), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Uuid == "" {
		return nil, errors.New("token missing uuid")
	}
	return claims, nil
}

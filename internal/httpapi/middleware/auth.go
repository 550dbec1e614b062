package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/suPer8Hu/chat-relay/internal/common"
)

const UserIDKey = "user_id"

// AuthRequired accepts an HS256 bearer token and stores its subject as the
// caller's user id.
func AuthRequired(secret string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		const bearerPrefix = "Bearer "
		if !strings.HasPrefix(authHeader, bearerPrefix) {
			common.Fail(c, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}

		sub, err := ParseToken(key, strings.TrimPrefix(authHeader, bearerPrefix))
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, "Invalid or expired token", nil)
			return
		}

		c.Set(UserIDKey, sub)
		c.Next()
	}
}

func ParseToken(key []byte, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

// SignToken issues a token for userID. Used by tests and operator tooling.
func SignToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// UserID returns the authenticated caller, if the route is behind AuthRequired.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

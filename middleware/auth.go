// Package middleware holds the gin middleware shared by every route.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// UserIDKey is the gin context key holding the authenticated user id.
const UserIDKey = "user_id"

// DevUserHeader picks the user when authentication is disabled.
const DevUserHeader = "X-Dev-User"

// TokenVerifier checks Firebase ID tokens. *auth.Client satisfies it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

type AuthConfig struct {
	// Disabled skips token verification. Local development only.
	Disabled bool
	DevUser  string
}

// Auth requires a valid "Bearer <Firebase ID token>" header and stores the
// token's uid under UserIDKey.
func Auth(v TokenVerifier, cfg AuthConfig, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Disabled {
		log.Warn("authentication disabled", zap.String("dev_user", cfg.DevUser))
		return func(c *gin.Context) {
			uid := c.GetHeader(DevUserHeader)
			if uid == "" {
				uid = cfg.DevUser
			}
			c.Set(UserIDKey, uid)
			c.Next()
		}
	}
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header must be 'Bearer {token}'"})
			return
		}
		t, err := v.VerifyIDToken(c.Request.Context(), strings.TrimSpace(token))
		if err != nil || t.UID == "" {
			log.Info("auth token rejected", zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired authentication token"})
			return
		}
		c.Set(UserIDKey, t.UID)
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" outside Auth.
func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

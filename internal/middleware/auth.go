package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat-sync/internal/apperr"
	"chat-sync/internal/auth"
)

const (
	UserIDKey = "userID"
	EmailKey  = "email"
)

// AuthMiddleware validates the bearer token and stores the caller's id and email
// in the gin context. WebSocket upgrades may pass the token as ?token= instead.
func AuthMiddleware(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			abortUnauthenticated(c, "missing authorization")
			return
		}

		identity, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			abortUnauthenticated(c, "invalid token")
			return
		}

		c.Set(UserIDKey, identity.UserID)
		c.Set(EmailKey, identity.Email)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if websocket.IsWebSocketUpgrade(c.Request) {
			if token := c.Query("token"); token != "" {
				return token, true
			}
		}
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func abortUnauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg, "code": apperr.CodeUnauthenticated})
}

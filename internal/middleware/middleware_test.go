package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chat-sync/internal/auth"
	"chat-sync/internal/telemetry"
)

type staticVerifier map[string]auth.Identity

func (v staticVerifier) Verify(_ context.Context, token string) (auth.Identity, error) {
	id, ok := v[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return id, nil
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), Logger(zap.NewNop()), AuthMiddleware(staticVerifier{"good": {UserID: "u1", Email: "a@x.com"}}))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user":       c.GetString(UserIDKey),
			"email":      c.GetString(EmailKey),
			"request_id": telemetry.RequestID(c.Request.Context()),
		})
	})
	return r
}

func TestAuthMiddlewareAcceptsBearerToken(t *testing.T) {
	r := newRouter()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	req.Header.Set("X-Request-ID", "req-1")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"u1","email":"a@x.com","request_id":"req-1"}`, w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))
}

func TestAuthMiddlewareRejects(t *testing.T) {
	r := newRouter()
	for name, header := range map[string]string{
		"missing":   "",
		"malformed": "good",
		"wrong":     "Bearer bad",
	} {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, name)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"), name)
	}
}

func TestQueryTokenOnlyForWebSocketUpgrades(t *testing.T) {
	r := newRouter()

	plain := httptest.NewRequest(http.MethodGet, "/me?token=good", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, plain)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	upgrade := httptest.NewRequest(http.MethodGet, "/me?token=good", nil)
	upgrade.Header.Set("Connection", "Upgrade")
	upgrade.Header.Set("Upgrade", "websocket")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, upgrade)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSendRateLimitPerUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(UserIDKey, c.GetHeader("X-Test-User"))
		c.Next()
	})
	r.POST("/send", SendRateLimit(2), func(c *gin.Context) { c.Status(http.StatusCreated) })

	send := func(user string) int {
		req := httptest.NewRequest(http.MethodPost, "/send", nil)
		req.Header.Set("X-Test-User", user)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusCreated, send("alice"))
	assert.Equal(t, http.StatusCreated, send("alice"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice"))
	assert.Equal(t, http.StatusCreated, send("bob"))
}

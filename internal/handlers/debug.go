package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-sync/internal/middleware"
	"chat-sync/internal/telemetry"
)

// AuditEmitter sends a line to the audit stream.
type AuditEmitter interface {
	Emit(ctx context.Context, r telemetry.Record)
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRoutes, emitter AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.Record{
			Action:    "debug.audit_test",
			ActorID:   c.GetString(middleware.UserIDKey),
			RequestID: c.GetString(middleware.RequestIDKey),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

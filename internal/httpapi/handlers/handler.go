package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-analytics/internal/analytics"
	"github.com/suPer8Hu/ai-analytics/internal/httpapi/middleware"
	"github.com/suPer8Hu/ai-analytics/internal/session"
)

// Analytics is the service surface the handlers call.
type Analytics interface {
	Ask(ctx context.Context, tenantID uint64, sessionID, userQuery string) (analytics.Answer, error)
	History(ctx context.Context, tenantID uint64, sessionID string) ([]session.Message, error)
	Enqueue(ctx context.Context, tenantID uint64, sessionID, userQuery, idempotencyKey string) (*analytics.Job, bool, error)
	GetJob(ctx context.Context, tenantID uint64, jobID string) (*analytics.JobView, error)
}

type Handler struct {
	Svc Analytics
}

func NewHandler(svc Analytics) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

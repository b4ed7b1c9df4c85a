package handlers

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-analytics/internal/analytics"
	"github.com/suPer8Hu/ai-analytics/internal/common"
)

const (
	msgQueryRequired  = "User query is required"
	msgSessionExpired = "Your session is Expired!"
)

type askReq struct {
	UserQuery string `json:"userQuery"`
	SessionID string `json:"sessionId"`
}

func (h *Handler) bindAsk(c *gin.Context) (uint64, askReq, bool) {
	var req askReq
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return 0, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return 0, req, false
	}
	if strings.TrimSpace(req.UserQuery) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, msgQueryRequired)
		return 0, req, false
	}
	return uid, req, true
}

// Ask handles POST /aiAnalytics.
func (h *Handler) Ask(c *gin.Context) {
	uid, req, okk := h.bindAsk(c)
	if !okk {
		return
	}

	ans, err := h.Svc.Ask(c.Request.Context(), uid, req.SessionID, req.UserQuery)
	if err != nil {
		var agentErr *analytics.AgentError
		switch {
		case errors.Is(err, analytics.ErrQueryRequired):
			common.Fail(c, http.StatusBadRequest, 10002, msgQueryRequired)
		case errors.As(err, &agentErr):
			log.Printf("[Ask] agent failed uid=%d session_id=%s err=%v", uid, agentErr.Answer.SessionID, err)
			common.FailWithData(c, http.StatusInternalServerError, 50010, agentErr.Message, agentErr.Answer)
		default:
			log.Printf("[Ask] failed uid=%d session_id=%s err=%v", uid, req.SessionID, err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}
	common.OK(c, ans)
}

// History handles GET /aiAnalytics/:sessionId.
func (h *Handler) History(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	msgs, err := h.Svc.History(c.Request.Context(), uid, c.Param("sessionId"))
	if err != nil {
		if errors.Is(err, analytics.ErrSessionExpired) {
			common.Notice(c, http.StatusCreated, msgSessionExpired)
			return
		}
		log.Printf("[History] failed uid=%d session_id=%s err=%v", uid, c.Param("sessionId"), err)
		common.Fail(c, http.StatusInternalServerError, 50002, "internal error")
		return
	}
	common.OK(c, msgs)
}

// EnqueueJob handles POST /aiAnalytics/jobs.
func (h *Handler) EnqueueJob(c *gin.Context) {
	uid, req, okk := h.bindAsk(c)
	if !okk {
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		common.Fail(c, http.StatusBadRequest, 10003, "idempotency key too long")
		return
	}

	job, created, err := h.Svc.Enqueue(c.Request.Context(), uid, req.SessionID, req.UserQuery, idempoKey)
	if err != nil {
		switch {
		case errors.Is(err, analytics.ErrQueryRequired):
			common.Fail(c, http.StatusBadRequest, 10002, msgQueryRequired)
		case errors.Is(err, analytics.ErrQueueUnavailable):
			common.Fail(c, http.StatusServiceUnavailable, 50301, "async analytics is not enabled")
		default:
			log.Printf("[EnqueueJob] failed uid=%d session_id=%s key=%s err=%v", uid, req.SessionID, idempoKey, err)
			common.Fail(c, http.StatusInternalServerError, 50003, "enqueue failed")
		}
		return
	}

	common.OK(c, gin.H{
		"jobId":     job.ID,
		"sessionId": job.SessionID,
		"created":   created,
	})
}

// GetJob handles GET /aiAnalytics/jobs/:jobId.
func (h *Handler) GetJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	jobID := c.Param("jobId")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10004, "jobId required")
		return
	}

	v, err := h.Svc.GetJob(c.Request.Context(), uid, jobID)
	if err != nil {
		switch {
		case errors.Is(err, analytics.ErrJobNotFound):
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
		case errors.Is(err, analytics.ErrQueueUnavailable):
			common.Fail(c, http.StatusServiceUnavailable, 50301, "async analytics is not enabled")
		default:
			log.Printf("[GetJob] failed uid=%d job_id=%s err=%v", uid, jobID, err)
			common.Fail(c, http.StatusInternalServerError, 50004, "internal error")
		}
		return
	}
	common.OK(c, gin.H{"job": v})
}

package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/suPer8Hu/ai-analytics/internal/common"
	"gorm.io/gorm"
)

var (
	ErrJobNotFound      = errors.New("analytics: job not found")
	ErrQueueUnavailable = errors.New("analytics: job queue not configured")
)

// JobPublisher hands a job id to the worker queue.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

// Enqueue records a queued job and publishes it. With an idempotency key, a
// repeated request returns the existing job and publishes nothing.
func (s *Service) Enqueue(ctx context.Context, tenantID uint64, sessionID, userQuery, idempotencyKey string) (*Job, bool, error) {
	if s.repo == nil || s.publisher == nil {
		return nil, false, ErrQueueUnavailable
	}
	q := strings.TrimSpace(userQuery)
	if q == "" {
		return nil, false, ErrQueryRequired
	}
	sid, err := s.resolveSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, false, err
	}

	jobID, err := common.NewULID()
	if err != nil {
		return nil, false, err
	}
	var key *string
	if k := strings.TrimSpace(idempotencyKey); k != "" {
		key = &k
	}

	job, created, err := s.repo.CreateJobOrGetExisting(ctx, &Job{
		ID:             jobID,
		TenantID:       tenantID,
		SessionID:      sid,
		Query:          q,
		IdempotencyKey: key,
		Status:         JobQueued,
	})
	if err != nil {
		return nil, false, fmt.Errorf("analytics: create job: %w", err)
	}
	if !created {
		return job, false, nil
	}

	if err := s.publisher.PublishJob(ctx, job.ID); err != nil {
		_ = s.repo.MarkJobFailed(ctx, job.ID, "enqueue failed: "+err.Error())
		return nil, false, fmt.Errorf("analytics: publish job %s: %w", job.ID, err)
	}
	log.Printf("analytics: tenant=%d job=%s queued session=%s", tenantID, job.ID, sid)
	return job, true, nil
}

// RunJob answers a queued job and records the outcome. A job that already
// succeeded is not answered again.
func (s *Service) RunJob(ctx context.Context, jobID string) error {
	jobStart := time.Now()

	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status == JobSucceeded {
		log.Printf("analytics: job=%s already succeeded, skipping", jobID)
		return nil
	}
	_ = s.repo.UpdateJobStatusRunning(ctx, jobID)

	// the session id was issued at enqueue time and stays the job's session
	ans, err := s.answer(ctx, j.TenantID, j.SessionID, j.Query)
	askCost := time.Since(jobStart)
	if err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		log.Printf("job_timing_failed job=%s ask=%s err=%v", jobID, askCost, err)
		return err
	}

	b, err := json.Marshal(ans)
	if err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}
	if err := s.repo.MarkJobSucceeded(ctx, jobID, string(b)); err != nil {
		log.Printf("job_timing_failed job=%s ask=%s markSucc err=%v", jobID, askCost, err)
		return err
	}

	if total := time.Since(jobStart); total > 2*time.Second {
		log.Printf("job_timing job=%s ask=%s total=%s", jobID, askCost, total)
	}
	return nil
}

// JobView is a job as shown to its tenant.
type JobView struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Status    JobStatus `json:"status"`
	Result    *Answer   `json:"result,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetJob hides jobs owned by other tenants behind ErrJobNotFound.
func (s *Service) GetJob(ctx context.Context, tenantID uint64, jobID string) (*JobView, error) {
	if s.repo == nil {
		return nil, ErrQueueUnavailable
	}
	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if j.TenantID != tenantID {
		return nil, ErrJobNotFound
	}

	v := &JobView{
		ID:        j.ID,
		SessionID: j.SessionID,
		Status:    j.Status,
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if j.Result != nil {
		var a Answer
		if err := json.Unmarshal([]byte(*j.Result), &a); err != nil {
			return nil, fmt.Errorf("analytics: decode job result: %w", err)
		}
		v.Result = &a
	}
	return v, nil
}

package analytics

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is one queued question answered by the worker.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	TenantID  uint64 `gorm:"not null;index;index:uniq_job_tenant_idempo,unique,priority:1" json:"-"`
	SessionID string `gorm:"size:64;index;not null" json:"session_id"`

	Query string `gorm:"type:text;not null" json:"query"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_job_tenant_idempo,unique,priority:2" json:"-"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when succeeded: the JSON-encoded Answer.
	Result *string `gorm:"type:text" json:"-"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string { return "ai_analytics_jobs" }

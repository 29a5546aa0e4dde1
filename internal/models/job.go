package models

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobLocked    JobStatus = "locked"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobFallback  JobStatus = "fallback"
)

// Lease is the exclusivity marker a job holds on its identity's ledger row.
type Lease struct {
	Identity  Identity
	Token     string
	ExpiresAt time.Time
}

// JobResult is what a finished job hands back to the caller.
type JobResult struct {
	JobID     uuid.UUID
	Identity  Identity
	Status    JobStatus
	Image     []byte
	MimeType  string
	Degraded  bool
	Billed    bool
	ResultURL string
}

// JobRecord is the audit row written for each job attempt that reached the
// provider.
type JobRecord struct {
	ID           string    `json:"id"`
	IdentityKind string    `json:"identity_kind"`
	IdentityKey  string    `json:"identity_key"`
	Status       string    `json:"status"`
	Degraded     bool      `json:"degraded"`
	Billed       bool      `json:"billed"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ResultPath   string    `json:"result_path,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

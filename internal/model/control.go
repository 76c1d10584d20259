package model

import (
	"strings"
	"time"
)

// Control documents live in the "import" partition regardless of the
// container's declared partition key path, so every worker can find
// them without knowing the company partitioning scheme.
const (
	ControlPartitionKey = "import"
	ControlDocType      = "import_control"

	ResumeDocPrefix   = "_import_resume_"
	SessionDocPrefix  = "_import_session_"
	CompleteDocPrefix = "_import_complete_"
	DLQDocPrefix      = "_import_dlq_"
)

// ResumeStatus is the lifecycle of a resume control document.
type ResumeStatus string

const (
	ResumeStatusQueued     ResumeStatus = "queued"
	ResumeStatusInProgress ResumeStatus = "in_progress"
	ResumeStatusRunning    ResumeStatus = "running"
	ResumeStatusComplete   ResumeStatus = "complete"
	ResumeStatusStalled    ResumeStatus = "stalled"
	ResumeStatusBlocked    ResumeStatus = "blocked"
)

// InvocationMode records how an enrichment pass was triggered.
type InvocationMode string

const (
	InvocationDirectHTTP   InvocationMode = "direct_http"
	InvocationResumeWorker InvocationMode = "resume_worker"
	InvocationDetached     InvocationMode = "detached"
)

// ControlDocBase carries the fields every control document shares.
type ControlDocBase struct {
	ID               string `json:"id"`
	NormalizedDomain string `json:"normalized_domain"`
	PartitionKey     string `json:"partition_key"`
	Type             string `json:"type"`
}

// NewControlDocBase builds the shared envelope for a control document.
func NewControlDocBase(id string) ControlDocBase {
	return ControlDocBase{
		ID:               id,
		NormalizedDomain: ControlPartitionKey,
		PartitionKey:     ControlPartitionKey,
		Type:             ControlDocType,
	}
}

// IsControlDocID reports whether an id names a control document. Such
// ids always map to the "import" partition.
func IsControlDocID(id string) bool {
	return strings.HasPrefix(id, ResumeDocPrefix) ||
		strings.HasPrefix(id, SessionDocPrefix) ||
		strings.HasPrefix(id, CompleteDocPrefix) ||
		strings.HasPrefix(id, DLQDocPrefix)
}

// ResumeDoc is the per-session resume/lock control document. The lock
// fields (LockedBy, LockExpiresAt) combined with the store's etag give
// the optimistic-concurrency claim used by racing resume workers.
type ResumeDoc struct {
	ControlDocBase

	SessionID        string              `json:"session_id"`
	Status           ResumeStatus        `json:"status"`
	InvocationMode   InvocationMode      `json:"invocation_mode,omitempty"`
	CycleCount       int                 `json:"cycle_count"`
	CompanyIDs       []string            `json:"company_ids,omitempty"`
	MissingByCompany map[string][]string `json:"missing_by_company,omitempty"`

	ResumeNeeded bool   `json:"resume_needed"`
	ResumeError  string `json:"resume_error,omitempty"`

	LockedBy      string `json:"locked_by,omitempty"`
	LockExpiresAt string `json:"lock_expires_at,omitempty"`

	NextAllowedRunAt string `json:"next_allowed_run_at,omitempty"`
	BackoffMS        int64  `json:"backoff_ms,omitempty"`

	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// NewResumeDoc builds a fresh resume doc for a session.
func NewResumeDoc(sessionID string, mode InvocationMode, now time.Time) *ResumeDoc {
	ts := now.UTC().Format(time.RFC3339)
	return &ResumeDoc{
		ControlDocBase: NewControlDocBase(ResumeDocPrefix + sessionID),
		SessionID:      sessionID,
		Status:         ResumeStatusInProgress,
		InvocationMode: mode,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
}

// LockValid reports whether the doc carries an unexpired lock held by
// someone other than workerID.
func (d *ResumeDoc) LockValid(workerID string, now time.Time) bool {
	if d.LockedBy == "" || d.LockedBy == workerID {
		return false
	}
	if d.LockExpiresAt == "" {
		return false
	}
	exp, err := time.Parse(time.RFC3339, d.LockExpiresAt)
	if err != nil {
		return false
	}
	return now.Before(exp)
}

// CompleteDoc is the terminal control document marking a session done.
type CompleteDoc struct {
	ControlDocBase

	SessionID        string   `json:"session_id"`
	CompanyIDs       []string `json:"company_ids,omitempty"`
	CompletedAt      string   `json:"completed_at"`
	CycleCount       int      `json:"cycle_count"`
	TotalElapsedMS   int64    `json:"total_elapsed_ms,omitempty"`
	FieldsCompleted  int      `json:"fields_completed,omitempty"`
	ReviewsValidated int      `json:"reviews_validated,omitempty"`
}

// NewCompleteDoc builds a completion marker for a session.
func NewCompleteDoc(sessionID string, now time.Time) *CompleteDoc {
	return &CompleteDoc{
		ControlDocBase: NewControlDocBase(CompleteDocPrefix + sessionID),
		SessionID:      sessionID,
		CompletedAt:    now.UTC().Format(time.RFC3339),
	}
}

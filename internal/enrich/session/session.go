// Package session tracks per-session enrichment progress for status
// polls. The canonical record is the in-memory store; when a document
// store is configured the same record is mirrored into a
// _import_session_ control document so polls survive a restart.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound means no snapshot exists for the session id.
var ErrNotFound = errors.New("session: not found")

// Status is the session lifecycle as seen by status polls.
type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusResuming Status = "resuming"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Snapshot is the poll-visible state of one enrichment session.
type Snapshot struct {
	SessionID string `json:"session_id"`
	Status    Status `json:"status"`
	// Stage is a beacon naming the last stage the pass entered, e.g.
	// "tagline" or "reviews", so a stalled session is diagnosable.
	Stage      string   `json:"stage,omitempty"`
	CompanyIDs []string `json:"company_ids,omitempty"`

	CompaniesSaved  int `json:"companies_saved"`
	FieldsCompleted int `json:"fields_completed"`
	ReviewsVerified int `json:"reviews_verified"`

	// VerifiedReviewIDs accumulates across passes; a review verified
	// in cycle one is never re-counted by cycle two.
	VerifiedReviewIDs []string            `json:"verified_review_ids,omitempty"`
	MissingByCompany  map[string][]string `json:"missing_by_company,omitempty"`

	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Update is a partial snapshot change. Nil fields leave the stored
// value alone; counters add, id sets union.
type Update struct {
	Status     *Status
	Stage      *string
	CompanyIDs []string

	CompaniesSavedDelta  int
	FieldsCompletedDelta int
	ReviewsVerifiedDelta int

	VerifiedReviewIDs []string
	MissingByCompany  map[string][]string

	LastError *string
}

// Store records and serves session snapshots.
type Store interface {
	// Apply merges an update into the session's snapshot, creating it
	// when absent, and returns the merged result.
	Apply(ctx context.Context, sessionID string, up Update) (*Snapshot, error)
	// Get returns the snapshot or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*Snapshot, error)
	// List returns up to limit snapshots, oldest first.
	List(ctx context.Context, limit int) ([]*Snapshot, error)
}

func (s *Snapshot) clone() *Snapshot {
	out := *s
	out.CompanyIDs = append([]string(nil), s.CompanyIDs...)
	out.VerifiedReviewIDs = append([]string(nil), s.VerifiedReviewIDs...)
	if s.MissingByCompany != nil {
		out.MissingByCompany = make(map[string][]string, len(s.MissingByCompany))
		for k, v := range s.MissingByCompany {
			out.MissingByCompany[k] = append([]string(nil), v...)
		}
	}
	return &out
}

// merge applies an update in place. now stamps UpdatedAt.
func (s *Snapshot) merge(up Update, now time.Time) {
	if up.Status != nil {
		s.Status = *up.Status
	}
	if up.Stage != nil {
		s.Stage = *up.Stage
	}
	if len(up.CompanyIDs) > 0 {
		s.CompanyIDs = append([]string(nil), up.CompanyIDs...)
	}

	s.CompaniesSaved += up.CompaniesSavedDelta
	s.FieldsCompleted += up.FieldsCompletedDelta
	s.ReviewsVerified += up.ReviewsVerifiedDelta

	if len(up.VerifiedReviewIDs) > 0 {
		seen := make(map[string]struct{}, len(s.VerifiedReviewIDs))
		for _, id := range s.VerifiedReviewIDs {
			seen[id] = struct{}{}
		}
		for _, id := range up.VerifiedReviewIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			s.VerifiedReviewIDs = append(s.VerifiedReviewIDs, id)
		}
	}

	if up.MissingByCompany != nil {
		if s.MissingByCompany == nil {
			s.MissingByCompany = make(map[string][]string)
		}
		for company, missing := range up.MissingByCompany {
			if len(missing) == 0 {
				delete(s.MissingByCompany, company)
				continue
			}
			s.MissingByCompany[company] = append([]string(nil), missing...)
		}
	}

	if up.LastError != nil {
		s.LastError = *up.LastError
	}
	s.UpdatedAt = now
}

// StatusPtr is a literal-friendly helper for Update.Status.
func StatusPtr(s Status) *Status { return &s }

// StringPtr is a literal-friendly helper for Update string fields.
func StringPtr(s string) *string { return &s }

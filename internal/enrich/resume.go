package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tabarnam/enrich-cli/internal/docstore"
	"github.com/tabarnam/enrich-cli/internal/model"
	"github.com/tabarnam/enrich-cli/internal/resilience"
)

const (
	// resumeDedupWindow suppresses duplicate invocations of the same
	// session: a resume doc touched this recently is assumed to belong
	// to a pass that is still running.
	resumeDedupWindow = 5 * time.Minute

	// DefaultLockTTL bounds how long a crashed worker can hold a
	// session before another may claim it.
	DefaultLockTTL = 2 * time.Minute

	// ResumeRunDelay is the cooldown before a rescheduled session may
	// run again after transient failures.
	ResumeRunDelay = 30 * time.Second
)

var (
	// ErrSessionLocked means another worker holds an unexpired claim.
	ErrSessionLocked = errors.New("enrich: session locked by another worker")
	// ErrDuplicateInvocation means a pass for this session started
	// within the dedup window and is presumed still running.
	ErrDuplicateInvocation = errors.New("enrich: duplicate invocation suppressed")
)

// ResumeStore manages the per-session resume/lock control documents.
// All writes go through the document store's partition-key-agnostic
// client; claims use etag-conditioned replace so racing workers cannot
// both win.
type ResumeStore struct {
	store *docstore.Client
	now   func() time.Time
}

// NewResumeStore builds a ResumeStore over a docstore client.
func NewResumeStore(store *docstore.Client) *ResumeStore {
	return &ResumeStore{store: store, now: time.Now}
}

func controlHint() docstore.Document {
	return docstore.Document{
		"partition_key":     model.ControlPartitionKey,
		"normalized_domain": model.ControlPartitionKey,
	}
}

func (s *ResumeStore) readResume(ctx context.Context, sessionID string) (*model.ResumeDoc, string, error) {
	item, err := s.store.Read(ctx, model.ResumeDocPrefix+sessionID, controlHint())
	if err != nil {
		return nil, "", err
	}
	var doc model.ResumeDoc
	if err := docstore.FromDocument(item.Body, &doc); err != nil {
		return nil, "", eris.Wrapf(err, "enrich: resume doc %s", sessionID)
	}
	return &doc, item.ETag, nil
}

func (s *ResumeStore) writeResume(ctx context.Context, doc *model.ResumeDoc) error {
	body, err := docstore.ToDocument(doc)
	if err != nil {
		return eris.Wrap(err, "enrich: encode resume doc")
	}
	_, err = s.store.Upsert(ctx, body)
	return err
}

// DeadLetter records a company whose enrichment could not finish, so
// an operator can find and replay it after the session stalls.
func (s *ResumeStore) DeadLetter(ctx context.Context, entry resilience.DLQEntry) error {
	body, err := docstore.ToDocument(entry)
	if err != nil {
		return eris.Wrap(err, "enrich: encode dlq entry")
	}
	body["id"] = model.DLQDocPrefix + entry.ID
	body["normalized_domain"] = model.ControlPartitionKey
	body["partition_key"] = model.ControlPartitionKey
	body["type"] = model.ControlDocType
	_, err = s.store.Upsert(ctx, body)
	return err
}

// Get returns the session's resume doc, or docstore.ErrNotFound.
func (s *ResumeStore) Get(ctx context.Context, sessionID string) (*model.ResumeDoc, error) {
	doc, _, err := s.readResume(ctx, sessionID)
	return doc, err
}

// EnsureLock writes the early resume-lock document before enrichment
// starts. A doc already marked in_progress or running and touched
// within the dedup window means a duplicate invocation: the caller
// should skip rather than double-run the session.
func (s *ResumeStore) EnsureLock(ctx context.Context, sessionID string, mode model.InvocationMode) (*model.ResumeDoc, error) {
	now := s.now()

	existing, _, err := s.readResume(ctx, sessionID)
	switch {
	case err == nil:
		if existing.Status == model.ResumeStatusInProgress || existing.Status == model.ResumeStatusRunning {
			if updated, perr := time.Parse(time.RFC3339, existing.UpdatedAt); perr == nil &&
				now.Sub(updated) < resumeDedupWindow {
				zap.L().Info("enrich: duplicate invocation suppressed",
					zap.String("session", sessionID),
					zap.String("status", string(existing.Status)))
				return existing, ErrDuplicateInvocation
			}
		}
		existing.Status = model.ResumeStatusInProgress
		existing.InvocationMode = mode
		existing.UpdatedAt = now.UTC().Format(time.RFC3339)
		if err := s.writeResume(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	case errors.Is(err, docstore.ErrNotFound):
		doc := model.NewResumeDoc(sessionID, mode, now)
		if err := s.writeResume(ctx, doc); err != nil {
			return nil, err
		}
		return doc, nil
	default:
		return nil, err
	}
}

// TryClaim takes the session lock for workerID. A different worker's
// unexpired lock rejects the claim; an expired or absent lock is taken
// via etag-conditioned replace, so of two racing workers exactly one
// wins and the other sees ErrSessionLocked.
func (s *ResumeStore) TryClaim(ctx context.Context, sessionID, workerID string, ttl time.Duration) (*model.ResumeDoc, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	now := s.now()

	doc, etag, err := s.readResume(ctx, sessionID)
	if errors.Is(err, docstore.ErrNotFound) {
		doc = model.NewResumeDoc(sessionID, model.InvocationResumeWorker, now)
		etag = ""
	} else if err != nil {
		return nil, err
	}

	if doc.LockValid(workerID, now) {
		return nil, ErrSessionLocked
	}

	doc.LockedBy = workerID
	doc.LockExpiresAt = now.Add(ttl).UTC().Format(time.RFC3339)
	doc.Status = model.ResumeStatusRunning
	doc.UpdatedAt = now.UTC().Format(time.RFC3339)

	body, err := docstore.ToDocument(doc)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: encode resume doc")
	}
	if etag == "" {
		// First writer for this session; an unconditional upsert is
		// still race-safe because the second claimant will read the
		// winner's lock.
		if _, err := s.store.Upsert(ctx, body); err != nil {
			return nil, err
		}
		return doc, nil
	}
	if _, err := s.store.Replace(ctx, body, etag); err != nil {
		if errors.Is(err, docstore.ErrPreconditionFailed) {
			return nil, ErrSessionLocked
		}
		return nil, err
	}
	return doc, nil
}

// Release drops the lock if workerID still holds it. Losing the lock
// in the meantime is not an error.
func (s *ResumeStore) Release(ctx context.Context, sessionID, workerID string) error {
	doc, _, err := s.readResume(ctx, sessionID)
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if doc.LockedBy != workerID {
		return nil
	}
	doc.LockedBy = ""
	doc.LockExpiresAt = ""
	doc.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	return s.writeResume(ctx, doc)
}

// Checkpoint persists per-company progress after each company so a
// crashed pass resumes from the last finished company instead of the
// start of the session.
func (s *ResumeStore) Checkpoint(ctx context.Context, sessionID, companyID string, missing []string) error {
	doc, _, err := s.readResume(ctx, sessionID)
	if err != nil {
		return err
	}
	if doc.MissingByCompany == nil {
		doc.MissingByCompany = make(map[string][]string)
	}
	if len(missing) == 0 {
		delete(doc.MissingByCompany, companyID)
	} else {
		doc.MissingByCompany[companyID] = missing
	}
	doc.ResumeNeeded = len(doc.MissingByCompany) > 0
	doc.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	return s.writeResume(ctx, doc)
}

// ScheduleResume marks the session as needing another pass after a
// cooldown. reason lands in resume_error for the status endpoint.
func (s *ResumeStore) ScheduleResume(ctx context.Context, sessionID, reason string, delay time.Duration) error {
	if delay <= 0 {
		delay = ResumeRunDelay
	}
	doc, _, err := s.readResume(ctx, sessionID)
	if err != nil {
		return err
	}
	now := s.now()
	doc.Status = model.ResumeStatusQueued
	doc.ResumeNeeded = true
	doc.ResumeError = reason
	doc.NextAllowedRunAt = now.Add(delay).UTC().Format(time.RFC3339)
	doc.BackoffMS = delay.Milliseconds()
	doc.CycleCount++
	doc.LockedBy = ""
	doc.LockExpiresAt = ""
	doc.UpdatedAt = now.UTC().Format(time.RFC3339)
	return s.writeResume(ctx, doc)
}

// MarkStalled parks a session that keeps failing to make progress.
// Stalled sessions are never auto-rescheduled; an operator restarts
// them explicitly.
func (s *ResumeStore) MarkStalled(ctx context.Context, sessionID, reason string) error {
	doc, _, err := s.readResume(ctx, sessionID)
	if err != nil {
		return err
	}
	doc.Status = model.ResumeStatusStalled
	doc.ResumeNeeded = false
	doc.ResumeError = reason
	doc.LockedBy = ""
	doc.LockExpiresAt = ""
	doc.UpdatedAt = s.now().UTC().Format(time.RFC3339)
	zap.L().Warn("enrich: session stalled",
		zap.String("session", sessionID),
		zap.String("reason", reason),
		zap.Int("cycles", doc.CycleCount))
	return s.writeResume(ctx, doc)
}

// RunAllowed reports whether the session's cooldown has elapsed.
func (s *ResumeStore) RunAllowed(doc *model.ResumeDoc) bool {
	if doc.NextAllowedRunAt == "" {
		return true
	}
	next, err := time.Parse(time.RFC3339, doc.NextAllowedRunAt)
	if err != nil {
		return true
	}
	return !s.now().Before(next)
}

// Complete writes the terminal completion marker and settles the
// resume doc. After this the session is never rescheduled.
func (s *ResumeStore) Complete(ctx context.Context, sessionID string, companyIDs []string, fieldsCompleted, reviewsValidated int) error {
	now := s.now()

	complete := model.NewCompleteDoc(sessionID, now)
	complete.CompanyIDs = companyIDs
	complete.FieldsCompleted = fieldsCompleted
	complete.ReviewsValidated = reviewsValidated

	doc, _, err := s.readResume(ctx, sessionID)
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return err
	}
	if doc != nil {
		complete.CycleCount = doc.CycleCount
		doc.Status = model.ResumeStatusComplete
		doc.ResumeNeeded = false
		doc.ResumeError = ""
		doc.LockedBy = ""
		doc.LockExpiresAt = ""
		doc.UpdatedAt = now.UTC().Format(time.RFC3339)
		if err := s.writeResume(ctx, doc); err != nil {
			return err
		}
	}

	body, err := docstore.ToDocument(complete)
	if err != nil {
		return eris.Wrap(err, "enrich: encode completion doc")
	}
	_, err = s.store.Upsert(ctx, body)
	return err
}

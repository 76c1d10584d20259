package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tabarnam/enrich-cli/internal/budget"
	"github.com/tabarnam/enrich-cli/internal/model"
	"github.com/tabarnam/enrich-cli/internal/resilience"
	"github.com/tabarnam/enrich-cli/internal/review"
)

const (
	// maxCompanyConcurrency caps the per-invocation errgroup limit;
	// the search backend throttles hard above this.
	maxCompanyConcurrency = 4
	defaultConcurrency    = 2

	// maxResumeCycles stalls a session that keeps rescheduling without
	// reaching completion, so attempt-exhausted fields cannot spin the
	// queue forever.
	maxResumeCycles = 6
)

// SessionRequest names the work one worker pass should do.
type SessionRequest struct {
	SessionID  string
	CompanyIDs []string
	// HardCap is the per-company invocation budget.
	HardCap time.Duration
}

// SessionReport summarizes one worker pass over a session.
type SessionReport struct {
	SessionID        string
	Processed        []string
	Failed           map[string]string
	MissingByCompany map[string][]string
	FieldsCompleted  int
	ReviewsValidated int
	Completed        bool
	ResumeScheduled  bool
}

// PassObserver receives per-company telemetry as passes run.
// *monitoring.Collector satisfies it.
type PassObserver interface {
	ObserveFields(completed, failed, deferred int)
	ObserveCandidates(fetched, considered int)
	ObserveReviews(validated, saved int)
	ObserveRejections(byBucket map[string]int)
	ObserveUpstreamFailure(status string)
}

// Worker drives the resume state machine: claim the session, enrich
// each company within its own budget, checkpoint after every company,
// then either write the completion doc or schedule another pass.
type Worker struct {
	orchestrator *Orchestrator
	resume       *ResumeStore
	companies    *CompanyStore
	workerID     string
	concurrency  int
	observer     PassObserver
}

// SetObserver attaches a telemetry sink. Must be called before the
// first ProcessSession.
func (w *Worker) SetObserver(obs PassObserver) { w.observer = obs }

// NewWorker builds a session worker. concurrency is clamped to
// [1, maxCompanyConcurrency].
func NewWorker(orchestrator *Orchestrator, resume *ResumeStore, companies *CompanyStore, workerID string, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}
	if concurrency > maxCompanyConcurrency {
		concurrency = maxCompanyConcurrency
	}
	return &Worker{
		orchestrator: orchestrator,
		resume:       resume,
		companies:    companies,
		workerID:     workerID,
		concurrency:  concurrency,
	}
}

// ProcessSession runs one pass. ErrSessionLocked and
// ErrDuplicateInvocation are returned untouched so callers can treat a
// lost race as a clean skip.
func (w *Worker) ProcessSession(ctx context.Context, req SessionRequest) (*SessionReport, error) {
	claimed, err := w.resume.TryClaim(ctx, req.SessionID, w.workerID, DefaultLockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := w.resume.Release(ctx, req.SessionID, w.workerID); rerr != nil {
			zap.L().Warn("enrich: lock release failed",
				zap.String("session", req.SessionID), zap.Error(rerr))
		}
	}()

	companyIDs := req.CompanyIDs
	if len(companyIDs) == 0 {
		companyIDs = claimed.CompanyIDs
	}

	report := &SessionReport{
		SessionID:        req.SessionID,
		Failed:           make(map[string]string),
		MissingByCompany: make(map[string][]string),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	for _, id := range companyIDs {
		id := id
		g.Go(func() error {
			missing, completed, reviews, err := w.processCompany(gctx, req, id)

			mu.Lock()
			defer mu.Unlock()
			report.Processed = append(report.Processed, id)
			if err != nil {
				// One company's failure never aborts its siblings.
				report.Failed[id] = err.Error()
				report.MissingByCompany[id] = missing
				return nil
			}
			report.FieldsCompleted += completed
			report.ReviewsValidated += reviews
			if len(missing) > 0 {
				report.MissingByCompany[id] = missing
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	if len(report.MissingByCompany) == 0 && len(report.Failed) == 0 {
		if err := w.resume.Complete(ctx, req.SessionID, companyIDs, report.FieldsCompleted, report.ReviewsValidated); err != nil {
			return report, err
		}
		report.Completed = true
		return report, nil
	}

	reason := "fields still missing"
	if len(report.Failed) > 0 {
		reason = "transient failures during enrichment"
	}
	if claimed.CycleCount+1 >= maxResumeCycles {
		if err := w.resume.MarkStalled(ctx, req.SessionID, reason); err != nil {
			return report, err
		}
		w.deadLetter(ctx, req.SessionID, claimed.CycleCount+1, report)
		return report, nil
	}
	if err := w.resume.ScheduleResume(ctx, req.SessionID, reason, ResumeRunDelay); err != nil {
		return report, err
	}
	report.ResumeScheduled = true
	return report, nil
}

// processCompany enriches one company and checkpoints the result.
// Returns the company's still-missing fields, plus completed-field and
// validated-review counts for the session totals.
func (w *Worker) processCompany(ctx context.Context, req SessionRequest, id string) (missing []string, completed, reviews int, err error) {
	company, err := w.companies.Load(ctx, id)
	if err != nil {
		return nil, 0, 0, err
	}
	if len(company.MissingFields()) == 0 && !company.NeedsResume() {
		return nil, 0, 0, nil
	}

	b := budget.Start(budget.WithHardCap(req.HardCap))
	result, err := w.orchestrator.Run(ctx, b, company, RunOptions{
		SessionID: req.SessionID,
		Attempts:  company.EnrichmentAttempts,
	})
	if err != nil {
		return company.MissingFields(), 0, 0, err
	}

	w.observe(result)

	w.orchestrator.Apply(company, result, req.SessionID)
	if err := w.companies.Save(ctx, company); err != nil {
		return company.ImportMissingFields, 0, 0, err
	}

	if cerr := w.resume.Checkpoint(ctx, req.SessionID, id, company.ImportMissingFields); cerr != nil {
		// Losing a checkpoint write costs a redundant retry, not
		// correctness; the company document itself already saved.
		zap.L().Warn("enrich: checkpoint failed",
			zap.String("session", req.SessionID),
			zap.String("company", id),
			zap.Error(cerr))
	}

	reviews = 0
	if result.Reviews != nil {
		reviews = len(result.Reviews.Accepted)
	}
	return company.ImportMissingFields, len(result.FieldsCompleted), reviews, nil
}

// deadLetter records every unfinished company of a stalled session.
// Write failures cost operator visibility, not correctness, so they
// are logged and dropped.
func (w *Worker) deadLetter(ctx context.Context, sessionID string, cycles int, report *SessionReport) {
	now := time.Now().UTC()
	for id, missing := range report.MissingByCompany {
		entry := resilience.DLQEntry{
			ID:           sessionID + "_" + id,
			SessionID:    sessionID,
			Error:        report.Failed[id],
			ErrorType:    "permanent",
			FailedFields: missing,
			RetryCount:   cycles,
			MaxRetries:   maxResumeCycles,
			CreatedAt:    now,
			LastFailedAt: now,
		}
		if entry.Error == "" {
			entry.Error = "fields still missing after max resume cycles"
		} else {
			entry.ErrorType = "transient"
		}
		if company, err := w.companies.Load(ctx, id); err == nil {
			entry.Company = *company
		}
		if err := w.resume.DeadLetter(ctx, entry); err != nil {
			zap.L().Warn("enrich: dead-letter write failed",
				zap.String("session", sessionID),
				zap.String("company", id),
				zap.Error(err))
		}
	}
}

// observe feeds one pass result to the telemetry sink.
func (w *Worker) observe(result *RunResult) {
	if w.observer == nil {
		return
	}
	w.observer.ObserveFields(len(result.FieldsCompleted), len(result.FieldsFailed), len(result.Deferred))
	for _, cause := range result.Errors {
		w.observer.ObserveUpstreamFailure(cause)
	}
	if result.Reviews == nil {
		return
	}
	fetched := 0
	if fr, ok := result.Results[model.FieldReviews]; ok && fr != nil {
		fetched = len(fr.Candidates)
	}
	w.observer.ObserveCandidates(fetched, len(result.Reviews.AttemptedURLs))
	w.observer.ObserveReviews(len(result.Reviews.AttemptedURLs), len(result.Reviews.Accepted))
	sel := review.SelectionResult{Rejections: result.Reviews.Rejections}
	w.observer.ObserveRejections(sel.RejectionCounts())
}

// IsCleanSkip reports whether a ProcessSession error means another
// invocation already owns the session.
func IsCleanSkip(err error) bool {
	return errors.Is(err, ErrSessionLocked) || errors.Is(err, ErrDuplicateInvocation)
}

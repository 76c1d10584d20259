package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tabarnam/enrich-cli/internal/budget"
	"github.com/tabarnam/enrich-cli/internal/model"
	"github.com/tabarnam/enrich-cli/internal/review"
)

// Exhaustion thresholds for the reviews stage: after this many probed
// URLs the cursor is marked exhausted so resume passes stop retrying a
// company the backend cannot source reviews for.
const (
	reviewsExhaustedAttempts        = 5
	reviewsExhaustedPartialAttempts = 3
)

// RunOptions tunes one enrichment pass.
type RunOptions struct {
	SessionID string
	// Fields restricts the pass to specific field keys. Empty means
	// "whatever the company is still missing".
	Fields []string
	// Attempts carries per-field attempt counts from earlier passes.
	Attempts map[string]int
}

// ReviewOutcome is the reviews stage result after validation.
type ReviewOutcome struct {
	Accepted      []model.CuratedReview
	StageStatus   model.FieldStatus
	AttemptedURLs []string
	Rejections    []review.Rejection
	Exhausted     bool
}

// RunResult summarizes one enrichment pass over one company.
type RunResult struct {
	OK              bool
	FieldsCompleted []string
	FieldsFailed    []string
	Deferred        []string
	Skipped         []string
	Errors          map[string]string
	Attempts        map[string]int
	Results         map[model.FieldKey]*FieldResult
	Reviews         *ReviewOutcome
	StartedAt       string
	FinishedAt      string
	ElapsedMS       int64
}

// Orchestrator walks the field table in priority order within one
// invocation budget, deferring what cannot fit and recording what must
// resume later.
type Orchestrator struct {
	fetcher  Fetcher
	selector *review.Selector
	now      func() time.Time
}

// NewOrchestrator builds an Orchestrator from a stage fetcher and a
// review selector.
func NewOrchestrator(fetcher Fetcher, selector *review.Selector) *Orchestrator {
	if selector == nil {
		selector = review.NewSelector(nil)
	}
	return &Orchestrator{fetcher: fetcher, selector: selector, now: time.Now}
}

// Run executes one pass. It never mutates the company; pair with Apply.
func (o *Orchestrator) Run(ctx context.Context, b *budget.Budget, company *model.Company, opts RunOptions) (*RunResult, error) {
	if strings.TrimSpace(company.CompanyName) == "" {
		return nil, eris.New("enrich: company_name is required")
	}

	started := o.now()
	result := &RunResult{
		OK:        true,
		Errors:    make(map[string]string),
		Attempts:  make(map[string]int),
		Results:   make(map[model.FieldKey]*FieldResult),
		StartedAt: started.UTC().Format(time.RFC3339),
	}
	for k, v := range opts.Attempts {
		result.Attempts[k] = v
	}

	keys := opts.Fields
	if len(keys) == 0 {
		keys = company.MissingFields()
	}

	target := Target{
		CompanyName:      company.CompanyName,
		WebsiteURL:       company.WebsiteURL,
		NormalizedDomain: company.NormalizedDomain,
	}

	o.runFields(ctx, b, company, target, keys, result)

	result.ElapsedMS = o.now().Sub(started).Milliseconds()
	result.FinishedAt = o.now().UTC().Format(time.RFC3339)
	result.OK = len(result.FieldsFailed) == 0

	zap.L().Info("enrich: pass finished",
		zap.String("company", company.ID),
		zap.String("session", opts.SessionID),
		zap.Strings("completed", result.FieldsCompleted),
		zap.Strings("failed", result.FieldsFailed),
		zap.Strings("deferred", result.Deferred),
		zap.Int64("elapsed_ms", result.ElapsedMS))
	return result, nil
}

// runFields walks the requested fields in priority order. A panic out
// of the gateway fails this company's remaining fields without
// touching values already settled, and without reaching the sibling
// companies running in the same pass.
func (o *Orchestrator) runFields(ctx context.Context, b *budget.Budget, company *model.Company, target Target, keys []string, result *RunResult) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		zap.L().Error("enrich: stage panic",
			zap.String("company", company.ID),
			zap.Any("panic", r))
		settled := make(map[string]bool)
		for _, list := range [][]string{result.FieldsCompleted, result.FieldsFailed, result.Deferred, result.Skipped} {
			for _, k := range list {
				settled[k] = true
			}
		}
		for _, spec := range fieldsToProcess(keys) {
			key := string(spec.Key)
			if settled[key] {
				continue
			}
			result.Errors[key] = "internal_error"
			result.FieldsFailed = append(result.FieldsFailed, key)
		}
	}()

	for _, spec := range fieldsToProcess(keys) {
		key := string(spec.Key)

		if b.Remaining() < spec.MinBudget() {
			// Deferral consumes no attempt; a resume pass retries it.
			result.Deferred = append(result.Deferred, key)
			continue
		}

		attempts := result.Attempts[key]
		if attempts >= spec.MaxAttempts {
			result.Skipped = append(result.Skipped, key)
			continue
		}
		result.Attempts[key] = attempts + 1

		fr, err := o.fetcher.Fetch(ctx, spec, target, b)
		if err != nil {
			result.Errors[key] = err.Error()
			result.FieldsFailed = append(result.FieldsFailed, key)
			continue
		}
		if fr.Status == model.FieldStatusDeferred {
			// The stage itself refused for budget; hand the attempt back.
			result.Attempts[key] = attempts
			result.Deferred = append(result.Deferred, key)
			continue
		}

		if spec.Key == model.FieldReviews {
			fr = o.runReviewSelection(ctx, b, company, fr, result)
		}
		result.Results[spec.Key] = fr

		switch {
		case fieldComplete(spec.Key, fr):
			result.FieldsCompleted = append(result.FieldsCompleted, key)
		case fr.Status == model.FieldStatusUpstreamTimeout || fr.Status == model.FieldStatusUpstreamUnreachable:
			// Retryable upstream trouble is not a field failure.
			result.Errors[key] = string(fr.Status)
		default:
			result.FieldsFailed = append(result.FieldsFailed, key)
		}
	}
}

// runReviewSelection validates the raw candidates and settles the
// reviews stage status.
func (o *Orchestrator) runReviewSelection(ctx context.Context, b *budget.Budget, company *model.Company, fr *FieldResult, result *RunResult) *FieldResult {
	outcome := &ReviewOutcome{StageStatus: fr.Status}
	result.Reviews = outcome

	if fr.Status != model.FieldStatusOK || len(fr.Candidates) == 0 {
		// Upstream failure or no candidates; nothing to validate.
		return fr
	}

	identity := review.CompanyIdentity{
		CompanyName:      company.CompanyName,
		WebsiteURL:       company.WebsiteURL,
		NormalizedDomain: company.NormalizedDomain,
	}
	sel := o.selector.Select(ctx, b, identity, fr.Candidates, company.CuratedReviews)

	outcome.Accepted = sel.Accepted
	outcome.AttemptedURLs = sel.AttemptedURLs
	outcome.Rejections = sel.Rejections

	switch {
	case len(sel.Accepted) >= model.TargetReviewCount:
		outcome.StageStatus = model.FieldStatusOK
	case sel.TimedOut:
		outcome.StageStatus = model.FieldStatusTimedOut
	default:
		outcome.StageStatus = model.FieldStatusIncomplete
		attempted := len(sel.AttemptedURLs)
		if attempted >= reviewsExhaustedAttempts ||
			(len(sel.Accepted) > 0 && attempted >= reviewsExhaustedPartialAttempts) {
			outcome.Exhausted = true
		}
	}

	out := *fr
	out.Status = outcome.StageStatus
	return &out
}

// fieldComplete mirrors the completeness bar used for missing-field
// recomputation, applied to a fresh stage result.
func fieldComplete(key model.FieldKey, fr *FieldResult) bool {
	if fr.Status.Terminal() {
		return true
	}
	switch key {
	case model.FieldTagline, model.FieldHeadquartersLocation:
		return strings.TrimSpace(fr.Text) != ""
	case model.FieldIndustries, model.FieldManufacturingLocations, model.FieldProductKeywords:
		return len(fr.List) > 0
	case model.FieldReviews:
		return false
	}
	return false
}

// Apply writes a pass's results onto the company document: values,
// statuses, searched-at stamps, source URLs, curated reviews, cursor,
// attempt counters, and a recomputed missing-field list.
func (o *Orchestrator) Apply(company *model.Company, result *RunResult, sessionID string) {
	nowISO := o.now().UTC().Format(time.RFC3339)

	for _, spec := range Fields {
		fr, ok := result.Results[spec.Key]
		if !ok || fr.Status == model.FieldStatusDeferred {
			continue
		}

		searchedAt := fr.SearchedAt
		if searchedAt == "" {
			searchedAt = nowISO
		}

		switch spec.Key {
		case model.FieldTagline:
			if fr.Text != "" {
				company.Tagline = fr.Text
			}
			company.TaglineStatus = fr.Status
			company.TaglineSearchedAt = searchedAt
		case model.FieldIndustries:
			if len(fr.List) > 0 {
				company.Industries = fr.List
			}
			company.IndustriesStatus = fr.Status
			company.IndustriesSearchedAt = searchedAt
		case model.FieldHeadquartersLocation:
			if fr.Text != "" {
				company.HeadquartersLocation = fr.Text
			}
			company.HeadquartersLocationStatus = fr.Status
			company.HeadquartersLocationSearchedAt = searchedAt
			if len(fr.SourceURLs) > 0 {
				company.HQSourceURLs = fr.SourceURLs
			}
		case model.FieldManufacturingLocations:
			if len(fr.List) > 0 {
				company.ManufacturingLocations = fr.List
			}
			company.ManufacturingLocationsStatus = fr.Status
			company.ManufacturingLocationsSearchedAt = searchedAt
			if len(fr.SourceURLs) > 0 {
				company.MfgSourceURLs = fr.SourceURLs
			}
		case model.FieldProductKeywords:
			if len(fr.List) > 0 {
				company.ProductKeywords = fr.List
			}
			company.ProductKeywordsStatus = fr.Status
			company.ProductKeywordsSearchedAt = searchedAt
		case model.FieldReviews:
			o.applyReviews(company, result, fr.Status, searchedAt)
		}

		company.EnrichmentEvents = append(company.EnrichmentEvents, model.EnrichmentEvent{
			At:        o.now().UTC(),
			SessionID: sessionID,
			Field:     spec.Key,
			Status:    fr.Status,
			Attempt:   result.Attempts[string(spec.Key)],
			Detail:    fr.IncompleteReason,
		})
	}

	if company.EnrichmentAttempts == nil {
		company.EnrichmentAttempts = make(map[string]int)
	}
	for k, v := range result.Attempts {
		company.EnrichmentAttempts[k] = v
	}
	company.EnrichmentCompletedAt = result.FinishedAt
	company.EnrichmentElapsedMS = result.ElapsedMS

	// Derived, never merged: stale entries must not survive the pass.
	company.ImportMissingFields = company.MissingFields()
}

func (o *Orchestrator) applyReviews(company *model.Company, result *RunResult, status model.FieldStatus, searchedAt string) {
	outcome := result.Reviews
	company.ReviewsStageStatus = status
	company.ReviewsSearchedAt = searchedAt
	if outcome == nil {
		return
	}

	if company.ReviewCursor == nil {
		company.ReviewCursor = &model.ReviewCursor{Source: "xai_live_search"}
	}
	cursor := company.ReviewCursor
	cursor.LastAttemptAt = searchedAt
	for _, u := range outcome.AttemptedURLs {
		cursor.MarkAttempted(u)
	}
	cursor.TotalFetched += len(outcome.AttemptedURLs)

	newlyAdded := len(outcome.Accepted) > len(company.CuratedReviews)
	if len(outcome.Accepted) > 0 {
		company.CuratedReviews = outcome.Accepted
	}
	if newlyAdded {
		// Only a pass that actually added a review advances this.
		cursor.LastSuccessAt = searchedAt
		cursor.LastError = nil
	}
	if outcome.Exhausted {
		cursor.Exhausted = true
	}

	switch status {
	case model.FieldStatusUpstreamTimeout, model.FieldStatusUpstreamUnreachable, model.FieldStatusTimedOut, model.FieldStatusParseError:
		cursor.LastError = &model.ReviewCursorError{
			RootCause: string(status),
			Retryable: status.Retryable(),
		}
	}
}

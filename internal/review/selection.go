package review

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tabarnam/enrich-cli/internal/budget"
	"github.com/tabarnam/enrich-cli/internal/model"
)

// Rejection buckets reported in selection telemetry.
const (
	RejectDisallowedSource     = "disallowed_source"
	RejectSelfDomain           = "self_domain"
	RejectDuplicateHost        = "duplicate_host_deferred"
	RejectDuplicateKey         = "duplicate_key"
	RejectLinkNotFound         = "link_not_found"
	RejectValidationTimeout    = "validation_timeout"
	RejectBrandMismatch        = "validation_brand_mismatch"
	RejectFetchBlocked         = "validation_fetch_blocked"
	RejectValidationErrorOther = "validation_error_other"
	RejectMissingFields        = "missing_fields"
)

// A candidate validation needs roughly this much headroom on top of
// the safety margin before it is worth starting.
const perCandidateBudgetFloor = 9 * time.Second

// Rejection records why one candidate was not accepted.
type Rejection struct {
	SourceURL string `json:"source_url"`
	Bucket    string `json:"bucket"`
	Reason    string `json:"reason,omitempty"`
}

// SelectionResult is the outcome of walking a candidate list.
type SelectionResult struct {
	Accepted      []model.CuratedReview
	Rejections    []Rejection
	AttemptedURLs []string
	TimedOut      bool
}

// RejectionCounts aggregates rejections by bucket for telemetry.
func (r *SelectionResult) RejectionCounts() map[string]int {
	counts := make(map[string]int)
	for _, rej := range r.Rejections {
		counts[rej.Bucket]++
	}
	return counts
}

// CandidateValidator checks one candidate against its source page.
// *Validator is the production implementation.
type CandidateValidator interface {
	Validate(ctx context.Context, company CompanyIdentity, cand model.ReviewCandidate) (*Validation, error)
}

// Selector validates candidates in upstream order and keeps at most
// TargetReviewCount reviews, preferring distinct source hosts.
type Selector struct {
	validator CandidateValidator
	now       func() time.Time
}

// NewSelector creates a Selector around the given validator.
func NewSelector(validator CandidateValidator) *Selector {
	if validator == nil {
		validator = NewValidator(nil)
	}
	return &Selector{validator: validator, now: time.Now}
}

type fallbackEntry struct {
	review     model.CuratedReview
	reviewLike bool
}

// Select walks candidates in upstream order and returns the merged
// curated set: existing reviews plus newly accepted ones, capped at
// TargetReviewCount. Same-host duplicates go to a fallback bucket and
// at most one is promoted when unique hosts cannot fill the cap.
func (s *Selector) Select(ctx context.Context, b *budget.Budget, company CompanyIdentity, candidates []model.ReviewCandidate, existing []model.CuratedReview) *SelectionResult {
	result := &SelectionResult{Accepted: append([]model.CuratedReview(nil), existing...)}

	usedHosts := make(map[string]struct{})
	usedKeys := make(map[string]struct{})
	for _, r := range result.Accepted {
		if h := HostOf(r.SourceURL); h != "" {
			usedHosts[h] = struct{}{}
		}
		key := r.DedupeKey
		if key == "" {
			key = DedupeKey(r)
		}
		usedKeys[key] = struct{}{}
	}

	selfHost := strings.TrimSpace(strings.ToLower(company.NormalizedDomain))
	if selfHost == "" {
		selfHost = HostOf(company.WebsiteURL)
	}

	var fallback []fallbackEntry

	for _, cand := range candidates {
		if len(result.Accepted) >= model.TargetReviewCount {
			break
		}

		candURL := strings.TrimSpace(cand.SourceURL)
		if candURL == "" || strings.TrimSpace(company.CompanyName) == "" {
			result.Rejections = append(result.Rejections, Rejection{SourceURL: candURL, Bucket: RejectMissingFields, Reason: ReasonMissingFields})
			continue
		}
		if IsExcludedSource(candURL) {
			result.Rejections = append(result.Rejections, Rejection{SourceURL: candURL, Bucket: RejectDisallowedSource, Reason: ReasonExcludedSource})
			continue
		}
		host := HostOf(candURL)
		if selfHost != "" && host == selfHost {
			result.Rejections = append(result.Rejections, Rejection{SourceURL: candURL, Bucket: RejectSelfDomain})
			continue
		}

		if b != nil && b.Remaining() < budget.DefaultSafetyMargin+perCandidateBudgetFloor {
			result.TimedOut = true
			result.Rejections = append(result.Rejections, Rejection{SourceURL: candURL, Bucket: RejectValidationTimeout, Reason: "remaining budget too low"})
			break
		}

		result.AttemptedURLs = append(result.AttemptedURLs, candURL)

		validation, err := s.validator.Validate(ctx, company, cand)
		if err != nil {
			bucket := RejectValidationErrorOther
			if ctx.Err() != nil {
				bucket = RejectValidationTimeout
				result.TimedOut = true
			}
			result.Rejections = append(result.Rejections, Rejection{SourceURL: candURL, Bucket: bucket, Reason: err.Error()})
			if result.TimedOut {
				break
			}
			continue
		}
		if !validation.Valid {
			result.Rejections = append(result.Rejections, Rejection{SourceURL: candURL, Bucket: rejectionBucket(validation), Reason: validation.ReasonIfRejected})
			continue
		}

		review := s.buildReview(cand, validation)
		if _, dup := usedKeys[review.DedupeKey]; dup {
			result.Rejections = append(result.Rejections, Rejection{SourceURL: candURL, Bucket: RejectDuplicateKey})
			continue
		}

		if _, taken := usedHosts[review.SourceHost]; taken && review.SourceHost != "" {
			fallback = append(fallback, fallbackEntry{review: review, reviewLike: LooksLikeReviewURL(candURL)})
			result.Rejections = append(result.Rejections, Rejection{SourceURL: candURL, Bucket: RejectDuplicateHost})
			continue
		}

		usedKeys[review.DedupeKey] = struct{}{}
		if review.SourceHost != "" {
			usedHosts[review.SourceHost] = struct{}{}
		}
		result.Accepted = append(result.Accepted, review)
	}

	// Promote one same-host duplicate only when unique hosts could not
	// fill the cap.
	if len(result.Accepted) < model.TargetReviewCount && len(fallback) > 0 {
		sort.SliceStable(fallback, func(i, j int) bool {
			if fallback[i].reviewLike != fallback[j].reviewLike {
				return fallback[i].reviewLike
			}
			return fallback[i].review.MatchConfidence > fallback[j].review.MatchConfidence
		})
		promoted := fallback[0].review
		if _, dup := usedKeys[promoted.DedupeKey]; !dup {
			zap.L().Debug("review: promoting same-host fallback",
				zap.String("url", promoted.SourceURL),
				zap.Float64("confidence", promoted.MatchConfidence))
			usedKeys[promoted.DedupeKey] = struct{}{}
			result.Accepted = append(result.Accepted, promoted)
		}
	}

	if len(result.Accepted) > model.TargetReviewCount {
		result.Accepted = result.Accepted[:model.TargetReviewCount]
	}
	return result
}

func (s *Selector) buildReview(cand model.ReviewCandidate, v *Validation) model.CuratedReview {
	sourceURL := v.FinalURL
	if sourceURL == "" {
		sourceURL = NormalizeURL(cand.SourceURL)
	}
	review := model.CuratedReview{
		ID:               uuid.NewString(),
		SourceURL:        sourceURL,
		SourceName:       cand.SourceName,
		SourceHost:       HostOf(sourceURL),
		Title:            cand.Title,
		Author:           cand.Author,
		Date:             cand.Date,
		Rating:           cand.Rating,
		Excerpt:          cand.Excerpt,
		EvidenceSnippets: v.EvidenceSnippets,
		MatchConfidence:  v.MatchConfidence,
		LinkStatus:       v.LinkStatus,
		ValidatedAt:      v.LastCheckedAt,
	}
	review.DedupeKey = DedupeKey(review)
	return review
}

func rejectionBucket(v *Validation) string {
	switch {
	case v.ReasonIfRejected == ReasonMissingFields:
		return RejectMissingFields
	case v.ReasonIfRejected == ReasonExcludedSource:
		return RejectDisallowedSource
	case v.LinkStatus == LinkStatusNotFound:
		return RejectLinkNotFound
	case v.ReasonIfRejected == ReasonBrandMismatch:
		return RejectBrandMismatch
	case v.LinkStatus == LinkStatusBlocked:
		return RejectFetchBlocked
	}
	return RejectValidationErrorOther
}

var reviewURLHints = []string{"/review", "/reviews", "hands-on", "tested", "verdict"}

// LooksLikeReviewURL is a weak heuristic used only to rank same-host
// fallback candidates.
func LooksLikeReviewURL(rawURL string) bool {
	u := strings.ToLower(rawURL)
	for _, hint := range reviewURLHints {
		if strings.Contains(u, hint) {
			return true
		}
	}
	return false
}

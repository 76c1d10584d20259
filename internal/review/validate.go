package review

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tabarnam/enrich-cli/internal/model"
)

// Fallback confidences for pages we could not fully verify. Many
// legitimate review sites block bots or render body text with
// JavaScript; rejecting those outright would leave well-known brands
// with zero reviews.
const (
	blockedExcerptConfidence   = 0.25
	jsHeavyExcerptConfidence   = 0.2
	snippetFallbackConfidence  = 0.35
	excerptEvidenceMaxLen      = 240
)

// Rejection reasons surfaced in validation results and telemetry.
const (
	ReasonMissingFields  = "missing company_name or url"
	ReasonExcludedSource = "excluded source"
	ReasonURLNotFound    = "url not found"
	ReasonURLBlocked     = "url not accessible"
	ReasonBrandMismatch  = "brand/company not mentioned in page text"
)

// Validation is the outcome of checking one candidate against its
// source page.
type Validation struct {
	Valid             bool
	LinkStatus        string
	BrandMentionsFound bool
	MatchedBrandTerms []string
	EvidenceSnippets  []string
	MatchConfidence   float64
	FinalURL          string
	LastCheckedAt     string
	ReasonIfRejected  string
}

// CompanyIdentity carries the fields brand matching needs.
type CompanyIdentity struct {
	CompanyName      string
	WebsiteURL       string
	NormalizedDomain string
}

// Validator checks review candidates: URL health, brand-mention
// evidence, and match confidence.
type Validator struct {
	checker *Checker
	now     func() time.Time
}

// NewValidator creates a Validator around the given Checker.
func NewValidator(checker *Checker) *Validator {
	if checker == nil {
		checker = NewChecker()
	}
	return &Validator{checker: checker, now: time.Now}
}

func (v *Validator) reject(linkStatus, finalURL, reason string) *Validation {
	return &Validation{LinkStatus: linkStatus, FinalURL: finalURL, ReasonIfRejected: reason}
}

func (v *Validator) accept(linkStatus, finalURL string, terms, evidence []string, confidence float64) *Validation {
	return &Validation{
		Valid:              true,
		LinkStatus:         linkStatus,
		BrandMentionsFound: true,
		MatchedBrandTerms:  terms,
		EvidenceSnippets:   evidence,
		MatchConfidence:    confidence,
		FinalURL:           finalURL,
		LastCheckedAt:      v.now().UTC().Format(time.RFC3339),
	}
}

// Validate runs the full candidate check. Only not_found pages are
// hard-rejected on link health; blocked pages fall back to excerpt
// evidence at reduced confidence.
func (v *Validator) Validate(ctx context.Context, company CompanyIdentity, cand model.ReviewCandidate) (*Validation, error) {
	companyName := strings.TrimSpace(company.CompanyName)
	candURL := strings.TrimSpace(cand.SourceURL)
	title := strings.TrimSpace(cand.Title)
	excerpt := strings.TrimSpace(cand.Excerpt)

	if companyName == "" || candURL == "" {
		return v.reject(LinkStatusBlocked, "", ReasonMissingFields), nil
	}
	if IsExcludedSource(candURL) {
		return v.reject(LinkStatusBlocked, "", ReasonExcludedSource), nil
	}

	brandTerms := BuildBrandTerms(companyName, company.WebsiteURL, company.NormalizedDomain)

	health, err := v.checker.Check(ctx, candURL)
	if err != nil {
		return nil, err
	}

	// Strong matching keys off the normalized company name itself, not
	// just a domain token. Generic tokens produce false positives.
	companyNorm := strings.ToLower(NormalizeCompanyName(companyName))
	excerptNorm := strings.ToLower(NormalizeCompanyName(excerpt))
	titleNorm := strings.ToLower(NormalizeCompanyName(title))
	excerptMentionsCompany := companyNorm != "" &&
		((excerptNorm != "" && strings.Contains(excerptNorm, companyNorm)) ||
			(titleNorm != "" && strings.Contains(titleNorm, companyNorm)))

	if !health.OK {
		if health.LinkStatus == LinkStatusNotFound {
			return v.reject(health.LinkStatus, health.FinalURL, ReasonURLNotFound), nil
		}

		if excerptMentionsCompany {
			matched := matchTermsInText(brandTerms, title, excerpt)
			if len(matched) == 0 {
				matched = []string{companyName}
			}
			linkStatus := health.LinkStatus
			if linkStatus == "" {
				linkStatus = LinkStatusUnverified
			}
			zap.L().Debug("review: accepting blocked link on excerpt evidence",
				zap.String("url", candURL),
				zap.Int("status", health.StatusCode))
			return v.accept(linkStatus, health.FinalURL, matched, excerptEvidence(excerpt, title), blockedExcerptConfidence), nil
		}

		return v.reject(health.LinkStatus, health.FinalURL, ReasonURLBlocked), nil
	}

	var matched []string
	for _, term := range brandTerms {
		if CountMentions(health.Text, term) > 0 {
			matched = append(matched, term)
		}
	}

	if len(matched) == 0 {
		// JS-heavy pages can return 200 without the article body. If
		// the upstream excerpt clearly names the company, keep the
		// review rather than dropping to zero.
		if excerptMentionsCompany {
			return v.accept(health.LinkStatus, health.FinalURL, []string{companyName}, excerptEvidence(excerpt, title), jsHeavyExcerptConfidence), nil
		}
		return v.reject(health.LinkStatus, health.FinalURL, ReasonBrandMismatch), nil
	}

	evidence := ExtractEvidenceSnippets(health.Text, matched)
	confidence := MatchConfidence(title, health.Text, matched)

	// Snippet extraction can fail on short or templated pages even
	// when the brand is clearly present; keep the excerpt instead.
	if len(evidence) == 0 {
		if confidence < snippetFallbackConfidence {
			confidence = snippetFallbackConfidence
		}
		return v.accept(health.LinkStatus, health.FinalURL, matched, excerptEvidence(excerpt, title), confidence), nil
	}

	return v.accept(health.LinkStatus, health.FinalURL, matched, evidence, confidence), nil
}

func matchTermsInText(terms []string, texts ...string) []string {
	var lowered []string
	for _, t := range texts {
		if t != "" {
			lowered = append(lowered, strings.ToLower(t))
		}
	}
	var matched []string
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		for _, text := range lowered {
			if strings.Contains(text, t) {
				matched = append(matched, term)
				break
			}
		}
	}
	return matched
}

func excerptEvidence(excerpt, title string) []string {
	var evidence []string
	if excerpt != "" {
		e := excerpt
		if len(e) > excerptEvidenceMaxLen {
			e = e[:excerptEvidenceMaxLen]
		}
		evidence = append(evidence, e)
	}
	if len(evidence) == 0 && title != "" {
		evidence = append(evidence, title)
	}
	if len(evidence) > maxEvidenceSnippets {
		evidence = evidence[:maxEvidenceSnippets]
	}
	return evidence
}

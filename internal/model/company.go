package model

import (
	"strings"
	"time"
)

// FieldStatus tracks the outcome of enriching one company field.
type FieldStatus string

const (
	// FieldStatusOK means a verified value was stored.
	FieldStatusOK FieldStatus = "ok"
	// FieldStatusNotFound means the search completed and found nothing.
	// Terminal: the field is not retried.
	FieldStatusNotFound FieldStatus = "not_found"
	// FieldStatusNotDisclosed means the company deliberately withholds
	// the fact. Terminal.
	FieldStatusNotDisclosed FieldStatus = "not_disclosed"
	// FieldStatusEmpty means no attempt has produced a value yet.
	FieldStatusEmpty FieldStatus = ""
	// FieldStatusIncomplete means a partial value was stored (e.g.
	// fewer than the target number of reviews).
	FieldStatusIncomplete FieldStatus = "incomplete"
	// FieldStatusDeferred means the stage was skipped for budget and
	// no attempt was consumed.
	FieldStatusDeferred FieldStatus = "deferred"
	// FieldStatusTimedOut means the stage started but ran out of
	// budget mid-flight. Retryable.
	FieldStatusTimedOut FieldStatus = "timed_out"
	// FieldStatusUpstreamTimeout means the search backend did not
	// answer within the stage timeout. Retryable.
	FieldStatusUpstreamTimeout FieldStatus = "upstream_timeout"
	// FieldStatusUpstreamUnreachable means the search backend could
	// not be reached at all. Retryable.
	FieldStatusUpstreamUnreachable FieldStatus = "upstream_unreachable"
	// FieldStatusParseError means the backend answered but no JSON
	// could be extracted. Retryable.
	FieldStatusParseError FieldStatus = "parse_error"
)

// Terminal reports whether the status ends the field's lifecycle.
func (s FieldStatus) Terminal() bool {
	switch s {
	case FieldStatusOK, FieldStatusNotFound, FieldStatusNotDisclosed:
		return true
	}
	return false
}

// Retryable reports whether another attempt may succeed.
func (s FieldStatus) Retryable() bool {
	switch s {
	case FieldStatusUpstreamTimeout, FieldStatusUpstreamUnreachable,
		FieldStatusParseError, FieldStatusTimedOut, FieldStatusDeferred:
		return true
	}
	return false
}

// FieldKey identifies one enrichable company field.
type FieldKey string

const (
	FieldTagline                FieldKey = "tagline"
	FieldIndustries             FieldKey = "industries"
	FieldHeadquartersLocation   FieldKey = "headquarters_location"
	FieldManufacturingLocations FieldKey = "manufacturing_locations"
	FieldProductKeywords        FieldKey = "product_keywords"
	FieldReviews                FieldKey = "reviews"
)

// AllFieldKeys lists enrichable fields in priority order.
var AllFieldKeys = []FieldKey{
	FieldTagline,
	FieldIndustries,
	FieldHeadquartersLocation,
	FieldManufacturingLocations,
	FieldProductKeywords,
	FieldReviews,
}

// TargetReviewCount is how many curated reviews a company needs before
// the reviews field counts as complete.
const TargetReviewCount = 2

// Company is the enrichment target document. It round-trips through
// the document store, so unknown upstream keys must survive: callers
// that need full fidelity work with the raw map form in docstore and
// project into this struct for typed access.
type Company struct {
	ID               string `json:"id"`
	NormalizedDomain string `json:"normalized_domain"`
	CompanyName      string `json:"company_name"`
	WebsiteURL       string `json:"website_url"`

	Tagline           string      `json:"tagline,omitempty"`
	TaglineStatus     FieldStatus `json:"tagline_status,omitempty"`
	TaglineSearchedAt string      `json:"tagline_searched_at,omitempty"`

	Industries           []string    `json:"industries,omitempty"`
	IndustriesStatus     FieldStatus `json:"industries_status,omitempty"`
	IndustriesSearchedAt string      `json:"industries_searched_at,omitempty"`

	HeadquartersLocation           string      `json:"headquarters_location,omitempty"`
	HeadquartersLocationStatus     FieldStatus `json:"headquarters_location_status,omitempty"`
	HeadquartersLocationSearchedAt string      `json:"headquarters_location_searched_at,omitempty"`
	HQSourceURLs                   []string    `json:"hq_source_urls,omitempty"`

	ManufacturingLocations           []string    `json:"manufacturing_locations,omitempty"`
	ManufacturingLocationsStatus     FieldStatus `json:"manufacturing_locations_status,omitempty"`
	ManufacturingLocationsSearchedAt string      `json:"manufacturing_locations_searched_at,omitempty"`
	MfgSourceURLs                    []string    `json:"mfg_source_urls,omitempty"`

	ProductKeywords           []string    `json:"product_keywords,omitempty"`
	ProductKeywordsStatus     FieldStatus `json:"product_keywords_status,omitempty"`
	ProductKeywordsSearchedAt string      `json:"product_keywords_searched_at,omitempty"`

	CuratedReviews     []CuratedReview `json:"curated_reviews,omitempty"`
	ReviewsStageStatus FieldStatus     `json:"reviews_stage_status,omitempty"`
	ReviewsSearchedAt  string          `json:"reviews_searched_at,omitempty"`
	ReviewCursor       *ReviewCursor   `json:"review_cursor,omitempty"`

	// ImportMissingFields is always recomputed from values and
	// statuses, never merged from a previous document.
	ImportMissingFields []string `json:"import_missing_fields,omitempty"`

	EnrichmentAttempts    map[string]int `json:"enrichment_attempts,omitempty"`
	EnrichmentCompletedAt string         `json:"enrichment_completed_at,omitempty"`
	EnrichmentElapsedMS   int64          `json:"enrichment_elapsed_ms,omitempty"`

	EnrichmentEvents []EnrichmentEvent `json:"enrichment_events,omitempty"`
}

// EnrichmentEvent is one line of the per-company enrichment audit log.
type EnrichmentEvent struct {
	At        time.Time   `json:"at"`
	SessionID string      `json:"session_id,omitempty"`
	Field     FieldKey    `json:"field"`
	Status    FieldStatus `json:"status"`
	Attempt   int         `json:"attempt,omitempty"`
	ElapsedMS int64       `json:"elapsed_ms,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

// FieldStatusFor returns the stored status for one field key.
func (c *Company) FieldStatusFor(key FieldKey) FieldStatus {
	switch key {
	case FieldTagline:
		return c.TaglineStatus
	case FieldIndustries:
		return c.IndustriesStatus
	case FieldHeadquartersLocation:
		return c.HeadquartersLocationStatus
	case FieldManufacturingLocations:
		return c.ManufacturingLocationsStatus
	case FieldProductKeywords:
		return c.ProductKeywordsStatus
	case FieldReviews:
		return c.ReviewsStageStatus
	}
	return FieldStatusEmpty
}

// FieldComplete reports whether a field needs no further enrichment:
// either its status is terminal or its value meets the completeness
// bar for its type.
func (c *Company) FieldComplete(key FieldKey) bool {
	if c.FieldStatusFor(key).Terminal() {
		return true
	}
	switch key {
	case FieldTagline:
		return strings.TrimSpace(c.Tagline) != ""
	case FieldIndustries:
		return len(c.Industries) > 0
	case FieldHeadquartersLocation:
		return strings.TrimSpace(c.HeadquartersLocation) != ""
	case FieldManufacturingLocations:
		return len(c.ManufacturingLocations) > 0
	case FieldProductKeywords:
		return len(c.ProductKeywords) > 0
	case FieldReviews:
		return len(c.CuratedReviews) >= TargetReviewCount
	}
	return false
}

// MissingFields recomputes the list of field keys still needing work.
// Stale entries from earlier passes never survive: the list is derived
// fresh from current values and statuses.
func (c *Company) MissingFields() []string {
	var missing []string
	for _, key := range AllFieldKeys {
		if !c.FieldComplete(key) {
			missing = append(missing, string(key))
		}
	}
	return missing
}

// NeedsResume reports whether another enrichment pass is warranted.
func (c *Company) NeedsResume() bool {
	if len(c.MissingFields()) > 0 {
		return true
	}
	switch c.ReviewsStageStatus {
	case FieldStatusEmpty, FieldStatusIncomplete:
		return true
	}
	return false
}

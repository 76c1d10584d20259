package model

// ReviewCandidate is one review proposed by the search backend before
// validation. Field names follow the upstream JSON contract.
type ReviewCandidate struct {
	SourceURL   string  `json:"source_url"`
	SourceName  string  `json:"source_name,omitempty"`
	Title       string  `json:"title,omitempty"`
	Author      string  `json:"author,omitempty"`
	Date        string  `json:"date,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	Excerpt     string  `json:"excerpt,omitempty"`
	ReviewType  string  `json:"review_type,omitempty"`
}

// CuratedReview is a validated, deduplicated review stored on the
// company document.
type CuratedReview struct {
	ID              string   `json:"id"`
	SourceURL       string   `json:"source_url"`
	SourceName      string   `json:"source_name,omitempty"`
	SourceHost      string   `json:"source_host,omitempty"`
	Title           string   `json:"title,omitempty"`
	Author          string   `json:"author,omitempty"`
	Date            string   `json:"date,omitempty"`
	Rating          *float64 `json:"rating,omitempty"`
	Excerpt         string   `json:"excerpt,omitempty"`
	EvidenceSnippets []string `json:"evidence_snippets,omitempty"`
	MatchConfidence float64  `json:"match_confidence"`
	LinkStatus      string   `json:"link_status,omitempty"`
	ValidatedAt     string   `json:"validated_at,omitempty"`
	DedupeKey       string   `json:"_dedupe_key,omitempty"`
}

// ReviewCursorError captures the last failure seen by the review
// fetch loop.
type ReviewCursorError struct {
	RootCause      string `json:"root_cause"`
	Retryable      bool   `json:"retryable"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

// ReviewCursor tracks paging state across resumed review fetches.
// Exhausted is terminal; LastSuccessAt only advances when at least one
// new review was accepted.
type ReviewCursor struct {
	Source        string             `json:"source"`
	LastOffset    int                `json:"last_offset"`
	TotalFetched  int                `json:"total_fetched"`
	Exhausted     bool               `json:"exhausted"`
	AttemptedURLs []string           `json:"attempted_urls,omitempty"`
	LastAttemptAt string             `json:"last_attempt_at,omitempty"`
	LastSuccessAt string             `json:"last_success_at,omitempty"`
	LastError     *ReviewCursorError `json:"last_error,omitempty"`
}

// MarkAttempted records a URL the validation loop has already visited
// so later passes skip it. Order-preserving, deduplicated.
func (rc *ReviewCursor) MarkAttempted(url string) {
	for _, u := range rc.AttemptedURLs {
		if u == url {
			return
		}
	}
	rc.AttemptedURLs = append(rc.AttemptedURLs, url)
}

// Attempted reports whether a URL was already visited.
func (rc *ReviewCursor) Attempted(url string) bool {
	for _, u := range rc.AttemptedURLs {
		if u == url {
			return true
		}
	}
	return false
}

package review

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tabarnam/enrich-cli/internal/model"
)

var testCompany = CompanyIdentity{
	CompanyName:      "Acme Widgets, Inc.",
	WebsiteURL:       "https://acmewidgets.com",
	NormalizedDomain: "acmewidgets.com",
}

func newTestValidator() *Validator {
	return NewValidator(newTestChecker())
}

func TestValidator_RejectsMissingFields(t *testing.T) {
	v := newTestValidator()

	res, err := v.Validate(context.Background(), CompanyIdentity{}, model.ReviewCandidate{SourceURL: "https://example.com"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonMissingFields, res.ReasonIfRejected)

	res, err = v.Validate(context.Background(), testCompany, model.ReviewCandidate{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonMissingFields, res.ReasonIfRejected)
}

func TestValidator_RejectsExcludedSource(t *testing.T) {
	res, err := newTestValidator().Validate(context.Background(), testCompany, model.ReviewCandidate{
		SourceURL: "https://www.amazon.com/product-reviews/B0001",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonExcludedSource, res.ReasonIfRejected)
}

func TestValidator_NotFoundIsHardReject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	// Even a perfect excerpt cannot rescue a dead link.
	res, err := newTestValidator().Validate(context.Background(), testCompany, model.ReviewCandidate{
		SourceURL: srv.URL + "/gone",
		Title:     "Acme Widgets hands-on review",
		Excerpt:   "Acme Widgets makes the best stuff we tested.",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, LinkStatusNotFound, res.LinkStatus)
	assert.Equal(t, ReasonURLNotFound, res.ReasonIfRejected)
}

func TestValidator_BlockedWithExcerptEvidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	res, err := newTestValidator().Validate(context.Background(), testCompany, model.ReviewCandidate{
		SourceURL: srv.URL + "/review",
		Title:     "Our verdict on Acme Widgets",
		Excerpt:   "Acme Widgets impressed us with build quality.",
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, LinkStatusBlocked, res.LinkStatus)
	assert.Equal(t, blockedExcerptConfidence, res.MatchConfidence)
	assert.True(t, res.BrandMentionsFound)
	assert.NotEmpty(t, res.EvidenceSnippets)
	assert.NotEmpty(t, res.LastCheckedAt)
}

func TestValidator_BlockedWithoutEvidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	res, err := newTestValidator().Validate(context.Background(), testCompany, model.ReviewCandidate{
		SourceURL: srv.URL + "/review",
		Title:     "Ten garage tools we like",
		Excerpt:   "A roundup of tools from various brands.",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonURLBlocked, res.ReasonIfRejected)
}

func TestValidator_JSHeavyPageFallsBackToExcerpt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>Loading application shell, please wait while scripts run in your browser today.</body></html>"))
	}))
	defer srv.Close()

	res, err := newTestValidator().Validate(context.Background(), testCompany, model.ReviewCandidate{
		SourceURL: srv.URL + "/review",
		Excerpt:   "Acme Widgets earns top marks in our testing.",
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, jsHeavyExcerptConfidence, res.MatchConfidence)
	assert.Equal(t, []string{testCompany.CompanyName}, res.MatchedBrandTerms)
}

func TestValidator_BrandMismatchRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>A long article about completely unrelated topics and other companies entirely.</body></html>"))
	}))
	defer srv.Close()

	res, err := newTestValidator().Validate(context.Background(), testCompany, model.ReviewCandidate{
		SourceURL: srv.URL + "/post",
		Excerpt:   "Nothing about the company here either.",
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonBrandMismatch, res.ReasonIfRejected)
}

func TestValidator_FullMatchWithEvidence(t *testing.T) {
	body := "<html><head><title>Acme Widgets review</title></head><body><p>" +
		strings.Repeat("Intro text about the widget market today. ", 4) +
		"Acme Widgets builds the most reliable widgets we have tested in five years of reviews. " +
		strings.Repeat("More detail about testing methodology follows here. ", 4) +
		"</p></body></html>"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	res, err := newTestValidator().Validate(context.Background(), testCompany, model.ReviewCandidate{
		SourceURL: srv.URL + "/review",
		Title:     "Acme Widgets review",
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 0.95, res.MatchConfidence)
	assert.NotEmpty(t, res.MatchedBrandTerms)
	require.NotEmpty(t, res.EvidenceSnippets)
	assert.Contains(t, strings.ToLower(res.EvidenceSnippets[0]), "acme")
}

func TestValidator_SnippetFallbackFloor(t *testing.T) {
	// Page mentions the brand once but is too short for snippet
	// extraction, so the excerpt is kept instead of rejecting.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>Acme Widgets shop</body></html>"))
	}))
	defer srv.Close()

	res, err := newTestValidator().Validate(context.Background(), testCompany, model.ReviewCandidate{
		SourceURL: srv.URL + "/shop",
		Excerpt:   "Acme Widgets has a small storefront online.",
	})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.GreaterOrEqual(t, res.MatchConfidence, snippetFallbackConfidence)
	assert.Equal(t, []string{"Acme Widgets has a small storefront online."}, res.EvidenceSnippets)
}

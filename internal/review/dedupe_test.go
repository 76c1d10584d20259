package review

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tabarnam/enrich-cli/internal/model"
)

func TestDedupeKey_Idempotent(t *testing.T) {
	rating := 4.5
	r := model.CuratedReview{
		SourceURL: "https://Example.com/review#top",
		Title:     "Acme Review",
		Author:    "Jo Writer",
		Date:      "2024-03-01",
		Rating:    &rating,
		Excerpt:   "Acme makes great widgets.",
	}

	first := DedupeKey(r)
	second := DedupeKey(r)
	assert.Equal(t, first, second)
	assert.Len(t, first, 40)

	clone := r
	assert.Equal(t, first, DedupeKey(clone))
}

func TestDedupeKey_CaseAndFragmentInsensitive(t *testing.T) {
	a := model.CuratedReview{SourceURL: "https://example.com/review#comments", Title: "Acme Review"}
	b := model.CuratedReview{SourceURL: "https://EXAMPLE.com/review", Title: "acme review"}
	assert.Equal(t, DedupeKey(a), DedupeKey(b))
}

func TestDedupeKey_ExcerptPrefixOnly(t *testing.T) {
	prefix := strings.Repeat("x", dedupeExcerptPrefixLen)
	a := model.CuratedReview{SourceURL: "https://example.com/r", Excerpt: prefix + "tail one"}
	b := model.CuratedReview{SourceURL: "https://example.com/r", Excerpt: prefix + "different tail"}
	assert.Equal(t, DedupeKey(a), DedupeKey(b))

	c := model.CuratedReview{SourceURL: "https://example.com/r", Excerpt: "short excerpt"}
	assert.NotEqual(t, DedupeKey(a), DedupeKey(c))
}

func TestDedupeKey_DistinguishesContent(t *testing.T) {
	a := model.CuratedReview{SourceURL: "https://example.com/r1", Title: "Review one"}
	b := model.CuratedReview{SourceURL: "https://example.com/r2", Title: "Review one"}
	assert.NotEqual(t, DedupeKey(a), DedupeKey(b))
}

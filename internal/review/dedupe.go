package review

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/tabarnam/enrich-cli/internal/model"
)

const dedupeExcerptPrefixLen = 160

// DedupeKey computes the stable content hash used to deduplicate
// reviews within a batch and against previously persisted ones.
// Identical inputs always yield identical keys.
func DedupeKey(r model.CuratedReview) string {
	parts := make([]string, 0, 6)
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		parts = append(parts, s)
	}

	add(strings.ToLower(NormalizeURL(r.SourceURL)))
	add(strings.ToLower(r.Title))
	add(strings.ToLower(r.Author))
	add(r.Date)
	if r.Rating != nil {
		add(strconv.FormatFloat(*r.Rating, 'f', -1, 64))
	}
	excerpt := strings.ToLower(r.Excerpt)
	if len(excerpt) > dedupeExcerptPrefixLen {
		excerpt = excerpt[:dedupeExcerptPrefixLen]
	}
	add(excerpt)

	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

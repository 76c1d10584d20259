package review

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// Terms shorter than this match too much unrelated text.
	minBrandTermLen = 3

	maxEvidenceSnippets = 2
	snippetMinWords     = 10
	snippetMaxWords     = 25
)

var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldDiacritics maps accented characters to their ASCII base so
// "Café Müller" matches pages that spell it "Cafe Muller".
func FoldDiacritics(s string) string {
	out, _, err := transform.String(diacriticFolder, s)
	if err != nil {
		return s
	}
	return out
}

// BuildBrandTerms assembles the search terms used for brand-mention
// matching: the raw company name, its normalized form, and the
// hostname brand token when it isn't already part of the name.
func BuildBrandTerms(companyName, websiteURL, normalizedDomain string) []string {
	company := strings.TrimSpace(companyName)
	normalized := NormalizeCompanyName(company)
	token := BrandTokenFromURL(firstNonEmpty(websiteURL, normalizedDomain))

	seen := make(map[string]struct{})
	var terms []string
	add := func(s string) {
		v := strings.TrimSpace(s)
		if len([]rune(v)) < minBrandTermLen {
			return
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		terms = append(terms, v)
	}

	add(company)
	add(normalized)
	if token != "" && (company == "" || !strings.Contains(strings.ToLower(company), strings.ToLower(token))) {
		add(token)
	}
	return terms
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// CountMentions counts case-insensitive occurrences of term in text.
// Single tokens are anchored at word boundaries; multi-word phrases
// match as plain substrings.
func CountMentions(text, term string) int {
	t := FoldDiacritics(text)
	s := strings.TrimSpace(FoldDiacritics(term))
	if t == "" || s == "" {
		return 0
	}
	pattern := regexp.QuoteMeta(s)
	if !strings.ContainsAny(s, " \t") {
		pattern = `\b` + pattern + `\b`
	}
	rx, err := regexp.Compile(`(?i)` + pattern)
	if err != nil {
		return 0
	}
	return len(rx.FindAllStringIndex(t, -1))
}

// ExtractEvidenceSnippets pulls short word windows around the first
// occurrence of each matched term. At most maxEvidenceSnippets are
// returned, deduplicated case-insensitively.
func ExtractEvidenceSnippets(text string, matchedTerms []string) []string {
	full := strings.TrimSpace(text)
	if full == "" {
		return nil
	}
	lower := strings.ToLower(full)

	var snippets []string
	used := make(map[string]struct{})

	for _, term := range matchedTerms {
		if len(snippets) >= maxEvidenceSnippets {
			break
		}
		t := strings.TrimSpace(term)
		if t == "" {
			continue
		}
		idx := strings.Index(lower, strings.ToLower(t))
		if idx < 0 {
			continue
		}

		start := idx - 500
		if start < 0 {
			start = 0
		}
		end := idx + 500
		if end > len(full) {
			end = len(full)
		}
		window := full[start:end]
		words := strings.Fields(window)
		if len(words) < snippetMinWords {
			continue
		}

		wordPos := 0
		if rel := strings.Index(strings.ToLower(window), strings.ToLower(t)); rel >= 0 {
			wordPos = len(strings.Fields(window[:rel]))
		}

		ws := wordPos - snippetMaxWords/2
		if ws < 0 {
			ws = 0
		}
		we := ws + snippetMaxWords
		if we > len(words) {
			we = len(words)
		}
		snippet := strings.TrimSpace(strings.Join(words[ws:we], " "))
		if len(strings.Fields(snippet)) < snippetMinWords {
			continue
		}

		key := strings.ToLower(snippet)
		if _, ok := used[key]; ok {
			continue
		}
		used[key] = struct{}{}
		snippets = append(snippets, snippet)
	}
	return snippets
}

// MatchConfidence scores how certain we are the page is about the
// company. A title hit dominates; otherwise total body mentions set
// the tier.
func MatchConfidence(title, text string, brandTerms []string) float64 {
	titleLower := strings.ToLower(FoldDiacritics(title))

	total := 0
	titleHit := false
	for _, term := range brandTerms {
		if term == "" {
			continue
		}
		if !titleHit && titleLower != "" && strings.Contains(titleLower, strings.ToLower(FoldDiacritics(term))) {
			titleHit = true
		}
		total += CountMentions(text, term)
	}

	switch {
	case titleHit:
		return 0.95
	case total >= 5:
		return 0.85
	case total >= 2:
		return 0.75
	case total >= 1:
		return 0.55
	}
	return 0.0
}

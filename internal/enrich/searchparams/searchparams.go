// Package searchparams builds the deterministic excluded-host lists
// handed to the search backend. Backends cap how many hosts a request
// may exclude, so overflow spills into natural-language prompt text.
package searchparams

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/tabarnam/enrich-cli/pkg/xai"
)

// MaxExcludedWebsites is the backend's per-source exclusion cap.
const MaxExcludedWebsites = 5

// MaxHostsInPrompt bounds the spill list appended to the prompt so
// prompt size stays stable.
const MaxHostsInPrompt = 15

// wildcardHosts maps simple wildcard patterns to concrete hosts; the
// backend expects real websites, not patterns.
var wildcardHosts = map[string]string{
	"amazon": "amazon.com",
	"google": "google.com",
	"yelp":   "yelp.com",
}

var hasAlnum = regexp.MustCompile(`[a-z0-9]`)
var hasScheme = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*:`)

// NormalizeHost canonicalizes one excluded-host entry: lowercase,
// wildcard mapping, URL-to-hostname, strip www. and trailing dots.
// Returns "" for entries that cannot become a usable host.
func NormalizeHost(input string) string {
	raw := strings.ToLower(strings.TrimSpace(input))
	if raw == "" {
		return ""
	}

	if base, ok := strings.CutSuffix(raw, ".*"); ok {
		if concrete, known := wildcardHosts[base]; known {
			return concrete
		}
	}

	host := toHostname(raw)
	if host == "" {
		return ""
	}
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimRight(host, ".")
	if host == "" || !hasAlnum.MatchString(host) {
		return ""
	}
	return host
}

func toHostname(v string) string {
	if hasScheme.MatchString(v) {
		u, err := url.Parse(v)
		if err != nil {
			return ""
		}
		return u.Hostname()
	}
	if strings.ContainsAny(v, "/?#") {
		u, err := url.Parse("http://" + v)
		if err != nil {
			return ""
		}
		return u.Hostname()
	}
	return v
}

func uniqPreserveOrder(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// defaultExcludedHosts are always excluded from review sourcing. Kept
// as separate candidates so anything beyond the cap can spill into
// prompt text.
var defaultExcludedHosts = []string{
	"amazon.com",
	"amzn.to",
	"google.com",
	"g.co",
	"goo.gl",
	"yelp.com",
	"trustpilot.com",
}

// Candidates builds the full normalized exclusion list: company host
// first, then defaults and caller-provided extras, deduplicated.
func Candidates(companyWebsiteHost string, additional []string) []string {
	companyHost := NormalizeHost(companyWebsiteHost)

	normalized := make([]string, 0, len(defaultExcludedHosts)+len(additional)+1)
	for _, x := range defaultExcludedHosts {
		if h := NormalizeHost(x); h != "" {
			normalized = append(normalized, h)
		}
	}
	for _, x := range additional {
		if h := NormalizeHost(x); h != "" {
			normalized = append(normalized, h)
		}
	}
	if companyHost != "" {
		normalized = append([]string{companyHost}, normalized...)
	}
	return uniqPreserveOrder(normalized)
}

// Telemetry describes how the exclusion list was capped.
type Telemetry struct {
	OriginalCount        int  `json:"excluded_websites_original_count"`
	UsedCount            int  `json:"excluded_websites_used_count"`
	Truncated            bool `json:"excluded_websites_truncated"`
	SpilledToPromptCount int  `json:"excluded_hosts_spilled_to_prompt_count"`
}

// Capped is the result of applying the backend's exclusion cap.
type Capped struct {
	Candidates []string
	Used       []string
	Spilled    []string
	Telemetry  Telemetry
}

// Cap orders the candidates deterministically (company host, then the
// high-priority aggregators, then the rest alphabetically) and splits
// them into the used list and the prompt spill.
func Cap(companyWebsiteHost string, additional []string, maxExcluded int) Capped {
	if maxExcluded < 0 {
		maxExcluded = 0
	}

	candidates := Candidates(companyWebsiteHost, additional)
	companyHost := NormalizeHost(companyWebsiteHost)

	priority := make([]string, 0, 5)
	if companyHost != "" {
		priority = append(priority, companyHost)
	}
	priority = append(priority, "amazon.com", "google.com", "yelp.com", "trustpilot.com")
	priority = uniqPreserveOrder(priority)

	prioritySet := make(map[string]struct{}, len(priority))
	for _, h := range priority {
		prioritySet[h] = struct{}{}
	}
	inCandidates := make(map[string]struct{}, len(candidates))
	for _, h := range candidates {
		inCandidates[h] = struct{}{}
	}

	ordered := make([]string, 0, len(candidates))
	for _, h := range priority {
		if _, ok := inCandidates[h]; ok {
			ordered = append(ordered, h)
		}
	}
	var remaining []string
	for _, h := range candidates {
		if _, ok := prioritySet[h]; !ok {
			remaining = append(remaining, h)
		}
	}
	sort.Strings(remaining)
	ordered = append(ordered, remaining...)

	var used, spilled []string
	if maxExcluded > 0 && maxExcluded < len(ordered) {
		used = ordered[:maxExcluded]
		spilled = ordered[maxExcluded:]
	} else if maxExcluded > 0 {
		used = ordered
	} else {
		spilled = ordered
	}

	return Capped{
		Candidates: ordered,
		Used:       used,
		Spilled:    spilled,
		Telemetry: Telemetry{
			OriginalCount:        len(ordered),
			UsedCount:            len(used),
			Truncated:            len(ordered) > len(used),
			SpilledToPromptCount: len(spilled),
		},
	}
}

// PromptExclusionText renders the spill list as a prompt suffix. Hosts
// are capped in count and length so prompt size stays stable.
func PromptExclusionText(spilled []string, maxHostsInPrompt int) string {
	if maxHostsInPrompt <= 0 {
		return ""
	}
	hosts := make([]string, 0, len(spilled))
	for _, h := range spilled {
		if n := NormalizeHost(h); n != "" {
			hosts = append(hosts, n)
		}
	}
	hosts = uniqPreserveOrder(hosts)
	if len(hosts) == 0 {
		return ""
	}
	if len(hosts) > maxHostsInPrompt {
		hosts = hosts[:maxHostsInPrompt]
	}
	for i, h := range hosts {
		if len(h) > 80 {
			hosts[i] = h[:80]
		}
	}
	return "\n\nAlso avoid these websites (even if they appear in search results): " +
		strings.Join(hosts, ", ") + "."
}

// Built is the full search parameter set for one review search call.
type Built struct {
	SearchParameters    *xai.SearchParameters
	PromptExclusionText string
	Used                []string
	Spilled             []string
	Telemetry           Telemetry
}

// Build assembles backend search parameters for a company: web and
// news sources carry the capped exclusion list, the x source is
// unfiltered, and overflow hosts ride along as prompt text.
func Build(companyWebsiteHost string, additional []string) Built {
	capped := Cap(companyWebsiteHost, additional, MaxExcludedWebsites)

	return Built{
		SearchParameters: &xai.SearchParameters{
			Mode: "on",
			Sources: []xai.Source{
				{Type: "web", ExcludedWebsites: capped.Used},
				{Type: "news", ExcludedWebsites: capped.Used},
				{Type: "x"},
			},
			ExcludedDomains: capped.Used,
		},
		PromptExclusionText: PromptExclusionText(capped.Spilled, MaxHostsInPrompt),
		Used:                capped.Used,
		Spilled:             capped.Spilled,
		Telemetry:           capped.Telemetry,
	}
}

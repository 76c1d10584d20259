package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tabarnam/enrich-cli/internal/budget"
	"github.com/tabarnam/enrich-cli/internal/enrich/searchparams"
	"github.com/tabarnam/enrich-cli/internal/model"
	"github.com/tabarnam/enrich-cli/internal/resilience"
	"github.com/tabarnam/enrich-cli/pkg/xai"
)

// Target identifies the company being enriched.
type Target struct {
	CompanyName      string
	WebsiteURL       string
	NormalizedDomain string
}

// FieldResult is the outcome of one stage attempt for one field.
type FieldResult struct {
	Key    model.FieldKey
	Status model.FieldStatus

	// Text holds scalar values (tagline, headquarters_location).
	Text string
	// List holds array values (industries, manufacturing_locations,
	// product_keywords).
	List []string
	// SourceURLs backs hq_source_urls / mfg_source_urls.
	SourceURLs []string
	// HQ carries the parsed city/state/country breakdown when the
	// headquarters value could be expanded.
	HQ *InferredLocation
	// Candidates holds raw review candidates awaiting validation.
	Candidates []model.ReviewCandidate

	IncompleteReason string
	Detail           string
	SearchedAt       string
	Diagnostics      *xai.Diagnostics
	SearchTelemetry  *searchparams.Telemetry
}

// Fetcher runs one enrichment stage within the remaining budget.
type Fetcher interface {
	Fetch(ctx context.Context, spec FieldSpec, target Target, b *budget.Budget) (*FieldResult, error)
}

const (
	stageRetryAttempts = 2
	stageRetryBackoff  = 350 * time.Millisecond

	maxSourceURLs = 12
)

// ExclusionObserver counts which hosts the search exclusions hit.
// *monitoring.Collector satisfies it.
type ExclusionObserver interface {
	ObserveExcludedHost(host string)
}

// StageRunner is the xAI-backed Fetcher.
type StageRunner struct {
	client   xai.Client
	model    string
	breaker  *resilience.CircuitBreaker
	now      func() time.Time
	sleep    func(context.Context, time.Duration)
	observer ExclusionObserver
}

// SetObserver attaches an exclusion telemetry sink.
func (r *StageRunner) SetObserver(obs ExclusionObserver) { r.observer = obs }

// NewStageRunner creates a StageRunner on the given search client.
// Repeated retryable upstream failures open a circuit breaker so a
// degraded backend fails stages fast instead of burning budget.
func NewStageRunner(client xai.Client, searchModel string) *StageRunner {
	cbCfg := resilience.FromCircuitConfig(5, 30)
	cbCfg.ShouldTrip = func(err error) bool {
		var ue *xai.UpstreamError
		return errors.As(err, &ue) && ue.Retryable()
	}
	cbCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("enrich: search circuit state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	breaker := resilience.NewCircuitBreaker(cbCfg)
	return &StageRunner{
		client:  client,
		model:   searchModel,
		breaker: breaker,
		now:     time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
}

// Fetch dispatches to the per-field stage.
func (r *StageRunner) Fetch(ctx context.Context, spec FieldSpec, target Target, b *budget.Budget) (*FieldResult, error) {
	timeout, err := budget.Allocate(spec.Class, b.Remaining())
	if errors.Is(err, budget.ErrDeadlineExceeded) {
		zap.L().Debug("enrich: stage deferred",
			zap.String("field", string(spec.Key)),
			zap.Duration("remaining", b.Remaining()))
		return &FieldResult{Key: spec.Key, Status: model.FieldStatusDeferred}, nil
	}
	if err != nil {
		return nil, err
	}

	req := xai.SearchRequest{
		Model:            r.model,
		MaxTokens:        spec.MaxTokens,
		Timeout:          timeout,
		SearchParameters: &xai.SearchParameters{Mode: "on"},
	}

	var (
		excluded   []string
		searchTele *searchparams.Telemetry
	)
	switch spec.Key {
	case model.FieldTagline:
		req.Prompt = taglinePrompt(target.NormalizedDomain)
	case model.FieldIndustries:
		req.Prompt = industriesPrompt(target.NormalizedDomain)
	case model.FieldHeadquartersLocation:
		req.Prompt = headquartersPrompt(target.NormalizedDomain)
	case model.FieldManufacturingLocations:
		req.Prompt = manufacturingPrompt(target.NormalizedDomain)
	case model.FieldProductKeywords:
		req.Prompt = keywordsPrompt(target.NormalizedDomain)
	case model.FieldReviews:
		built := searchparams.Build(target.NormalizedDomain, nil)
		excluded = append(built.Used, built.Spilled...)
		searchTele = &built.Telemetry
		if r.observer != nil {
			for _, host := range built.Used {
				r.observer.ObserveExcludedHost(host)
			}
		}
		req.Prompt = reviewsPrompt(target.CompanyName, target.NormalizedDomain, excluded) + built.PromptExclusionText
		req.SearchParameters = built.SearchParameters
		req.UseTools = true
	default:
		return nil, eris.Errorf("enrich: unknown field %q", spec.Key)
	}

	result, upstream := r.searchWithRetry(ctx, req)
	if upstream != nil {
		return &FieldResult{
			Key:         spec.Key,
			Status:      upstreamStatus(upstream),
			Detail:      upstream.Error(),
			Diagnostics: &upstream.Diagnostics,
		}, nil
	}

	parsed := r.parse(spec.Key, target, excluded, result)
	parsed.SearchedAt = r.now().UTC().Format(time.RFC3339)
	parsed.Diagnostics = &result.Diagnostics
	parsed.SearchTelemetry = searchTele
	return parsed, nil
}

// searchWithRetry retries retryable upstream failures once with a
// short backoff.
func (r *StageRunner) searchWithRetry(ctx context.Context, req xai.SearchRequest) (*xai.SearchResult, *xai.UpstreamError) {
	var last *xai.UpstreamError
	for attempt := 0; attempt < stageRetryAttempts; attempt++ {
		if attempt > 0 {
			r.sleep(ctx, stageRetryBackoff*time.Duration(attempt))
		}
		result, err := resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (*xai.SearchResult, error) {
			return r.client.Search(ctx, req)
		})
		if err == nil {
			return result, nil
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, &xai.UpstreamError{Code: xai.CodeUpstreamUnreachable, Err: err}
		}
		var ue *xai.UpstreamError
		if !errors.As(err, &ue) {
			return nil, &xai.UpstreamError{Code: xai.CodeUpstreamUnreachable, Err: err}
		}
		last = ue
		if !ue.Retryable() || ctx.Err() != nil {
			break
		}
		zap.L().Warn("enrich: upstream retry",
			zap.String("code", ue.Code),
			zap.Int("attempt", attempt+1))
	}
	return nil, last
}

func upstreamStatus(err *xai.UpstreamError) model.FieldStatus {
	if err.Code == xai.CodeUpstreamTimeout {
		return model.FieldStatusUpstreamTimeout
	}
	return model.FieldStatusUpstreamUnreachable
}

func (r *StageRunner) parse(key model.FieldKey, target Target, excluded []string, result *xai.SearchResult) *FieldResult {
	raw := xai.ExtractJSON(result.Text)
	if raw == nil {
		return parseError(key, result.Text)
	}

	switch key {
	case model.FieldTagline:
		return parseTagline(raw, result.Text)
	case model.FieldIndustries:
		return parseIndustries(raw, result.Text)
	case model.FieldHeadquartersLocation:
		return parseHeadquarters(raw, result.Text)
	case model.FieldManufacturingLocations:
		return parseManufacturing(raw, result.Text)
	case model.FieldProductKeywords:
		return parseKeywords(raw, result.Text)
	case model.FieldReviews:
		return parseReviewCandidates(raw, target, excluded, result.Text)
	}
	return parseError(key, result.Text)
}

const rawPreviewLen = 1200

func parseError(key model.FieldKey, rawText string) *FieldResult {
	preview := rawText
	if len(preview) > rawPreviewLen {
		preview = preview[:rawPreviewLen]
	}
	return &FieldResult{Key: key, Status: model.FieldStatusParseError, Detail: preview}
}

var noValueRe = regexp.MustCompile(`(?i)^(unknown|n/a|not disclosed)$`)

func parseTagline(raw json.RawMessage, rawText string) *FieldResult {
	var out struct {
		Tagline *string `json:"tagline"`
		Slogan  *string `json:"slogan"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || (out.Tagline == nil && out.Slogan == nil) {
		return parseError(model.FieldTagline, rawText)
	}
	value := strings.TrimSpace(deref(out.Tagline))
	if value == "" {
		value = strings.TrimSpace(deref(out.Slogan))
	}
	if value == "" || noValueRe.MatchString(value) {
		return &FieldResult{Key: model.FieldTagline, Status: model.FieldStatusNotFound}
	}
	return &FieldResult{Key: model.FieldTagline, Status: model.FieldStatusOK, Text: value}
}

func parseIndustries(raw json.RawMessage, rawText string) *FieldResult {
	var out struct {
		Industries *[]string `json:"industries"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Industries == nil {
		return parseError(model.FieldIndustries, rawText)
	}
	cleaned := cleanStrings(*out.Industries)
	if len(cleaned) == 0 {
		return &FieldResult{Key: model.FieldIndustries, Status: model.FieldStatusNotFound}
	}
	return &FieldResult{Key: model.FieldIndustries, Status: model.FieldStatusOK, List: cleaned}
}

type locationSourceURLs struct {
	HQSourceURLs  []string `json:"hq_source_urls"`
	MfgSourceURLs []string `json:"mfg_source_urls"`
}

func parseHeadquarters(raw json.RawMessage, rawText string) *FieldResult {
	var out struct {
		HeadquartersLocation *string             `json:"headquarters_location"`
		LocationSourceURLs   *locationSourceURLs `json:"location_source_urls"`
		SourceURLs           []string            `json:"source_urls"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.HeadquartersLocation == nil {
		return parseError(model.FieldHeadquartersLocation, rawText)
	}

	sources := out.SourceURLs
	if out.LocationSourceURLs != nil && out.LocationSourceURLs.HQSourceURLs != nil {
		sources = out.LocationSourceURLs.HQSourceURLs
	}
	sources = cleanURLs(sources)

	value := strings.TrimSpace(deref(out.HeadquartersLocation))
	if value == "" {
		return &FieldResult{Key: model.FieldHeadquartersLocation, Status: model.FieldStatusNotFound, SourceURLs: sources}
	}
	lower := strings.ToLower(value)
	if lower == "not disclosed" || lower == "not_disclosed" {
		return &FieldResult{Key: model.FieldHeadquartersLocation, Status: model.FieldStatusNotDisclosed, Text: "Not disclosed", SourceURLs: sources}
	}

	res := &FieldResult{Key: model.FieldHeadquartersLocation, Status: model.FieldStatusOK, Text: value, SourceURLs: sources}
	if inferred := InferCountryFromState(value); inferred != nil {
		res.Text = inferred.Formatted
		res.HQ = inferred
	}
	return res
}

func parseManufacturing(raw json.RawMessage, rawText string) *FieldResult {
	var out struct {
		ManufacturingLocations *[]string           `json:"manufacturing_locations"`
		LocationSourceURLs     *locationSourceURLs `json:"location_source_urls"`
		SourceURLs             []string            `json:"source_urls"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.ManufacturingLocations == nil {
		return parseError(model.FieldManufacturingLocations, rawText)
	}

	sources := out.SourceURLs
	if out.LocationSourceURLs != nil && out.LocationSourceURLs.MfgSourceURLs != nil {
		sources = out.LocationSourceURLs.MfgSourceURLs
	}
	sources = cleanURLs(sources)

	var cleaned []string
	for _, loc := range cleanStrings(*out.ManufacturingLocations) {
		cleaned = append(cleaned, NormalizeLocation(loc))
	}
	if len(cleaned) == 0 {
		return &FieldResult{Key: model.FieldManufacturingLocations, Status: model.FieldStatusNotFound, SourceURLs: sources}
	}
	if len(cleaned) == 1 && strings.Contains(strings.ToLower(cleaned[0]), "not disclosed") {
		return &FieldResult{Key: model.FieldManufacturingLocations, Status: model.FieldStatusNotDisclosed, List: []string{"Not disclosed"}, SourceURLs: sources}
	}
	return &FieldResult{Key: model.FieldManufacturingLocations, Status: model.FieldStatusOK, List: cleaned, SourceURLs: sources}
}

func parseKeywords(raw json.RawMessage, rawText string) *FieldResult {
	var out struct {
		ProductKeywords  *[]string `json:"product_keywords"`
		Keywords         *[]string `json:"keywords"`
		Completeness     *string   `json:"completeness"`
		IncompleteReason string    `json:"incomplete_reason"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Completeness == nil {
		return parseError(model.FieldProductKeywords, rawText)
	}
	if out.ProductKeywords == nil && out.Keywords == nil {
		return parseError(model.FieldProductKeywords, rawText)
	}

	list := out.Keywords
	if out.ProductKeywords != nil {
		list = out.ProductKeywords
	}
	deduped := dedupeStrings(cleanStrings(*list))
	if len(deduped) == 0 {
		return &FieldResult{Key: model.FieldProductKeywords, Status: model.FieldStatusNotFound}
	}

	if strings.EqualFold(strings.TrimSpace(deref(out.Completeness)), "incomplete") {
		return &FieldResult{
			Key:              model.FieldProductKeywords,
			Status:           model.FieldStatusIncomplete,
			List:             deduped,
			IncompleteReason: strings.TrimSpace(out.IncompleteReason),
		}
	}
	return &FieldResult{Key: model.FieldProductKeywords, Status: model.FieldStatusOK, List: deduped}
}

func parseReviewCandidates(raw json.RawMessage, target Target, excluded []string, rawText string) *FieldResult {
	var out struct {
		ReviewsURLCandidates []model.ReviewCandidate `json:"reviews_url_candidates"`
		ReviewCandidates     []model.ReviewCandidate `json:"review_candidates"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || (out.ReviewsURLCandidates == nil && out.ReviewCandidates == nil) {
		return parseError(model.FieldReviews, rawText)
	}

	list := out.ReviewsURLCandidates
	if list == nil {
		list = out.ReviewCandidates
	}

	seen := make(map[string]struct{})
	var candidates []model.ReviewCandidate
	for _, c := range list {
		u := strings.TrimSpace(c.SourceURL)
		if u == "" {
			continue
		}
		if hostExcluded(u, excluded) {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		c.SourceURL = u
		candidates = append(candidates, c)
	}

	if len(candidates) == 0 {
		return &FieldResult{Key: model.FieldReviews, Status: model.FieldStatusNotFound}
	}
	return &FieldResult{Key: model.FieldReviews, Status: model.FieldStatusOK, Candidates: candidates}
}

func hostExcluded(rawURL string, excluded []string) bool {
	u := strings.ToLower(rawURL)
	for _, host := range excluded {
		if host != "" && strings.Contains(u, strings.ToLower(host)) {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cleanStrings(in []string) []string {
	var out []string
	for _, s := range in {
		if v := strings.TrimSpace(s); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func cleanURLs(in []string) []string {
	var out []string
	for _, s := range in {
		u := strings.TrimSpace(s)
		if u == "" || (!strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://")) {
			continue
		}
		out = append(out, u)
		if len(out) >= maxSourceURLs {
			break
		}
	}
	return out
}

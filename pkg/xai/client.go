// Package xai is a client for xAI-style live-search endpoints,
// including Azure-hosted proxies in front of them.
package xai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultModel     = "grok-4-latest"
	defaultMaxTokens = 900
	defaultTimeout   = 12 * time.Second
	minTimeout       = 1 * time.Second
)

// Client performs live-search completions.
type Client interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
}

// Source is one search source entry with optional host exclusions.
type Source struct {
	Type             string   `json:"type"`
	ExcludedWebsites []string `json:"excluded_websites,omitempty"`
}

// SearchParameters controls the backend's live search behavior.
type SearchParameters struct {
	Mode            string   `json:"mode,omitempty"`
	Sources         []Source `json:"sources,omitempty"`
	ExcludedDomains []string `json:"excluded_domains,omitempty"`
}

// SearchRequest is one prompt plus its search configuration.
type SearchRequest struct {
	Prompt           string
	Model            string
	MaxTokens        int
	Timeout          time.Duration
	SearchParameters *SearchParameters
	// UseTools switches /responses payloads to the agentic web_search
	// tool. Review searches need it; factual lookups are faster
	// without.
	UseTools bool
}

// Diagnostics captures per-call observability fields.
type Diagnostics struct {
	ElapsedMS         int64  `json:"elapsed_ms"`
	TimeoutMS         int64  `json:"timeout_ms"`
	UpstreamStatus    int    `json:"upstream_http_status"`
	UpstreamRequestID string `json:"upstream_request_id,omitempty"`
}

// SearchResult is a successful call: extracted text plus the raw body.
type SearchResult struct {
	Text        string
	Raw         json.RawMessage
	Diagnostics Diagnostics
}

// Error codes for failed calls.
const (
	CodeUpstreamTimeout     = "upstream_timeout"
	CodeUpstreamUnreachable = "upstream_unreachable"
	CodeUpstreamRateLimited = "upstream_rate_limited"
)

// UpstreamError is a failed search call. Code is one of the Code*
// constants or "upstream_http_<status>".
type UpstreamError struct {
	Code        string
	StatusCode  int
	Diagnostics Diagnostics
	Err         error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *UpstreamError) Retryable() bool {
	switch e.Code {
	case CodeUpstreamTimeout, CodeUpstreamUnreachable, CodeUpstreamRateLimited:
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == 408 || e.StatusCode == 429
}

// Option configures the client.
type Option func(*httpClient)

// WithModel overrides the default model.
func WithModel(model string) Option {
	return func(c *httpClient) {
		c.model = model
	}
}

// WithHTTPClient overrides the default http.Client. The per-request
// timeout still applies via context.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps the request rate against the backend.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a live-search client for the given endpoint URL.
// Hosts under .azurewebsites.net are authenticated with the
// x-functions-key header instead of a bearer token.
func NewClient(endpoint, apiKey string, opts ...Option) Client {
	c := &httpClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    defaultModel,
		http: &http.Client{
			// Per-request deadlines come from the stage budget; this is
			// the hard ceiling safety net.
			Timeout: 185 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(2), 4),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func isAzureWebsitesURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Hostname()), ".azurewebsites.net")
}

func isResponsesEndpoint(raw string) bool {
	return strings.Contains(strings.ToLower(raw), "/responses")
}

// upstreamRequestIDHeaders lists header names proxies use for request
// correlation, in preference order.
var upstreamRequestIDHeaders = []string{
	"x-request-id",
	"x-requestid",
	"x-ms-request-id",
	"x-correlation-id",
	"x-amzn-requestid",
	"request-id",
	"requestid",
}

func pickUpstreamRequestID(h http.Header) string {
	for _, name := range upstreamRequestIDHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	return ""
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionsPayload struct {
	Model            string            `json:"model"`
	Messages         []message         `json:"messages"`
	MaxTokens        int               `json:"max_tokens"`
	Temperature      float64           `json:"temperature"`
	Stream           bool              `json:"stream"`
	SearchParameters *SearchParameters `json:"search_parameters,omitempty"`
}

type responsesTool struct {
	Type    string       `json:"type"`
	Filters *toolFilters `json:"filters,omitempty"`
}

type toolFilters struct {
	ExcludedDomains []string `json:"excluded_domains,omitempty"`
}

type responsesPayload struct {
	Model string          `json:"model"`
	Input []message       `json:"input"`
	Tools []responsesTool `json:"tools,omitempty"`
}

// buildTools converts search parameters into the agentic web_search
// tool. The backend rejects more than 5 excluded domains.
func buildTools(params *SearchParameters) []responsesTool {
	tool := responsesTool{Type: "web_search"}
	if params != nil {
		excluded := make([]string, 0, 5)
		for _, d := range params.ExcludedDomains {
			d = strings.TrimSpace(d)
			if d == "" {
				continue
			}
			excluded = append(excluded, d)
			if len(excluded) == 5 {
				break
			}
		}
		if len(excluded) > 0 {
			tool.Filters = &toolFilters{ExcludedDomains: excluded}
		}
	}
	return []responsesTool{tool}
}

func (c *httpClient) buildPayload(req SearchRequest) (any, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	if isResponsesEndpoint(c.endpoint) {
		p := responsesPayload{
			Model: model,
			Input: []message{{Role: "user", Content: req.Prompt}},
		}
		if req.UseTools {
			p.Tools = buildTools(req.SearchParameters)
		}
		return p, nil
	}

	params := req.SearchParameters
	if params == nil {
		params = &SearchParameters{}
	}
	paramsCopy := *params
	paramsCopy.Mode = "on"
	return chatCompletionsPayload{
		Model:            model,
		Messages:         []message{{Role: "user", Content: req.Prompt}},
		MaxTokens:        maxTokens,
		Temperature:      0.2,
		Stream:           false,
		SearchParameters: &paramsCopy,
	}, nil
}

func (c *httpClient) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if strings.TrimSpace(c.endpoint) == "" || strings.TrimSpace(c.apiKey) == "" {
		return nil, eris.New("xai: missing endpoint or key")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if timeout < minTimeout {
		timeout = minTimeout
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "xai: rate limit wait")
		}
	}

	payload, err := c.buildPayload(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "xai: marshal request")
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "xai: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if isAzureWebsitesURL(c.endpoint) {
		httpReq.Header.Set("x-functions-key", c.apiKey)
	} else {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		diag := Diagnostics{
			ElapsedMS: time.Since(started).Milliseconds(),
			TimeoutMS: timeout.Milliseconds(),
		}
		code := CodeUpstreamUnreachable
		if errors.Is(err, context.DeadlineExceeded) || isTimeoutLike(err) {
			code = CodeUpstreamTimeout
		}
		return nil, &UpstreamError{Code: code, Diagnostics: diag, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	diag := Diagnostics{
		ElapsedMS:         time.Since(started).Milliseconds(),
		TimeoutMS:         timeout.Milliseconds(),
		UpstreamStatus:    resp.StatusCode,
		UpstreamRequestID: pickUpstreamRequestID(resp.Header),
	}
	if err != nil {
		return nil, &UpstreamError{Code: CodeUpstreamUnreachable, Diagnostics: diag, Err: eris.Wrap(err, "xai: read response")}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := "upstream_http_" + strconv.Itoa(resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			code = CodeUpstreamRateLimited
		}
		return nil, &UpstreamError{
			Code:        code,
			StatusCode:  resp.StatusCode,
			Diagnostics: diag,
			Err:         eris.Errorf("xai: unexpected status %d", resp.StatusCode),
		}
	}

	return &SearchResult{
		Text:        ExtractText(respBody),
		Raw:         respBody,
		Diagnostics: diag,
	}, nil
}

func isTimeoutLike(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"timeout", "timed out", "canceled", "cancelled", "abort"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

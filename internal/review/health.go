package review

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Link status values recorded on curated reviews.
const (
	LinkStatusOK         = "ok"
	LinkStatusRedirected = "redirected"
	LinkStatusNotFound   = "not_found"
	LinkStatusBlocked    = "blocked"
	LinkStatusUnverified = "unverified"
)

const (
	defaultHealthTimeout = 8 * time.Second
	minHealthTimeout     = 1 * time.Second

	defaultMaxBodyBytes = 60_000
	minMaxBodyBytes     = 2_048
)

// HealthResult is the outcome of probing one candidate URL.
type HealthResult struct {
	OK         bool
	LinkStatus string
	StatusCode int
	FinalURL   string
	Text       string
}

// Checker probes candidate URLs and extracts page text for
// brand-mention matching.
type Checker struct {
	client     *http.Client
	timeout    time.Duration
	maxBytes   int64
	allowLocal bool
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithTimeout sets the per-URL probe timeout (floored at 1s).
func WithTimeout(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d < minHealthTimeout {
			d = minHealthTimeout
		}
		c.timeout = d
	}
}

// WithMaxBodyBytes caps how much of the page body is read (floored at
// 2KB).
func WithMaxBodyBytes(n int64) CheckerOption {
	return func(c *Checker) {
		if n < minMaxBodyBytes {
			n = minMaxBodyBytes
		}
		c.maxBytes = n
	}
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) CheckerOption {
	return func(c *Checker) { c.client = client }
}

// WithLocalTargetsAllowed disables the private-host and port guards.
// Tests probing loopback servers need this; production callers never
// set it.
func WithLocalTargetsAllowed() CheckerOption {
	return func(c *Checker) { c.allowLocal = true }
}

// NewChecker creates a Checker with sensible defaults.
func NewChecker(opts ...CheckerOption) *Checker {
	c := &Checker{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
				MaxIdleConnsPerHost: 8,
			},
		},
		timeout:  defaultHealthTimeout,
		maxBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Checker) headers(req *http.Request) {
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("User-Agent", "EnrichReviewValidator/1.0")
	req.Header.Set("Range", "bytes=0-"+strconv.FormatInt(c.maxBytes-1, 10))
}

// Check probes a URL with a best-effort HEAD followed by a ranged GET
// and classifies the result. Only not_found is a hard reject for
// callers; blocked links may still be accepted on excerpt evidence.
func (c *Checker) Check(ctx context.Context, rawURL string) (*HealthResult, error) {
	normalized := NormalizeURL(rawURL)
	if normalized == "" {
		return &HealthResult{LinkStatus: LinkStatusBlocked}, nil
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return &HealthResult{LinkStatus: LinkStatusBlocked}, nil
	}
	if !c.allowLocal {
		if IsDisallowedHostname(parsed.Hostname()) {
			return &HealthResult{LinkStatus: LinkStatusBlocked}, nil
		}
		if p := parsed.Port(); p != "" && p != "80" && p != "443" {
			return &HealthResult{LinkStatus: LinkStatusBlocked}, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// Fast fail with HEAD where possible; transport errors here are
	// ignored because many sites reject HEAD outright.
	if res, err := c.probe(ctx, http.MethodHead, normalized); err == nil {
		finalURL := res.Request.URL.String()
		_ = res.Body.Close()
		switch {
		case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
			return &HealthResult{LinkStatus: LinkStatusNotFound, StatusCode: res.StatusCode, FinalURL: finalURL}, nil
		case res.StatusCode >= 500:
			return &HealthResult{LinkStatus: LinkStatusBlocked, StatusCode: res.StatusCode, FinalURL: finalURL}, nil
		}
	}

	res, err := c.probe(ctx, http.MethodGet, normalized)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "review: url probe timed out")
		}
		return &HealthResult{LinkStatus: LinkStatusBlocked}, nil
	}
	defer func() { _ = res.Body.Close() }()

	finalURL := res.Request.URL.String()
	status := res.StatusCode

	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return &HealthResult{LinkStatus: LinkStatusNotFound, StatusCode: status, FinalURL: finalURL}, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusTooManyRequests:
		return &HealthResult{LinkStatus: LinkStatusBlocked, StatusCode: status, FinalURL: finalURL}, nil
	case status >= 500:
		return &HealthResult{LinkStatus: LinkStatusBlocked, StatusCode: status, FinalURL: finalURL}, nil
	case status < 200 || status >= 300:
		return &HealthResult{LinkStatus: LinkStatusBlocked, StatusCode: status, FinalURL: finalURL}, nil
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxBytes))
	if err != nil && len(body) == 0 {
		return &HealthResult{LinkStatus: LinkStatusBlocked, StatusCode: status, FinalURL: finalURL}, nil
	}

	text := HTMLToText(string(body))
	if text == "" || LooksLikeNotFound(text) {
		return &HealthResult{LinkStatus: LinkStatusNotFound, StatusCode: status, FinalURL: finalURL, Text: text}, nil
	}

	linkStatus := LinkStatusOK
	if finalURL != normalized {
		linkStatus = LinkStatusRedirected
	}
	return &HealthResult{OK: true, LinkStatus: linkStatus, StatusCode: status, FinalURL: finalURL, Text: text}, nil
}

func (c *Checker) probe(ctx context.Context, method, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	c.headers(req)
	return c.client.Do(req)
}

var (
	scriptRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	tagRe    = regexp.MustCompile(`<[^>]+>`)

	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&quot;", `"`,
		"&#39;", "'",
		"&lt;", "<",
		"&gt;", ">",
	)
)

// HTMLToText strips scripts, styles, and tags, decodes common
// entities, and collapses whitespace.
func HTMLToText(html string) string {
	if html == "" {
		return ""
	}
	s := scriptRe.ReplaceAllString(html, " ")
	s = styleRe.ReplaceAllString(s, " ")
	s = tagRe.ReplaceAllString(s, " ")
	s = entityReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

var notFoundPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b404\b`),
	regexp.MustCompile(`page\s+not\s+found`),
	regexp.MustCompile(`not\s+found`),
	regexp.MustCompile(`doesn\s*'?t\s+exist`),
	regexp.MustCompile(`no\s+longer\s+available`),
	regexp.MustCompile(`error\s+404`),
	regexp.MustCompile(`we\s+can\s*'?t\s+find`),
}

// LooksLikeNotFound detects soft-404 pages that return 200 with an
// error body.
func LooksLikeNotFound(text string) bool {
	t := strings.ToLower(text)
	if t == "" {
		return false
	}
	for _, p := range notFoundPatterns {
		if p.MatchString(t) {
			return true
		}
	}
	return false
}

package review

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

// NormalizeURL canonicalizes a candidate URL: http(s) only, fragment
// stripped. Returns "" for anything unparseable or non-web.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

var legalSuffixRe = regexp.MustCompile(`(?i)\b(inc|inc\.|llc|l\.l\.c\.|ltd|ltd\.|co|co\.|corp|corp\.|corporation|company|group|holdings|limited)\b`)

var nonAlnumRe = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// NormalizeCompanyName strips legal suffixes and punctuation so "Acme
// Widgets, Inc." and "acme widgets" compare equal.
func NormalizeCompanyName(name string) string {
	raw := strings.TrimSpace(name)
	if raw == "" {
		return ""
	}
	s := legalSuffixRe.ReplaceAllString(raw, " ")
	s = nonAlnumRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// BrandTokenFromURL extracts the first hostname label ("acme.com" →
// "acme"). Returns "" for bare single-label hosts.
func BrandTokenFromURL(urlOrDomain string) string {
	s := strings.TrimSpace(urlOrDomain)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")
	parts := strings.FieldsFunc(host, func(r rune) bool { return r == '.' })
	if len(parts) < 2 {
		return ""
	}
	return parts[0]
}

// HostOf returns the lowercase hostname of a URL without a leading
// "www.", or "" when the URL does not parse.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

func isPrivateIP(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	if v4 := ip.To4(); v4 != nil {
		switch {
		case v4[0] == 10:
			return true
		case v4[0] == 127:
			return true
		case v4[0] == 0:
			return true
		case v4[0] == 169 && v4[1] == 254:
			return true
		case v4[0] == 192 && v4[1] == 168:
			return true
		case v4[0] == 172 && v4[1] >= 16 && v4[1] <= 31:
			return true
		}
		return false
	}
	h := strings.ToLower(host)
	if h == "::1" {
		return true
	}
	if strings.HasPrefix(h, "fe80:") {
		return true
	}
	if strings.HasPrefix(h, "fc") || strings.HasPrefix(h, "fd") {
		return true
	}
	return false
}

// IsDisallowedHostname blocks loopback, link-local, RFC1918, and cloud
// metadata hosts so candidate fetches cannot reach internal services.
func IsDisallowedHostname(hostname string) bool {
	h := strings.ToLower(strings.TrimSpace(hostname))
	if h == "" {
		return true
	}
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return true
	}
	if strings.HasSuffix(h, ".local") {
		return true
	}
	if h == "metadata.google.internal" || h == "169.254.169.254" {
		return true
	}
	return isPrivateIP(h)
}

// IsExcludedSource rejects first-party review platforms that skew the
// curated set. Facebook is allowed.
func IsExcludedSource(sourceOrURL string) bool {
	v := strings.ToLower(sourceOrURL)
	if v == "" {
		return false
	}
	return strings.Contains(v, "amazon") || strings.Contains(v, "google")
}

// Package secret redacts credential-shaped material before it is written to
// the audit log (SC-28). It is never applied to values shown to the human
// operator at the verification gate.
package secret

import (
	"net/url"
	"regexp"
	"strings"
)

// maxRecursionDepth bounds SanitizeValue's descent into nested maps/slices.
const maxRecursionDepth = 10

// maxScanLength truncates string scanning to avoid pathological regex cost
// on attacker-controlled input.
const maxScanLength = 100_000

// RedactionTag is the template used for every replacement; the redaction
// itself is auditable.
const redactionTag = "[REDACTED:%s]"

// namedPattern pairs a secret-shaped regex with the tag used to redact it.
type namedPattern struct {
	name string
	re   *regexp.Regexp
}

// patterns is grounded on the credential shapes this codebase already
// treats as sensitive elsewhere (cmd/sentinel-gate/cmd/hash_key.go's
// API-key hashing, and the Authorization-header stripping in
// internal/domain/action/http_normalizer.go), generalized into a named
// regex catalog.
var patterns = []namedPattern{
	{"anthropic_key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{10,}`)},
	{"openai_key", regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`)},
	{"aws_access_key", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"github_token", regexp.MustCompile(`gh[ps]_[A-Za-z0-9]{20,}`)},
	{"bearer_token", regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9._~+/=-]{10,}`)},
	{"pem_private_key", regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH |)PRIVATE KEY-----`)},
	{"sensitive_assignment", regexp.MustCompile(`(?i)(password|token|secret)\s*[=:]\s*\S+`)},
}

// sensitiveKeywords flags a map key as sensitive regardless of its value's
// shape. Grounded on internal/domain/audit/types.go's isSensitiveKey.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey", "api-key",
	"credential", "auth", "authorization", "private_key", "privatekey",
	"private-key", "access_key", "access-key", "client_secret", "client-secret",
}

// sensitiveQueryParams are URL query parameter names redacted by scrubURL.
var sensitiveQueryParams = map[string]bool{
	"token": true, "api_key": true, "apikey": true, "secret": true,
	"password": true, "auth": true, "access_token": true,
	"refresh_token": true, "key": true, "private_key": true,
	"client_secret": true, "authorization": true,
}

// Scrubber redacts secret-shaped values from data destined for the audit
// log. It is pure: SanitizeValue never mutates its argument, and applying
// it twice is a no-op since the redaction tag itself never matches a
// credential pattern.
type Scrubber struct{}

// New creates a Scrubber. It is stateless; the zero value is also usable.
func New() *Scrubber { return &Scrubber{} }

// SanitizeValue recursively redacts v, returning a new value. Maps and
// slices are copied; scalars pass through scrubString (or verbatim for
// non-string scalars). Recursion stops silently past maxRecursionDepth,
// returning the value as-is at that point rather than descending further —
// matching the sanitizer's depth cap for oversized/attacker-shaped input.
func (s *Scrubber) SanitizeValue(v any) any {
	return s.sanitizeDepth(v, 0)
}

func (s *Scrubber) sanitizeDepth(v any, depth int) any {
	if depth >= maxRecursionDepth {
		return v
	}
	switch val := v.(type) {
	case string:
		return s.scrubString(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			if isSensitiveKey(k) {
				out[k] = redactFor("sensitive_key")
				continue
			}
			out[k] = s.sanitizeDepth(vv, depth+1)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = s.sanitizeDepth(vv, depth+1)
		}
		return out
	default:
		return v
	}
}

// scrubString applies every named pattern plus URL-query-param redaction to
// str, truncating the scan window at maxScanLength first.
func (s *Scrubber) scrubString(str string) string {
	scan := str
	if len(scan) > maxScanLength {
		scan = scan[:maxScanLength]
	}

	for _, p := range patterns {
		scan = p.re.ReplaceAllString(scan, redactFor(p.name))
	}

	scan = scrubURLQueryParams(scan)

	if len(str) > maxScanLength {
		// Preserve the fact the original was longer than the scanned window.
		scan += str[maxScanLength:]
	}
	return scan
}

func redactFor(pattern string) string {
	return "[REDACTED:" + pattern + "]"
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// scrubURLQueryParams finds URL-shaped substrings inside str and redacts any
// query parameter named in sensitiveQueryParams. Non-URL strings pass
// through unchanged.
func scrubURLQueryParams(str string) string {
	u, err := url.Parse(str)
	if err != nil || u.Scheme == "" || u.Host == "" || len(u.RawQuery) == 0 {
		return str
	}

	q := u.Query()
	changed := false
	for key := range q {
		if sensitiveQueryParams[strings.ToLower(key)] {
			q.Set(key, redactFor("query_param"))
			changed = true
		}
	}
	if !changed {
		return str
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// SanitizeRecord returns a redacted copy of a tool-call argument map,
// suitable for Record.ToolInput.
func (s *Scrubber) SanitizeRecord(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	sanitized := s.SanitizeValue(args)
	m, _ := sanitized.(map[string]any)
	return m
}

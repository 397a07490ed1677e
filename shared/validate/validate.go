// Package validate checks every caller-supplied value before it can reach the
// network: the GitHub repository URL, the optional custom LLM endpoint, the
// API credentials and free-text project details.
package validate

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/forge-ai/readmeforge/shared/apperr"
)

const (
	MaxSecretLength = 256
	MaxTextLength   = 2000
	MaxURLLength    = 2048
)

// RepoRef identifies a GitHub repository.
type RepoRef struct {
	Owner string
	Repo  string
}

// String returns "owner/repo".
func (r RepoRef) String() string { return r.Owner + "/" + r.Repo }

var (
	ipv4Host    = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)
	numericHost = regexp.MustCompile(`^(0x[0-9a-f]*|[0-9]+)(\.(0x[0-9a-f]*|[0-9]+))*$`)
	repoSegment = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

	blockedHosts = map[string]struct{}{
		"localhost": {},
		"127.0.0.1": {},
		"::1":       {},
	}
	privateHostPatterns = []*regexp.Regexp{
		regexp.MustCompile(`^10\.`),
		regexp.MustCompile(`^172\.(1[6-9]|2\d|3[0-1])\.`),
		regexp.MustCompile(`^192\.168\.`),
		regexp.MustCompile(`^169\.254\.`),
		regexp.MustCompile(`^0\.`),
		regexp.MustCompile(`^127\.`),
	}
)

const invalidRepoURL = "Invalid GitHub URL format. Expected https://github.com/<owner>/<repo>"

// RepositoryURL parses https://github.com/<owner>/<repo>[/...] into a RepoRef.
// A "www." host prefix, trailing slashes and a trailing ".git" are ignored.
// Extra path segments are ignored.
func RepositoryURL(raw string) (RepoRef, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > MaxURLLength {
		return RepoRef{}, apperr.NewValidationError(invalidRepoURL)
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme != "https" {
		return RepoRef{}, apperr.NewValidationError(invalidRepoURL)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "github.com" {
		return RepoRef{}, apperr.NewValidationError(invalidRepoURL)
	}

	var parts []string
	for _, seg := range strings.Split(strings.TrimRight(u.Path, "/"), "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	if len(parts) < 2 {
		return RepoRef{}, apperr.NewValidationError(invalidRepoURL)
	}

	owner, repo := parts[0], strings.TrimSuffix(parts[1], ".git")
	if !validSegment(owner) || !validSegment(repo) {
		return RepoRef{}, apperr.NewValidationError(invalidRepoURL)
	}
	return RepoRef{Owner: owner, Repo: repo}, nil
}

// owner and repo are interpolated into GitHub API paths, so "." and ".."
// and anything outside GitHub's name charset are refused. Segments GitHub
// itself would never issue (percent-escapes, unicode) fail here even though
// the URL shape has two segments.
func validSegment(s string) bool {
	return s != "" && s != "." && s != ".." && repoSegment.MatchString(s)
}

// CustomEndpoint validates a user-supplied LLM endpoint and returns it with
// the fragment removed. Empty input yields "" and no error.
func CustomEndpoint(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	if len(trimmed) > MaxURLLength {
		return "", apperr.NewValidationError("Custom endpoint is too long.")
	}

	u, err := url.Parse(trimmed)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", apperr.NewValidationError("Custom endpoint must be a valid HTTPS URL.")
	}
	if u.Scheme != "https" {
		return "", apperr.NewValidationError("Custom endpoint must use HTTPS.")
	}

	// Checked on the raw hostname: case folding maps some non-ASCII runes
	// (U+212A KELVIN SIGN) to ASCII, and homographs would slip past the
	// ASCII blocklist.
	if !isASCII(u.Hostname()) {
		return "", apperr.NewValidationError("Custom endpoint hostname contains invalid characters.")
	}
	hostname := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if hostname == "" {
		return "", apperr.NewValidationError("Custom endpoint must be a valid HTTPS URL.")
	}

	if isIPLiteral(hostname) || isBlockedHost(hostname) {
		return "", apperr.NewValidationError("Custom endpoint cannot target private or loopback hosts.")
	}

	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// isIPLiteral also catches the shortened and hex forms ("2130706433",
// "0x7f.1") that inet_aton-style resolvers turn into addresses.
func isIPLiteral(hostname string) bool {
	return ipv4Host.MatchString(hostname) ||
		strings.Contains(hostname, ":") ||
		numericHost.MatchString(hostname)
}

func isBlockedHost(hostname string) bool {
	if _, ok := blockedHosts[hostname]; ok {
		return true
	}
	for _, p := range privateHostPatterns {
		if p.MatchString(hostname) {
			return true
		}
	}
	return false
}

// Secret trims an API key or token and rejects values that are too long or
// carry control characters. An empty value is returned as "".
func Secret(value, label string) (string, error) {
	normalized := strings.TrimSpace(value)
	if normalized == "" {
		return "", nil
	}
	if utf8.RuneCountInString(normalized) > MaxSecretLength {
		return "", apperr.NewValidationError(label + " is too long.")
	}
	if strings.IndexFunc(normalized, isControl) >= 0 {
		return "", apperr.NewValidationError(label + " contains invalid characters.")
	}
	return normalized, nil
}

// Text strips control characters from free text and truncates it to
// MaxTextLength characters.
func Text(value string) string {
	cleaned := strings.TrimSpace(strings.Map(func(r rune) rune {
		if isControl(r) {
			return -1
		}
		return r
	}, value))

	if utf8.RuneCountInString(cleaned) <= MaxTextLength {
		return cleaned
	}
	runes := []rune(cleaned)
	return string(runes[:MaxTextLength])
}

func isControl(r rune) bool {
	return r <= 0x1f || r == 0x7f
}

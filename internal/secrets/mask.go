// Package secrets masks credentials before they reach logs or error reports.
package secrets

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	apiKeyPattern = regexp.MustCompile(`(?i)(api[_-]?key|x-rapidapi-key|token|secret)["\s:=]+[a-zA-Z0-9_-]{8,}`)
	basicAuthURL  = regexp.MustCompile(`(https?://)([^:@/\s]+):([^@/\s]+)@`)
)

// MaskProxyURL strips credentials from a proxy URL, keeping scheme and host so
// log lines stay useful for debugging.
func MaskProxyURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return basicAuthURL.ReplaceAllString(raw, "$1***:***@")
	}
	if u.User != nil {
		u.User = url.UserPassword("***", "***")
	}
	return u.String()
}

// MaskString scrubs API keys and inline basic-auth credentials from free text.
func MaskString(s string) string {
	s = basicAuthURL.ReplaceAllString(s, "$1***:***@")
	s = apiKeyPattern.ReplaceAllStringFunc(s, func(m string) string {
		if i := strings.IndexAny(m, ":= "); i >= 0 {
			return m[:i+1] + "***"
		}
		return "***"
	})
	return s
}

// MaskValue truncates a secret to its first four characters for display.
func MaskValue(v string) string {
	if len(v) <= 4 {
		return "***"
	}
	return v[:4] + "***"
}

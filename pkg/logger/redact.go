// Package logger provides redaction helpers for secrets in log output
package logger

import (
	"net/url"
	"strings"
)

// sensitiveParams are query parameter names whose values must never reach
// log output. Covers the YouTube Data API key and Discord OAuth tokens.
var sensitiveParams = map[string]bool{
	"key":          true,
	"api_key":      true,
	"token":        true,
	"access_token": true,
}

// RedactToken masks a secret, keeping a short prefix so operators can tell
// which credential a log line refers to.
func RedactToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:5] + "..."
}

// RedactURL strips sensitive query parameter values from a URL before it is
// logged. Unparseable input is returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	changed := false
	for name := range q {
		if sensitiveParams[strings.ToLower(name)] {
			q.Set(name, "REDACTED")
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

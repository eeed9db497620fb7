// Package redact provides utilities for redacting sensitive information from strings
// before they are logged, persisted on job records, or returned in error responses.
package redact

import (
	"regexp"
	"strings"
)

// Constants for redaction placeholders
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
)

type rule struct {
	pattern     *regexp.Regexp
	placeholder string
}

// credentialRules strip secrets only. They are safe to apply to user-facing
// messages because the surrounding text stays readable.
var credentialRules = []rule{
	{regexp.MustCompile(`(?i)(postgres|postgresql|mysql|mongodb|nats|db|database|connection)://[^@\s]+@`), RedactedCredentialPlaceholder},
	{regexp.MustCompile(`(?i)access_token=[^&\s"']+`), "access_token=" + RedactionPlaceholder},
	{regexp.MustCompile(`(?i)(password|passwd|pwd)([=:\s]?['"]?)[^'"&\s]{3,}`), RedactedCredentialPlaceholder},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|key|access|auth)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`(AKIA|AccessKey(Id)?)([^a-zA-Z0-9])?[A-Z0-9]{8,}`), RedactedKeyPlaceholder},
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), "[REDACTED_JWT]"},
}

// detailRules strip infrastructure details that are only acceptable in logs.
var detailRules = []rule{
	{regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`), "[STACK_TRACE_REDACTED]"},
	{regexp.MustCompile(`(/[\w.-]+){2,}`), RedactedPathPlaceholder},
	{regexp.MustCompile(`[A-Za-z]:\\[^\\]+(\\[^\\]+)+`), RedactedPathPlaceholder},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(
		`(?i)(SELECT|INSERT|UPDATE|DELETE|CREATE|ALTER|DROP|GRANT)[\s\w,*()]+(?:FROM|INTO|SET|TABLE|DATABASE|SCHEMA|VIEW)(?:[\s\w,*()='"]+)?`,
	), "[REDACTED_SQL]"},
}

// secretKeyFragments mark parameter names whose values must never be stored.
var secretKeyFragments = []string{"token", "secret", "password", "passwd", "api_key", "apikey", "credential"}

func apply(input string, rules []rule) string {
	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.placeholder)
	}
	return result
}

// String redacts credentials and infrastructure details from input.
// Use it for anything written to logs.
func String(input string) string {
	if input == "" {
		return input
	}
	return apply(apply(input, credentialRules), detailRules)
}

// Error redacts sensitive information from an error's Error() output
func Error(err error) string {
	if err == nil {
		return ""
	}

	return String(err.Error())
}

// Secrets redacts only credentials from input, keeping the rest of the
// message readable. Use it for messages shown back to users.
func Secrets(input string) string {
	if input == "" {
		return input
	}
	return apply(input, credentialRules)
}

// IsSecretKey reports whether a parameter name denotes a secret value.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, fragment := range secretKeyFragments {
		if strings.Contains(k, fragment) {
			return true
		}
	}
	return false
}

// Params returns a copy of params with every secret value replaced by
// RedactionPlaceholder. Nested maps are redacted recursively; the input is
// never modified.
func Params(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}

	out := make(map[string]any, len(params))
	for k, v := range params {
		if IsSecretKey(k) {
			out[k] = RedactionPlaceholder
			continue
		}
		switch typed := v.(type) {
		case map[string]any:
			out[k] = Params(typed)
		case string:
			out[k] = Secrets(typed)
		default:
			out[k] = v
		}
	}
	return out
}

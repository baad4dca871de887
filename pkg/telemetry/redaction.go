package telemetry

import (
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Redacted replaces secrets in redacted output.
const Redacted = "[REDACTED]"

// minSecretLen is the shortest secret replaced as a plain substring.
// Shorter secrets are only caught by the header patterns.
const minSecretLen = 8

// Redactor removes known secrets, such as the client's API key, from text
// destined for logs, errors and span attributes.
type Redactor struct {
	knownSecrets []string
	patterns     []*regexp.Regexp
}

// NewRedactor creates a redactor for the given secrets. Values shorter
// than eight characters are ignored for substring matching.
func NewRedactor(secrets ...string) *Redactor {
	known := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if len(s) >= minSecretLen {
			known = append(known, s)
		}
	}
	return &Redactor{
		knownSecrets: known,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(Authorization:\s*Bearer\s+)([a-zA-Z0-9\-\._~+/]+=*)`),
			regexp.MustCompile(`(?i)(X-API-Key:\s*)(\S+)`),
		},
	}
}

// Redact replaces secrets in the input string.
func (r *Redactor) Redact(input string) string {
	if r == nil {
		return input
	}
	res := input
	for _, secret := range r.knownSecrets {
		res = strings.ReplaceAll(res, secret, Redacted)
	}
	for _, re := range r.patterns {
		res = re.ReplaceAllString(res, "${1}"+Redacted)
	}
	return res
}

// MaskKey shows the first and last four characters of an API key, for
// display in command output.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}

// RedactAttributes drops credential-bearing attributes and scrubs known
// secrets from the string values of the rest.
func (r *Redactor) RedactAttributes(attrs []attribute.KeyValue) []attribute.KeyValue {
	if len(attrs) == 0 {
		return attrs
	}

	dropKeys := map[attribute.Key]struct{}{
		"http.request.header.authorization": {},
		"http.request.header.x-api-key":     {},
		"request.body":                      {},
		"response.body":                     {},
	}

	redacted := make([]attribute.KeyValue, 0, len(attrs))
	for _, kv := range attrs {
		if _, drop := dropKeys[kv.Key]; drop {
			continue
		}
		if kv.Value.Type() == attribute.STRING {
			kv = attribute.String(string(kv.Key), r.Redact(kv.Value.AsString()))
		}
		redacted = append(redacted, kv)
	}
	return redacted
}

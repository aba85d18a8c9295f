// Package evidence implements the content-addressed evidence store:
// sanitization on ingest, lifecycle states, query scoping, freshness
// checks, and a query result cache.
//
// Evidence is the only currency agents may cite. Payloads are
// sanitized before storage, IDs are derived from the canonical payload
// hash, and nothing is ever hard-deleted by the control plane;
// lifecycle transitions mark evidence expired or revoked instead.
package evidence

import (
	"regexp"
)

// MaliciousPayloadError is raised for payloads that cannot be
// sanitized: forged provenance footers and identity injection blocks
// are rejected outright rather than stripped.
type MaliciousPayloadError struct {
	Detail string
}

func (e *MaliciousPayloadError) Error() string {
	return "malicious payload: " + e.Detail
}

// Instruction smuggling patterns, stripped and flagged.
var instructionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+previous\s+instructions?`),
	regexp.MustCompile(`(?m)^System:`),
	regexp.MustCompile(`(?m)^Assistant:`),
	regexp.MustCompile(`(?m)^Human:`),
	regexp.MustCompile(`(?i)You are ChatGPT`),
	regexp.MustCompile("(?is)```[^`]*\\b(do|execute|run|perform|ignore|override)\\b[^`]*```"),
}

// Patterns that reject the payload outright.
var (
	footerSpoofPattern       = regexp.MustCompile(`(?i)###\s*Execution\s+Provenance`)
	identityInjectionPattern = regexp.MustCompile(`\[\[IDENTITY_FACTS_READ_ONLY\]\]`)
	citationTokenPattern     = regexp.MustCompile(`\[EVID:[a-zA-Z0-9:_-]+\]`)
)

// SanitizePayload walks a payload and sanitizes every string value,
// recursing into nested maps. Returns the sanitized copy and whether
// anything was stripped.
func SanitizePayload(payload map[string]any) (map[string]any, bool, error) {
	if len(payload) == 0 {
		return payload, false, nil
	}
	sanitized := make(map[string]any, len(payload))
	changed := false
	for key, value := range payload {
		switch v := value.(type) {
		case string:
			clean, stripped, err := sanitizeString(v)
			if err != nil {
				return nil, false, err
			}
			sanitized[key] = clean
			changed = changed || stripped
		case map[string]any:
			nested, stripped, err := SanitizePayload(v)
			if err != nil {
				return nil, false, err
			}
			sanitized[key] = nested
			changed = changed || stripped
		default:
			sanitized[key] = value
		}
	}
	return sanitized, changed, nil
}

func sanitizeString(text string) (string, bool, error) {
	if footerSpoofPattern.MatchString(text) {
		return "", false, &MaliciousPayloadError{Detail: "footer spoofing detected: Execution Provenance in payload"}
	}
	if identityInjectionPattern.MatchString(text) {
		return "", false, &MaliciousPayloadError{Detail: "identity injection attempt detected"}
	}
	stripped := false
	result := text
	for _, pattern := range instructionPatterns {
		if pattern.MatchString(result) {
			result = pattern.ReplaceAllString(result, "[REDACTED]")
			stripped = true
		}
	}
	if citationTokenPattern.MatchString(result) {
		result = citationTokenPattern.ReplaceAllString(result, "[CITATION_REMOVED]")
		stripped = true
	}
	return result, stripped, nil
}

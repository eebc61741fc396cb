// Package headers audits HTTP response headers for common security controls.
package headers

import (
	"strings"

	"pkt.systems/eyewitness2/schema"
)

// audited is the fixed set of security headers checked on every response,
// in report order.
var audited = []string{
	"Content-Security-Policy",
	"X-XSS-Protection",
	"X-Content-Type-Options",
	"X-Frame-Options",
	"Strict-Transport-Security",
	"Referrer-Policy",
	"Feature-Policy",
	"Permissions-Policy",
}

// NotSet is the rendered value for an absent security header.
const NotSet = "Not set"

// Audit checks the response headers against the audited set.
// Header name matching is case-insensitive; findings keep the audit order.
func Audit(responseHeaders map[string]string) []schema.HeaderFinding {
	lowered := make(map[string]string, len(responseHeaders))
	for name, value := range responseHeaders {
		lowered[strings.ToLower(name)] = value
	}
	findings := make([]schema.HeaderFinding, 0, len(audited))
	for _, name := range audited {
		value, ok := lowered[strings.ToLower(name)]
		if !ok {
			findings = append(findings, schema.HeaderFinding{Name: name, Value: NotSet})
			continue
		}
		findings = append(findings, schema.HeaderFinding{Name: name, Value: value, Present: true})
	}
	return findings
}

// Missing counts audited headers absent from the findings.
func Missing(findings []schema.HeaderFinding) int {
	count := 0
	for _, finding := range findings {
		if !finding.Present {
			count++
		}
	}
	return count
}

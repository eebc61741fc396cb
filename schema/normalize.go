package schema

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeTarget validates a scan target and returns its canonical form.
// A missing scheme defaults to https; only http and https are accepted.
// Scheme and host are lowercased, the rest of the URL is left alone.
func NormalizeTarget(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidTarget
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidTarget, raw, err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: %q: unsupported scheme %q", ErrInvalidTarget, raw, parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("%w: %q: missing host", ErrInvalidTarget, raw)
	}
	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)
	return parsed.String(), nil
}

// SafeDirName converts a target URL into a filesystem-safe directory name.
func SafeDirName(target string) string {
	name := strings.ReplaceAll(target, "://", "_")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, ".", "_")
	return name
}

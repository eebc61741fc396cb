package schema

import "time"

// RunID identifies a scan run.
type RunID string

// HeaderFinding records one audited security header.
type HeaderFinding struct {
	Name    string `json:"name"`
	Value   string `json:"value,omitempty"`
	Present bool   `json:"present"`
}

// AppMatch records one identified application fingerprint.
type AppMatch struct {
	Name        string   `json:"name"`
	Patterns    []string `json:"patterns"`
	Credentials string   `json:"credentials,omitempty"`
}

// TargetResult is the complete per-target outcome of a scan.
// Index preserves the position of the target in the scan input.
type TargetResult struct {
	Index       int               `json:"index"`
	URL         string            `json:"url"`
	FinalURL    string            `json:"final_url,omitempty"`
	Status      int               `json:"status,omitempty"`
	Title       string            `json:"title,omitempty"`
	CapturedAt  time.Time         `json:"captured_at"`
	Headers     map[string]string `json:"http_headers,omitempty"`
	Security    []HeaderFinding   `json:"security_headers,omitempty"`
	Meta        map[string]string `json:"meta_tags,omitempty"`
	Apps        []AppMatch        `json:"identified_applications,omitempty"`
	Credentials []string          `json:"default_credentials,omitempty"`
	Category    string            `json:"category,omitempty"`
	Screenshot  string            `json:"screenshot,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Failed reports whether the target produced no usable capture.
func (r TargetResult) Failed() bool {
	return r.Error != ""
}

// RunSummary describes one scan run for the history index.
type RunSummary struct {
	ID         RunID     `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	OutputDir  string    `json:"output_dir"`
	Targets    int       `json:"targets"`
	Errors     int       `json:"errors"`
}

package schema

import "time"

// ScanEventType categorizes scan progress updates.
type ScanEventType string

const (
	// ScanEventRunStarted marks the start of a scan run.
	ScanEventRunStarted ScanEventType = "run.started"
	// ScanEventTargetStarted marks the start of a single target.
	ScanEventTargetStarted ScanEventType = "target.started"
	// ScanEventTargetOK marks a target that completed with a capture.
	ScanEventTargetOK ScanEventType = "target.ok"
	// ScanEventTargetFailed marks a target that produced no capture.
	ScanEventTargetFailed ScanEventType = "target.failed"
	// ScanEventRunCompleted marks the end of a scan run.
	ScanEventRunCompleted ScanEventType = "run.completed"
)

// ScanEvent reports scan progress to an event sink.
type ScanEvent struct {
	Type     ScanEventType
	RunID    RunID
	URL      string
	Index    int
	Status   int
	Category string
	Error    string
	Elapsed  time.Duration
	Targets  int
	Failures int
}

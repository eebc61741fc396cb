// Package scan orchestrates the reconnaissance pipeline: a worker pool
// captures each target in a headless browser, audits its response headers,
// matches application signatures, and persists the outcome per target.
package scan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/eyewitness2/internal/browser"
	"pkt.systems/eyewitness2/internal/eventbus"
	"pkt.systems/eyewitness2/internal/headers"
	"pkt.systems/eyewitness2/internal/logx"
	"pkt.systems/eyewitness2/internal/signature"
	"pkt.systems/eyewitness2/internal/store"
	"pkt.systems/eyewitness2/schema"
)

// Engine captures one target; satisfied by *browser.Engine.
type Engine interface {
	Capture(ctx context.Context, target string) (*browser.Capture, error)
}

// Options tunes the pipeline.
type Options struct {
	// Concurrency is the worker pool size; minimum 1.
	Concurrency int
}

// Pipeline runs scans. History and bus are optional.
type Pipeline struct {
	engine      Engine
	signatures  *signature.DB
	fs          *store.FS
	history     *store.History
	bus         *eventbus.Bus
	concurrency int
}

// RunResult is the outcome of one scan run.
type RunResult struct {
	Summary schema.RunSummary
	RunDir  string
	Results []schema.TargetResult
}

// New constructs a pipeline.
func New(engine Engine, signatures *signature.DB, fs *store.FS, history *store.History, bus *eventbus.Bus, opts Options) *Pipeline {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{
		engine:      engine,
		signatures:  signatures,
		fs:          fs,
		history:     history,
		bus:         bus,
		concurrency: concurrency,
	}
}

// Run scans all targets and persists results under a run directory named by
// stamp. The returned results keep the input order. Per-target failures do
// not fail the run; they are recorded on the result.
func (p *Pipeline) Run(ctx context.Context, runID schema.RunID, stamp string, targets []string) (*RunResult, error) {
	if len(targets) == 0 {
		return nil, schema.ErrNoTargets
	}
	if runID == "" {
		runID = schema.RunID(uuid.NewString())
	}
	log := logx.WithRun(ctx, runID)

	runDir, err := p.fs.CreateRun(stamp)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	log.Info("scan start", "targets", len(targets), "dir", runDir, "workers", p.concurrency)
	p.publish(schema.ScanEvent{Type: schema.ScanEventRunStarted, RunID: runID, Targets: len(targets)})

	results := make([]schema.TargetResult, len(targets))
	indexes := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < p.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = p.scanTarget(ctx, runID, runDir, i, targets[i])
			}
		}()
	}
feed:
	for i := range targets {
		select {
		case indexes <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexes)
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	failures := 0
	for i := range results {
		if results[i].Failed() {
			failures++
		}
	}
	finished := time.Now()
	summary := schema.RunSummary{
		ID:         runID,
		StartedAt:  started,
		FinishedAt: finished,
		OutputDir:  runDir,
		Targets:    len(targets),
		Errors:     failures,
	}
	if p.history != nil {
		// History is an index, not the source of truth; a failed insert does
		// not discard the run on disk.
		if err := p.history.RecordRun(ctx, summary, results); err != nil {
			log.Warn("scan history record failed", "err", err)
		}
	}
	log.Info("scan complete", "targets", len(targets), "failures", failures,
		"duration_ms", finished.Sub(started).Milliseconds())
	p.publish(schema.ScanEvent{
		Type:     schema.ScanEventRunCompleted,
		RunID:    runID,
		Targets:  len(targets),
		Failures: failures,
		Elapsed:  finished.Sub(started),
	})
	return &RunResult{Summary: summary, RunDir: runDir, Results: results}, nil
}

func (p *Pipeline) scanTarget(ctx context.Context, runID schema.RunID, runDir string, index int, target string) schema.TargetResult {
	log := logx.WithTarget(logx.WithRun(ctx, runID), target, index)
	started := time.Now()
	log.Info("target start")
	p.publish(schema.ScanEvent{Type: schema.ScanEventTargetStarted, RunID: runID, URL: target, Index: index})

	result := schema.TargetResult{
		Index:      index,
		URL:        target,
		CapturedAt: started,
	}

	capture, err := p.engine.Capture(ctx, target)
	if err != nil {
		result.Error = err.Error()
		log.Warn("target failed", "err", err, "duration_ms", time.Since(started).Milliseconds())
		if storeErr := p.fs.WriteResult(runDir, result, nil); storeErr != nil {
			log.Warn("target result write failed", "err", storeErr)
		}
		p.publish(schema.ScanEvent{
			Type:    schema.ScanEventTargetFailed,
			RunID:   runID,
			URL:     target,
			Index:   index,
			Error:   result.Error,
			Elapsed: time.Since(started),
		})
		return result
	}

	result.FinalURL = capture.FinalURL
	result.Status = capture.Status
	result.Title = capture.Title
	result.Headers = capture.Headers
	result.Meta = capture.Meta
	result.Security = headers.Audit(capture.Headers)

	match := p.signatures.Analyze(capture.HTML, capture.Title)
	result.Apps = match.Apps
	result.Credentials = match.Credentials
	result.Category = match.Category

	if err := p.fs.WriteResult(runDir, result, capture.Screenshot); err != nil {
		log.Warn("target result write failed", "err", err)
	}
	log.Info("target ok", "status", result.Status, "category", result.Category,
		"apps", len(result.Apps), "duration_ms", time.Since(started).Milliseconds())
	p.publish(schema.ScanEvent{
		Type:     schema.ScanEventTargetOK,
		RunID:    runID,
		URL:      target,
		Index:    index,
		Status:   result.Status,
		Category: result.Category,
		Elapsed:  time.Since(started),
	})
	return result
}

func (p *Pipeline) publish(event schema.ScanEvent) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(event)
}

// Package logx annotates loggers with scan identifiers without duplicating
// fields the context already carries.
package logx

import (
	"context"

	"pkt.systems/eyewitness2/schema"
	"pkt.systems/pslog"
)

type contextKey int

const runKey contextKey = iota

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithRun annotates the logger with the run id if present.
func WithRun(ctx context.Context, runID schema.RunID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if runID != "" {
		if current, ok := ctx.Value(runKey).(schema.RunID); ok && current == runID {
			return log
		}
		log = log.With("run", runID)
	}
	return log
}

// WithTarget annotates the logger with target url and input position.
func WithTarget(log pslog.Logger, url string, index int) pslog.Logger {
	if url != "" {
		log = log.With("url", url)
	}
	return log.With("index", index)
}

// ContextWithRun stores the run marker on the context for log de-duplication.
func ContextWithRun(ctx context.Context, runID schema.RunID) context.Context {
	if ctx == nil || runID == "" {
		return ctx
	}
	return context.WithValue(ctx, runKey, runID)
}

// ContextWithRunLogger attaches the logger and run marker to the context.
func ContextWithRunLogger(ctx context.Context, log pslog.Logger, runID schema.RunID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithRun(ctx, runID)
}

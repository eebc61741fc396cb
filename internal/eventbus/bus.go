// Package eventbus fans out scan progress events to subscribers.
package eventbus

import (
	"context"
	"sync"

	"pkt.systems/eyewitness2/schema"
	"pkt.systems/pslog"
)

// Bus fanouts scan events to per-run subscribers. Publishing never blocks;
// events to a full subscriber are dropped. Sends and channel closes both
// happen under the bus lock, so a publish cannot race a cancel.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.RunID]map[chan schema.ScanEvent]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.RunID]map[chan schema.ScanEvent]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the run and returns a channel + cancel.
func (b *Bus) Subscribe(runID schema.RunID) (<-chan schema.ScanEvent, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan schema.ScanEvent, b.depth)
	b.mu.Lock()
	runSubs := b.subs[runID]
	if runSubs == nil {
		runSubs = make(map[chan schema.ScanEvent]struct{})
		b.subs[runID] = runSubs
	}
	runSubs[ch] = struct{}{}
	count := len(runSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("run", runID).Debug("eventbus subscribe", "subs", count)
	}
	return ch, func() {
		b.mu.Lock()
		removed := false
		if subs := b.subs[runID]; subs != nil {
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
				removed = true
			}
			if len(subs) == 0 {
				delete(b.subs, runID)
			}
		}
		b.mu.Unlock()
		if removed && b.log != nil {
			b.log.With("run", runID).Debug("eventbus unsubscribe")
		}
	}
}

// Publish delivers an event to every subscriber of its run.
func (b *Bus) Publish(event schema.ScanEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	runSubs := b.subs[event.RunID]
	if len(runSubs) == 0 {
		b.mu.Unlock()
		return
	}
	dropped := 0
	for sub := range runSubs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.With("run", event.RunID).Trace("eventbus dropped", "count", dropped)
	}
}

package eventbus

import (
	"sync"
	"testing"
	"time"

	"pkt.systems/eyewitness2/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("run-1")
	defer cancel()

	event := schema.ScanEvent{
		Type:  schema.ScanEventTargetOK,
		RunID: "run-1",
		URL:   "https://example.com",
		Index: 3,
	}
	bus.Publish(event)

	select {
	case got := <-ch:
		if got.Type != schema.ScanEventTargetOK {
			t.Fatalf("expected target.ok event, got %v", got.Type)
		}
		if got.URL != event.URL || got.Index != event.Index {
			t.Fatalf("unexpected payload: %+v", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
}

func TestPublishToOtherRunNotDelivered(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("run-1")
	defer cancel()

	bus.Publish(schema.ScanEvent{Type: schema.ScanEventRunStarted, RunID: "run-2"})

	select {
	case got := <-ch:
		t.Fatalf("expected no event for other run, got %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("run-1")
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	bus := New(nil)
	_, cancel := bus.Subscribe("run-1")
	cancel()
	cancel()
}

func TestConcurrentPublishAndCancel(t *testing.T) {
	for i := 0; i < 50; i++ {
		bus := New(nil)
		_, cancel := bus.Subscribe("run-1")
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				bus.Publish(schema.ScanEvent{Type: schema.ScanEventTargetOK, RunID: "run-1", Index: j})
			}
		}()
		go func() {
			defer wg.Done()
			cancel()
		}()
		wg.Wait()
	}
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	bus := New(nil)
	bus.depth = 1
	_, cancel := bus.Subscribe("run-1")
	defer cancel()

	var sendCh chan schema.ScanEvent
	bus.mu.Lock()
	for ch := range bus.subs["run-1"] {
		sendCh = ch
		break
	}
	bus.mu.Unlock()
	if sendCh == nil {
		t.Fatalf("expected subscriber channel")
	}
	sendCh <- schema.ScanEvent{Type: schema.ScanEventRunStarted, RunID: "run-1"}
	done := make(chan struct{})
	go func() {
		bus.Publish(schema.ScanEvent{Type: schema.ScanEventRunCompleted, RunID: "run-1"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
}

package session

import (
	"context"
	"testing"
	"time"

	"mediafetch/internal/extract"
)

func TestSessionTransitions(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{name: "queued to fetching", from: StatusQueued, to: StatusFetching, ok: true},
		{name: "fetching to converting", from: StatusFetching, to: StatusConverting, ok: true},
		{name: "fetching skips conversion", from: StatusFetching, to: StatusUploading, ok: true},
		{name: "converting to uploading", from: StatusConverting, to: StatusUploading, ok: true},
		{name: "uploading to completed", from: StatusUploading, to: StatusCompleted, ok: true},
		{name: "fetching to failed", from: StatusFetching, to: StatusFailed, ok: true},
		{name: "queued cannot skip to uploading", from: StatusQueued, to: StatusUploading, ok: false},
		{name: "uploading cannot rewind", from: StatusUploading, to: StatusFetching, ok: false},
		{name: "completed is final", from: StatusCompleted, to: StatusFailed, ok: false},
		{name: "failed is final", from: StatusFailed, to: StatusFetching, ok: false},
		{name: "no self transition", from: StatusFetching, to: StatusFetching, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sess := New("user-1", "https://example.com/v", extract.ModeAudio, "128k")
			sess.Status = tc.from
			err := sess.transition(tc.to)
			if tc.ok && err != nil {
				t.Fatalf("transition %s -> %s: %v", tc.from, tc.to, err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("transition %s -> %s succeeded, want rejection", tc.from, tc.to)
			}
		})
	}
}

func TestCancelReachableFromEveryNonTerminalStatus(t *testing.T) {
	for _, from := range []Status{StatusQueued, StatusFetching, StatusConverting, StatusUploading} {
		if !canTransition(from, StatusCancelled) {
			t.Errorf("cancel from %s rejected", from)
		}
	}
	for _, from := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		if canTransition(from, StatusCancelled) {
			t.Errorf("cancel from terminal %s allowed", from)
		}
	}
}

func TestPercent(t *testing.T) {
	sess := New("user-1", "https://example.com/v", extract.ModeVideo, "360p")
	if got := sess.Percent(); got != 0 {
		t.Fatalf("percent with unknown total = %v, want 0", got)
	}
	sess.BytesDone = 250
	sess.BytesTotal = 1000
	if got := sess.Percent(); got != 25 {
		t.Fatalf("percent = %v, want 25", got)
	}
	sess.BytesDone = 1500
	if got := sess.Percent(); got != 100 {
		t.Fatalf("overshoot percent = %v, want cap at 100", got)
	}
}

func drainEvents(sub Subscription) []Event {
	var events []Event
	for {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				return events
			}
			events = append(events, event)
		default:
			return events
		}
	}
}

func TestBridgeThrottlesProgress(t *testing.T) {
	queue := NewMemoryQueue(32)
	sub := queue.Subscribe()
	defer sub.Close()

	sess := New("user-1", "https://example.com/v", extract.ModeAudio, "128k")
	if err := sess.transition(StatusFetching); err != nil {
		t.Fatalf("start session: %v", err)
	}

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	bridge := NewBridge(sess, queue, nil)
	bridge.now = func() time.Time { return clock }

	report := func(done int64) {
		bridge.onProgress(context.Background(), extract.Progress{
			Phase:      extract.PhaseFetching,
			BytesDone:  done,
			BytesTotal: 1000,
		})
	}

	report(10) // first report always publishes
	report(20) // +1pt, same instant: suppressed
	report(30) // +2pts total vs last publish? 2pts < 2.5: suppressed
	report(40) // 3pts past last publish: publishes

	events := drainEvents(sub)
	if len(events) != 2 {
		t.Fatalf("published %d events, want 2: %+v", len(events), events)
	}
	if events[0].Percent != 1 || events[1].Percent != 4 {
		t.Fatalf("published percents %v and %v, want 1 and 4", events[0].Percent, events[1].Percent)
	}

	// A tiny delta still goes out once a second has passed.
	clock = clock.Add(time.Second)
	report(45)
	events = drainEvents(sub)
	if len(events) != 1 || events[0].Percent != 4.5 {
		t.Fatalf("time-based publish = %+v, want one event at 4.5", events)
	}

	// Phase changes bypass the throttle entirely.
	bridge.onProgress(context.Background(), extract.Progress{
		Phase:      extract.PhaseConverting,
		BytesDone:  46,
		BytesTotal: 1000,
	})
	events = drainEvents(sub)
	if len(events) != 1 || events[0].Type != EventStatus {
		t.Fatalf("phase change events = %+v, want one status event", events)
	}
	if events[0].Session.Status != StatusConverting {
		t.Fatalf("session status = %s, want %s", events[0].Session.Status, StatusConverting)
	}
}

func TestBridgeIgnoresBackwardPhase(t *testing.T) {
	queue := NewMemoryQueue(8)
	sub := queue.Subscribe()
	defer sub.Close()

	sess := New("user-1", "https://example.com/v", extract.ModeAudio, "128k")
	if err := sess.transition(StatusFetching); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := sess.transition(StatusUploading); err != nil {
		t.Fatalf("advance session: %v", err)
	}

	bridge := NewBridge(sess, queue, nil)
	bridge.onProgress(context.Background(), extract.Progress{
		Phase:      extract.PhaseFetching,
		BytesDone:  1,
		BytesTotal: 10,
	})
	if events := drainEvents(sub); len(events) != 0 {
		t.Fatalf("backward phase produced events: %+v", events)
	}
	if sess.Status != StatusUploading {
		t.Fatalf("session status = %s, want %s", sess.Status, StatusUploading)
	}
}

func TestMemoryQueueDropsProgressButBlocksTerminal(t *testing.T) {
	queue := NewMemoryQueue(1)
	sub := queue.Subscribe()
	defer sub.Close()

	sess := New("user-1", "https://example.com/v", extract.ModeAudio, "128k")
	ctx := context.Background()
	if err := queue.Publish(ctx, Event{Type: EventProgress, Session: *sess, Percent: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// Buffer is full; further progress is discarded without blocking.
	if err := queue.Publish(ctx, Event{Type: EventProgress, Session: *sess, Percent: 2}); err != nil {
		t.Fatalf("publish to full buffer: %v", err)
	}

	// A terminal event blocks until the consumer drains the buffer.
	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := queue.Publish(timeout, Event{Type: EventCompleted, Session: *sess}); err == nil {
		t.Fatal("terminal publish to full buffer succeeded, want context timeout")
	}

	<-sub.Events()
	if err := queue.Publish(ctx, Event{Type: EventCompleted, Session: *sess}); err != nil {
		t.Fatalf("terminal publish after drain: %v", err)
	}
	event := <-sub.Events()
	if event.Type != EventCompleted {
		t.Fatalf("event type = %s, want %s", event.Type, EventCompleted)
	}
}

package session

import (
	"context"
	"log/slog"
	"time"

	"mediafetch/internal/extract"
)

const (
	progressMinDelta    = 2.5
	progressMinInterval = time.Second
)

// Bridge forwards extraction progress from a worker goroutine to the
// dispatch loop through the event queue. The worker never touches chat
// state directly; every update crosses as an Event.
type Bridge struct {
	session *Session
	queue   Queue
	logger  *slog.Logger
	now     func() time.Time

	lastPercent float64
	lastPublish time.Time
	published   bool
}

func NewBridge(sess *Session, queue Queue, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		session: sess,
		queue:   queue,
		logger:  logger,
		now:     time.Now,
	}
}

// Observer adapts the bridge to the resolver's callback shape.
func (b *Bridge) Observer(ctx context.Context) extract.ProgressFunc {
	return func(p extract.Progress) {
		b.onProgress(ctx, p)
	}
}

// Status changes always go out; within a phase, updates are throttled so
// slow chat edits cannot back up behind a fast download.
func (b *Bridge) onProgress(ctx context.Context, p extract.Progress) {
	status, ok := phaseStatus(p.Phase)
	if !ok {
		b.logger.Warn("unknown progress phase", "session", b.session.ID, "phase", p.Phase)
		return
	}
	statusChanged := status != b.session.Status
	if statusChanged {
		if err := b.session.transition(status); err != nil {
			b.logger.Warn("ignoring out-of-order progress",
				"session", b.session.ID, "from", b.session.Status, "to", status)
			return
		}
	}
	b.session.BytesDone = p.BytesDone
	b.session.BytesTotal = p.BytesTotal
	percent := b.session.Percent()

	now := b.now()
	if !statusChanged && b.published {
		if percent-b.lastPercent < progressMinDelta && now.Sub(b.lastPublish) < progressMinInterval {
			return
		}
	}

	eventType := EventProgress
	if statusChanged {
		eventType = EventStatus
	}
	snapshot := *b.session
	if err := b.queue.Publish(ctx, Event{Type: eventType, Session: snapshot, Percent: percent}); err != nil {
		b.logger.Warn("progress publish failed", "session", b.session.ID, "error", err)
		return
	}
	b.lastPercent = percent
	b.lastPublish = now
	b.published = true
}

package session

import (
	"context"
	"errors"
	"sync"

	"mediafetch/internal/extract"
)

// EventType classifies events flowing from worker contexts back to the
// dispatch loop.
type EventType string

const (
	// EventProgress is a throttled byte-progress update.
	EventProgress EventType = "progress"
	// EventStatus marks a phase change (fetching, converting, uploading).
	EventStatus EventType = "status"
	// EventCompleted carries the finished artifact.
	EventCompleted EventType = "completed"
	// EventFailed carries the failure reason.
	EventFailed EventType = "failed"
	// EventCancelled confirms a user-triggered cancellation.
	EventCancelled EventType = "cancelled"
)

// Event is the only vehicle by which worker contexts communicate with the
// dispatch loop; workers never touch dispatch-side state directly.
type Event struct {
	Type    EventType      `json:"type"`
	Session Session        `json:"session"`
	Percent float64        `json:"percent,omitempty"`
	Result  extract.Result `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Terminal reports whether the event ends its session.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventCompleted, EventFailed, EventCancelled:
		return true
	}
	return false
}

// Queue fans session events out to subscribers. The memory implementation
// serves single-process deployments; a Redis-streams implementation covers
// multi-process ones.
type Queue interface {
	Publish(ctx context.Context, event Event) error
	Subscribe() Subscription
}

// Subscription represents an active event stream.
type Subscription interface {
	Events() <-chan Event
	Close()
}

// NewMemoryQueue initialises an in-memory fan-out queue.
func NewMemoryQueue(buffer int) Queue {
	if buffer <= 0 {
		buffer = 64
	}
	return &memoryQueue{
		subs:   make(map[*memorySubscription]struct{}),
		buffer: buffer,
	}
}

type memoryQueue struct {
	mu     sync.RWMutex
	subs   map[*memorySubscription]struct{}
	buffer int
}

func (q *memoryQueue) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return errors.New("event type is required")
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	for sub := range q.subs {
		if event.Terminal() {
			// Terminal events decide quota and user feedback; block
			// rather than drop them.
			select {
			case sub.ch <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		select {
		case sub.ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// Progress updates are advisory; drop instead of blocking
			// so a slow consumer cannot stall the worker.
		}
	}
	return nil
}

func (q *memoryQueue) Subscribe() Subscription {
	sub := &memorySubscription{
		queue: q,
		ch:    make(chan Event, q.buffer),
	}
	q.mu.Lock()
	q.subs[sub] = struct{}{}
	q.mu.Unlock()
	return sub
}

type memorySubscription struct {
	once  sync.Once
	queue *memoryQueue
	ch    chan Event
}

func (s *memorySubscription) Events() <-chan Event {
	return s.ch
}

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.queue.mu.Lock()
		delete(s.queue.subs, s)
		s.queue.mu.Unlock()
		close(s.ch)
	})
}

package session

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrSessionActive rejects a second concurrent download for a user.
	ErrSessionActive = errors.New("a download is already in progress")
	// ErrNoActiveSession is returned when there is nothing to cancel.
	ErrNoActiveSession = errors.New("no active download")
)

// Registry enforces at most one active session per user and holds the cancel
// handle for each running one. Cancellation is cooperative: callers cancel the
// session context here and the worker reports back through the event queue.
type Registry struct {
	mu     sync.Mutex
	active map[string]registryEntry
}

type registryEntry struct {
	sessionID string
	cancel    context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]registryEntry)}
}

func (r *Registry) begin(userID, sessionID string, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.active[userID]; exists {
		return ErrSessionActive
	}
	r.active[userID] = registryEntry{sessionID: sessionID, cancel: cancel}
	return nil
}

func (r *Registry) finish(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.active[userID]; ok && entry.sessionID == sessionID {
		delete(r.active, userID)
	}
}

// Cancel requests cancellation of the user's active session and returns its
// ID. The session stays registered until the worker observes the cancelled
// context and emits its terminal event.
func (r *Registry) Cancel(userID string) (string, error) {
	r.mu.Lock()
	entry, ok := r.active[userID]
	r.mu.Unlock()
	if !ok {
		return "", ErrNoActiveSession
	}
	entry.cancel()
	return entry.sessionID, nil
}

// ActiveSession returns the ID of the user's running session, if any.
func (r *Registry) ActiveSession(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.active[userID]
	return entry.sessionID, ok
}

// Len reports how many sessions are currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

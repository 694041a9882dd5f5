// Package session tracks one media fetch from acceptance to its terminal
// outcome and bridges worker-side progress back to the dispatch loop.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"mediafetch/internal/extract"
)

// Status is the lifecycle position of a download session.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusFetching   Status = "fetching"
	StatusConverting Status = "converting"
	StatusUploading  Status = "uploading"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status ends the session.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// forward lists the legal non-cancel transitions. Cancelled is additionally
// reachable from every non-terminal status.
var forward = map[Status][]Status{
	StatusQueued:     {StatusFetching, StatusFailed},
	StatusFetching:   {StatusConverting, StatusUploading, StatusCompleted, StatusFailed},
	StatusConverting: {StatusUploading, StatusCompleted, StatusFailed},
	StatusUploading:  {StatusCompleted, StatusFailed},
}

func canTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if to == StatusCancelled {
		return !from.Terminal()
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is the ephemeral record of one fetch. It is owned by the processor
// worker driving it; other contexts only ever see snapshots carried in
// events.
type Session struct {
	ID         string
	UserID     string
	URL        string
	Mode       extract.Mode
	Quality    string
	Status     Status
	BytesDone  int64
	BytesTotal int64
	CreatedAt  time.Time
}

// New creates a queued session for the user's request.
func New(userID, url string, mode extract.Mode, quality string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		URL:       url,
		Mode:      mode,
		Quality:   quality,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
}

// transition advances the session, rejecting moves the state machine does not
// permit.
func (s *Session) transition(to Status) error {
	if !canTransition(s.Status, to) {
		return fmt.Errorf("illegal session transition %s -> %s", s.Status, to)
	}
	s.Status = to
	return nil
}

// Percent derives completion from the byte counters; it reports 0 until the
// total is known.
func (s *Session) Percent() float64 {
	if s.BytesTotal <= 0 {
		return 0
	}
	pct := float64(s.BytesDone) / float64(s.BytesTotal) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

func phaseStatus(phase extract.Phase) (Status, bool) {
	switch phase {
	case extract.PhaseFetching:
		return StatusFetching, true
	case extract.PhaseConverting:
		return StatusConverting, true
	case extract.PhaseUploading:
		return StatusUploading, true
	}
	return "", false
}

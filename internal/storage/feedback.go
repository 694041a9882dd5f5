package storage

import (
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"mediafetch/internal/models"
)

// ErrFeedbackNotFound is returned when responding to an unknown entry.
var ErrFeedbackNotFound = errors.New("feedback not found")

// SubmitFeedback records a user message for the admin queue.
func (s *Storage) SubmitFeedback(userID, message string) (models.Feedback, error) {
	message = norm.NFC.String(strings.TrimSpace(message))
	if message == "" {
		return models.Feedback{}, errors.New("feedback message is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Users[userID]; !ok {
		return models.Feedback{}, ErrUserNotFound
	}

	entry := models.Feedback{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		CreatedAt: s.now().UTC(),
	}

	updated := cloneDocuments(s.data)
	updated.Feedback[entry.ID] = entry
	if err := s.persistDocuments(updated); err != nil {
		return models.Feedback{}, err
	}
	s.data = updated
	return entry, nil
}

// ListFeedback returns entries oldest first, optionally hiding answered ones.
func (s *Storage) ListFeedback(includeResponded bool) []models.Feedback {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]models.Feedback, 0, len(s.data.Feedback))
	for _, entry := range s.data.Feedback {
		if entry.Response != "" && !includeResponded {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
	return entries
}

// RespondFeedback attaches an admin response to an entry.
func (s *Storage) RespondFeedback(id, adminID, response string) (models.Feedback, error) {
	response = norm.NFC.String(strings.TrimSpace(response))
	if response == "" {
		return models.Feedback{}, errors.New("response is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDocuments(s.data)
	entry, ok := updated.Feedback[id]
	if !ok {
		return models.Feedback{}, ErrFeedbackNotFound
	}

	now := s.now().UTC()
	entry.Response = response
	entry.RespondedBy = adminID
	entry.RespondedAt = &now
	updated.Feedback[id] = entry
	if err := s.persistDocuments(updated); err != nil {
		return models.Feedback{}, err
	}
	s.data = updated
	return entry, nil
}

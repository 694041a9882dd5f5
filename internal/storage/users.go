package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"mediafetch/internal/models"
	"mediafetch/internal/quota"
)

var (
	// ErrUserNotFound is returned when an operation targets an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrQuotaExceeded is returned when the daily download limit is reached.
	ErrQuotaExceeded = errors.New("daily download limit reached")
)

func normalizeDisplayName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// EnsureUser returns the existing record for id, creating it on first
// contact. The display name and last-active timestamp are refreshed on every
// call.
func (s *Storage) EnsureUser(id, displayName string) (models.User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.User{}, errors.New("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	updated := cloneDocuments(s.data)
	user, exists := updated.Users[id]
	if !exists {
		user = models.User{
			ID:                id,
			Tier:              models.TierFree,
			LastDownloadReset: now,
			CreatedAt:         now,
		}
	}
	if name := normalizeDisplayName(displayName); name != "" {
		user.DisplayName = name
	}
	user.LastActive = now

	updated.Users[id] = user
	if err := s.persistDocuments(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return cloneUser(user), nil
}

func (s *Storage) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.data.Users[id]
	if !ok {
		return models.User{}, false
	}
	return cloneUser(user), true
}

func (s *Storage) ListUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.data.Users))
	for _, user := range s.data.Users {
		users = append(users, cloneUser(user))
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users
}

// SetUserTier applies an explicit admin tier change. This is the only path
// that may lower a tier.
func (s *Storage) SetUserTier(id string, tier models.Tier) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDocuments(s.data)
	user, ok := updated.Users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	user.Tier = tier
	updated.Users[id] = user
	if err := s.persistDocuments(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return cloneUser(user), nil
}

// AuthorizeDownload applies the daily-reset policy and reports whether the
// user may start another download. The reset is persisted when it fires; the
// quota itself is charged later by RecordDownload, after the fetch completes.
func (s *Storage) AuthorizeDownload(id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDocuments(s.data)
	user, ok := updated.Users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}

	if quota.ResetIfStale(&user, s.now()) {
		updated.Users[id] = user
		if err := s.persistDocuments(updated); err != nil {
			return models.User{}, err
		}
		s.data = updated
	}

	if !quota.Allowed(user) {
		return cloneUser(user), fmt.Errorf("%w: %d per day on %s", ErrQuotaExceeded, quota.DailyLimit(user.Tier), user.Tier)
	}
	return cloneUser(user), nil
}

// RecordDownload charges quota for a completed fetch and prepends the history
// entry, truncating to the configured bound. Failed or cancelled sessions must
// not reach this method.
func (s *Storage) RecordDownload(id string, record models.DownloadRecord) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDocuments(s.data)
	user, ok := updated.Users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}

	quota.ResetIfStale(&user, s.now())
	user.DownloadsToday++
	user.TotalDownloads++
	user.LastActive = s.now().UTC()

	history := make([]models.DownloadRecord, 0, len(user.DownloadHistory)+1)
	history = append(history, record)
	history = append(history, user.DownloadHistory...)
	if len(history) > models.DownloadHistoryLimit {
		history = history[:models.DownloadHistoryLimit]
	}
	user.DownloadHistory = history

	updated.Users[id] = user
	if err := s.persistDocuments(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return cloneUser(user), nil
}

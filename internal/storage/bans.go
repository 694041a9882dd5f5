package storage

import (
	"errors"
	"sort"

	"mediafetch/internal/models"
)

// ErrNotBanned is returned when unbanning a user with no active ban.
var ErrNotBanned = errors.New("user is not banned")

// BanUser records a ban. Banning an already-banned user refreshes the record.
func (s *Storage) BanUser(id, adminID, reason string) (models.BanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := models.BanRecord{
		UserID:   id,
		BannedAt: s.now().UTC(),
		BannedBy: adminID,
		Reason:   reason,
	}

	updated := cloneDocuments(s.data)
	updated.Banned[id] = record
	if err := s.persistDocuments(updated); err != nil {
		return models.BanRecord{}, err
	}
	s.data = updated
	return record, nil
}

func (s *Storage) UnbanUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.Banned[id]; !ok {
		return ErrNotBanned
	}

	updated := cloneDocuments(s.data)
	delete(updated.Banned, id)
	if err := s.persistDocuments(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

func (s *Storage) IsBanned(id string) (models.BanRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.data.Banned[id]
	return record, ok
}

func (s *Storage) ListBans() []models.BanRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]models.BanRecord, 0, len(s.data.Banned))
	for _, record := range s.data.Banned {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].BannedAt.Before(records[j].BannedAt)
	})
	return records
}

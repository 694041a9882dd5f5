package storage

import "mediafetch/internal/models"

// Maintenance returns the process-wide maintenance flag.
func (s *Storage) Maintenance() models.MaintenanceFlag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Maintenance
}

// SetMaintenance persists the maintenance flag.
func (s *Storage) SetMaintenance(flag models.MaintenanceFlag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDocuments(s.data)
	updated.Maintenance = flag
	if err := s.persistDocuments(updated); err != nil {
		return err
	}
	s.data = updated
	return nil
}

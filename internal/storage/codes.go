package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"mediafetch/internal/models"
	"mediafetch/internal/quota"
)

var (
	// ErrInvalidCode is returned for codes that were never issued.
	ErrInvalidCode = errors.New("invalid redeem code")
	// ErrCodeAlreadyUsed is returned for codes that were already consumed.
	ErrCodeAlreadyUsed = errors.New("redeem code already used")
	// ErrNoImprovement is returned when the code's tier would not raise the
	// user's daily limit.
	ErrNoImprovement = errors.New("code does not improve current tier")
)

const redeemCodeLength = 12

// GenerateCodes mints count single-use upgrade codes for the given tier. The
// batch is distinct within itself; collisions against historical codes are not
// deduplicated, which is acceptable at the 36^12 code space.
func (s *Storage) GenerateCodes(tier models.Tier, count int) ([]models.RedeemCode, error) {
	if count <= 0 {
		return nil, errors.New("count must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	updated := cloneDocuments(s.data)
	minted := make([]models.RedeemCode, 0, count)
	for len(minted) < count {
		token, err := generateToken(redeemCodeLength)
		if err != nil {
			return nil, err
		}
		if _, dup := updated.Codes[token]; dup {
			continue
		}
		record := models.RedeemCode{Code: token, Tier: tier, CreatedAt: now}
		updated.Codes[token] = record
		minted = append(minted, record)
	}

	if err := s.persistDocuments(updated); err != nil {
		return nil, err
	}
	s.data = updated
	return minted, nil
}

// ListCodes returns issued codes, optionally filtering out consumed ones.
func (s *Storage) ListCodes(includeUsed bool) []models.RedeemCode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	codes := make([]models.RedeemCode, 0, len(s.data.Codes))
	for _, record := range s.data.Codes {
		if record.Used && !includeUsed {
			continue
		}
		codes = append(codes, record)
	}
	sort.Slice(codes, func(i, j int) bool {
		if codes[i].CreatedAt.Equal(codes[j].CreatedAt) {
			return codes[i].Code < codes[j].Code
		}
		return codes[i].CreatedAt.Before(codes[j].CreatedAt)
	})
	return codes
}

// Redeem consumes a code for the user. Exactly one outcome occurs per call:
// ErrInvalidCode, ErrCodeAlreadyUsed, ErrNoImprovement, or a successful
// upgrade that marks the code used and persists both records atomically.
func (s *Storage) Redeem(code, userID string) (models.User, models.RedeemCode, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.data.Codes[code]
	if !ok {
		return models.User{}, models.RedeemCode{}, ErrInvalidCode
	}
	if record.Used {
		return models.User{}, models.RedeemCode{}, ErrCodeAlreadyUsed
	}
	user, ok := s.data.Users[userID]
	if !ok {
		return models.User{}, models.RedeemCode{}, ErrUserNotFound
	}
	if !quota.Exceeds(record.Tier, user.Tier) {
		return models.User{}, models.RedeemCode{}, fmt.Errorf("%w: %s does not exceed %s", ErrNoImprovement, record.Tier, user.Tier)
	}

	updated := cloneDocuments(s.data)
	user = updated.Users[userID]
	user.Tier = record.Tier

	now := s.now().UTC()
	record.Used = true
	record.UsedBy = userID
	record.UsedAt = &now

	updated.Users[userID] = user
	updated.Codes[code] = record
	if err := s.persistDocuments(updated); err != nil {
		return models.User{}, models.RedeemCode{}, err
	}
	s.data = updated
	return cloneUser(user), record, nil
}

package storage

import (
	"errors"
	"strings"

	"mediafetch/internal/models"
	"mediafetch/internal/quota"
)

var (
	// ErrSelfReferral is returned when a user presents their own code.
	ErrSelfReferral = errors.New("you cannot use your own referral code")
	// ErrNothingToClaim is returned when no unclaimed reward is eligible.
	ErrNothingToClaim = errors.New("no referral reward available to claim")
)

const referralCodeLength = 8

// RewardThreshold pairs a referral count with the tier it unlocks.
type RewardThreshold struct {
	Count int
	Tier  models.Tier
}

// rewardThresholds is scanned in ascending order when deciding which upgrade
// to announce. Claims pick the highest eligible tier instead; the asymmetry is
// observed production behaviour and is pinned by tests.
var rewardThresholds = []RewardThreshold{
	{Count: 10, Tier: models.TierSilver},
	{Count: 30, Tier: models.TierGold},
	{Count: 50, Tier: models.TierPlatinum},
}

// RewardThresholds exposes a copy of the reward table for UI rendering.
func RewardThresholds() []RewardThreshold {
	return append([]RewardThreshold(nil), rewardThresholds...)
}

// ReferralOutcome describes the result of processing one referral edge.
type ReferralOutcome struct {
	Applied       bool
	ReferrerID    string
	ReferralCount int
	// EligibleTier is the first (lowest) unclaimed threshold tier the
	// referrer just became eligible for, if any. It is announcement-only;
	// the tier changes when the referrer explicitly claims.
	EligibleTier models.Tier
	Threshold    int
}

// EnsureReferralCode lazily assigns the user a unique referral code.
// Uniqueness is enforced by scanning the user set, which is adequate at the
// expected population and makes no cryptographic claim.
func (s *Storage) EnsureReferralCode(id string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDocuments(s.data)
	user, ok := updated.Users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	if user.ReferralCode != "" {
		return cloneUser(user), nil
	}

	for {
		code, err := generateToken(referralCodeLength)
		if err != nil {
			return models.User{}, err
		}
		if ownerOfReferralCode(updated.Users, code) == "" {
			user.ReferralCode = code
			break
		}
	}

	updated.Users[id] = user
	if err := s.persistDocuments(updated); err != nil {
		return models.User{}, err
	}
	s.data = updated
	return cloneUser(user), nil
}

func ownerOfReferralCode(users map[string]models.User, code string) string {
	for id, user := range users {
		if user.ReferralCode != "" && user.ReferralCode == code {
			return id
		}
	}
	return ""
}

// ProcessReferral records a referrer→referee edge at first contact.
//
// The code owner is resolved first so that presenting your own code is always
// rejected as a self-referral. An unknown code is logged and swallowed; a
// referee that already exists, or an edge that was already recorded, leaves
// the ledger untouched.
func (s *Storage) ProcessReferral(newUserID, code string) (ReferralOutcome, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return ReferralOutcome{}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	referrerID := ownerOfReferralCode(s.data.Users, code)
	if referrerID == "" {
		s.logger.Warn("referral code not found", "code", code, "new_user", newUserID)
		return ReferralOutcome{}, nil
	}
	if referrerID == newUserID {
		return ReferralOutcome{}, ErrSelfReferral
	}
	if _, exists := s.data.Users[newUserID]; exists {
		return ReferralOutcome{ReferrerID: referrerID}, nil
	}

	updated := cloneDocuments(s.data)
	referrer := updated.Users[referrerID]
	for _, existing := range referrer.Referrals {
		if existing == newUserID {
			return ReferralOutcome{ReferrerID: referrerID, ReferralCount: len(referrer.Referrals)}, nil
		}
	}

	referrer.Referrals = append(referrer.Referrals, newUserID)
	updated.Users[referrerID] = referrer
	updated.Referrals[newUserID] = referrerID
	if err := s.persistDocuments(updated); err != nil {
		return ReferralOutcome{}, err
	}
	s.data = updated

	outcome := ReferralOutcome{
		Applied:       true,
		ReferrerID:    referrerID,
		ReferralCount: len(referrer.Referrals),
	}
	if threshold, tier, ok := firstEligibleReward(referrer); ok {
		outcome.Threshold = threshold
		outcome.EligibleTier = tier
	}
	return outcome, nil
}

// firstEligibleReward scans thresholds in ascending order and returns the
// first one the referrer qualifies for and has not claimed.
func firstEligibleReward(user models.User) (int, models.Tier, bool) {
	count := len(user.Referrals)
	for _, reward := range rewardThresholds {
		if count < reward.Count {
			continue
		}
		if user.HasClaimedReward(reward.Count) {
			continue
		}
		if !quota.Exceeds(reward.Tier, user.Tier) {
			continue
		}
		return reward.Count, reward.Tier, true
	}
	return 0, "", false
}

// ClaimOutcome reports a successful referral reward claim.
type ClaimOutcome struct {
	User      models.User
	Threshold int
	Tier      models.Tier
}

// ClaimReferralReward applies the best available reward: among all unclaimed
// thresholds the user qualifies for, the tier with the highest daily limit
// wins. A threshold can be claimed once, and a claim never lowers the limit.
func (s *Storage) ClaimReferralReward(id string) (ClaimOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := cloneDocuments(s.data)
	user, ok := updated.Users[id]
	if !ok {
		return ClaimOutcome{}, ErrUserNotFound
	}

	count := len(user.Referrals)
	best := RewardThreshold{}
	found := false
	for _, reward := range rewardThresholds {
		if count < reward.Count || user.HasClaimedReward(reward.Count) {
			continue
		}
		if !quota.Exceeds(reward.Tier, user.Tier) {
			continue
		}
		if !found || quota.Exceeds(reward.Tier, best.Tier) {
			best = reward
			found = true
		}
	}
	if !found {
		return ClaimOutcome{}, ErrNothingToClaim
	}

	user.Tier = best.Tier
	user.RewardsClaimed = append(user.RewardsClaimed, best.Count)
	updated.Users[id] = user
	if err := s.persistDocuments(updated); err != nil {
		return ClaimOutcome{}, err
	}
	s.data = updated
	return ClaimOutcome{User: cloneUser(user), Threshold: best.Count, Tier: best.Tier}, nil
}

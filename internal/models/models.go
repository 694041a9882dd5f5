package models

import (
	"strings"
	"time"
)

// Tier identifies the quota class a user belongs to. Tiers only ever move
// upward through referrals, redeem codes, or explicit admin action.
type Tier string

const (
	TierFree     Tier = "FREE"
	TierSilver   Tier = "SILVER"
	TierGold     Tier = "GOLD"
	TierPlatinum Tier = "PLATINUM"
)

// ParseTier normalises a tier name, reporting whether it is known.
func ParseTier(value string) (Tier, bool) {
	switch Tier(strings.ToUpper(strings.TrimSpace(value))) {
	case TierFree:
		return TierFree, true
	case TierSilver:
		return TierSilver, true
	case TierGold:
		return TierGold, true
	case TierPlatinum:
		return TierPlatinum, true
	}
	return "", false
}

// DownloadHistoryLimit bounds the per-user download history kept in the store.
const DownloadHistoryLimit = 50

type User struct {
	ID                string           `json:"id"`
	DisplayName       string           `json:"displayName"`
	Tier              Tier             `json:"tier"`
	DownloadsToday    int              `json:"downloadsToday"`
	TotalDownloads    int              `json:"totalDownloads"`
	LastActive        time.Time        `json:"lastActive"`
	LastDownloadReset time.Time        `json:"lastDownloadReset"`
	ReferralCode      string           `json:"referralCode,omitempty"`
	Referrals         []string         `json:"referrals,omitempty"`
	RewardsClaimed    []int            `json:"rewardsClaimed,omitempty"`
	DownloadHistory   []DownloadRecord `json:"downloadHistory,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
}

// HasClaimedReward reports whether the referral threshold has been claimed.
func (u User) HasClaimedReward(threshold int) bool {
	for _, claimed := range u.RewardsClaimed {
		if claimed == threshold {
			return true
		}
	}
	return false
}

// DownloadRecord is one completed fetch, newest entries kept first.
type DownloadRecord struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Mode        string    `json:"mode"`
	Quality     string    `json:"quality"`
	SizeBytes   int64     `json:"sizeBytes,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

// RedeemCode is a single-use tier upgrade token. Once Used is set the record
// is immutable.
type RedeemCode struct {
	Code      string     `json:"code"`
	Tier      Tier       `json:"tier"`
	CreatedAt time.Time  `json:"createdAt"`
	Used      bool       `json:"used"`
	UsedBy    string     `json:"usedBy,omitempty"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

type Feedback struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Message     string     `json:"message"`
	CreatedAt   time.Time  `json:"createdAt"`
	Response    string     `json:"response,omitempty"`
	RespondedBy string     `json:"respondedBy,omitempty"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
}

type BanRecord struct {
	UserID   string    `json:"userId"`
	BannedAt time.Time `json:"bannedAt"`
	BannedBy string    `json:"bannedBy"`
	Reason   string    `json:"reason,omitempty"`
}

// MaintenanceFlag short-circuits non-admin actions while enabled.
type MaintenanceFlag struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
}

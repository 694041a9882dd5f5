// Package quota holds the fixed tier table and the daily-reset policy applied
// before every download authorization.
package quota

import (
	"time"

	"mediafetch/internal/models"
)

// Unlimited marks a tier without a daily cap.
const Unlimited = -1

// TierLimits describes the quota class granted by a tier.
type TierLimits struct {
	DailyLimit int
	Qualities  []string
}

var tierTable = map[models.Tier]TierLimits{
	models.TierFree:     {DailyLimit: 2, Qualities: []string{"128k", "360p"}},
	models.TierSilver:   {DailyLimit: 5, Qualities: []string{"128k", "360p", "720p"}},
	models.TierGold:     {DailyLimit: 10, Qualities: []string{"128k", "320k", "360p", "720p", "1080p"}},
	models.TierPlatinum: {DailyLimit: Unlimited, Qualities: []string{"128k", "320k", "360p", "720p", "1080p", "best"}},
}

// Limits returns the quota class for a tier, falling back to FREE for unknown
// values so that malformed records degrade instead of panicking.
func Limits(tier models.Tier) TierLimits {
	if limits, ok := tierTable[tier]; ok {
		return limits
	}
	return tierTable[models.TierFree]
}

// DailyLimit is a convenience accessor for the tier's download cap.
func DailyLimit(tier models.Tier) int {
	return Limits(tier).DailyLimit
}

// Exceeds reports whether candidate grants a strictly higher daily limit than
// current. Unlimited beats every bounded limit.
func Exceeds(candidate, current models.Tier) bool {
	c := DailyLimit(candidate)
	cur := DailyLimit(current)
	if c == Unlimited {
		return cur != Unlimited
	}
	if cur == Unlimited {
		return false
	}
	return c > cur
}

// AllowsQuality reports whether the tier may select the given quality.
func AllowsQuality(tier models.Tier, quality string) bool {
	for _, allowed := range Limits(tier).Qualities {
		if allowed == quality {
			return true
		}
	}
	return false
}

// ClampQuality returns the requested quality when the tier permits it,
// otherwise the best quality the tier does permit.
func ClampQuality(tier models.Tier, quality string) string {
	if AllowsQuality(tier, quality) {
		return quality
	}
	qualities := Limits(tier).Qualities
	return qualities[len(qualities)-1]
}

// ResetIfStale zeroes the daily counter when the calendar day (UTC) has
// advanced past the recorded reset date. It reports whether the user record
// was modified and therefore needs persisting.
func ResetIfStale(user *models.User, now time.Time) bool {
	now = now.UTC()
	last := user.LastDownloadReset.UTC()
	if sameDay(now, last) {
		return false
	}
	if now.Before(last) {
		return false
	}
	user.DownloadsToday = 0
	user.LastDownloadReset = now
	return true
}

// Allowed reports whether the user may start another download today. The
// caller must apply ResetIfStale first.
func Allowed(user models.User) bool {
	limit := DailyLimit(user.Tier)
	if limit == Unlimited {
		return true
	}
	return user.DownloadsToday < limit
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"mediafetch/internal/extract"
	"mediafetch/internal/models"
	"mediafetch/internal/quota"
	"mediafetch/internal/session"
	"mediafetch/internal/storage"
)

const helpText = `Commands:
download <url> [quality] - fetch a track or video
cancel - stop your running download
profile - your tier, quota and history
referral - your referral code and progress
claim - claim an earned referral reward
redeem <code> - redeem an upgrade code
settings <audio|video> [quality] - set session preferences
feedback <message> - send feedback to the admins
help - this message`

// handleStart registers the user, processing a deep-link referral code first
// so the "referral only at first contact" rule can see the user as new.
func (b *Bot) handleStart(ctx context.Context, cmd Command) {
	var outcome storage.ReferralOutcome
	if code := cmd.arg(0); code != "" {
		result, err := b.store.ProcessReferral(cmd.UserID, code)
		if err != nil {
			if errors.Is(err, storage.ErrSelfReferral) {
				b.reply(ctx, cmd.UserID, "You cannot use your own referral code.")
			} else {
				b.logger.Error("referral processing failed", "user", cmd.UserID, "error", err)
			}
		} else {
			outcome = result
		}
	}

	user, err := b.store.EnsureUser(cmd.UserID, cmd.DisplayName)
	if err != nil {
		b.logger.Error("ensure user failed", "user", cmd.UserID, "error", err)
		b.reply(ctx, cmd.UserID, "Could not set up your account. Please try again.")
		return
	}

	b.reply(ctx, cmd.UserID, fmt.Sprintf("Welcome, %s! You are on the %s tier (%s downloads per day). Send help to see what I can do.",
		user.DisplayName, user.Tier, limitLabel(user.Tier)))

	if outcome.Applied {
		b.notifyReferrer(ctx, outcome)
	}
}

// notifyReferrer tells the referrer about the new signup and, when a reward
// threshold was just crossed, announces the lowest newly eligible tier. The
// tier itself only changes when the referrer claims.
func (b *Bot) notifyReferrer(ctx context.Context, outcome storage.ReferralOutcome) {
	text := fmt.Sprintf("Someone joined with your referral code! You now have %d referrals.", outcome.ReferralCount)
	if outcome.EligibleTier != "" {
		text += fmt.Sprintf(" You can now claim the %s tier (%d referrals reached) - send claim to upgrade.",
			outcome.EligibleTier, outcome.Threshold)
	}
	b.reply(ctx, outcome.ReferrerID, text)
}

func (b *Bot) handleHelp(ctx context.Context, cmd Command) {
	b.reply(ctx, cmd.UserID, helpText)
}

func (b *Bot) handleProfile(ctx context.Context, cmd Command) {
	user, err := b.store.EnsureUser(cmd.UserID, cmd.DisplayName)
	if err != nil {
		b.reply(ctx, cmd.UserID, "Could not load your profile. Please try again.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\nTier: %s\nToday: %s\nTotal downloads: %d\nReferrals: %d\n",
		user.DisplayName, user.Tier, usageLine(user), user.TotalDownloads, len(user.Referrals))
	if len(user.DownloadHistory) > 0 {
		sb.WriteString("Recent downloads:\n")
		for i, record := range user.DownloadHistory {
			if i == 5 {
				break
			}
			title := record.Title
			if title == "" {
				title = record.URL
			}
			fmt.Fprintf(&sb, "- %s (%s)\n", title, record.Quality)
		}
	}
	b.reply(ctx, cmd.UserID, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) handleReferral(ctx context.Context, cmd Command) {
	if _, err := b.store.EnsureUser(cmd.UserID, cmd.DisplayName); err != nil {
		b.reply(ctx, cmd.UserID, "Could not load your account. Please try again.")
		return
	}
	user, err := b.store.EnsureReferralCode(cmd.UserID)
	if err != nil {
		b.logger.Error("referral code issuance failed", "user", cmd.UserID, "error", err)
		b.reply(ctx, cmd.UserID, "Could not issue your referral code. Please try again.")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Your referral code: %s\nShare it as: /start %s\nReferrals so far: %d\n",
		user.ReferralCode, user.ReferralCode, len(user.Referrals))
	sb.WriteString("Rewards:\n")
	for _, threshold := range storage.RewardThresholds() {
		marker := " "
		if user.HasClaimedReward(threshold.Count) {
			marker = "claimed"
		} else if len(user.Referrals) >= threshold.Count {
			marker = "ready to claim"
		}
		fmt.Fprintf(&sb, "- %d referrals: %s %s\n", threshold.Count, threshold.Tier, marker)
	}
	b.reply(ctx, cmd.UserID, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) handleClaim(ctx context.Context, cmd Command) {
	outcome, err := b.store.ClaimReferralReward(cmd.UserID)
	switch {
	case errors.Is(err, storage.ErrNothingToClaim):
		b.reply(ctx, cmd.UserID, "No referral reward is ready to claim yet.")
	case errors.Is(err, storage.ErrUserNotFound):
		b.reply(ctx, cmd.UserID, "Send start first to set up your account.")
	case err != nil:
		b.logger.Error("reward claim failed", "user", cmd.UserID, "error", err)
		b.reply(ctx, cmd.UserID, "Could not claim your reward. Please try again.")
	default:
		b.reply(ctx, cmd.UserID, fmt.Sprintf("Congratulations! You claimed the %s tier (%d referrals). New daily limit: %s.",
			outcome.Tier, outcome.Threshold, limitLabel(outcome.User.Tier)))
	}
}

func (b *Bot) handleRedeem(ctx context.Context, cmd Command) {
	code := cmd.arg(0)
	if code == "" {
		b.reply(ctx, cmd.UserID, "Usage: redeem <code>")
		return
	}
	if _, err := b.store.EnsureUser(cmd.UserID, cmd.DisplayName); err != nil {
		b.reply(ctx, cmd.UserID, "Could not load your account. Please try again.")
		return
	}

	user, record, err := b.store.Redeem(code, cmd.UserID)
	switch {
	case errors.Is(err, storage.ErrInvalidCode):
		b.reply(ctx, cmd.UserID, "That code is not valid.")
	case errors.Is(err, storage.ErrCodeAlreadyUsed):
		b.reply(ctx, cmd.UserID, "That code has already been used.")
	case errors.Is(err, storage.ErrNoImprovement):
		b.reply(ctx, cmd.UserID, "That code would not improve your current tier, so it was left unused.")
	case err != nil:
		b.logger.Error("redeem failed", "user", cmd.UserID, "error", err)
		b.reply(ctx, cmd.UserID, "Could not redeem the code. Please try again.")
	default:
		b.reply(ctx, cmd.UserID, fmt.Sprintf("Code accepted! You are now on the %s tier (%s downloads per day).",
			record.Tier, limitLabel(user.Tier)))
	}
}

func (b *Bot) handleFeedback(ctx context.Context, cmd Command) {
	message := cmd.rest(0)
	if message == "" {
		b.reply(ctx, cmd.UserID, "Usage: feedback <your message>")
		return
	}
	if _, err := b.store.EnsureUser(cmd.UserID, cmd.DisplayName); err != nil {
		b.reply(ctx, cmd.UserID, "Could not load your account. Please try again.")
		return
	}
	if _, err := b.store.SubmitFeedback(cmd.UserID, message); err != nil {
		b.logger.Error("feedback submission failed", "user", cmd.UserID, "error", err)
		b.reply(ctx, cmd.UserID, "Could not record your feedback. Please try again.")
		return
	}
	b.reply(ctx, cmd.UserID, "Thanks! Your feedback was passed to the admins.")
}

func (b *Bot) handleSettings(ctx context.Context, cmd Command) {
	user, err := b.store.EnsureUser(cmd.UserID, cmd.DisplayName)
	if err != nil {
		b.reply(ctx, cmd.UserID, "Could not load your account. Please try again.")
		return
	}

	modeArg := cmd.arg(0)
	if modeArg == "" {
		pref := b.preferenceFor(cmd.UserID)
		b.reply(ctx, cmd.UserID, fmt.Sprintf("Current preference: %s at %s. Change it with: settings <audio|video> [quality]. Qualities for your tier: %s.",
			pref.Mode, pref.Quality, strings.Join(quota.Limits(user.Tier).Qualities, ", ")))
		return
	}

	var mode extract.Mode
	switch modeArg {
	case "audio":
		mode = extract.ModeAudio
	case "video":
		mode = extract.ModeVideo
	default:
		b.reply(ctx, cmd.UserID, "Usage: settings <audio|video> [quality]")
		return
	}

	requested := cmd.arg(1)
	if requested != "" && !quota.AllowsQuality(user.Tier, requested) {
		b.reply(ctx, cmd.UserID, fmt.Sprintf("Quality %s is not available on the %s tier. Available: %s.",
			requested, user.Tier, strings.Join(quota.Limits(user.Tier).Qualities, ", ")))
		return
	}
	quality := quota.ClampQuality(user.Tier, requested)

	b.prefs[cmd.UserID] = preference{Mode: mode, Quality: quality}
	b.reply(ctx, cmd.UserID, fmt.Sprintf("Preference saved for this session: %s at %s.", mode, quality))
}

// preferenceFor returns the user's ephemeral preference, defaulting to audio
// at the lowest quality.
func (b *Bot) preferenceFor(userID string) preference {
	if pref, ok := b.prefs[userID]; ok {
		return pref
	}
	return preference{Mode: extract.ModeAudio, Quality: "128k"}
}

func (b *Bot) handleDownload(ctx context.Context, cmd Command) {
	url := cmd.arg(0)
	if url == "" {
		b.reply(ctx, cmd.UserID, "Usage: download <url> [quality]")
		return
	}
	if _, err := b.store.EnsureUser(cmd.UserID, cmd.DisplayName); err != nil {
		b.reply(ctx, cmd.UserID, "Could not load your account. Please try again.")
		return
	}

	user, err := b.store.AuthorizeDownload(cmd.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrQuotaExceeded) {
			b.metrics.ObserveQuotaRejection()
			b.reply(ctx, cmd.UserID, fmt.Sprintf("Daily limit reached (%s downloads on the %s tier). It resets at midnight UTC, or upgrade via referrals and codes.",
				limitLabel(user.Tier), user.Tier))
			return
		}
		b.logger.Error("download authorization failed", "user", cmd.UserID, "error", err)
		b.reply(ctx, cmd.UserID, "Could not start the download. Please try again.")
		return
	}

	pref := b.preferenceFor(cmd.UserID)
	quality := cmd.arg(1)
	if quality == "" {
		quality = pref.Quality
	}
	if !quota.AllowsQuality(user.Tier, quality) {
		quality = quota.ClampQuality(user.Tier, quality)
	}

	sess := session.New(cmd.UserID, url, pref.Mode, quality)
	if err := b.processor.Submit(sess); err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			b.reply(ctx, cmd.UserID, "You already have a download running. Send cancel to stop it first.")
			return
		}
		b.logger.Error("session submit failed", "user", cmd.UserID, "error", err)
		b.reply(ctx, cmd.UserID, "Could not start the download. Please try again.")
		return
	}
	b.metrics.DownloadStarted()

	messageID, err := b.transport.SendMessage(ctx, cmd.UserID, "Queued...")
	if err != nil {
		b.logger.Warn("status message failed", "session", sess.ID, "error", err)
		return
	}
	b.views[sess.ID] = progressView{userID: cmd.UserID, messageID: messageID}
}

func (b *Bot) handleCancel(ctx context.Context, cmd Command) {
	if _, err := b.processor.Registry().Cancel(cmd.UserID); err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			b.reply(ctx, cmd.UserID, "You have no running download.")
			return
		}
		b.logger.Error("cancel failed", "user", cmd.UserID, "error", err)
		b.reply(ctx, cmd.UserID, "Could not cancel the download.")
		return
	}
	b.reply(ctx, cmd.UserID, "Cancelling...")
}

func usageLine(user models.User) string {
	limit := quota.DailyLimit(user.Tier)
	if limit == quota.Unlimited {
		return fmt.Sprintf("%d (unlimited)", user.DownloadsToday)
	}
	return fmt.Sprintf("%d of %d", user.DownloadsToday, limit)
}

func limitLabel(tier models.Tier) string {
	limit := quota.DailyLimit(tier)
	if limit == quota.Unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", limit)
}

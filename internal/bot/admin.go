package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"mediafetch/internal/models"
	"mediafetch/internal/storage"
)

func (b *Bot) handleAdmin(ctx context.Context, cmd Command) {
	if !b.isAdmin(cmd.UserID) {
		b.reply(ctx, cmd.UserID, "Unknown command. Send help for the list of commands.")
		return
	}

	switch cmd.Name {
	case "ban":
		b.handleBan(ctx, cmd)
	case "unban":
		b.handleUnban(ctx, cmd)
	case "userinfo":
		b.handleUserInfo(ctx, cmd)
	case "broadcast":
		b.handleBroadcast(ctx, cmd)
	case "gencode":
		b.handleGencode(ctx, cmd)
	case "maintenance":
		b.handleMaintenance(ctx, cmd)
	case "respond":
		b.handleRespond(ctx, cmd)
	case "listfeedback":
		b.handleListFeedback(ctx, cmd)
	case "stats":
		b.handleStats(ctx, cmd)
	}
}

func (b *Bot) handleBan(ctx context.Context, cmd Command) {
	target := cmd.arg(0)
	if target == "" {
		b.reply(ctx, cmd.UserID, "Usage: ban <userID> [reason]")
		return
	}
	reason := cmd.rest(1)
	if _, err := b.store.BanUser(target, cmd.UserID, reason); err != nil {
		b.logger.Error("ban failed", "target", target, "error", err)
		b.reply(ctx, cmd.UserID, "Could not ban the user.")
		return
	}
	b.reply(ctx, cmd.UserID, fmt.Sprintf("User %s is banned.", target))
}

func (b *Bot) handleUnban(ctx context.Context, cmd Command) {
	target := cmd.arg(0)
	if target == "" {
		b.reply(ctx, cmd.UserID, "Usage: unban <userID>")
		return
	}
	if err := b.store.UnbanUser(target); err != nil {
		if errors.Is(err, storage.ErrNotBanned) {
			b.reply(ctx, cmd.UserID, fmt.Sprintf("User %s is not banned.", target))
			return
		}
		b.logger.Error("unban failed", "target", target, "error", err)
		b.reply(ctx, cmd.UserID, "Could not unban the user.")
		return
	}
	b.reply(ctx, cmd.UserID, fmt.Sprintf("User %s is unbanned.", target))
}

func (b *Bot) handleUserInfo(ctx context.Context, cmd Command) {
	target := cmd.arg(0)
	if target == "" {
		b.reply(ctx, cmd.UserID, "Usage: userinfo <userID>")
		return
	}
	user, ok := b.store.GetUser(target)
	if !ok {
		b.reply(ctx, cmd.UserID, fmt.Sprintf("No user with ID %s.", target))
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "ID: %s\nName: %s\nTier: %s\nToday: %s\nTotal: %d\nReferrals: %d\nJoined: %s\nLast active: %s\n",
		user.ID, user.DisplayName, user.Tier, usageLine(user), user.TotalDownloads,
		len(user.Referrals), user.CreatedAt.Format("2006-01-02"), user.LastActive.Format("2006-01-02 15:04"))
	if record, banned := b.store.IsBanned(target); banned {
		fmt.Fprintf(&sb, "BANNED by %s: %s\n", record.BannedBy, record.Reason)
	}
	b.reply(ctx, cmd.UserID, strings.TrimRight(sb.String(), "\n"))
}

// handleBroadcast resolves the audience on the dispatch loop, then fans out
// on its own goroutine. The broadcaster only reads from the store, so the
// loop stays free while sends trickle out.
func (b *Bot) handleBroadcast(ctx context.Context, cmd Command) {
	kind, err := ParseAudience(cmd.arg(0))
	if err != nil {
		b.reply(ctx, cmd.UserID, err.Error())
		return
	}
	message := cmd.rest(1)
	if message == "" {
		b.reply(ctx, cmd.UserID, "Usage: broadcast <all|premium|free|active> <message>")
		return
	}

	recipients := b.broadcaster.SelectAudience(kind)
	if len(recipients) == 0 {
		b.reply(ctx, cmd.UserID, "No users match that audience.")
		return
	}
	adminID := cmd.UserID
	go b.broadcaster.Dispatch(ctx, adminID, recipients, message)
}

func (b *Bot) handleGencode(ctx context.Context, cmd Command) {
	tier, ok := models.ParseTier(cmd.arg(0))
	if !ok {
		b.reply(ctx, cmd.UserID, "Usage: gencode <SILVER|GOLD|PLATINUM> [count]")
		return
	}
	count := 1
	if raw := cmd.arg(1); raw != "" {
		parsed, err := strconv.Atoi(raw)
		count = parsed
		if err != nil || count < 1 || count > 50 {
			b.reply(ctx, cmd.UserID, "Count must be a number between 1 and 50.")
			return
		}
	}

	codes, err := b.store.GenerateCodes(tier, count)
	if err != nil {
		b.logger.Error("code generation failed", "tier", tier, "error", err)
		b.reply(ctx, cmd.UserID, "Could not generate codes.")
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generated %d %s code(s):\n", len(codes), tier)
	for _, code := range codes {
		sb.WriteString(code.Code)
		sb.WriteByte('\n')
	}
	b.reply(ctx, cmd.UserID, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) handleMaintenance(ctx context.Context, cmd Command) {
	switch cmd.arg(0) {
	case "on":
		flag := models.MaintenanceFlag{Enabled: true, Message: cmd.rest(1)}
		if err := b.store.SetMaintenance(flag); err != nil {
			b.logger.Error("maintenance update failed", "error", err)
			b.reply(ctx, cmd.UserID, "Could not enable maintenance mode.")
			return
		}
		b.reply(ctx, cmd.UserID, "Maintenance mode is ON.")
	case "off":
		if err := b.store.SetMaintenance(models.MaintenanceFlag{}); err != nil {
			b.logger.Error("maintenance update failed", "error", err)
			b.reply(ctx, cmd.UserID, "Could not disable maintenance mode.")
			return
		}
		b.reply(ctx, cmd.UserID, "Maintenance mode is OFF.")
	default:
		flag := b.store.Maintenance()
		state := "OFF"
		if flag.Enabled {
			state = "ON"
		}
		b.reply(ctx, cmd.UserID, fmt.Sprintf("Maintenance mode is %s. Usage: maintenance <on|off> [message]", state))
	}
}

func (b *Bot) handleRespond(ctx context.Context, cmd Command) {
	feedbackID := cmd.arg(0)
	response := cmd.rest(1)
	if feedbackID == "" || response == "" {
		b.reply(ctx, cmd.UserID, "Usage: respond <feedbackID> <message>")
		return
	}

	entry, err := b.store.RespondFeedback(feedbackID, cmd.UserID, response)
	if err != nil {
		if errors.Is(err, storage.ErrFeedbackNotFound) {
			b.reply(ctx, cmd.UserID, "No feedback entry with that ID.")
			return
		}
		b.logger.Error("feedback response failed", "feedback", feedbackID, "error", err)
		b.reply(ctx, cmd.UserID, "Could not respond to the feedback.")
		return
	}
	b.reply(ctx, entry.UserID, fmt.Sprintf("Admin reply to your feedback:\n%s", response))
	b.reply(ctx, cmd.UserID, "Response delivered.")
}

func (b *Bot) handleListFeedback(ctx context.Context, cmd Command) {
	entries := b.store.ListFeedback(false)
	if len(entries) == 0 {
		b.reply(ctx, cmd.UserID, "No open feedback.")
		return
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Open feedback (%d):\n", len(entries))
	for i, entry := range entries {
		if i == 10 {
			fmt.Fprintf(&sb, "...and %d more\n", len(entries)-i)
			break
		}
		fmt.Fprintf(&sb, "%s from %s: %s\n", entry.ID, entry.UserID, entry.Message)
	}
	b.reply(ctx, cmd.UserID, strings.TrimRight(sb.String(), "\n"))
}

func (b *Bot) handleStats(ctx context.Context, cmd Command) {
	users := b.store.ListUsers()
	tiers := map[models.Tier]int{}
	totalDownloads := 0
	activeCutoff := b.now().Add(-activeWindow)
	active := 0
	for _, user := range users {
		tiers[user.Tier]++
		totalDownloads += user.TotalDownloads
		if !user.LastActive.Before(activeCutoff) {
			active++
		}
	}
	unusedCodes := len(b.store.ListCodes(false))
	bans := len(b.store.ListBans())

	b.reply(ctx, cmd.UserID, fmt.Sprintf(
		"Users: %d (active 7d: %d)\nFREE %d / SILVER %d / GOLD %d / PLATINUM %d\nTotal downloads: %d\nUnused codes: %d\nBanned: %d",
		len(users), active,
		tiers[models.TierFree], tiers[models.TierSilver], tiers[models.TierGold], tiers[models.TierPlatinum],
		totalDownloads, unusedCodes, bans))
}

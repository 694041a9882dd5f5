package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mediafetch/internal/models"
	"mediafetch/internal/observability/metrics"
	"mediafetch/internal/storage"
)

// Audience selects which users a broadcast reaches.
type Audience string

const (
	AudienceAll     Audience = "all"
	AudiencePremium Audience = "premium"
	AudienceFree    Audience = "free"
	AudienceActive  Audience = "active"
)

const (
	// activeWindow bounds how recently a user must have acted to count as
	// active.
	activeWindow = 7 * 24 * time.Hour
	// sendDelay spaces sequential sends to stay under transport rate
	// limits.
	sendDelay = 50 * time.Millisecond
	// progressEvery controls how often the initiating admin sees a
	// delivery update.
	progressEvery = 10
)

// ParseAudience validates an audience name from a command argument.
func ParseAudience(value string) (Audience, error) {
	switch Audience(value) {
	case AudienceAll, AudiencePremium, AudienceFree, AudienceActive:
		return Audience(value), nil
	}
	return "", fmt.Errorf("unknown audience %q (use all, premium, free or active)", value)
}

// BroadcastReport tallies one completed fan-out. Sent+Failed always equals
// the audience size.
type BroadcastReport struct {
	Audience int `json:"audience"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
}

// Broadcaster fans a message out to an audience sequentially. It only reads
// from the store, so it is safe to run off the dispatch loop.
type Broadcaster struct {
	store     storage.Repository
	transport Transport
	metrics   *metrics.Recorder
	logger    *slog.Logger
	sleep     func(time.Duration)
	now       func() time.Time
}

func NewBroadcaster(store storage.Repository, transport Transport, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		store:     store,
		transport: transport,
		metrics:   metrics.Default(),
		logger:    logger,
		sleep:     time.Sleep,
		now:       time.Now,
	}
}

// SelectAudience resolves an audience kind to user IDs.
func (b *Broadcaster) SelectAudience(kind Audience) []string {
	cutoff := b.now().Add(-activeWindow)
	var ids []string
	for _, user := range b.store.ListUsers() {
		switch kind {
		case AudienceAll:
		case AudiencePremium:
			if user.Tier == models.TierFree {
				continue
			}
		case AudienceFree:
			if user.Tier != models.TierFree {
				continue
			}
		case AudienceActive:
			if user.LastActive.Before(cutoff) {
				continue
			}
		default:
			return nil
		}
		ids = append(ids, user.ID)
	}
	return ids
}

// Dispatch sends the message to every recipient in order. Individual send
// failures are counted, never fatal; the initiating admin gets a progress
// edit every tenth delivery and a final summary.
func (b *Broadcaster) Dispatch(ctx context.Context, adminID string, recipients []string, message string) BroadcastReport {
	report := BroadcastReport{Audience: len(recipients)}

	statusID, err := b.transport.SendMessage(ctx, adminID, fmt.Sprintf("Broadcasting to %d users...", len(recipients)))
	if err != nil {
		b.logger.Warn("broadcast status message failed", "admin", adminID, "error", err)
		statusID = ""
	}

	for i, userID := range recipients {
		if i > 0 {
			b.sleep(sendDelay)
		}
		if _, err := b.transport.SendMessage(ctx, userID, message); err != nil {
			report.Failed++
			b.logger.Warn("broadcast send failed", "user", userID, "error", err)
			continue
		}
		report.Sent++
		if statusID != "" && report.Sent%progressEvery == 0 {
			update := fmt.Sprintf("Broadcasting: %d/%d delivered...", report.Sent, len(recipients))
			if err := b.transport.EditMessage(ctx, adminID, statusID, update); err != nil {
				b.logger.Warn("broadcast progress edit failed", "admin", adminID, "error", err)
			}
		}
	}

	summary := fmt.Sprintf("Broadcast finished: %d delivered, %d failed.", report.Sent, report.Failed)
	if statusID != "" {
		if err := b.transport.EditMessage(ctx, adminID, statusID, summary); err != nil {
			b.logger.Warn("broadcast summary edit failed", "admin", adminID, "error", err)
		}
	} else if _, err := b.transport.SendMessage(ctx, adminID, summary); err != nil {
		b.logger.Warn("broadcast summary send failed", "admin", adminID, "error", err)
	}
	b.metrics.ObserveBroadcast(report.Sent, report.Failed)
	return report
}

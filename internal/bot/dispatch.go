package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mediafetch/internal/extract"
	"mediafetch/internal/models"
	"mediafetch/internal/observability/metrics"
	"mediafetch/internal/session"
	"mediafetch/internal/storage"
)

type Config struct {
	Store     storage.Repository
	Transport Transport
	Processor *session.Processor
	Queue     session.Queue
	AdminIDs  []string
	QueueSize int
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

const defaultCommandQueueSize = 256

// Bot owns all store mutation on a single goroutine. Inbound commands and
// session events funnel through Run; worker contexts only ever reach the bot
// through the event queue.
type Bot struct {
	store       storage.Repository
	transport   Transport
	processor   *session.Processor
	queue       session.Queue
	broadcaster *Broadcaster
	admins      map[string]struct{}
	metrics     *metrics.Recorder
	logger      *slog.Logger
	now         func() time.Time

	commands chan Command

	// Dispatch-goroutine state. Preferences are deliberately ephemeral;
	// they reset with the process.
	prefs map[string]preference
	views map[string]progressView
}

type preference struct {
	Mode    extract.Mode
	Quality string
}

// progressView ties a running session to the status message being edited.
type progressView struct {
	userID    string
	messageID string
}

func New(cfg Config) *Bot {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultCommandQueueSize
	}
	admins := make(map[string]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		if id != "" {
			admins[id] = struct{}{}
		}
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	broadcaster := NewBroadcaster(cfg.Store, cfg.Transport, logger)
	broadcaster.metrics = recorder
	return &Bot{
		store:       cfg.Store,
		transport:   cfg.Transport,
		processor:   cfg.Processor,
		queue:       cfg.Queue,
		broadcaster: broadcaster,
		admins:      admins,
		metrics:     recorder,
		logger:      logger,
		now:         time.Now,
		commands:    make(chan Command, queueSize),
		prefs:       make(map[string]preference),
		views:       make(map[string]progressView),
	}
}

// Submit enqueues an inbound command for the dispatch loop.
func (b *Bot) Submit(ctx context.Context, cmd Command) error {
	select {
	case b.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains commands and session events until the context ends. It is the
// only goroutine that mutates the store.
func (b *Bot) Run(ctx context.Context) error {
	sub := b.queue.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-b.commands:
			b.dispatchCommand(ctx, cmd)
		case event, ok := <-sub.Events():
			if !ok {
				return errors.New("session event stream closed")
			}
			b.dispatchEvent(ctx, event)
		}
	}
}

func (b *Bot) isAdmin(userID string) bool {
	_, ok := b.admins[userID]
	return ok
}

// dispatchCommand runs one handler with panic isolation. A broken handler
// costs one generic reply, never the process.
func (b *Bot) dispatchCommand(ctx context.Context, cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("command handler panicked", "command", cmd.Name, "user", cmd.UserID, "panic", r)
			b.reply(ctx, cmd.UserID, "Something went wrong handling that command. Please try again.")
		}
	}()

	b.metrics.ObserveCommand(cmd.Name)

	if record, banned := b.store.IsBanned(cmd.UserID); banned && !b.isAdmin(cmd.UserID) {
		reason := record.Reason
		if reason == "" {
			reason = "no reason given"
		}
		b.reply(ctx, cmd.UserID, fmt.Sprintf("You are banned from this bot (%s).", reason))
		return
	}

	if flag := b.store.Maintenance(); flag.Enabled && !b.isAdmin(cmd.UserID) {
		message := flag.Message
		if message == "" {
			message = "The bot is under maintenance. Please try again later."
		}
		b.reply(ctx, cmd.UserID, message)
		return
	}

	switch cmd.Name {
	case "start":
		b.handleStart(ctx, cmd)
	case "help":
		b.handleHelp(ctx, cmd)
	case "profile":
		b.handleProfile(ctx, cmd)
	case "referral":
		b.handleReferral(ctx, cmd)
	case "claim":
		b.handleClaim(ctx, cmd)
	case "redeem":
		b.handleRedeem(ctx, cmd)
	case "feedback":
		b.handleFeedback(ctx, cmd)
	case "settings":
		b.handleSettings(ctx, cmd)
	case "download":
		b.handleDownload(ctx, cmd)
	case "cancel":
		b.handleCancel(ctx, cmd)
	case "ban", "unban", "userinfo", "broadcast", "gencode", "maintenance", "respond", "listfeedback", "stats":
		b.handleAdmin(ctx, cmd)
	default:
		b.reply(ctx, cmd.UserID, "Unknown command. Send help for the list of commands.")
	}
}

func (b *Bot) dispatchEvent(ctx context.Context, event session.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "session", event.Session.ID, "type", event.Type, "panic", r)
		}
	}()

	switch event.Type {
	case session.EventStatus, session.EventProgress:
		b.renderProgress(ctx, event)
	case session.EventCompleted:
		b.finishCompleted(ctx, event)
	case session.EventFailed:
		b.finishFailed(ctx, event)
	case session.EventCancelled:
		b.finishCancelled(ctx, event)
	default:
		b.logger.Warn("unknown session event", "type", event.Type)
	}
}

func (b *Bot) renderProgress(ctx context.Context, event session.Event) {
	view, ok := b.views[event.Session.ID]
	if !ok {
		return
	}
	text := statusLine(event)
	if err := b.transport.EditMessage(ctx, view.userID, view.messageID, text); err != nil {
		b.logger.Warn("progress edit failed", "session", event.Session.ID, "error", err)
	}
}

// finishCompleted delivers the artifact and only then charges quota and
// records history. Failed and cancelled sessions never reach this path, so
// they never consume quota.
func (b *Bot) finishCompleted(ctx context.Context, event session.Event) {
	sess := event.Session
	defer delete(b.views, sess.ID)
	b.metrics.DownloadFinished("completed")

	caption := event.Result.Title
	if caption == "" {
		caption = sess.URL
	}
	if err := b.transport.SendFile(ctx, sess.UserID, event.Result.FilePath, caption); err != nil {
		b.logger.Error("file delivery failed", "session", sess.ID, "error", err)
		b.editOrSend(ctx, sess.ID, sess.UserID, "Download finished but the file could not be delivered. Please try again.")
		return
	}

	user, err := b.store.RecordDownload(sess.UserID, models.DownloadRecord{
		URL:         sess.URL,
		Title:       event.Result.Title,
		Mode:        string(sess.Mode),
		Quality:     sess.Quality,
		SizeBytes:   event.Result.SizeBytes,
		CompletedAt: b.now().UTC(),
	})
	if err != nil {
		b.logger.Error("record download failed", "session", sess.ID, "user", sess.UserID, "error", err)
		b.editOrSend(ctx, sess.ID, sess.UserID, "Done! (Your usage stats could not be updated.)")
		return
	}
	b.editOrSend(ctx, sess.ID, sess.UserID, fmt.Sprintf("Done! Downloads used today: %s.", usageLine(user)))
}

func (b *Bot) finishFailed(ctx context.Context, event session.Event) {
	defer delete(b.views, event.Session.ID)
	b.metrics.DownloadFinished("failed")
	reason := event.Error
	if reason == "" {
		reason = "unknown error"
	}
	b.editOrSend(ctx, event.Session.ID, event.Session.UserID, fmt.Sprintf("Download failed: %s. Your quota was not charged.", reason))
}

func (b *Bot) finishCancelled(ctx context.Context, event session.Event) {
	defer delete(b.views, event.Session.ID)
	b.metrics.DownloadFinished("cancelled")
	b.editOrSend(ctx, event.Session.ID, event.Session.UserID, "Download cancelled.")
}

// editOrSend prefers updating the session's status message, falling back to
// a fresh message when no view survives.
func (b *Bot) editOrSend(ctx context.Context, sessionID, userID, text string) {
	if view, ok := b.views[sessionID]; ok {
		if err := b.transport.EditMessage(ctx, view.userID, view.messageID, text); err == nil {
			return
		}
	}
	b.reply(ctx, userID, text)
}

func (b *Bot) reply(ctx context.Context, userID, text string) {
	if _, err := b.transport.SendMessage(ctx, userID, text); err != nil {
		b.logger.Warn("reply failed", "user", userID, "error", err)
	}
}

func statusLine(event session.Event) string {
	switch event.Session.Status {
	case session.StatusFetching:
		if event.Percent > 0 {
			return fmt.Sprintf("Downloading... %.1f%%", event.Percent)
		}
		return "Downloading..."
	case session.StatusConverting:
		return "Converting..."
	case session.StatusUploading:
		return "Uploading..."
	default:
		return fmt.Sprintf("Status: %s", event.Session.Status)
	}
}

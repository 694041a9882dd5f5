package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	"mediafetch/internal/extract"
	"mediafetch/internal/models"
	"mediafetch/internal/session"
	"mediafetch/internal/storage"
)

type instantResolver struct {
	result extract.Result
	err    error
}

func (r *instantResolver) Resolve(ctx context.Context, req extract.Request, progress extract.ProgressFunc) (extract.Result, error) {
	if r.err != nil {
		return extract.Result{}, r.err
	}
	progress(extract.Progress{Phase: extract.PhaseFetching, BytesDone: 1, BytesTotal: 2})
	progress(extract.Progress{Phase: extract.PhaseUploading, BytesDone: 2, BytesTotal: 2})
	return r.result, nil
}

func newTestBot(t *testing.T, resolver extract.Resolver) (*Bot, *fakeTransport, storage.Repository) {
	t.Helper()
	store, err := storage.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	if resolver == nil {
		resolver = extract.NoopResolver{}
	}
	transport := &fakeTransport{}
	queue := session.NewMemoryQueue(64)
	processor := session.NewProcessor(session.ProcessorConfig{
		Resolver: resolver,
		Queue:    queue,
	})
	processor.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		processor.Shutdown(ctx)
	})
	bot := New(Config{
		Store:     store,
		Transport: transport,
		Processor: processor,
		Queue:     queue,
		AdminIDs:  []string{"admin"},
	})
	return bot, transport, store
}

func lastMessageTo(t *testing.T, transport *fakeTransport, userID string) string {
	t.Helper()
	texts := transport.sentTo(userID)
	if len(texts) == 0 {
		t.Fatalf("no message sent to %s", userID)
	}
	return texts[len(texts)-1]
}

func TestStartRegistersUser(t *testing.T) {
	bot, transport, store := newTestBot(t, nil)
	bot.dispatchCommand(context.Background(), Command{UserID: "u1", DisplayName: "Nadia", Name: "start"})

	user, ok := store.GetUser("u1")
	if !ok {
		t.Fatal("user was not created")
	}
	if user.Tier != models.TierFree {
		t.Fatalf("tier = %s, want %s", user.Tier, models.TierFree)
	}
	if msg := lastMessageTo(t, transport, "u1"); !strings.Contains(msg, "Welcome, Nadia") {
		t.Fatalf("welcome message = %q", msg)
	}
}

func TestStartWithReferralCodeNotifiesReferrer(t *testing.T) {
	bot, transport, store := newTestBot(t, nil)
	if _, err := store.EnsureUser("ref", "Referrer"); err != nil {
		t.Fatalf("ensure referrer: %v", err)
	}
	referrer, err := store.EnsureReferralCode("ref")
	if err != nil {
		t.Fatalf("referral code: %v", err)
	}

	bot.dispatchCommand(context.Background(), Command{
		UserID: "new", DisplayName: "Newcomer", Name: "start", Args: []string{referrer.ReferralCode},
	})

	updated, _ := store.GetUser("ref")
	if len(updated.Referrals) != 1 || updated.Referrals[0] != "new" {
		t.Fatalf("referrals = %v", updated.Referrals)
	}
	if msg := lastMessageTo(t, transport, "ref"); !strings.Contains(msg, "1 referral") {
		t.Fatalf("referrer notification = %q", msg)
	}
	if _, ok := store.GetUser("new"); !ok {
		t.Fatal("new user was not registered")
	}
}

func TestStartWithOwnCodeIsRejected(t *testing.T) {
	bot, transport, store := newTestBot(t, nil)
	if _, err := store.EnsureUser("u1", "Solo"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	user, err := store.EnsureReferralCode("u1")
	if err != nil {
		t.Fatalf("referral code: %v", err)
	}

	bot.dispatchCommand(context.Background(), Command{
		UserID: "u1", DisplayName: "Solo", Name: "start", Args: []string{user.ReferralCode},
	})
	found := false
	for _, msg := range transport.sentTo("u1") {
		if strings.Contains(msg, "your own referral code") {
			found = true
		}
	}
	if !found {
		t.Fatalf("self-referral rejection missing: %v", transport.sentTo("u1"))
	}
}

func TestMaintenanceBlocksNonAdmins(t *testing.T) {
	bot, transport, store := newTestBot(t, nil)
	if err := store.SetMaintenance(models.MaintenanceFlag{Enabled: true, Message: "Back soon."}); err != nil {
		t.Fatalf("set maintenance: %v", err)
	}

	bot.dispatchCommand(context.Background(), Command{UserID: "u1", DisplayName: "User", Name: "profile"})
	if msg := lastMessageTo(t, transport, "u1"); msg != "Back soon." {
		t.Fatalf("maintenance reply = %q", msg)
	}

	// Admins pass through.
	bot.dispatchCommand(context.Background(), Command{UserID: "admin", Name: "stats"})
	if msg := lastMessageTo(t, transport, "admin"); !strings.Contains(msg, "Users:") {
		t.Fatalf("admin stats during maintenance = %q", msg)
	}
}

func TestBannedUserIsRejectedEarly(t *testing.T) {
	bot, transport, store := newTestBot(t, nil)
	if _, err := store.EnsureUser("u1", "Troll"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if _, err := store.BanUser("u1", "admin", "spam"); err != nil {
		t.Fatalf("ban: %v", err)
	}

	bot.dispatchCommand(context.Background(), Command{UserID: "u1", Name: "download", Args: []string{"https://example.com/x"}})
	if msg := lastMessageTo(t, transport, "u1"); !strings.Contains(msg, "banned") {
		t.Fatalf("ban reply = %q", msg)
	}
	if user, _ := store.GetUser("u1"); user.DownloadsToday != 0 {
		t.Fatalf("banned user consumed quota: %d", user.DownloadsToday)
	}
}

func TestDownloadLifecycleChargesQuotaOnCompletion(t *testing.T) {
	resolver := &instantResolver{result: extract.Result{FilePath: "/tmp/song.mp3", Title: "Song", SizeBytes: 2}}
	bot, transport, store := newTestBot(t, resolver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		bot.Run(ctx)
	}()

	if err := bot.Submit(ctx, Command{UserID: "u1", DisplayName: "User", Name: "start"}); err != nil {
		t.Fatalf("submit start: %v", err)
	}
	if err := bot.Submit(ctx, Command{UserID: "u1", Name: "download", Args: []string{"https://example.com/song"}}); err != nil {
		t.Fatalf("submit download: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		user, _ := store.GetUser("u1")
		if user.TotalDownloads == 1 {
			if user.DownloadsToday != 1 {
				t.Fatalf("downloads today = %d, want 1", user.DownloadsToday)
			}
			if len(user.DownloadHistory) != 1 || user.DownloadHistory[0].Title != "Song" {
				t.Fatalf("history = %+v", user.DownloadHistory)
			}
			break
		}
		select {
		case <-deadline:
			t.Fatalf("download never completed; messages: %v", transport.sent())
		case <-time.After(10 * time.Millisecond):
		}
	}

	transport.mu.Lock()
	files := append([]sentFile(nil), transport.files...)
	transport.mu.Unlock()
	if len(files) != 1 || files[0].FilePath != "/tmp/song.mp3" {
		t.Fatalf("delivered files = %+v", files)
	}

	cancel()
	<-done
}

func TestFailedDownloadLeavesQuotaUncharged(t *testing.T) {
	resolver := &instantResolver{err: context.DeadlineExceeded}
	bot, transport, store := newTestBot(t, resolver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bot.Run(ctx)

	if err := bot.Submit(ctx, Command{UserID: "u1", DisplayName: "User", Name: "start"}); err != nil {
		t.Fatalf("submit start: %v", err)
	}
	if err := bot.Submit(ctx, Command{UserID: "u1", Name: "download", Args: []string{"https://example.com/x"}}); err != nil {
		t.Fatalf("submit download: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		failed := false
		for _, msg := range transport.edited() {
			if strings.Contains(msg.Text, "Download failed") && strings.Contains(msg.Text, "not charged") {
				failed = true
			}
		}
		for _, msg := range transport.sentTo("u1") {
			if strings.Contains(msg, "Download failed") {
				failed = true
			}
		}
		if failed {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("failure never reported; sent=%v edits=%v", transport.sent(), transport.edited())
		case <-time.After(10 * time.Millisecond):
		}
	}

	user, _ := store.GetUser("u1")
	if user.DownloadsToday != 0 || user.TotalDownloads != 0 {
		t.Fatalf("failed download charged quota: %+v", user)
	}
}

func TestDownloadQuotaExhaustion(t *testing.T) {
	bot, transport, store := newTestBot(t, nil)
	if _, err := store.EnsureUser("u1", "User"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := store.RecordDownload("u1", models.DownloadRecord{URL: "https://example.com", CompletedAt: time.Now()}); err != nil {
			t.Fatalf("seed download: %v", err)
		}
	}

	bot.dispatchCommand(context.Background(), Command{UserID: "u1", Name: "download", Args: []string{"https://example.com/x"}})
	if msg := lastMessageTo(t, transport, "u1"); !strings.Contains(msg, "Daily limit reached") {
		t.Fatalf("quota reply = %q", msg)
	}
}

func TestCancelWithoutActiveDownload(t *testing.T) {
	bot, transport, _ := newTestBot(t, nil)
	bot.dispatchCommand(context.Background(), Command{UserID: "u1", DisplayName: "User", Name: "cancel"})
	if msg := lastMessageTo(t, transport, "u1"); !strings.Contains(msg, "no running download") {
		t.Fatalf("cancel reply = %q", msg)
	}
}

func TestUnknownCommand(t *testing.T) {
	bot, transport, _ := newTestBot(t, nil)
	bot.dispatchCommand(context.Background(), Command{UserID: "u1", Name: "frobnicate"})
	if msg := lastMessageTo(t, transport, "u1"); !strings.Contains(msg, "Unknown command") {
		t.Fatalf("reply = %q", msg)
	}
}

func TestAdminCommandsRejectNonAdmins(t *testing.T) {
	bot, transport, _ := newTestBot(t, nil)
	bot.dispatchCommand(context.Background(), Command{UserID: "u1", Name: "gencode", Args: []string{"GOLD"}})
	if msg := lastMessageTo(t, transport, "u1"); !strings.Contains(msg, "Unknown command") {
		t.Fatalf("non-admin gencode reply = %q", msg)
	}
}

func TestGencodeAndRedeemRoundTrip(t *testing.T) {
	bot, transport, store := newTestBot(t, nil)
	bot.dispatchCommand(context.Background(), Command{UserID: "admin", Name: "gencode", Args: []string{"silver", "1"}})

	reply := lastMessageTo(t, transport, "admin")
	lines := strings.Split(reply, "\n")
	if len(lines) != 2 {
		t.Fatalf("gencode reply = %q", reply)
	}
	code := strings.TrimSpace(lines[1])

	bot.dispatchCommand(context.Background(), Command{UserID: "u1", DisplayName: "User", Name: "redeem", Args: []string{code}})
	if msg := lastMessageTo(t, transport, "u1"); !strings.Contains(msg, "SILVER") {
		t.Fatalf("redeem reply = %q", msg)
	}
	user, _ := store.GetUser("u1")
	if user.Tier != models.TierSilver {
		t.Fatalf("tier = %s, want %s", user.Tier, models.TierSilver)
	}

	// Same code again is single-use.
	bot.dispatchCommand(context.Background(), Command{UserID: "u2", DisplayName: "Other", Name: "redeem", Args: []string{code}})
	if msg := lastMessageTo(t, transport, "u2"); !strings.Contains(msg, "already been used") {
		t.Fatalf("replay reply = %q", msg)
	}
}

func TestSettingsClampAndDownloadQuality(t *testing.T) {
	bot, transport, _ := newTestBot(t, nil)
	bot.dispatchCommand(context.Background(), Command{UserID: "u1", DisplayName: "User", Name: "start"})

	// FREE tier cannot pick 1080p.
	bot.dispatchCommand(context.Background(), Command{UserID: "u1", Name: "settings", Args: []string{"video", "1080p"}})
	if msg := lastMessageTo(t, transport, "u1"); !strings.Contains(msg, "not available") {
		t.Fatalf("settings reply = %q", msg)
	}

	bot.dispatchCommand(context.Background(), Command{UserID: "u1", Name: "settings", Args: []string{"video", "360p"}})
	if msg := lastMessageTo(t, transport, "u1"); !strings.Contains(msg, "video at 360p") {
		t.Fatalf("settings reply = %q", msg)
	}
	if pref := bot.preferenceFor("u1"); pref.Mode != extract.ModeVideo || pref.Quality != "360p" {
		t.Fatalf("preference = %+v", pref)
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	bot, transport, _ := newTestBot(t, nil)
	bot.store = nil // force a nil-pointer panic inside the handler path

	bot.dispatchCommand(context.Background(), Command{UserID: "u1", Name: "profile"})
	if msg := lastMessageTo(t, transport, "u1"); !strings.Contains(msg, "Something went wrong") {
		t.Fatalf("panic reply = %q", msg)
	}
}

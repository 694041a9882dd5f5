package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"mediafetch/internal/models"
	"mediafetch/internal/storage"
)

type sentMessage struct {
	UserID string
	Text   string
}

type sentFile struct {
	UserID   string
	FilePath string
	Caption  string
}

// fakeTransport records everything sent through it. failSend, when set, is
// consulted per send with the 1-based call number.
type fakeTransport struct {
	mu       sync.Mutex
	messages []sentMessage
	edits    []sentMessage
	files    []sentFile
	failSend func(call int, userID string) error
	calls    int
}

func (f *fakeTransport) SendMessage(ctx context.Context, userID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failSend != nil {
		if err := f.failSend(f.calls, userID); err != nil {
			return "", err
		}
	}
	f.messages = append(f.messages, sentMessage{UserID: userID, Text: text})
	return fmt.Sprintf("msg-%d", len(f.messages)), nil
}

func (f *fakeTransport) EditMessage(ctx context.Context, userID, messageID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, sentMessage{UserID: userID, Text: text})
	return nil
}

func (f *fakeTransport) SendFile(ctx context.Context, userID, filePath, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, sentFile{UserID: userID, FilePath: filePath, Caption: caption})
	return nil
}

func (f *fakeTransport) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.messages...)
}

func (f *fakeTransport) edited() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.edits...)
}

func (f *fakeTransport) sentTo(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var texts []string
	for _, msg := range f.messages {
		if msg.UserID == userID {
			texts = append(texts, msg.Text)
		}
	}
	return texts
}

func newBroadcastStore(t *testing.T) storage.Repository {
	t.Helper()
	store, err := storage.NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	return store
}

func TestBroadcastAccounting(t *testing.T) {
	transport := &fakeTransport{
		failSend: func(call int, userID string) error {
			// Call 1 is the admin status message; calls 2-4 are the
			// audience. The second recipient fails.
			if call == 3 {
				return errors.New("recipient blocked the bot")
			}
			return nil
		},
	}
	broadcaster := NewBroadcaster(newBroadcastStore(t), transport, nil)
	broadcaster.sleep = func(time.Duration) {}

	report := broadcaster.Dispatch(context.Background(), "admin", []string{"u1", "u2", "u3"}, "hello")
	if report.Sent != 2 || report.Failed != 1 {
		t.Fatalf("report = %+v, want Sent=2 Failed=1", report)
	}
	if report.Sent+report.Failed != report.Audience {
		t.Fatalf("accounting broken: %d+%d != %d", report.Sent, report.Failed, report.Audience)
	}

	edits := transport.edited()
	if len(edits) == 0 {
		t.Fatal("no final summary edit")
	}
	final := edits[len(edits)-1]
	if final.UserID != "admin" || !strings.Contains(final.Text, "2 delivered, 1 failed") {
		t.Fatalf("summary = %+v", final)
	}
}

func TestBroadcastProgressEveryTenSends(t *testing.T) {
	transport := &fakeTransport{}
	broadcaster := NewBroadcaster(newBroadcastStore(t), transport, nil)
	var slept int
	broadcaster.sleep = func(time.Duration) { slept++ }

	recipients := make([]string, 25)
	for i := range recipients {
		recipients[i] = fmt.Sprintf("u%d", i)
	}
	report := broadcaster.Dispatch(context.Background(), "admin", recipients, "hello")
	if report.Sent != 25 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}
	if slept != 24 {
		t.Fatalf("slept %d times, want 24 (between sends only)", slept)
	}

	var progress int
	for _, edit := range transport.edited() {
		if strings.Contains(edit.Text, "delivered...") {
			progress++
		}
	}
	if progress != 2 {
		t.Fatalf("progress edits = %d, want 2 (after 10 and 20 sends)", progress)
	}
}

func TestSelectAudience(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-30 * 24 * time.Hour)
	store, err := storage.NewStorage(t.TempDir(), storage.WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	// stale free user, created a month ago
	if _, err := store.EnsureUser("stale-free", "Stale"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	// recent users
	clock = now.Add(-time.Hour)
	for _, id := range []string{"fresh-free", "fresh-gold"} {
		if _, err := store.EnsureUser(id, id); err != nil {
			t.Fatalf("ensure user: %v", err)
		}
	}
	if _, err := store.SetUserTier("fresh-gold", models.TierGold); err != nil {
		t.Fatalf("set tier: %v", err)
	}

	broadcaster := NewBroadcaster(store, &fakeTransport{}, nil)
	broadcaster.now = func() time.Time { return now }

	cases := []struct {
		kind Audience
		want map[string]bool
	}{
		{AudienceAll, map[string]bool{"stale-free": true, "fresh-free": true, "fresh-gold": true}},
		{AudiencePremium, map[string]bool{"fresh-gold": true}},
		{AudienceFree, map[string]bool{"stale-free": true, "fresh-free": true}},
		{AudienceActive, map[string]bool{"fresh-free": true, "fresh-gold": true}},
	}
	for _, tc := range cases {
		ids := broadcaster.SelectAudience(tc.kind)
		if len(ids) != len(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.kind, ids, tc.want)
			continue
		}
		for _, id := range ids {
			if !tc.want[id] {
				t.Errorf("%s: unexpected member %s", tc.kind, id)
			}
		}
	}
}

func TestParseAudienceRejectsUnknownKinds(t *testing.T) {
	if _, err := ParseAudience("everyone"); err == nil {
		t.Fatal("parse of unknown audience succeeded")
	}
	if kind, err := ParseAudience("active"); err != nil || kind != AudienceActive {
		t.Fatalf("parse active = %v, %v", kind, err)
	}
}

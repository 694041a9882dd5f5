package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"mediafetch/internal/models"
)

func TestEnsureUserCreatesAndTouches(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store, clock := newClockStore(t, start)

	user, err := store.EnsureUser("u1", "Pat")
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if user.Tier != models.TierFree {
		t.Fatalf("new user tier = %s, want FREE", user.Tier)
	}
	if !user.LastActive.Equal(start) {
		t.Fatalf("lastActive = %v, want %v", user.LastActive, start)
	}

	clock.now = start.Add(2 * time.Hour)
	user, err = store.EnsureUser("u1", "Pat Updated")
	if err != nil {
		t.Fatalf("EnsureUser second call: %v", err)
	}
	if user.DisplayName != "Pat Updated" {
		t.Fatalf("displayName = %q, want refresh", user.DisplayName)
	}
	if !user.LastActive.Equal(clock.now) {
		t.Fatalf("lastActive not refreshed: %v", user.LastActive)
	}
	if got := len(store.ListUsers()); got != 1 {
		t.Fatalf("user count = %d, want 1", got)
	}
}

func TestAuthorizeDownloadResetsAcrossMidnight(t *testing.T) {
	// A FREE user exhausted on 2024-01-01 must be reset and allowed on
	// 2024-01-02.
	day1 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store, clock := newClockStore(t, day1)

	if _, err := store.EnsureUser("u1", "Pat"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := store.RecordDownload("u1", models.DownloadRecord{URL: "https://example.com/a", CompletedAt: clock.now}); err != nil {
			t.Fatalf("RecordDownload %d: %v", i, err)
		}
	}
	if _, err := store.AuthorizeDownload("u1"); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("same-day authorize error = %v, want ErrQuotaExceeded", err)
	}

	clock.now = time.Date(2024, 1, 2, 0, 1, 0, 0, time.UTC)
	user, err := store.AuthorizeDownload("u1")
	if err != nil {
		t.Fatalf("next-day authorize: %v", err)
	}
	if user.DownloadsToday != 0 {
		t.Fatalf("downloadsToday after reset = %d, want 0", user.DownloadsToday)
	}
	if user.TotalDownloads != 2 {
		t.Fatalf("totalDownloads = %d, want 2 (reset must not touch it)", user.TotalDownloads)
	}

	// The reset must have been persisted, not just observed.
	stored, _ := store.GetUser("u1")
	if stored.DownloadsToday != 0 {
		t.Fatalf("persisted downloadsToday = %d, want 0", stored.DownloadsToday)
	}
}

func TestAuthorizeDownloadUnknownUser(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.AuthorizeDownload("ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("error = %v, want ErrUserNotFound", err)
	}
}

func TestRecordDownloadBoundsHistory(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store, clock := newClockStore(t, start)
	if _, err := store.EnsureUser("u1", "Pat"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	total := models.DownloadHistoryLimit + 7
	for i := 0; i < total; i++ {
		clock.now = start.Add(time.Duration(i) * time.Minute)
		record := models.DownloadRecord{
			URL:         fmt.Sprintf("https://example.com/%d", i),
			CompletedAt: clock.now,
		}
		if _, err := store.RecordDownload("u1", record); err != nil {
			t.Fatalf("RecordDownload %d: %v", i, err)
		}
	}

	user, _ := store.GetUser("u1")
	if len(user.DownloadHistory) != models.DownloadHistoryLimit {
		t.Fatalf("history length = %d, want %d", len(user.DownloadHistory), models.DownloadHistoryLimit)
	}
	if user.DownloadHistory[0].URL != fmt.Sprintf("https://example.com/%d", total-1) {
		t.Fatalf("history[0] = %s, want newest entry first", user.DownloadHistory[0].URL)
	}
	for i := 1; i < len(user.DownloadHistory); i++ {
		if user.DownloadHistory[i].CompletedAt.After(user.DownloadHistory[i-1].CompletedAt) {
			t.Fatalf("history not ordered newest-first at index %d", i)
		}
	}
	if user.TotalDownloads != total {
		t.Fatalf("totalDownloads = %d, want %d", user.TotalDownloads, total)
	}
}

func TestSetUserTierAdminOverride(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.EnsureUser("u1", "Pat"); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	user, err := store.SetUserTier("u1", models.TierGold)
	if err != nil {
		t.Fatalf("SetUserTier: %v", err)
	}
	if user.Tier != models.TierGold {
		t.Fatalf("tier = %s, want GOLD", user.Tier)
	}
	// Admin action is the one path allowed to lower a tier.
	user, err = store.SetUserTier("u1", models.TierFree)
	if err != nil {
		t.Fatalf("SetUserTier downgrade: %v", err)
	}
	if user.Tier != models.TierFree {
		t.Fatalf("tier = %s, want FREE after admin downgrade", user.Tier)
	}
}

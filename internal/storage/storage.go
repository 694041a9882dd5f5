package storage

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mediafetch/internal/models"
)

const (
	usersFile       = "users.json"
	codesFile       = "codes.json"
	referralsFile   = "referrals.json"
	feedbackFile    = "feedback.json"
	maintenanceFile = "maintenance.json"
	bannedFile      = "banned.json"
)

// documents is the full set of persisted collections. Each collection is
// rewritten wholesale on every mutation; the last successful write wins.
type documents struct {
	Users       map[string]models.User       `json:"users"`
	Codes       map[string]models.RedeemCode `json:"codes"`
	Referrals   map[string]string            `json:"referrals"`
	Feedback    map[string]models.Feedback   `json:"feedback"`
	Maintenance models.MaintenanceFlag       `json:"maintenance"`
	Banned      map[string]models.BanRecord  `json:"banned"`
}

func newDocuments() documents {
	return documents{
		Users:     make(map[string]models.User),
		Codes:     make(map[string]models.RedeemCode),
		Referrals: make(map[string]string),
		Feedback:  make(map[string]models.Feedback),
		Banned:    make(map[string]models.BanRecord),
	}
}

// backend abstracts where the documents live: JSON files on disk or rows in
// Postgres. Domain invariants stay in Storage regardless of the driver.
type backend interface {
	load() (documents, error)
	save(documents) error
	ping(ctx context.Context) error
	close(ctx context.Context) error
}

// Storage keeps every document in memory and funnels all mutation through a
// single write lock. Mutating operations clone the document set, persist the
// clone, and only then commit it, so a failed write leaves memory untouched.
type Storage struct {
	mu      sync.RWMutex
	backend backend
	data    documents
	logger  *slog.Logger
	now     func() time.Time
	// persistOverride allows tests to intercept persist operations.
	persistOverride func(documents) error
}

// Option mutates storage configuration.
type Option func(*Storage)

// WithLogger installs a logger for non-fatal storage events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source, primarily for quota-reset tests.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStorage loads (or initialises) the JSON document set rooted at dataDir.
// Missing or empty files yield empty defaults; files that exist but fail to
// decode abort startup rather than silently discarding state.
func NewStorage(dataDir string, opts ...Option) (*Storage, error) {
	return newStorage(&fileBackend{dataDir: dataDir}, opts...)
}

func newStorage(be backend, opts ...Option) (*Storage, error) {
	store := &Storage{
		backend: be,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	data, err := be.load()
	if err != nil {
		return nil, err
	}
	store.data = data
	store.ensureDocumentsInitializedLocked()
	return store, nil
}

func (s *Storage) ensureDocumentsInitializedLocked() {
	if s.data.Users == nil {
		s.data.Users = make(map[string]models.User)
	}
	if s.data.Codes == nil {
		s.data.Codes = make(map[string]models.RedeemCode)
	}
	if s.data.Referrals == nil {
		s.data.Referrals = make(map[string]string)
	}
	if s.data.Feedback == nil {
		s.data.Feedback = make(map[string]models.Feedback)
	}
	if s.data.Banned == nil {
		s.data.Banned = make(map[string]models.BanRecord)
	}
}

func (s *Storage) persistDocuments(data documents) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}
	return s.backend.save(data)
}

// Ping reports whether the backing store remains reachable and writable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.backend.ping(ctx)
}

// Close releases backend resources.
func (s *Storage) Close(ctx context.Context) error {
	return s.backend.close(ctx)
}

// fileBackend stores one JSON file per document under a data directory.
type fileBackend struct {
	dataDir string
}

func (b *fileBackend) load() (documents, error) {
	if err := os.MkdirAll(b.dataDir, 0o755); err != nil {
		return documents{}, fmt.Errorf("create data dir: %w", err)
	}

	data := newDocuments()
	if err := readDocument(filepath.Join(b.dataDir, usersFile), &data.Users); err != nil {
		return documents{}, err
	}
	if err := readDocument(filepath.Join(b.dataDir, codesFile), &data.Codes); err != nil {
		return documents{}, err
	}
	if err := readDocument(filepath.Join(b.dataDir, referralsFile), &data.Referrals); err != nil {
		return documents{}, err
	}
	if err := readDocument(filepath.Join(b.dataDir, feedbackFile), &data.Feedback); err != nil {
		return documents{}, err
	}
	if err := readDocument(filepath.Join(b.dataDir, maintenanceFile), &data.Maintenance); err != nil {
		return documents{}, err
	}
	if err := readDocument(filepath.Join(b.dataDir, bannedFile), &data.Banned); err != nil {
		return documents{}, err
	}
	return data, nil
}

func (b *fileBackend) save(data documents) error {
	if err := os.MkdirAll(b.dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	if err := writeDocument(filepath.Join(b.dataDir, usersFile), data.Users); err != nil {
		return err
	}
	if err := writeDocument(filepath.Join(b.dataDir, codesFile), data.Codes); err != nil {
		return err
	}
	if err := writeDocument(filepath.Join(b.dataDir, referralsFile), data.Referrals); err != nil {
		return err
	}
	if err := writeDocument(filepath.Join(b.dataDir, feedbackFile), data.Feedback); err != nil {
		return err
	}
	if err := writeDocument(filepath.Join(b.dataDir, maintenanceFile), data.Maintenance); err != nil {
		return err
	}
	return writeDocument(filepath.Join(b.dataDir, bannedFile), data.Banned)
}

func (b *fileBackend) ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := os.CreateTemp(b.dataDir, "ping-*")
	if err != nil {
		return fmt.Errorf("storage ping: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

func (b *fileBackend) close(ctx context.Context) error {
	return nil
}

func readDocument(path string, target any) error {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeDocument(path string, value any) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "doc-*.json")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush %s: %w", filepath.Base(path), err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp document: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	success = true
	return nil
}

func cloneDocuments(src documents) documents {
	clone := documents{Maintenance: src.Maintenance}

	if src.Users != nil {
		clone.Users = make(map[string]models.User, len(src.Users))
		for id, user := range src.Users {
			clone.Users[id] = cloneUser(user)
		}
	}
	if src.Codes != nil {
		clone.Codes = make(map[string]models.RedeemCode, len(src.Codes))
		for code, record := range src.Codes {
			cloned := record
			if record.UsedAt != nil {
				usedAt := *record.UsedAt
				cloned.UsedAt = &usedAt
			}
			clone.Codes[code] = cloned
		}
	}
	if src.Referrals != nil {
		clone.Referrals = make(map[string]string, len(src.Referrals))
		for referee, referrer := range src.Referrals {
			clone.Referrals[referee] = referrer
		}
	}
	if src.Feedback != nil {
		clone.Feedback = make(map[string]models.Feedback, len(src.Feedback))
		for id, entry := range src.Feedback {
			cloned := entry
			if entry.RespondedAt != nil {
				respondedAt := *entry.RespondedAt
				cloned.RespondedAt = &respondedAt
			}
			clone.Feedback[id] = cloned
		}
	}
	if src.Banned != nil {
		clone.Banned = make(map[string]models.BanRecord, len(src.Banned))
		for id, record := range src.Banned {
			clone.Banned[id] = record
		}
	}
	return clone
}

func cloneUser(user models.User) models.User {
	cloned := user
	if user.Referrals != nil {
		cloned.Referrals = append([]string(nil), user.Referrals...)
	}
	if user.RewardsClaimed != nil {
		cloned.RewardsClaimed = append([]int(nil), user.RewardsClaimed...)
	}
	if user.DownloadHistory != nil {
		cloned.DownloadHistory = append([]models.DownloadRecord(nil), user.DownloadHistory...)
	}
	return cloned
}

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateToken(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	for i, b := range buf {
		buf[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(buf), nil
}

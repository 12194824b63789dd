package service

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"labdrop/internal/server/database"
	"labdrop/internal/server/docstore"
	"labdrop/internal/server/storage"

	"golang.org/x/crypto/bcrypt"
)

// --- Test fixtures ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	dir       string
	repo      *database.Repository
	blobs     *storage.FileSystemStore
	clock     *fakeClock
	uploaders *UploaderService
	uploads   *UploadService
	sessions  *SessionService
	admins    *AdminService
	importer  *Importer
	settings  *SettingsService
}

var testEpoch = time.Date(2026, 2, 13, 13, 8, 21, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	store, err := docstore.Open(dir)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	repo := database.NewRepository(store)
	if err := repo.Init(); err != nil {
		t.Fatalf("failed to init repository: %v", err)
	}

	blobs := storage.NewFileSystemStore(filepath.Join(dir, "files"))
	if err := blobs.EnsureDir(); err != nil {
		t.Fatalf("failed to create blob dir: %v", err)
	}

	clock := newFakeClock(testEpoch)

	uploaders := NewUploaderService(repo)
	uploaders.now = clock.Now
	uploads := NewUploadService(repo, blobs, uploaders)
	uploads.now = clock.Now
	sessions := NewSessionService(repo, 24*time.Hour)
	sessions.now = clock.Now
	admins := NewAdminService(repo)
	admins.now = clock.Now
	admins.cost = bcrypt.MinCost
	importer := NewImporter(repo)
	importer.now = clock.Now

	return &testEnv{
		dir:       dir,
		repo:      repo,
		blobs:     blobs,
		clock:     clock,
		uploaders: uploaders,
		uploads:   uploads,
		sessions:  sessions,
		admins:    admins,
		importer:  importer,
		settings:  NewSettingsService(repo),
	}
}

func (e *testEnv) updateSettings(t *testing.T, fn func(*database.Settings)) {
	t.Helper()
	err := e.repo.UpdateSettings(func(s *database.Settings) error {
		fn(s)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to update settings: %v", err)
	}
}

func (e *testEnv) uploadsDoc(t *testing.T) *database.UploadsDoc {
	t.Helper()
	doc, err := e.repo.Uploads()
	if err != nil {
		t.Fatalf("failed to read uploads: %v", err)
	}
	return doc
}

func (e *testEnv) createBatch(t *testing.T, uploader string, files ...FileUpload) *database.UploadBatch {
	t.Helper()
	grade := 9
	batch, err := e.uploads.CreateBatch(context.Background(), BatchRequest{
		UploaderName:  uploader,
		UploaderGrade: &grade,
		ClientIP:      "192.168.1.20",
		Files:         files,
	})
	if err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}
	return batch
}

func upload(filename, description, version, content string) FileUpload {
	return FileUpload{
		Filename:    filename,
		Description: description,
		Version:     version,
		Content:     strings.NewReader(content),
	}
}

func intPtr(v int) *int { return &v }

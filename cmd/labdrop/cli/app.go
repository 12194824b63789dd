package cli

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"labdrop/internal/server/api"
	"labdrop/internal/server/config"
	"labdrop/internal/server/database"
	"labdrop/internal/server/docstore"
	"labdrop/internal/server/service"
	"labdrop/internal/server/storage"
)

// app is the wired service graph shared by every command.
type app struct {
	repo *database.Repository
	svc  api.Services
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := docstore.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open data directory: %w", err)
	}

	repo := database.NewRepository(store)
	if err := repo.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize documents: %w", err)
	}

	filesDir := filepath.Join(cfg.DataDir, "files")
	blobs := storage.NewFileSystemStore(filesDir)
	if err := blobs.EnsureDir(); err != nil {
		return nil, fmt.Errorf("failed to initialize file storage: %w", err)
	}
	slog.Info("data directory ready", "path", cfg.DataDir, "files", filesDir)

	uploaders := service.NewUploaderService(repo)

	return &app{
		repo: repo,
		svc: api.Services{
			Uploads:   service.NewUploadService(repo, blobs, uploaders),
			Uploaders: uploaders,
			Sessions:  service.NewSessionService(repo, cfg.SessionTTL()),
			Admins:    service.NewAdminService(repo),
			Settings:  service.NewSettingsService(repo),
			Importer:  service.NewImporter(repo),
		},
	}, nil
}

package service

import (
	"context"
	"log/slog"
	"time"

	"labdrop/internal/server/database"
)

// RetentionSweep soft-deletes every live file whose retention period has
// fully elapsed at now (created_at + retention_days <= now) and removes the
// blobs. Running it twice for the same now deletes nothing the second time.
// It implements storage.Sweeper.
func (s *UploadService) RetentionSweep(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	settings, err := s.repo.Settings()
	if err != nil {
		return 0, storageFailure("read settings", err)
	}
	if settings.RetentionDays <= 0 {
		return 0, nil
	}
	keep := time.Duration(settings.RetentionDays) * 24 * time.Hour
	now = now.UTC()

	var retired, leftovers []database.FileRecord
	err = s.repo.UpdateUploads(func(doc *database.UploadsDoc) error {
		retired = markDeleted(doc, now, func(f *database.FileRecord) bool {
			if f.CreatedAt.IsZero() {
				slog.Warn("retention sweep skipping file without creation time", "file_id", f.ID)
				return false
			}
			return !f.CreatedAt.Add(keep).After(now)
		})

		for _, f := range doc.Files {
			if f.IsDeleted && f.StoredFilename != "" {
				leftovers = append(leftovers, f)
			}
		}
		return nil
	})
	if err != nil {
		return 0, storageFailure("retention sweep", err)
	}

	// Deleted records include the ones just retired, plus any whose blob
	// removal failed on an earlier pass.
	var stale []database.FileRecord
	for _, f := range leftovers {
		if s.blobs.Exists(f.StoredFilename) {
			stale = append(stale, f)
		}
	}
	s.removeBlobs(stale)

	if len(retired) > 0 {
		slog.Info("retention sweep retired files", "count", len(retired), "retention_days", settings.RetentionDays)
	}
	return len(retired), nil
}

package service

import (
	"cmp"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"labdrop/internal/server/archive"
	"labdrop/internal/server/database"
	"labdrop/internal/server/storage"

	"github.com/google/uuid"
)

// FileUpload is one file of a batch submission.
type FileUpload struct {
	Filename    string
	Description string
	Version     string
	MimeType    string
	Content     io.Reader
}

// BatchRequest is a batch submission as received from an uploader.
type BatchRequest struct {
	UploaderName   string
	UploaderGrade  *int
	UploadPassword string
	ClientIP       string
	Files          []FileUpload
}

// FileView is a file as listed to admins.
type FileView struct {
	ID               string     `json:"id"`
	Filename         string     `json:"filename"`
	OriginalFilename string     `json:"original_filename"`
	Description      string     `json:"description"`
	Version          string     `json:"version"`
	SizeBytes        int64      `json:"size_bytes"`
	MimeType         string     `json:"mime_type,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	IsDeleted        bool       `json:"is_deleted"`
	DeletedAt        *time.Time `json:"deleted_at"`
	HasBlob          bool       `json:"has_blob"`
}

// BatchView is a batch with its files, as listed to admins.
type BatchView struct {
	ID           string     `json:"id"`
	UploaderID   string     `json:"uploader_id"`
	UploaderName string     `json:"uploader_name"`
	CreatedAt    time.Time  `json:"created_at"`
	ClientIP     string     `json:"client_ip,omitempty"`
	Files        []FileView `json:"files"`
}

// Download is a resolved download link.
type Download struct {
	FileID   string `json:"file_id"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// UploadService contains the business logic for batches and their files.
type UploadService struct {
	repo      *database.Repository
	blobs     storage.Store
	uploaders *UploaderService
	now       func() time.Time
}

// NewUploadService creates a new upload service.
func NewUploadService(repo *database.Repository, blobs storage.Store, uploaders *UploaderService) *UploadService {
	return &UploadService{
		repo:      repo,
		blobs:     blobs,
		uploaders: uploaders,
		now:       time.Now,
	}
}

// CreateBatch validates and stores a new batch. Blobs are written first and
// the metadata is committed afterwards in one transaction; if anything fails
// the blobs written so far are removed again.
func (s *UploadService) CreateBatch(ctx context.Context, req BatchRequest) (*database.UploadBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	settings, err := s.repo.Settings()
	if err != nil {
		return nil, storageFailure("read settings", err)
	}
	if err := checkUploadAccess(settings, req.UploadPassword); err != nil {
		return nil, err
	}

	if len(req.Files) == 0 {
		return nil, invalid("files", "at least one file is required")
	}
	for i := range req.Files {
		f := &req.Files[i]
		f.Filename = sanitizeFilename(f.Filename)
		f.Description = strings.TrimSpace(f.Description)
		f.Version = strings.TrimSpace(f.Version)

		if f.Content == nil {
			return nil, invalid("files", "no content for %s", f.Filename)
		}
		if f.Description == "" {
			return nil, invalid("description", "description is required for %s", f.Filename)
		}
		if f.Version == "" {
			return nil, invalid("version", "version is required for %s", f.Filename)
		}
		if !settings.ExtensionAllowed(filepath.Ext(f.Filename)) {
			return nil, invalid("files", "file extension not allowed: %s", f.Filename)
		}
	}

	uploader, err := s.uploaders.Resolve(req.UploaderName, req.UploaderGrade, nil)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	batch := database.UploadBatch{
		ID:           uuid.NewString(),
		UploaderID:   uploader.ID,
		UploaderName: uploader.DisplayName,
		CreatedAt:    now,
		ClientIP:     req.ClientIP,
		FileIDs:      make([]string, 0, len(req.Files)),
	}

	records := make([]database.FileRecord, 0, len(req.Files))
	var saved []string
	rollback := func() {
		for _, name := range saved {
			if err := s.blobs.Delete(name); err != nil {
				slog.Error("failed to roll back blob", "blob", name, "error", err)
			}
		}
	}

	limit := settings.MaxFileBytes()
	for _, f := range req.Files {
		blobName := storage.BlobName(f.Filename)
		size, err := s.blobs.Save(blobName, f.Content, limit)
		if err != nil {
			rollback()
			if errors.Is(err, storage.ErrTooLarge) {
				return nil, invalid("files", "file too large: %s (limit %d MB)", f.Filename, settings.MaxFileSizeMB)
			}
			return nil, &StorageError{Op: "store " + f.Filename, Err: err}
		}
		saved = append(saved, blobName)

		mime := f.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		rec := database.FileRecord{
			ID:               uuid.NewString(),
			BatchID:          batch.ID,
			OriginalFilename: f.Filename,
			StoredFilename:   blobName,
			Description:      f.Description,
			Version:          f.Version,
			SizeBytes:        size,
			MimeType:         mime,
			CreatedAt:        now,
		}
		records = append(records, rec)
		batch.FileIDs = append(batch.FileIDs, rec.ID)
	}

	err = s.repo.UpdateUploads(func(doc *database.UploadsDoc) error {
		doc.Batches = append(doc.Batches, batch)
		doc.Files = append(doc.Files, records...)
		return nil
	})
	if err != nil {
		rollback()
		return nil, storageFailure("commit upload batch", err)
	}

	slog.Info("upload batch created",
		"batch_id", batch.ID,
		"uploader", batch.UploaderName,
		"files", len(records),
		"client_ip", req.ClientIP,
	)
	return &batch, nil
}

func checkUploadAccess(settings *database.Settings, password string) error {
	switch settings.UploadAccessMode {
	case database.AccessOpenLAN:
		return nil
	case database.AccessSharedPassword:
		expected := settings.UploadSharedPassword
		if expected == "" {
			return invalid("upload_access_mode", "upload password mode is misconfigured")
		}
		if subtle.ConstantTimeCompare([]byte(password), []byte(expected)) != 1 {
			return &AuthError{}
		}
		return nil
	default:
		return invalid("upload_access_mode", "uploads are disabled")
	}
}

// ListBatches returns every batch, most recent first, with its files in
// creation order. Soft-deleted files are included and flagged.
func (s *UploadService) ListBatches() ([]BatchView, error) {
	doc, err := s.repo.Uploads()
	if err != nil {
		return nil, storageFailure("read uploads", err)
	}

	filesByBatch := make(map[string][]FileView, len(doc.Batches))
	for i := range doc.Files {
		f := &doc.Files[i]
		filesByBatch[f.BatchID] = append(filesByBatch[f.BatchID], FileView{
			ID:               f.ID,
			Filename:         EffectiveFilename(f),
			OriginalFilename: f.OriginalFilename,
			Description:      f.Description,
			Version:          f.Version,
			SizeBytes:        f.SizeBytes,
			MimeType:         f.MimeType,
			CreatedAt:        f.CreatedAt,
			IsDeleted:        f.IsDeleted,
			DeletedAt:        f.DeletedAt,
			HasBlob:          !f.IsDeleted && f.StoredFilename != "" && s.blobs.Exists(f.StoredFilename),
		})
	}

	out := make([]BatchView, 0, len(doc.Batches))
	for _, b := range doc.Batches {
		files := filesByBatch[b.ID]
		if files == nil {
			files = []FileView{}
		}
		slices.SortStableFunc(files, func(x, y FileView) int { return x.CreatedAt.Compare(y.CreatedAt) })
		out = append(out, BatchView{
			ID:           b.ID,
			UploaderID:   b.UploaderID,
			UploaderName: b.UploaderName,
			CreatedAt:    b.CreatedAt,
			ClientIP:     b.ClientIP,
			Files:        files,
		})
	}

	slices.SortStableFunc(out, func(x, y BatchView) int {
		return cmp.Compare(y.CreatedAt.UnixNano(), x.CreatedAt.UnixNano())
	})
	return out, nil
}

// SoftDeleteFiles marks the given files deleted and removes their blobs.
// Unknown and already deleted ids are ignored. It returns how many files
// were newly deleted.
func (s *UploadService) SoftDeleteFiles(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, invalid("file_ids", "no files selected")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var retired []database.FileRecord
	err := s.repo.UpdateUploads(func(doc *database.UploadsDoc) error {
		now := s.now().UTC()
		retired = markDeleted(doc, now, func(f *database.FileRecord) bool { return wanted[f.ID] })
		return nil
	})
	if err != nil {
		return 0, storageFailure("delete files", err)
	}

	s.removeBlobs(retired)
	if len(retired) > 0 {
		slog.Info("files deleted", "count", len(retired))
	}
	return len(retired), nil
}

// markDeleted flips every live record matching match to deleted and returns
// copies of the records it changed.
func markDeleted(doc *database.UploadsDoc, now time.Time, match func(*database.FileRecord) bool) []database.FileRecord {
	var retired []database.FileRecord
	for i := range doc.Files {
		f := &doc.Files[i]
		if f.IsDeleted || !match(f) {
			continue
		}
		deletedAt := now
		f.IsDeleted = true
		f.DeletedAt = &deletedAt
		retired = append(retired, *f)
	}
	return retired
}

// removeBlobs runs after the metadata commit. A failure leaves a dangling
// blob, which the next retention sweep retries.
func (s *UploadService) removeBlobs(records []database.FileRecord) {
	for _, f := range records {
		if f.StoredFilename == "" {
			continue
		}
		if err := s.blobs.Delete(f.StoredFilename); err != nil {
			slog.Error("failed to remove blob", "file_id", f.ID, "blob", f.StoredFilename, "error", err)
		}
	}
}

// ResolveDownloads returns a download link per live file in ids, in input
// order. Deleted, unknown and blob-less files are left out.
func (s *UploadService) ResolveDownloads(ids []string) ([]Download, error) {
	doc, err := s.repo.Uploads()
	if err != nil {
		return nil, storageFailure("read uploads", err)
	}

	out := []Download{}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		f := doc.File(id)
		if f == nil || f.IsDeleted || f.StoredFilename == "" || !s.blobs.Exists(f.StoredFilename) {
			continue
		}
		out = append(out, Download{
			FileID:   f.ID,
			URL:      fmt.Sprintf("/api/admin/files/%s/download", f.ID),
			Filename: EffectiveFilename(f),
		})
	}
	return out, nil
}

// OpenFile returns the blob path and effective filename of a live file.
func (s *UploadService) OpenFile(id string) (path, filename string, err error) {
	doc, err := s.repo.Uploads()
	if err != nil {
		return "", "", storageFailure("read uploads", err)
	}

	f := doc.File(id)
	if f == nil || f.IsDeleted {
		return "", "", &NotFoundError{Kind: "file", ID: id}
	}

	path, err = s.blobs.GetPath(f.StoredFilename)
	if err != nil {
		return "", "", &NotFoundError{Kind: "file", ID: id}
	}
	return path, EffectiveFilename(f), nil
}

// WriteArchive streams a zip of the resolvable files in ids to w and
// returns how many files it contains.
func (s *UploadService) WriteArchive(ctx context.Context, ids []string, w io.Writer) (int, error) {
	downloads, err := s.ResolveDownloads(ids)
	if err != nil {
		return 0, err
	}
	if len(downloads) == 0 {
		return 0, invalid("file_ids", "no available files selected")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	entries := make([]archive.Entry, 0, len(downloads))
	for _, d := range downloads {
		path, _, err := s.OpenFile(d.FileID)
		if err != nil {
			// Deleted since resolution.
			continue
		}
		entries = append(entries, archive.Entry{Path: path, Name: d.Filename})
	}

	if err := archive.Write(w, entries); err != nil {
		return 0, &StorageError{Op: "write archive", Err: err}
	}
	return len(entries), nil
}

package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrTooLarge is returned by Save when the data exceeds the size limit.
var ErrTooLarge = errors.New("blob exceeds size limit")

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Store defines the interface for blob storage backends.
type Store interface {
	Save(name string, data io.Reader, limit int64) (int64, error)
	GetPath(name string) (string, error)
	Exists(name string) bool
	Delete(name string) error
	EnsureDir() error
}

// FileSystemStore stores uploaded blobs on the local filesystem.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// BlobName returns a unique, filesystem-safe blob name that keeps the
// original filename readable.
func BlobName(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "" || base == "." || base == "/" {
		base = "file"
	}
	cleaned := unsafeNameChars.ReplaceAllString(base, "_")
	return strings.ReplaceAll(uuid.NewString(), "-", "") + "_" + cleaned
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save writes data to a new blob. A positive limit caps the number of bytes
// accepted; exceeding it removes the partial blob and returns ErrTooLarge.
func (fs *FileSystemStore) Save(name string, data io.Reader, limit int64) (int64, error) {
	filePath, err := fs.filePath(name)
	if err != nil {
		return 0, err
	}

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}

	src := data
	if limit > 0 {
		src = io.LimitReader(data, limit+1)
	}

	n, err := io.Copy(file, src)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	if limit > 0 && n > limit {
		os.Remove(filePath)
		return 0, ErrTooLarge
	}

	return n, nil
}

// GetPath returns the path to a stored blob.
// Returns an error if the blob does not exist.
func (fs *FileSystemStore) GetPath(name string) (string, error) {
	filePath, err := fs.filePath(name)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(filePath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("blob %s not found", name)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}

	return filePath, nil
}

// Exists reports whether the blob is present.
func (fs *FileSystemStore) Exists(name string) bool {
	_, err := fs.GetPath(name)
	return err == nil
}

// Delete removes a stored blob. Missing blobs are not an error.
func (fs *FileSystemStore) Delete(name string) error {
	filePath, err := fs.filePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

func (fs *FileSystemStore) filePath(name string) (string, error) {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(fs.basePath, name), nil
}

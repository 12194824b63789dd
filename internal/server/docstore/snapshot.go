package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PutSnapshot writes doc as a new immutable file dir/name under the store
// directory and returns its path. Existing snapshots are never overwritten.
func (s *Store) PutSnapshot(dir, name string, doc any) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid snapshot name %q", name)
	}

	l := s.lock("snapshot:" + dir)
	l.Lock()
	defer l.Unlock()

	target := filepath.Join(s.dir, dir, name)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot %s: %w", name, err)
	}
	data = append(data, '\n')

	if err := writeFileExclusive(target, data, 0o644); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrSnapshotExists, target)
		}
		return "", fmt.Errorf("failed to write snapshot %s: %w", target, err)
	}
	return target, nil
}

// writeFileExclusive writes data to a synced temp file and hard-links it to
// path, which fails with fs.ErrExist if path is already there.
func writeFileExclusive(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Link(tmpName, path)
}

// RemoveSnapshot deletes a snapshot written by a transaction that later
// failed to commit. Missing snapshots are not an error.
func (s *Store) RemoveSnapshot(dir, name string) error {
	l := s.lock("snapshot:" + dir)
	l.Lock()
	defer l.Unlock()

	target := filepath.Join(s.dir, dir, name)
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove snapshot %s: %w", target, err)
	}
	return nil
}

// EnsureDir creates a subdirectory of the store, used for snapshot folders.
func (s *Store) EnsureDir(dir string) error {
	path := filepath.Join(s.dir, dir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

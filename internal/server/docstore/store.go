// Package docstore persists named JSON collections with per-collection
// locking and atomic replacement. Every collection lives in one file under
// the store directory; a commit writes a temp file and renames it over the
// previous version, so readers see either the old or the new document.
package docstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

var (
	ErrConflict       = errors.New("collection document is unreadable")
	ErrSnapshotExists = errors.New("snapshot already exists")
)

// ConflictError reports a collection file that exists but cannot be decoded
// into the expected document type.
type ConflictError struct {
	Collection string
	Err        error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("collection %s is unreadable: %v", e.Collection, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Is lets callers match any ConflictError with errors.Is(err, ErrConflict).
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Defaulter is implemented by documents that need to normalize optional
// fields (nil slices, nil maps) after decoding.
type Defaulter interface {
	Defaults()
}

// Store holds the data directory and one lock per collection name.
type Store struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open creates the data directory when needed and returns a store rooted there.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return &Store{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the file backing the named collection.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *Store) lock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// WithCollection runs mutate against the current state of the named
// collection while holding that collection's lock. The document is written
// back only when mutate returns a nil error; otherwise the file is untouched
// and mutate's error is returned as is.
func WithCollection[T any, R any](s *Store, name string, mutate func(doc *T) (R, error)) (R, error) {
	var zero R

	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	doc, raw, err := load[T](s, name)
	if err != nil {
		return zero, err
	}

	result, err := mutate(doc)
	if err != nil {
		return zero, err
	}

	if err := s.commit(name, doc, raw); err != nil {
		return zero, err
	}
	return result, nil
}

// Read returns a private copy of the named collection. It takes the
// collection lock so it never interleaves with a commit in this process.
func Read[T any](s *Store, name string) (*T, error) {
	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	doc, _, err := load[T](s, name)
	return doc, err
}

// Ensure writes the default document for a collection whose file is absent.
func Ensure[T any](s *Store, name string) error {
	_, err := WithCollection(s, name, func(*T) (struct{}, error) {
		return struct{}{}, nil
	})
	return err
}

func load[T any](s *Store, name string) (*T, []byte, error) {
	path := s.Path(name)

	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to read collection %s: %w", name, err)
	}

	// Absent and blank files decode as an empty object so that documents
	// with custom decoders still get their defaults applied.
	data := bytes.TrimSpace(raw)
	if len(data) == 0 {
		data = []byte("{}")
	}

	doc := new(T)
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, nil, &ConflictError{Collection: name, Err: err}
	}
	if d, ok := any(doc).(Defaulter); ok {
		d.Defaults()
	}
	return doc, raw, nil
}

func (s *Store) commit(name string, doc any, previous []byte) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode collection %s: %w", name, err)
	}
	data = append(data, '\n')

	if previous != nil && bytes.Equal(data, previous) {
		return nil
	}
	if err := writeFileAtomic(s.Path(name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write collection %s: %w", name, err)
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path. On any failure the previous file is untouched.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	success = true
	return nil
}

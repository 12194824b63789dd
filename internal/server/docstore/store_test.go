package docstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type counterDoc struct {
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

func (d *counterDoc) Defaults() {
	if d.Tags == nil {
		d.Tags = []string{}
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s
}

func TestWithCollection(t *testing.T) {
	t.Run("missing file starts from default", func(t *testing.T) {
		s := newTestStore(t)

		got, err := WithCollection(s, "counter", func(doc *counterDoc) (int, error) {
			if doc.Tags == nil {
				t.Error("expected Defaults to run on a fresh document")
			}
			doc.Count++
			return doc.Count, nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != 1 {
			t.Errorf("expected result 1, got %d", got)
		}

		content, err := os.ReadFile(s.Path("counter"))
		if err != nil {
			t.Fatalf("failed to read committed file: %v", err)
		}
		if !strings.Contains(string(content), `"count": 1`) {
			t.Errorf("unexpected file content: %s", content)
		}
	})

	t.Run("mutator error leaves file untouched", func(t *testing.T) {
		s := newTestStore(t)
		if err := os.WriteFile(s.Path("counter"), []byte(`{"count": 7}`), 0o644); err != nil {
			t.Fatal(err)
		}

		boom := errors.New("boom")
		_, err := WithCollection(s, "counter", func(doc *counterDoc) (int, error) {
			doc.Count = 100
			return 0, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected mutator error, got %v", err)
		}

		doc, err := Read[counterDoc](s, "counter")
		if err != nil {
			t.Fatalf("unexpected read error: %v", err)
		}
		if doc.Count != 7 {
			t.Errorf("expected count to stay 7, got %d", doc.Count)
		}
	})

	t.Run("unparseable document is a conflict", func(t *testing.T) {
		s := newTestStore(t)
		if err := os.WriteFile(s.Path("counter"), []byte(`{"count": "seven"}`), 0o644); err != nil {
			t.Fatal(err)
		}

		called := false
		_, err := WithCollection(s, "counter", func(doc *counterDoc) (int, error) {
			called = true
			return 0, nil
		})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		var conflict *ConflictError
		if !errors.As(err, &conflict) || conflict.Collection != "counter" {
			t.Errorf("expected ConflictError for counter, got %v", err)
		}
		if called {
			t.Error("mutator must not run on an unreadable document")
		}
	})

	t.Run("missing optional fields are tolerated", func(t *testing.T) {
		s := newTestStore(t)
		if err := os.WriteFile(s.Path("counter"), []byte(`{"count": 3, "extra": true}`), 0o644); err != nil {
			t.Fatal(err)
		}

		doc, err := Read[counterDoc](s, "counter")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if doc.Count != 3 || doc.Tags == nil {
			t.Errorf("unexpected document: %+v", doc)
		}
	})

	t.Run("blank file reads as default", func(t *testing.T) {
		s := newTestStore(t)
		if err := os.WriteFile(s.Path("counter"), []byte("  \n"), 0o644); err != nil {
			t.Fatal(err)
		}

		doc, err := Read[counterDoc](s, "counter")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if doc.Count != 0 {
			t.Errorf("expected zero count, got %d", doc.Count)
		}
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		s := newTestStore(t)
		for i := 0; i < 3; i++ {
			if _, err := WithCollection(s, "counter", func(doc *counterDoc) (int, error) {
				doc.Count++
				return doc.Count, nil
			}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}

		entries, err := os.ReadDir(s.Dir())
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".tmp-") {
				t.Errorf("leftover temp file %s", e.Name())
			}
		}
	})
}

func TestWithCollection_Concurrency(t *testing.T) {
	t.Run("mutations on one collection are serialized", func(t *testing.T) {
		s := newTestStore(t)

		const workers = 50
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := WithCollection(s, "counter", func(doc *counterDoc) (int, error) {
					doc.Count++
					return doc.Count, nil
				}); err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		doc, err := Read[counterDoc](s, "counter")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if doc.Count != workers {
			t.Errorf("expected %d increments, got %d", workers, doc.Count)
		}
	})

	t.Run("different collections do not block each other", func(t *testing.T) {
		s := newTestStore(t)

		entered := make(chan struct{})
		release := make(chan struct{})
		done := make(chan error, 1)

		go func() {
			_, err := WithCollection(s, "a", func(doc *counterDoc) (int, error) {
				close(entered)
				<-release
				return 0, nil
			})
			done <- err
		}()

		<-entered
		if _, err := WithCollection(s, "b", func(doc *counterDoc) (int, error) {
			doc.Count = 1
			return 1, nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		close(release)

		if err := <-done; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestPutSnapshot(t *testing.T) {
	t.Run("writes a new snapshot", func(t *testing.T) {
		s := newTestStore(t)

		path, err := s.PutSnapshot("reports", "run-1.json", counterDoc{Count: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if path != filepath.Join(s.Dir(), "reports", "run-1.json") {
			t.Errorf("unexpected path %s", path)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("snapshot not written: %v", err)
		}
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		s := newTestStore(t)

		if _, err := s.PutSnapshot("reports", "run-1.json", counterDoc{Count: 1}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		_, err := s.PutSnapshot("reports", "run-1.json", counterDoc{Count: 2})
		if !errors.Is(err, ErrSnapshotExists) {
			t.Fatalf("expected ErrSnapshotExists, got %v", err)
		}
	})

	t.Run("keeps a file written outside the store", func(t *testing.T) {
		s := newTestStore(t)
		dir := filepath.Join(s.Dir(), "reports")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		target := filepath.Join(dir, "run-1.json")
		if err := os.WriteFile(target, []byte("external"), 0o644); err != nil {
			t.Fatal(err)
		}

		_, err := s.PutSnapshot("reports", "run-1.json", counterDoc{Count: 2})
		if !errors.Is(err, ErrSnapshotExists) {
			t.Fatalf("expected ErrSnapshotExists, got %v", err)
		}
		data, err := os.ReadFile(target)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "external" {
			t.Errorf("existing file was overwritten: %q", data)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 1 {
			t.Errorf("expected only the existing file, found %d entries", len(entries))
		}
	})

	t.Run("rejects path components", func(t *testing.T) {
		s := newTestStore(t)

		if _, err := s.PutSnapshot("reports", "../escape.json", counterDoc{}); err == nil {
			t.Error("expected error for name with path components")
		}
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		s := newTestStore(t)

		if _, err := s.PutSnapshot("reports", "run-1.json", counterDoc{}); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 2; i++ {
			if err := s.RemoveSnapshot("reports", "run-1.json"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
	})
}

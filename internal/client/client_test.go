package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"testing"

	"labdrop/internal/server/database"
)

func TestPush(t *testing.T) {
	root := setupTree(t, map[string]string{"arm.stl": "solid arm", "base.stl": "solid base"})
	files := []LocalFile{
		{Path: filepath.Join(root, "arm.stl"), Name: "arm.stl"},
		{Path: filepath.Join(root, "base.stl"), Name: "base.stl"},
	}

	t.Run("sends one field set per file", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/upload-batches" {
				http.NotFound(w, r)
				return
			}
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("bad multipart body: %v", err)
			}
			form := r.MultipartForm

			if got := form.Value["uploader_name"]; !slices.Equal(got, []string{"Alice"}) {
				t.Errorf("unexpected uploader_name %v", got)
			}
			if got := form.Value["uploader_grade"]; !slices.Equal(got, []string{"9"}) {
				t.Errorf("unexpected uploader_grade %v", got)
			}
			if got := form.Value["descriptions"]; !slices.Equal(got, []string{"arm", "base"}) {
				t.Errorf("unexpected descriptions %v", got)
			}
			if got := form.Value["versions"]; !slices.Equal(got, []string{"2", "2"}) {
				t.Errorf("unexpected versions %v", got)
			}
			if len(form.File["files"]) != 2 {
				t.Fatalf("expected 2 files, got %d", len(form.File["files"]))
			}
			f, _ := form.File["files"][1].Open()
			body, _ := io.ReadAll(f)
			f.Close()
			if string(body) != "solid base" {
				t.Errorf("unexpected file content %q", body)
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]any{
				"batch": database.UploadBatch{ID: "b1", UploaderName: "Alice", FileIDs: []string{"f1", "f2"}},
			})
		}))
		defer srv.Close()

		grade := 9
		batch, err := New(srv.URL+"/").Push(context.Background(), PushRequest{
			UploaderName: "Alice",
			Grade:        &grade,
			Version:      "2",
			Files:        files,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if batch.ID != "b1" || len(batch.FileIDs) != 2 {
			t.Errorf("unexpected batch %+v", batch)
		}
	})

	t.Run("server error message is surfaced", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.Copy(io.Discard, r.Body)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid grade: new uploader requires a grade between 7 and 12"}`))
		}))
		defer srv.Close()

		_, err := New(srv.URL).Push(context.Background(), PushRequest{UploaderName: "Bob", Version: "1", Files: files})
		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if apiErr.Status != http.StatusBadRequest || apiErr.Message == "" {
			t.Errorf("unexpected error %+v", apiErr)
		}
	})

	t.Run("no files", func(t *testing.T) {
		_, err := New("http://127.0.0.1:1").Push(context.Background(), PushRequest{UploaderName: "Bob"})
		assertArgError(t, err, "no files provided")
	})
}

package api

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"labdrop/internal/server/config"
	"labdrop/internal/server/database"
	"labdrop/internal/server/docstore"
	"labdrop/internal/server/service"
	"labdrop/internal/server/storage"

	"github.com/labstack/echo/v4"
)

// --- Test fixtures ---

const testPassword = "secret123"

type testServer struct {
	e    *echo.Echo
	repo *database.Repository
}

func newTestServer(t *testing.T) *testServer {
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

	uploaders := service.NewUploaderService(repo)
	admins := service.NewAdminService(repo)
	if _, err := admins.EnsureBootstrapAdmin("Admin", testPassword); err != nil {
		t.Fatalf("failed to bootstrap admin: %v", err)
	}

	h := NewHandler(Services{
		Uploads:   service.NewUploadService(repo, blobs, uploaders),
		Uploaders: uploaders,
		Sessions:  service.NewSessionService(repo, time.Hour),
		Admins:    admins,
		Settings:  service.NewSettingsService(repo),
		Importer:  service.NewImporter(repo),
	}, false)

	cfg := config.Default().Server
	cfg.RateLimitRPS = 1000
	cfg.RateLimitBurst = 1000

	return &testServer{e: SetupRouter(h, cfg), repo: repo}
}

func (s *testServer) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T) *http.Cookie {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/admin/login", loginRequest{Username: "admin", Password: testPassword}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie && c.Value != "" {
			return c
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}

type batchFile struct {
	name, description, version, content string
}

func (s *testServer) upload(t *testing.T, uploader, grade string, files ...batchFile) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("uploader_name", uploader)
	if grade != "" {
		_ = mw.WriteField("uploader_grade", grade)
	}
	for _, f := range files {
		_ = mw.WriteField("descriptions", f.description)
		_ = mw.WriteField("versions", f.version)
		fw, err := mw.CreateFormFile("files", f.name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(f.content))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/upload-batches", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode %q: %v", rec.Body.String(), err)
	}
	return out
}

type batchResponse struct {
	Batch database.UploadBatch `json:"batch"`
}

// --- Tests ---

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected health response %d %s", rec.Code, rec.Body.String())
	}
}

func TestCreateBatch(t *testing.T) {
	t.Run("creates uploader and batch", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.upload(t, "Alice", "9", batchFile{"part.stl", "bracket", "1", "solid"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		batch := decode[batchResponse](t, rec).Batch
		if batch.UploaderName != "Alice" || len(batch.FileIDs) != 1 {
			t.Errorf("unexpected batch %+v", batch)
		}

		list := s.do(t, http.MethodGet, "/api/uploaders", nil, nil)
		if !strings.Contains(list.Body.String(), `"Alice"`) {
			t.Errorf("expected Alice in uploader list, got %s", list.Body.String())
		}
	})

	tests := []struct {
		name  string
		grade string
		files []batchFile
	}{
		{"no files", "9", nil},
		{"non-numeric grade", "nine", []batchFile{{"part.stl", "d", "1", "x"}}},
		{"missing grade for new uploader", "", []batchFile{{"part.stl", "d", "1", "x"}}},
		{"extension not allowed", "9", []batchFile{{"part.exe", "d", "1", "x"}}},
		{"blank version", "9", []batchFile{{"part.stl", "d", " ", "x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			rec := s.upload(t, "Alice", tt.grade, tt.files...)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}

	t.Run("shared password mismatch", func(t *testing.T) {
		s := newTestServer(t)
		err := s.repo.UpdateSettings(func(st *database.Settings) error {
			st.UploadAccessMode = database.AccessSharedPassword
			st.UploadSharedPassword = "lab"
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		rec := s.upload(t, "Alice", "9", batchFile{"part.stl", "d", "1", "x"})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})
}

func TestAdminAuth(t *testing.T) {
	s := newTestServer(t)

	t.Run("no cookie", func(t *testing.T) {
		if rec := s.do(t, http.MethodGet, "/api/admin/me", nil, nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		cookie := &http.Cookie{Name: SessionCookie, Value: "forged"}
		if rec := s.do(t, http.MethodGet, "/api/admin/uploads", nil, cookie); rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/admin/login", loginRequest{Username: "Admin", Password: "nope"}, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", rec.Code)
		}
	})

	t.Run("login, me and logout", func(t *testing.T) {
		cookie := s.login(t)
		if !cookie.HttpOnly {
			t.Error("expected HttpOnly session cookie")
		}

		rec := s.do(t, http.MethodGet, "/api/admin/me", nil, cookie)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"Admin"`) {
			t.Fatalf("unexpected /me response %d %s", rec.Code, rec.Body.String())
		}

		if rec := s.do(t, http.MethodPost, "/api/admin/logout", nil, cookie); rec.Code != http.StatusOK {
			t.Fatalf("logout failed: %d", rec.Code)
		}
		if rec := s.do(t, http.MethodGet, "/api/admin/me", nil, cookie); rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 after logout, got %d", rec.Code)
		}
	})
}

func TestAdminFileFlow(t *testing.T) {
	s := newTestServer(t)
	cookie := s.login(t)

	rec := s.upload(t, "Alice", "9",
		batchFile{"part.stl", "bracket", "1", "solid bracket"},
		batchFile{"arm.stl", "arm", "v2", "solid arm"},
	)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d %s", rec.Code, rec.Body.String())
	}
	ids := decode[batchResponse](t, rec).Batch.FileIDs

	t.Run("list uploads", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/admin/uploads", nil, cookie)
		body := decode[struct {
			Uploads []service.BatchView `json:"uploads"`
			Bytes   int64               `json:"storage_used_bytes"`
		}](t, rec)
		if len(body.Uploads) != 1 || len(body.Uploads[0].Files) != 2 {
			t.Fatalf("unexpected uploads %+v", body.Uploads)
		}
		if body.Bytes != int64(len("solid bracket")+len("solid arm")) {
			t.Errorf("unexpected storage total %d", body.Bytes)
		}
	})

	t.Run("download single file", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, fmt.Sprintf("/api/admin/files/%s/download", ids[0]), nil, cookie)
		if rec.Code != http.StatusOK || rec.Body.String() != "solid bracket" {
			t.Fatalf("unexpected download %d %q", rec.Code, rec.Body.String())
		}
		if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "bracket.stl") {
			t.Errorf("unexpected Content-Disposition %q", cd)
		}
	})

	t.Run("download many", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/admin/files/download-many", fileIDsRequest{FileIDs: []string{ids[1], ids[0]}}, cookie)
		body := decode[struct {
			Downloads []service.Download `json:"downloads"`
		}](t, rec)
		if len(body.Downloads) != 2 || body.Downloads[0].FileID != ids[1] {
			t.Errorf("unexpected downloads %+v", body.Downloads)
		}
	})

	t.Run("copy string", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/admin/copy-string", fileIDsRequest{FileIDs: ids}, cookie)
		body := decode[struct {
			Text string `json:"text"`
		}](t, rec)
		if !strings.HasPrefix(body.Text, "bracket, arm [V1, V2] {Admin - Alice}") {
			t.Errorf("unexpected copy string %q", body.Text)
		}
	})

	t.Run("archive", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/admin/files/archive", fileIDsRequest{FileIDs: ids}, cookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("archive failed: %d %s", rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/zip" {
			t.Errorf("unexpected content type %q", ct)
		}
		zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
		if err != nil {
			t.Fatalf("invalid zip: %v", err)
		}
		if len(zr.File) != 2 {
			t.Errorf("expected 2 entries, got %d", len(zr.File))
		}
	})

	t.Run("archive of nothing is a JSON error", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/admin/files/archive", fileIDsRequest{}, cookie)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("delete many is idempotent", func(t *testing.T) {
		for _, want := range []int{1, 0} {
			rec := s.do(t, http.MethodPost, "/api/admin/files/delete-many", fileIDsRequest{FileIDs: ids[:1]}, cookie)
			body := decode[struct {
				Deleted int `json:"deleted_count"`
			}](t, rec)
			if body.Deleted != want {
				t.Errorf("expected deleted_count=%d, got %d", want, body.Deleted)
			}
		}

		rec := s.do(t, http.MethodGet, fmt.Sprintf("/api/admin/files/%s/download", ids[0]), nil, cookie)
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected 404 for deleted file, got %d", rec.Code)
		}
	})
}

func TestAdminManagement(t *testing.T) {
	s := newTestServer(t)
	cookie := s.login(t)

	t.Run("settings validation", func(t *testing.T) {
		rec := s.do(t, http.MethodPut, "/api/admin/settings", map[string]any{"retention_days": 0}, cookie)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		rec = s.do(t, http.MethodPut, "/api/admin/settings", map[string]any{"retention_days": 7}, cookie)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"retention_days":7`) {
			t.Errorf("unexpected settings response %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("admin users", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/admin/users", createAdminRequest{Username: "Lab Tech", Password: "hunter22"}, cookie)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create failed: %d %s", rec.Code, rec.Body.String())
		}
		if strings.Contains(rec.Body.String(), "password_hash") {
			t.Error("password hash leaked")
		}

		rec = s.do(t, http.MethodGet, "/api/admin/me", nil, cookie)
		self := decode[struct {
			Admin struct {
				ID string `json:"id"`
			} `json:"admin"`
		}](t, rec).Admin.ID

		if rec := s.do(t, http.MethodDelete, "/api/admin/users/"+self, nil, cookie); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 deleting self, got %d", rec.Code)
		}
		if rec := s.do(t, http.MethodPatch, "/api/admin/users/missing", map[string]any{"is_active": false}, cookie); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("uploader admin", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/uploaders", map[string]any{"display_name": "Bob", "grade": 10}, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("create uploader failed: %d %s", rec.Code, rec.Body.String())
		}
		bob := decode[struct {
			Uploader database.Uploader `json:"uploader"`
		}](t, rec).Uploader

		if rec := s.do(t, http.MethodDelete, "/api/admin/uploaders/"+bob.ID, nil, cookie); rec.Code != http.StatusOK {
			t.Fatalf("disable failed: %d", rec.Code)
		}

		public := s.do(t, http.MethodGet, "/api/uploaders", nil, nil)
		if strings.Contains(public.Body.String(), `"Bob"`) {
			t.Error("disabled uploader listed publicly")
		}
		all := s.do(t, http.MethodGet, "/api/admin/uploaders", nil, cookie)
		if !strings.Contains(all.Body.String(), `"Bob"`) {
			t.Error("disabled uploader missing from admin list")
		}

		rec = s.do(t, http.MethodPatch, "/api/admin/uploaders/"+bob.ID, map[string]any{"grade": 3}, cookie)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for grade 3, got %d", rec.Code)
		}
	})

	t.Run("legacy import with missing file", func(t *testing.T) {
		rec := s.do(t, http.MethodPost, "/api/admin/migrate/import-legacy",
			importRequest{UsersPath: filepath.Join(t.TempDir(), "nope.json"), GroupsPath: filepath.Join(t.TempDir(), "nope.json")}, cookie)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", fmt.Errorf("x: %w", service.ErrValidation), http.StatusBadRequest},
		{"import", &service.ImportError{Kind: service.ParseFailure, Path: "users.json", Err: fmt.Errorf("bad")}, http.StatusBadRequest},
		{"import persist", &service.ImportError{Kind: service.PersistFailure, Err: fmt.Errorf("disk full")}, http.StatusInternalServerError},
		{"auth", &service.AuthError{}, http.StatusUnauthorized},
		{"not found", &service.NotFoundError{Kind: "file", ID: "x"}, http.StatusNotFound},
		{"conflict", fmt.Errorf("read: %w", service.ErrConflict), http.StatusConflict},
		{"storage", &service.StorageError{Op: "write", Err: fmt.Errorf("disk full")}, http.StatusInternalServerError},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			if err := mapServiceError(c, tt.err); err != nil {
				t.Fatal(err)
			}
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, rec.Code)
			}
		})
	}

	t.Run("conflict does not invite a retry", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		if err := mapServiceError(c, fmt.Errorf("read: %w", service.ErrConflict)); err != nil {
			t.Fatal(err)
		}
		if body := rec.Body.String(); !strings.Contains(body, "unreadable") || strings.Contains(body, "retry") {
			t.Errorf("unexpected conflict message: %s", body)
		}
	})
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	if !rl.allow("10.0.0.1") || !rl.allow("10.0.0.1") {
		t.Fatal("expected burst of 2 to pass")
	}
	if rl.allow("10.0.0.1") {
		t.Error("expected third request to be limited")
	}
	if !rl.allow("10.0.0.2") {
		t.Error("expected other IP to pass")
	}

	now = now.Add(time.Second)
	if !rl.allow("10.0.0.1") {
		t.Error("expected refill after one second")
	}

	now = now.Add(time.Hour)
	rl.allow("10.0.0.3")
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["10.0.0.1"]; ok {
		t.Error("expected idle visitor to be swept")
	}
}

func TestHumanizeBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range tests {
		if got := humanizeBytes(in); got != want {
			t.Errorf("humanizeBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

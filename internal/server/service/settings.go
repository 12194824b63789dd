package service

import (
	"strings"

	"labdrop/internal/server/database"
)

// SettingsUpdate carries the optional fields of a settings edit.
type SettingsUpdate struct {
	RetentionDays        *int                 `json:"retention_days"`
	MaxFileSizeMB        *int                 `json:"max_file_size_mb"`
	AllowedExtensions    *[]string            `json:"allowed_extensions"`
	UploadAccessMode     *database.AccessMode `json:"upload_access_mode"`
	UploadSharedPassword *string              `json:"upload_shared_password"`
	BackendPort          *int                 `json:"backend_port"`
	WebPort              *int                 `json:"web_port"`
}

// SettingsService reads and edits the runtime settings document.
type SettingsService struct {
	repo *database.Repository
}

// NewSettingsService creates a new settings service.
func NewSettingsService(repo *database.Repository) *SettingsService {
	return &SettingsService{repo: repo}
}

// Get returns the current settings with defaults applied.
func (s *SettingsService) Get() (*database.Settings, error) {
	settings, err := s.repo.Settings()
	if err != nil {
		return nil, storageFailure("read settings", err)
	}
	return settings, nil
}

// Update validates and applies in. Nothing is written when any field is invalid.
func (s *SettingsService) Update(in SettingsUpdate) (*database.Settings, error) {
	var result database.Settings
	err := s.repo.UpdateSettings(func(cur *database.Settings) error {
		if in.RetentionDays != nil {
			if *in.RetentionDays < 1 {
				return invalid("retention_days", "must be at least 1")
			}
			cur.RetentionDays = *in.RetentionDays
		}
		if in.MaxFileSizeMB != nil {
			if *in.MaxFileSizeMB < 1 {
				return invalid("max_file_size_mb", "must be at least 1")
			}
			cur.MaxFileSizeMB = *in.MaxFileSizeMB
		}
		if in.AllowedExtensions != nil {
			cur.AllowedExtensions = NormalizeExtensions(*in.AllowedExtensions)
		}
		if in.UploadAccessMode != nil {
			if !in.UploadAccessMode.Valid() {
				return invalid("upload_access_mode", "unknown mode %q", *in.UploadAccessMode)
			}
			cur.UploadAccessMode = *in.UploadAccessMode
		}
		if in.UploadSharedPassword != nil {
			cur.UploadSharedPassword = *in.UploadSharedPassword
		}
		if in.BackendPort != nil {
			if !validPort(*in.BackendPort) {
				return invalid("backend_port", "must be between 1 and 65535")
			}
			p := *in.BackendPort
			cur.BackendPort = &p
		}
		if in.WebPort != nil {
			if !validPort(*in.WebPort) {
				return invalid("web_port", "must be between 1 and 65535")
			}
			p := *in.WebPort
			cur.WebPort = &p
		}

		if cur.UploadAccessMode == database.AccessSharedPassword && cur.UploadSharedPassword == "" {
			return invalid("upload_shared_password", "required when upload_access_mode is shared_password")
		}

		result = *cur
		return nil
	})
	if err != nil {
		return nil, storageFailure("update settings", err)
	}
	return &result, nil
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
}

// NormalizeExtensions lowercases, dot-prefixes and deduplicates extensions,
// keeping their first-seen order.
func NormalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	seen := make(map[string]bool, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" || ext == "." {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if seen[ext] {
			continue
		}
		seen[ext] = true
		out = append(out, ext)
	}
	return out
}

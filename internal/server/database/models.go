package database

import (
	"encoding/json"
	"slices"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Collection names, one JSON document each under the data directory.
const (
	CollectionAdmins    = "admins"
	CollectionSessions  = "sessions"
	CollectionUploaders = "uploaders"
	CollectionUploads   = "uploads"
	CollectionSettings  = "settings"
	CollectionGroups    = "groups"

	// ReportsDir holds one immutable snapshot per legacy import run.
	ReportsDir = "migration_reports"
)

// Uploader is a named contributor identity. It is not an auth principal.
type Uploader struct {
	ID                string    `json:"id"`
	DisplayName       string    `json:"display_name"`
	NormalizedName    string    `json:"normalized_name"`
	Grade             *int      `json:"grade"`
	ExtraGroups       []string  `json:"extra_groups"`
	IsActiveForUpload bool      `json:"is_active_for_upload"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// UnmarshalJSON treats a missing is_active_for_upload as true.
func (u *Uploader) UnmarshalJSON(data []byte) error {
	type alias Uploader
	a := alias{IsActiveForUpload: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*u = Uploader(a)
	if u.ExtraGroups == nil {
		u.ExtraGroups = []string{}
	}
	return nil
}

// UploadBatch is one submission of one or more files.
type UploadBatch struct {
	ID           string    `json:"id"`
	UploaderID   string    `json:"uploader_profile_id"`
	UploaderName string    `json:"uploader_display_name_snapshot"`
	CreatedAt    time.Time `json:"created_at"`
	ClientIP     string    `json:"client_ip,omitempty"`
	FileIDs      []string  `json:"file_ids"`
}

// FileRecord describes one stored file. StoredFilename is the blob name
// inside the blob directory; the record outlives the blob once deleted.
type FileRecord struct {
	ID               string     `json:"id"`
	BatchID          string     `json:"upload_batch_id"`
	OriginalFilename string     `json:"original_filename"`
	StoredFilename   string     `json:"stored_filename"`
	Description      string     `json:"description"`
	Version          string     `json:"version"`
	SizeBytes        int64      `json:"size_bytes"`
	MimeType         string     `json:"mime_type,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	IsDeleted        bool       `json:"is_deleted"`
	DeletedAt        *time.Time `json:"deleted_at"`
}

// AdminUser is an authenticated principal.
type AdminUser struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"password_hash"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
}

// UnmarshalJSON treats a missing is_active as true.
func (a *AdminUser) UnmarshalJSON(data []byte) error {
	type alias AdminUser
	v := alias{IsActive: true}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*a = AdminUser(v)
	return nil
}

// Session binds a random token to an admin until ExpiresAt.
type Session struct {
	Token     string    `json:"id"`
	AdminID   string    `json:"admin_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AccessMode controls who may create upload batches.
type AccessMode string

const (
	AccessOpenLAN        AccessMode = "open_lan"
	AccessSharedPassword AccessMode = "shared_password"
	AccessDisabled       AccessMode = "disabled"
)

func (m AccessMode) Valid() bool {
	switch m {
	case AccessOpenLAN, AccessSharedPassword, AccessDisabled:
		return true
	}
	return false
}

// Settings is the runtime-editable configuration document.
type Settings struct {
	RetentionDays        int        `json:"retention_days"`
	MaxFileSizeMB        int        `json:"max_file_size_mb"`
	AllowedExtensions    []string   `json:"allowed_extensions"`
	UploadAccessMode     AccessMode `json:"upload_access_mode"`
	UploadSharedPassword string     `json:"upload_shared_password"`
	BackendPort          *int       `json:"backend_port,omitempty"`
	WebPort              *int       `json:"web_port,omitempty"`
}

// DefaultSettings returns the settings used for absent fields.
func DefaultSettings() Settings {
	return Settings{
		RetentionDays:     30,
		MaxFileSizeMB:     1024,
		AllowedExtensions: []string{".stl", ".json"},
		UploadAccessMode:  AccessOpenLAN,
	}
}

// UnmarshalJSON starts from DefaultSettings so that absent keys keep their
// defaults while explicit values, including an empty extension list, win.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type alias Settings
	v := alias(DefaultSettings())
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Settings(v)
	if s.AllowedExtensions == nil {
		s.AllowedExtensions = []string{}
	}
	if s.UploadAccessMode == "" {
		s.UploadAccessMode = AccessOpenLAN
	}
	return nil
}

// MaxFileBytes converts MaxFileSizeMB to bytes. Zero means unlimited.
func (s Settings) MaxFileBytes() int64 {
	if s.MaxFileSizeMB <= 0 {
		return 0
	}
	return int64(s.MaxFileSizeMB) * 1024 * 1024
}

// ExtensionAllowed reports whether ext (".stl") is accepted. An empty
// allow-list accepts everything.
func (s Settings) ExtensionAllowed(ext string) bool {
	if len(s.AllowedExtensions) == 0 {
		return true
	}
	ext = strings.ToLower(ext)
	for _, allowed := range s.AllowedExtensions {
		if strings.ToLower(strings.TrimSpace(allowed)) == ext {
			return true
		}
	}
	return false
}

// MigrationCounts are the headline numbers of one legacy import run.
type MigrationCounts struct {
	ImportedUploaders     int `json:"imported_uploaders"`
	SkippedNoGrade        int `json:"skipped_no_grade"`
	MergedCollisionGroups int `json:"merged_collision_groups"`
	TotalSourceUsers      int `json:"total_source_users"`
	SkippedAdmins         int `json:"skipped_admins"`
}

// MigrationDetails lists the names behind the counts.
type MigrationDetails struct {
	Imported       []string `json:"imported"`
	Merged         []string `json:"merged"`
	SkippedNoGrade []string `json:"skipped_no_grade"`
	AmbiguousGrade []string `json:"ambiguous_grade"`
	SkippedAdmins  []string `json:"skipped_admins"`
}

// MigrationSource records the input files of an import run.
type MigrationSource struct {
	UsersPath  string `json:"users_path"`
	GroupsPath string `json:"groups_path"`
}

// MigrationReport is written once per import run and never modified.
type MigrationReport struct {
	ID        string           `json:"id"`
	Timestamp time.Time        `json:"timestamp"`
	Source    MigrationSource  `json:"source"`
	Counts    MigrationCounts  `json:"counts"`
	Details   MigrationDetails `json:"details"`
	Errors    []string         `json:"errors"`
}

// NormalizeName folds a display name for case-insensitive comparison.
func NormalizeName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// NormalizeGroups trims, deduplicates and sorts group names.
func NormalizeGroups(groups []string) []string {
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		g = strings.TrimSpace(g)
		if g == "" || slices.Contains(out, g) {
			continue
		}
		out = append(out, g)
	}
	slices.Sort(out)
	return out
}

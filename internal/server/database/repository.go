package database

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"labdrop/internal/server/docstore"
)

// UploadsDoc is the uploads collection: batches and their file records.
type UploadsDoc struct {
	Batches []UploadBatch `json:"batches"`
	Files   []FileRecord  `json:"files"`
}

func (d *UploadsDoc) Defaults() {
	if d.Batches == nil {
		d.Batches = []UploadBatch{}
	}
	if d.Files == nil {
		d.Files = []FileRecord{}
	}
}

// File returns the record with the given id, or nil.
func (d *UploadsDoc) File(id string) *FileRecord {
	for i := range d.Files {
		if d.Files[i].ID == id {
			return &d.Files[i]
		}
	}
	return nil
}

// Batch returns the batch with the given id, or nil.
func (d *UploadsDoc) Batch(id string) *UploadBatch {
	for i := range d.Batches {
		if d.Batches[i].ID == id {
			return &d.Batches[i]
		}
	}
	return nil
}

// UploadersDoc is the uploaders collection.
type UploadersDoc struct {
	Uploaders []Uploader `json:"uploaders"`
}

func (d *UploadersDoc) Defaults() {
	if d.Uploaders == nil {
		d.Uploaders = []Uploader{}
	}
}

// ByName finds an uploader by case-insensitive display name.
func (d *UploadersDoc) ByName(name string) *Uploader {
	key := NormalizeName(name)
	if key == "" {
		return nil
	}
	for i := range d.Uploaders {
		if NormalizeName(d.Uploaders[i].DisplayName) == key {
			return &d.Uploaders[i]
		}
	}
	return nil
}

// ByID finds an uploader by id.
func (d *UploadersDoc) ByID(id string) *Uploader {
	for i := range d.Uploaders {
		if d.Uploaders[i].ID == id {
			return &d.Uploaders[i]
		}
	}
	return nil
}

// AdminsDoc is the admins collection.
type AdminsDoc struct {
	Admins []AdminUser `json:"admins"`
}

func (d *AdminsDoc) Defaults() {
	if d.Admins == nil {
		d.Admins = []AdminUser{}
	}
}

// ByUsername finds an admin by case-insensitive username.
func (d *AdminsDoc) ByUsername(username string) *AdminUser {
	key := NormalizeName(username)
	if key == "" {
		return nil
	}
	for i := range d.Admins {
		if NormalizeName(d.Admins[i].Username) == key {
			return &d.Admins[i]
		}
	}
	return nil
}

// ByID finds an admin by id.
func (d *AdminsDoc) ByID(id string) *AdminUser {
	for i := range d.Admins {
		if d.Admins[i].ID == id {
			return &d.Admins[i]
		}
	}
	return nil
}

// SessionsDoc is the sessions collection.
type SessionsDoc struct {
	Sessions []Session `json:"sessions"`
}

func (d *SessionsDoc) Defaults() {
	if d.Sessions == nil {
		d.Sessions = []Session{}
	}
}

// GroupsDoc keeps the legacy group directory as imported.
type GroupsDoc struct {
	Groups map[string]json.RawMessage `json:"groups"`
}

func (d *GroupsDoc) Defaults() {
	if d.Groups == nil {
		d.Groups = map[string]json.RawMessage{}
	}
}

// Repository provides typed transactional access to every collection.
type Repository struct {
	store *docstore.Store
}

// NewRepository creates a new Repository over store.
func NewRepository(store *docstore.Store) *Repository {
	return &Repository{store: store}
}

// Store returns the underlying document store.
func (r *Repository) Store() *docstore.Store {
	return r.store
}

// Init makes sure every collection file and the reports directory exist.
func (r *Repository) Init() error {
	steps := []struct {
		name   string
		ensure func() error
	}{
		{CollectionAdmins, func() error { return docstore.Ensure[AdminsDoc](r.store, CollectionAdmins) }},
		{CollectionSessions, func() error { return docstore.Ensure[SessionsDoc](r.store, CollectionSessions) }},
		{CollectionUploaders, func() error { return docstore.Ensure[UploadersDoc](r.store, CollectionUploaders) }},
		{CollectionUploads, func() error { return docstore.Ensure[UploadsDoc](r.store, CollectionUploads) }},
		{CollectionSettings, func() error { return docstore.Ensure[Settings](r.store, CollectionSettings) }},
		{CollectionGroups, func() error { return docstore.Ensure[GroupsDoc](r.store, CollectionGroups) }},
	}
	for _, step := range steps {
		if err := step.ensure(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
	}
	if err := r.store.EnsureDir(ReportsDir); err != nil {
		return err
	}

	slog.Info("document store initialized", "dir", r.store.Dir())
	return nil
}

func update[T any](r *Repository, name string, fn func(*T) error) error {
	_, err := docstore.WithCollection(r.store, name, func(doc *T) (struct{}, error) {
		return struct{}{}, fn(doc)
	})
	return err
}

// Uploads returns a snapshot of the uploads collection.
func (r *Repository) Uploads() (*UploadsDoc, error) {
	return docstore.Read[UploadsDoc](r.store, CollectionUploads)
}

// UpdateUploads runs fn in one uploads transaction.
func (r *Repository) UpdateUploads(fn func(*UploadsDoc) error) error {
	return update(r, CollectionUploads, fn)
}

// Uploaders returns a snapshot of the uploaders collection.
func (r *Repository) Uploaders() (*UploadersDoc, error) {
	return docstore.Read[UploadersDoc](r.store, CollectionUploaders)
}

// UpdateUploaders runs fn in one uploaders transaction.
func (r *Repository) UpdateUploaders(fn func(*UploadersDoc) error) error {
	return update(r, CollectionUploaders, fn)
}

// Admins returns a snapshot of the admins collection.
func (r *Repository) Admins() (*AdminsDoc, error) {
	return docstore.Read[AdminsDoc](r.store, CollectionAdmins)
}

// UpdateAdmins runs fn in one admins transaction.
func (r *Repository) UpdateAdmins(fn func(*AdminsDoc) error) error {
	return update(r, CollectionAdmins, fn)
}

// UpdateSessions runs fn in one sessions transaction.
func (r *Repository) UpdateSessions(fn func(*SessionsDoc) error) error {
	return update(r, CollectionSessions, fn)
}

// Settings returns the current settings with defaults applied.
func (r *Repository) Settings() (*Settings, error) {
	return docstore.Read[Settings](r.store, CollectionSettings)
}

// UpdateSettings runs fn in one settings transaction.
func (r *Repository) UpdateSettings(fn func(*Settings) error) error {
	return update(r, CollectionSettings, fn)
}

// Groups returns a snapshot of the imported group directory.
func (r *Repository) Groups() (*GroupsDoc, error) {
	return docstore.Read[GroupsDoc](r.store, CollectionGroups)
}

// UpdateGroups runs fn in one groups transaction.
func (r *Repository) UpdateGroups(fn func(*GroupsDoc) error) error {
	return update(r, CollectionGroups, fn)
}

// PutReport writes an import report snapshot and returns its path.
func (r *Repository) PutReport(name string, report *MigrationReport) (string, error) {
	return r.store.PutSnapshot(ReportsDir, name, report)
}

// RemoveReport deletes a report whose import failed to commit.
func (r *Repository) RemoveReport(name string) error {
	return r.store.RemoveSnapshot(ReportsDir, name)
}

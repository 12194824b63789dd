package service

import (
	"slices"
	"strings"
	"time"

	"labdrop/internal/server/database"

	"github.com/google/uuid"
)

const (
	minGrade = 7
	maxGrade = 12
)

func validGrade(g int) bool {
	return g >= minGrade && g <= maxGrade
}

// UploaderService manages contributor identities.
type UploaderService struct {
	repo *database.Repository
	now  func() time.Time
}

// NewUploaderService creates a new uploader service.
func NewUploaderService(repo *database.Repository) *UploaderService {
	return &UploaderService{repo: repo, now: time.Now}
}

// UploaderUpdate carries the optional fields of an admin edit.
type UploaderUpdate struct {
	DisplayName *string   `json:"display_name"`
	Grade       *int      `json:"grade"`
	ExtraGroups *[]string `json:"extra_groups"`
	IsActive    *bool     `json:"is_active_for_upload"`
}

// ListActive returns uploaders that may submit files, sorted by name.
func (s *UploaderService) ListActive() ([]database.Uploader, error) {
	all, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(u database.Uploader) bool { return !u.IsActiveForUpload }), nil
}

// ListAll returns every uploader, sorted by name.
func (s *UploaderService) ListAll() ([]database.Uploader, error) {
	doc, err := s.repo.Uploaders()
	if err != nil {
		return nil, storageFailure("read uploaders", err)
	}
	out := slices.Clone(doc.Uploaders)
	slices.SortStableFunc(out, func(a, b database.Uploader) int {
		return strings.Compare(a.NormalizedName, b.NormalizedName)
	})
	return out, nil
}

// Resolve returns the uploader named name, creating it when it does not
// exist yet. A new uploader needs a grade; an existing one without a grade
// takes the supplied one. Disabled or still gradeless uploaders are refused;
// supplying a grade never re-enables a disabled uploader.
func (s *UploaderService) Resolve(name string, grade *int, groups []string) (*database.Uploader, error) {
	name = strings.TrimSpace(name)
	if database.NormalizeName(name) == "" {
		return nil, invalid("uploader_name", "uploader name is required")
	}
	if grade != nil && !validGrade(*grade) {
		return nil, invalid("grade", "grade must be between %d and %d", minGrade, maxGrade)
	}

	var result database.Uploader
	err := s.repo.UpdateUploaders(func(doc *database.UploadersDoc) error {
		now := s.now().UTC()

		if u := doc.ByName(name); u != nil {
			if u.Grade == nil && grade != nil {
				g := *grade
				u.Grade = &g
				u.UpdatedAt = now
			}
			if !u.IsActiveForUpload {
				return invalid("uploader_name", "uploader %q is disabled for new uploads", u.DisplayName)
			}
			if u.Grade == nil {
				return invalid("grade", "uploader %q has no grade; ask an admin to set it", u.DisplayName)
			}
			result = *u
			return nil
		}

		if grade == nil {
			return invalid("grade", "new uploader requires a grade between %d and %d", minGrade, maxGrade)
		}
		g := *grade
		u := database.Uploader{
			ID:                uuid.NewString(),
			DisplayName:       name,
			NormalizedName:    database.NormalizeName(name),
			Grade:             &g,
			ExtraGroups:       database.NormalizeGroups(groups),
			IsActiveForUpload: true,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		doc.Uploaders = append(doc.Uploaders, u)
		result = u
		return nil
	})
	if err != nil {
		return nil, storageFailure("resolve uploader", err)
	}
	return &result, nil
}

// Update applies an admin edit to one uploader.
func (s *UploaderService) Update(id string, in UploaderUpdate) (*database.Uploader, error) {
	var result database.Uploader
	err := s.repo.UpdateUploaders(func(doc *database.UploadersDoc) error {
		u := doc.ByID(id)
		if u == nil {
			return &NotFoundError{Kind: "uploader", ID: id}
		}

		if in.DisplayName != nil {
			name := strings.TrimSpace(*in.DisplayName)
			if database.NormalizeName(name) == "" {
				return invalid("display_name", "display name is required")
			}
			if other := doc.ByName(name); other != nil && other.ID != u.ID {
				return invalid("display_name", "uploader %q already exists", other.DisplayName)
			}
			u.DisplayName = name
			u.NormalizedName = database.NormalizeName(name)
		}
		if in.Grade != nil {
			if !validGrade(*in.Grade) {
				return invalid("grade", "grade must be between %d and %d", minGrade, maxGrade)
			}
			g := *in.Grade
			u.Grade = &g
		}
		if in.ExtraGroups != nil {
			u.ExtraGroups = database.NormalizeGroups(*in.ExtraGroups)
		}
		if in.IsActive != nil {
			u.IsActiveForUpload = *in.IsActive
		}

		u.UpdatedAt = s.now().UTC()
		result = *u
		return nil
	})
	if err != nil {
		return nil, storageFailure("update uploader", err)
	}
	return &result, nil
}

// Disable stops an uploader from submitting new batches. Existing batches
// keep their name snapshot.
func (s *UploaderService) Disable(id string) error {
	active := false
	_, err := s.Update(id, UploaderUpdate{IsActive: &active})
	return err
}

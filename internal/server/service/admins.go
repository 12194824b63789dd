package service

import (
	"log/slog"
	"slices"
	"strings"
	"time"

	"labdrop/internal/server/database"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// DefaultAdminUsername is the account created on first start.
const DefaultAdminUsername = "Admin"

const minPasswordLength = 6

// AdminView is an admin account without its password hash.
type AdminView struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at"`
}

func viewAdmin(a *database.AdminUser) AdminView {
	return AdminView{
		ID:          a.ID,
		Username:    a.Username,
		IsActive:    a.IsActive,
		CreatedAt:   a.CreatedAt,
		LastLoginAt: a.LastLoginAt,
	}
}

// AdminUpdate carries the optional fields of an admin account edit.
type AdminUpdate struct {
	Password *string `json:"password"`
	IsActive *bool   `json:"is_active"`
}

// AdminService manages admin accounts.
type AdminService struct {
	repo *database.Repository
	cost int
	now  func() time.Time
}

// NewAdminService creates a new admin service.
func NewAdminService(repo *database.Repository) *AdminService {
	return &AdminService{repo: repo, cost: bcrypt.DefaultCost, now: time.Now}
}

func (s *AdminService) hash(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", invalid("password", "password must be at least %d characters", minPasswordLength)
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", invalid("password", "%v", err)
	}
	return string(h), nil
}

// List returns every admin sorted by username.
func (s *AdminService) List() ([]AdminView, error) {
	doc, err := s.repo.Admins()
	if err != nil {
		return nil, storageFailure("read admins", err)
	}
	out := make([]AdminView, 0, len(doc.Admins))
	for i := range doc.Admins {
		out = append(out, viewAdmin(&doc.Admins[i]))
	}
	slices.SortFunc(out, func(a, b AdminView) int {
		return strings.Compare(database.NormalizeName(a.Username), database.NormalizeName(b.Username))
	})
	return out, nil
}

// Create adds a new active admin.
func (s *AdminService) Create(username, password string) (*AdminView, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, invalid("username", "username is required")
	}
	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}

	var result AdminView
	err = s.repo.UpdateAdmins(func(doc *database.AdminsDoc) error {
		if doc.ByUsername(username) != nil {
			return invalid("username", "admin %q already exists", username)
		}
		a := database.AdminUser{
			ID:           uuid.NewString(),
			Username:     username,
			PasswordHash: hash,
			IsActive:     true,
			CreatedAt:    s.now().UTC(),
		}
		doc.Admins = append(doc.Admins, a)
		result = viewAdmin(&a)
		return nil
	})
	if err != nil {
		return nil, storageFailure("create admin", err)
	}

	slog.Info("admin created", "username", username)
	return &result, nil
}

// Update changes the password or active flag of id. Admins cannot
// deactivate themselves.
func (s *AdminService) Update(actorID, id string, in AdminUpdate) (*AdminView, error) {
	var hash string
	if in.Password != nil {
		h, err := s.hash(*in.Password)
		if err != nil {
			return nil, err
		}
		hash = h
	}

	var result AdminView
	err := s.repo.UpdateAdmins(func(doc *database.AdminsDoc) error {
		a := doc.ByID(id)
		if a == nil {
			return &NotFoundError{Kind: "admin", ID: id}
		}
		if in.IsActive != nil {
			if !*in.IsActive && a.ID == actorID {
				return invalid("is_active", "you cannot deactivate your own account")
			}
			if !*in.IsActive && a.IsActive && activeAdmins(doc) == 1 {
				return invalid("is_active", "at least one active admin must remain")
			}
			a.IsActive = *in.IsActive
		}
		if hash != "" {
			a.PasswordHash = hash
		}
		result = viewAdmin(a)
		return nil
	})
	if err != nil {
		return nil, storageFailure("update admin", err)
	}
	return &result, nil
}

// Delete removes id. Admins cannot delete themselves and the last active
// admin cannot be removed.
func (s *AdminService) Delete(actorID, id string) error {
	err := s.repo.UpdateAdmins(func(doc *database.AdminsDoc) error {
		a := doc.ByID(id)
		if a == nil {
			return &NotFoundError{Kind: "admin", ID: id}
		}
		if a.ID == actorID {
			return invalid("id", "you cannot delete your own account")
		}
		if a.IsActive && activeAdmins(doc) == 1 {
			return invalid("id", "at least one active admin must remain")
		}
		doc.Admins = slices.DeleteFunc(doc.Admins, func(x database.AdminUser) bool { return x.ID == id })
		return nil
	})
	return storageFailure("delete admin", err)
}

func activeAdmins(doc *database.AdminsDoc) int {
	n := 0
	for _, a := range doc.Admins {
		if a.IsActive {
			n++
		}
	}
	return n
}

// EnsureBootstrapAdmin creates username with password unless an admin of
// that name already exists. It reports whether an account was created.
func (s *AdminService) EnsureBootstrapAdmin(username, password string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		username = DefaultAdminUsername
	}

	doc, err := s.repo.Admins()
	if err != nil {
		return false, storageFailure("read admins", err)
	}
	if doc.ByUsername(username) != nil {
		return false, nil
	}
	if password == "" {
		return false, invalid("admin.bootstrap_password",
			"a bootstrap password is required to create the %q admin; set it or pre-create admins.json", username)
	}

	if _, err := s.Create(username, password); err != nil {
		return false, err
	}
	return true, nil
}

package service

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"labdrop/internal/server/database"

	"golang.org/x/crypto/bcrypt"
)

// DefaultSessionTTL is how long a login stays valid when not configured.
const DefaultSessionTTL = 12 * time.Hour

// sessionTokenLength gives 43 characters from a 64-symbol alphabet, the same
// strength as 32 random bytes in URL-safe base64.
const sessionTokenLength = 43

// dummyHash is compared against when the username is unknown so that a
// failed login costs the same either way.
var dummyHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("labdrop-no-such-admin"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
})

// SessionService issues and checks admin sessions.
type SessionService struct {
	repo *database.Repository
	ttl  time.Duration
	now  func() time.Time
}

// NewSessionService creates a new session service. A non-positive ttl
// selects DefaultSessionTTL.
func NewSessionService(repo *database.Repository, ttl time.Duration) *SessionService {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionService{repo: repo, ttl: ttl, now: time.Now}
}

// TTL returns the session lifetime.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// Login verifies credentials and issues a new session. Every mismatch,
// including an inactive account, yields the same AuthError.
func (s *SessionService) Login(ctx context.Context, username, password string) (*database.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	admins, err := s.repo.Admins()
	if err != nil {
		return nil, storageFailure("read admins", err)
	}

	admin := admins.ByUsername(username)
	if admin == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return nil, &AuthError{}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, &AuthError{}
	}
	if !admin.IsActive {
		return nil, &AuthError{}
	}

	now := s.now().UTC()
	err = s.repo.UpdateAdmins(func(doc *database.AdminsDoc) error {
		// The admin may have been removed or disabled since the check above.
		a := doc.ByID(admin.ID)
		if a == nil || !a.IsActive {
			return &AuthError{}
		}
		a.LastLoginAt = &now
		return nil
	})
	if err != nil {
		return nil, storageFailure("record login", err)
	}

	token, err := generateSecureToken(sessionTokenLength)
	if err != nil {
		return nil, &StorageError{Op: "generate session token", Err: err}
	}
	session := database.Session{
		Token:     token,
		AdminID:   admin.ID,
		Username:  admin.Username,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	err = s.repo.UpdateSessions(func(doc *database.SessionsDoc) error {
		doc.Sessions = append(doc.Sessions, session)
		return nil
	})
	if err != nil {
		return nil, storageFailure("create session", err)
	}

	slog.Info("admin logged in", "username", admin.Username)
	return &session, nil
}

// Authenticate resolves a session token to its admin. Expired sessions are
// pruned in the same transaction.
func (s *SessionService) Authenticate(token string) (*database.AdminUser, error) {
	if token == "" {
		return nil, &AuthError{}
	}

	var found *database.Session
	err := s.repo.UpdateSessions(func(doc *database.SessionsDoc) error {
		now := s.now()
		doc.Sessions = slices.DeleteFunc(doc.Sessions, func(sess database.Session) bool {
			return !now.Before(sess.ExpiresAt)
		})
		for i := range doc.Sessions {
			if doc.Sessions[i].Token == token {
				sess := doc.Sessions[i]
				found = &sess
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageFailure("read sessions", err)
	}
	if found == nil {
		return nil, &AuthError{}
	}

	admins, err := s.repo.Admins()
	if err != nil {
		return nil, storageFailure("read admins", err)
	}
	admin := admins.ByID(found.AdminID)
	if admin == nil || !admin.IsActive {
		if err := s.Logout(token); err != nil {
			slog.Error("failed to drop session of unavailable admin", "error", err)
		}
		return nil, &AuthError{}
	}
	return admin, nil
}

// Logout removes the session. Unknown tokens are not an error.
func (s *SessionService) Logout(token string) error {
	if token == "" {
		return nil
	}
	err := s.repo.UpdateSessions(func(doc *database.SessionsDoc) error {
		doc.Sessions = slices.DeleteFunc(doc.Sessions, func(sess database.Session) bool {
			return sess.Token == token
		})
		return nil
	})
	return storageFailure("delete session", err)
}

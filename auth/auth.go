package auth

import (
	"crypto/sha256"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"

	"shelfmark/models"
)

const sessionName = "shelfmark-session"

// sessionTTL is the absolute session lifetime in seconds (1 hour).
const sessionTTL = 3600

// Sessions wraps the cookie store. It is constructed once at startup and
// injected into the handlers rather than held as a package global.
type Sessions struct {
	store *sessions.CookieStore
}

// NewSessions derives two 32-byte keys from the configured secret: an auth key
// for signing (HMAC) and an encryption key for content encryption (AES).
func NewSessions(secret string, secure bool) *Sessions {
	authKey := sha256.Sum256([]byte(secret + "auth"))
	encKey := sha256.Sum256([]byte(secret + "encryption"))

	store := sessions.NewCookieStore(authKey[:], encKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   sessionTTL,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &Sessions{store: store}
}

// Current returns the user recorded in the request's session, if any.
func (s *Sessions) Current(r *http.Request) (models.SessionUser, bool) {
	session, _ := s.store.Get(r, sessionName)

	id, ok := session.Values["userID"].(int64)
	if !ok || id == 0 {
		return models.SessionUser{}, false
	}
	username, _ := session.Values["username"].(string)
	role, _ := session.Values["role"].(string)

	return models.SessionUser{ID: id, Username: username, Role: role}, true
}

// Set records the user in a fresh session cookie.
func (s *Sessions) Set(w http.ResponseWriter, r *http.Request, user models.SessionUser) error {
	session, _ := s.store.Get(r, sessionName)
	session.Values["userID"] = user.ID
	session.Values["username"] = user.Username
	session.Values["role"] = user.Role
	return session.Save(r, w)
}

// Clear expires the session cookie. Idempotent.
func (s *Sessions) Clear(w http.ResponseWriter, r *http.Request) {
	session, _ := s.store.Get(r, sessionName)
	session.Options.MaxAge = -1
	session.Save(r, w)
}

const minPasswordLength = 8

var ErrPasswordTooShort = errors.New("password too short")

// ValidatePassword enforces the minimum length at registration time.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

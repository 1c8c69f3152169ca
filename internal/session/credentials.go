package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt/v5"
)

// Credentials is the on-disk credentials.toml for a session: the bearer token
// issued by the MoveInn backend, plus an optional explicit user id for tokens
// that do not carry one in their claims.
type Credentials struct {
	Token  string `toml:"token"`
	UserID string `toml:"user_id"`
}

// Session is the resolved identity handed to every collaborator that needs it.
// It is constructed once at startup and passed explicitly; nothing reads
// credentials from ambient global state.
type Session struct {
	Name      string
	UserID    string
	Token     string
	ExpiresAt time.Time // zero if the token carries no expiry claim
}

// LoadCredentials reads credentials.toml from the given path.
func LoadCredentials(path string) (*Credentials, error) {
	var creds Credentials
	if _, err := toml.DecodeFile(path, &creds); err != nil {
		return nil, err
	}
	if creds.Token == "" {
		return nil, fmt.Errorf("credentials file %s has no token", path)
	}
	return &creds, nil
}

// SaveCredentials writes credentials.toml with owner-only permissions.
func SaveCredentials(path string, creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(creds)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// NewSession builds a Session for the named session directory. The user id
// comes from the credentials file when present, otherwise from the token's
// claims. The token signature is NOT verified here: the backend is the
// authority, this client only needs the identity and expiry embedded in it.
func NewSession(name string) (*Session, error) {
	creds, err := LoadCredentials(CredentialsPath(name))
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	s := &Session{
		Name:   name,
		UserID: creds.UserID,
		Token:  creds.Token,
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(creds.Token, claims); err == nil {
		if s.UserID == "" {
			s.UserID = userIDFromClaims(claims)
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			s.ExpiresAt = exp.Time
		}
	}

	if s.UserID == "" {
		return nil, fmt.Errorf("cannot determine user id for session %q: set user_id in %s", name, CredentialsPath(name))
	}
	return s, nil
}

// Expired reports whether the bearer token expiry has passed. Tokens without
// an expiry claim never report expired.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// userIDFromClaims tries the claim names the MoveInn backends use.
func userIDFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"sub", "user_id", "nameid", "id"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

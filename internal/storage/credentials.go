package storage

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

// Entry names for the four session artifacts.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
	UserDataKey     = "user_data"
	ProfileDataKey  = "profile_data"
)

var authKeys = []string{AccessTokenKey, RefreshTokenKey, UserDataKey, ProfileDataKey}

// Credentials is the session record. Empty fields are absent. User and
// Profile hold raw JSON; decoding them is up to the caller.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	User         string
	Profile      string
}

// Empty reports whether no field is present.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == "" && c.User == "" && c.Profile == ""
}

// CredentialStore reads and writes credential entries through a Provider.
//
// Provider failures are logged and swallowed: reads come back absent and
// writes are dropped. The four writes of SetAuthCookies and
// ClearAuthCookies are not transactional.
type CredentialStore struct {
	provider Provider
	secure   bool
}

// NewCredentialStore wraps provider. secure sets the Secure attribute on
// every entry and should be true in production.
func NewCredentialStore(provider Provider, secure bool) *CredentialStore {
	return &CredentialStore{provider: provider, secure: secure}
}

func (s *CredentialStore) available() bool {
	return s != nil && s.provider != nil && s.provider.Available()
}

// Set writes name, replacing any previous value. Zero option fields take
// their defaults.
func (s *CredentialStore) Set(name, value string, opts CookieOptions) {
	if !s.available() {
		return
	}
	if err := s.provider.Set(name, value, opts.withDefaults(s.secure)); err != nil {
		log.Warn().Err(err).Str("name", name).Msg("failed to write credential entry")
	}
}

// Get returns the value of name.
func (s *CredentialStore) Get(name string) (string, bool) {
	if !s.available() {
		return "", false
	}
	value, ok, err := s.provider.Get(name)
	if err != nil {
		log.Warn().Err(err).Str("name", name).Msg("failed to read credential entry")
		return "", false
	}
	return value, ok
}

// Delete expires name immediately.
func (s *CredentialStore) Delete(name string) {
	if !s.available() {
		return
	}
	if err := s.provider.Delete(name); err != nil {
		log.Warn().Err(err).Str("name", name).Msg("failed to delete credential entry")
	}
}

// SetAuthCookies JSON-encodes user and profile and writes all four entries.
func (s *CredentialStore) SetAuthCookies(accessToken, refreshToken string, user, profile any) {
	if !s.available() {
		return
	}
	opts := DefaultCookieOptions(s.secure)
	s.Set(AccessTokenKey, accessToken, opts)
	s.Set(RefreshTokenKey, refreshToken, opts)
	s.Set(UserDataKey, marshalBlob(UserDataKey, user), opts)
	s.Set(ProfileDataKey, marshalBlob(ProfileDataKey, profile), opts)
}

// UpdateTokens rotates the access and refresh tokens, leaving the user and
// profile blobs alone.
func (s *CredentialStore) UpdateTokens(accessToken, refreshToken string) {
	opts := DefaultCookieOptions(s.secure)
	s.Set(AccessTokenKey, accessToken, opts)
	if refreshToken != "" {
		s.Set(RefreshTokenKey, refreshToken, opts)
	}
}

// GetAuthCookies reads all four entries.
func (s *CredentialStore) GetAuthCookies() Credentials {
	var c Credentials
	c.AccessToken, _ = s.Get(AccessTokenKey)
	c.RefreshToken, _ = s.Get(RefreshTokenKey)
	c.User, _ = s.Get(UserDataKey)
	c.Profile, _ = s.Get(ProfileDataKey)
	return c
}

// ClearAuthCookies deletes all four entries. Clearing an empty store is a no-op.
func (s *CredentialStore) ClearAuthCookies() {
	for _, name := range authKeys {
		s.Delete(name)
	}
}

// AccessToken is a shorthand for Get(AccessTokenKey).
func (s *CredentialStore) AccessToken() string {
	v, _ := s.Get(AccessTokenKey)
	return v
}

func marshalBlob(name string, v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Str("name", name).Msg("failed to encode credential blob")
		return ""
	}
	return string(b)
}

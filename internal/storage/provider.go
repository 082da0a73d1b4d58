// Package storage persists the console's session credentials.
//
// Credentials are kept as four independent named entries with cookie-like
// attributes. Where they physically live is decided by a Provider: an
// in-process jar, an encrypted SQLite file or Redis.
package storage

import (
	"net/http"
	"time"
)

// DefaultMaxAge is how long credential entries live unless overridden.
const DefaultMaxAge = 7 * 24 * time.Hour

// CookieOptions are the attributes written alongside an entry.
type CookieOptions struct {
	MaxAge   time.Duration
	Path     string
	SameSite http.SameSite
	Secure   bool
	HTTPOnly bool
}

// DefaultCookieOptions returns the attributes used for credential entries.
// Entries must stay readable by the client, so HTTPOnly is never set.
func DefaultCookieOptions(secure bool) CookieOptions {
	return CookieOptions{
		MaxAge:   DefaultMaxAge,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	}
}

// withDefaults fills zero fields from DefaultCookieOptions.
func (o CookieOptions) withDefaults(secure bool) CookieOptions {
	d := DefaultCookieOptions(secure)
	if o.MaxAge == 0 {
		o.MaxAge = d.MaxAge
	}
	if o.Path == "" {
		o.Path = d.Path
	}
	if o.SameSite == 0 {
		o.SameSite = d.SameSite
	}
	if !o.Secure {
		o.Secure = d.Secure
	}
	return o
}

// Provider is a synchronous key-value backend for credential entries.
//
// Available is the capability check: when it reports false the store treats
// every operation as a no-op. Get returns ok=false for missing or expired
// entries. Delete of a missing entry is not an error.
type Provider interface {
	Available() bool
	Get(name string) (value string, ok bool, err error)
	Set(name, value string, opts CookieOptions) error
	Delete(name string) error
}

// Unavailable is a Provider for contexts with no persistence at all.
type Unavailable struct{}

func (Unavailable) Available() bool { return false }

func (Unavailable) Get(string) (string, bool, error) { return "", false, nil }

func (Unavailable) Set(string, string, CookieOptions) error { return nil }

func (Unavailable) Delete(string) error { return nil }

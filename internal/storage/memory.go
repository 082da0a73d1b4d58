package storage

import (
	"net/http"
	"sync"
	"time"
)

// MemoryJar keeps credential entries as cookies in process memory.
type MemoryJar struct {
	mu      sync.RWMutex
	cookies map[string]*http.Cookie
	now     func() time.Time
}

// NewMemoryJar creates an empty jar.
func NewMemoryJar() *MemoryJar {
	return &MemoryJar{
		cookies: make(map[string]*http.Cookie),
		now:     time.Now,
	}
}

// Available always reports true.
func (j *MemoryJar) Available() bool { return true }

// Get returns the value of a live cookie.
func (j *MemoryJar) Get(name string) (string, bool, error) {
	c, ok := j.Cookie(name)
	if !ok {
		return "", false, nil
	}
	return c.Value, true, nil
}

// Set stores a cookie expiring after opts.MaxAge.
func (j *MemoryJar) Set(name, value string, opts CookieOptions) error {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     opts.Path,
		MaxAge:   int(opts.MaxAge / time.Second),
		Expires:  j.now().Add(opts.MaxAge),
		SameSite: opts.SameSite,
		Secure:   opts.Secure,
		HttpOnly: opts.HTTPOnly,
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.cookies[name] = c
	return nil
}

// Delete removes the cookie.
func (j *MemoryJar) Delete(name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.cookies, name)
	return nil
}

// Cookie returns a copy of the stored cookie with its attributes, or false
// when it is missing or expired.
func (j *MemoryJar) Cookie(name string) (http.Cookie, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	c, ok := j.cookies[name]
	if !ok || !j.now().Before(c.Expires) {
		return http.Cookie{}, false
	}
	return *c, true
}

// Package token decodes console access tokens and answers expiry questions
// about them. Signatures are not verified here; the API does that. The codec
// only reads the claims the client needs to reason about session lifetime.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrDecode is returned when a token is not a well-formed JWT carrying the
// claims the console relies on.
var ErrDecode = errors.New("token decode failed")

// Claims is the decoded payload of an access token. Timestamps are epoch seconds.
type Claims struct {
	Subject   string
	Email     string
	Role      string
	IssuedAt  int64
	ExpiresAt int64
}

type payload struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

var parser = jwt.NewParser()

// Decode parses the token payload without verifying its signature.
func Decode(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrDecode)
	}

	var p payload
	if _, _, err := parser.ParseUnverified(raw, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var missing []string
	if p.Subject == "" {
		missing = append(missing, "sub")
	}
	if p.Email == "" {
		missing = append(missing, "email")
	}
	if p.Role == "" {
		missing = append(missing, "role")
	}
	if p.IssuedAt == nil {
		missing = append(missing, "iat")
	}
	if p.ExpiresAt == nil {
		missing = append(missing, "exp")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing claims %s", ErrDecode, strings.Join(missing, ", "))
	}

	return &Claims{
		Subject:   p.Subject,
		Email:     p.Email,
		Role:      p.Role,
		IssuedAt:  p.IssuedAt.Unix(),
		ExpiresAt: p.ExpiresAt.Unix(),
	}, nil
}

// Codec answers expiry questions against a clock. No skew tolerance is
// applied: a token is valid through the whole second named by exp and
// expired from the next one on.
type Codec struct {
	now func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a codec using the wall clock unless overridden.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsExpired reports whether the token is expired. Undecodable tokens count
// as expired.
func (c *Codec) IsExpired(raw string) bool {
	claims, err := Decode(raw)
	if err != nil {
		return true
	}
	return claims.ExpiresAt < c.now().Unix()
}

// ExpiryTimestamp returns exp in epoch milliseconds. ok is false when the
// token cannot be decoded.
func (c *Codec) ExpiryTimestamp(raw string) (millis int64, ok bool) {
	claims, err := Decode(raw)
	if err != nil {
		return 0, false
	}
	return claims.ExpiresAt * 1000, true
}

// TimeUntilExpiry returns how long the token stays valid. It is zero for
// undecodable or expired tokens and positive otherwise.
func (c *Codec) TimeUntilExpiry(raw string) time.Duration {
	claims, err := Decode(raw)
	if err != nil {
		return 0
	}
	now := c.now()
	if claims.ExpiresAt < now.Unix() {
		return 0
	}
	end := time.Unix(claims.ExpiresAt+1, 0)
	return end.Sub(now)
}

package token

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1_700_000_000, 250*int64(time.Millisecond))

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func validClaims(exp int64) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "42",
		"email": "milker@example.com",
		"role":  "supervisor",
		"iat":   fixedNow.Unix() - 60,
		"exp":   exp,
	}
}

func TestDecode(t *testing.T) {
	raw := signed(t, validClaims(fixedNow.Unix()+3600))

	claims, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, &Claims{
		Subject:   "42",
		Email:     "milker@example.com",
		Role:      "supervisor",
		IssuedAt:  fixedNow.Unix() - 60,
		ExpiresAt: fixedNow.Unix() + 3600,
	}, claims)
}

func TestDecode_Malformed(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"one segment":    "abc",
		"bad base64":     "a.!!!.c",
		"payload not js": "eyJhbGciOiJIUzI1NiJ9." + base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".sig",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(raw)
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestDecode_MissingClaims(t *testing.T) {
	for _, claim := range []string{"sub", "email", "role", "iat", "exp"} {
		t.Run(claim, func(t *testing.T) {
			c := validClaims(fixedNow.Unix() + 60)
			delete(c, claim)
			_, err := Decode(signed(t, c))
			assert.ErrorIs(t, err, ErrDecode)
			assert.Contains(t, err.Error(), claim)
		})
	}
}

func TestIsExpired(t *testing.T) {
	codec := NewCodec(WithClock(func() time.Time { return fixedNow }))

	assert.False(t, codec.IsExpired(signed(t, validClaims(fixedNow.Unix()+1))))
	assert.False(t, codec.IsExpired(signed(t, validClaims(fixedNow.Unix()))), "exp second is still valid")
	assert.True(t, codec.IsExpired(signed(t, validClaims(fixedNow.Unix()-1))))
	assert.True(t, codec.IsExpired("garbage"))
	assert.True(t, codec.IsExpired(""))
}

func TestExpiryTimestamp(t *testing.T) {
	codec := NewCodec(WithClock(func() time.Time { return fixedNow }))

	millis, ok := codec.ExpiryTimestamp(signed(t, validClaims(fixedNow.Unix()+10)))
	assert.True(t, ok)
	assert.Equal(t, (fixedNow.Unix()+10)*1000, millis)

	_, ok = codec.ExpiryTimestamp("garbage")
	assert.False(t, ok)
}

func TestTimeUntilExpiry(t *testing.T) {
	codec := NewCodec(WithClock(func() time.Time { return fixedNow }))

	assert.Equal(t, 10*time.Second+750*time.Millisecond,
		codec.TimeUntilExpiry(signed(t, validClaims(fixedNow.Unix()+10))))
	assert.Equal(t, time.Duration(0), codec.TimeUntilExpiry(signed(t, validClaims(fixedNow.Unix()-5))))
	assert.Equal(t, time.Duration(0), codec.TimeUntilExpiry("garbage"))
}

func TestTimeUntilExpiry_ZeroExactlyWhenExpired(t *testing.T) {
	codec := NewCodec(WithClock(func() time.Time { return fixedNow }))

	for offset := int64(-3); offset <= 3; offset++ {
		raw := signed(t, validClaims(fixedNow.Unix()+offset))
		remaining := codec.TimeUntilExpiry(raw)
		assert.GreaterOrEqual(t, remaining, time.Duration(0))
		assert.Equal(t, codec.IsExpired(raw), remaining == 0, "offset %d", offset)
	}
}

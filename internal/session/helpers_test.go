package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/raine/dairy-console/internal/storage"
)

func testToken(t *testing.T, exp time.Time) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "17",
		"email": "herd@example.com",
		"role":  "manager",
		"iat":   exp.Add(-time.Hour).Unix(),
		"exp":   exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

func newTestStore() *storage.CredentialStore {
	return storage.NewCredentialStore(storage.NewMemoryJar(), false)
}

// recordingNavigator records every navigation.
type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (n *recordingNavigator) Navigate(path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paths = append(n.paths, path)
	return nil
}

func (n *recordingNavigator) Paths() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.paths...)
}

// countingIdentity counts ClearIdentity calls and can fail or panic.
type countingIdentity struct {
	calls  atomic.Int32
	fail   bool
	panics bool
}

func (c *countingIdentity) ClearIdentity(context.Context) error {
	c.calls.Add(1)
	if c.panics {
		panic("identity store exploded")
	}
	if c.fail {
		return errors.New("identity store unavailable")
	}
	return nil
}

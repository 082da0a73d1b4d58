package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/dairy-console/internal/token"
)

func TestHTTPRefreshFunc_RotatesTokens(t *testing.T) {
	var body refreshRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/refresh", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"new-access","refresh_token":"new-refresh"}`))
	}))
	defer ts.Close()

	g := New(newTestStore())
	g.SignIn("old-access", "old-refresh", map[string]int{"id": 5}, nil)
	r := NewRefresher(g, HTTPRefreshFunc(nil, ts.URL+"/auth/refresh"), 0)

	require.NoError(t, r.RefreshNow(context.Background()))

	assert.Equal(t, "old-refresh", body.RefreshToken)
	creds := g.Store().GetAuthCookies()
	assert.Equal(t, "new-access", creds.AccessToken)
	assert.Equal(t, "new-refresh", creds.RefreshToken)
	assert.Equal(t, `{"id":5}`, creds.User)
}

func TestHTTPRefreshFunc_RejectedLogsOut(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	nav := &recordingNavigator{}
	g := New(newTestStore(), WithNavigator(nav), WithRedirectDelay(time.Millisecond))
	g.SignIn("old-access", "old-refresh", nil, nil)
	r := NewRefresher(g, HTTPRefreshFunc(nil, ts.URL), 0)

	err := r.RefreshNow(context.Background())
	g.Wait()

	assert.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, Anonymous, g.State())
	assert.Equal(t, []string{LoginPath}, nav.Paths())
}

func TestHTTPRefreshFunc_ServerErrorKeepsSession(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	g := New(newTestStore())
	g.SignIn("old-access", "old-refresh", nil, nil)
	r := NewRefresher(g, HTTPRefreshFunc(nil, ts.URL), 0)

	err := r.RefreshNow(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrAuthenticationFailed))
	assert.Equal(t, "old-access", g.Store().AccessToken())
}

func TestRefreshNow_NoRefreshToken(t *testing.T) {
	g := New(newTestStore())
	r := NewRefresher(g, func(context.Context, string) (string, string, error) {
		t.Fatal("refresh must not be called")
		return "", "", nil
	}, 0)

	assert.ErrorIs(t, r.RefreshNow(context.Background()), ErrNoRefreshToken)
}

func TestRefreshNow_ConcurrentCallsShareExchange(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	g := New(newTestStore())
	g.SignIn("old-access", "old-refresh", nil, nil)
	r := NewRefresher(g, func(context.Context, string) (string, string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "new-access", "", nil
	}, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, r.RefreshNow(context.Background()))
	}()
	<-started

	for n := 0; n < 3; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.RefreshNow(context.Background()))
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	creds := g.Store().GetAuthCookies()
	assert.Equal(t, "new-access", creds.AccessToken)
	assert.Equal(t, "old-refresh", creds.RefreshToken)
}

func TestRefresher_NextWait(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	codec := token.NewCodec(token.WithClock(func() time.Time { return now }))
	g := New(newTestStore(), WithCodec(codec))
	r := NewRefresher(g, nil, time.Minute)

	assert.Equal(t, maxRefreshWait, r.nextWait(), "idle without a token")

	g.SignIn(testToken(t, now.Add(10*time.Minute)), "refresh", nil, nil)
	assert.Equal(t, 9*time.Minute+time.Second, r.nextWait())
	assert.False(t, r.due())

	g.SignIn(testToken(t, now.Add(30*time.Second)), "refresh", nil, nil)
	assert.Equal(t, minRefreshWait, r.nextWait())
	assert.True(t, r.due())

	g.SignIn(testToken(t, now.Add(24*time.Hour)), "refresh", nil, nil)
	assert.Equal(t, maxRefreshWait, r.nextWait())
}

func TestRefresher_RunRefreshesDueToken(t *testing.T) {
	refreshed := make(chan struct{})
	g := New(newTestStore())
	g.SignIn(testToken(t, time.Now().Add(10*time.Second)), "refresh", nil, nil)

	r := NewRefresher(g, func(context.Context, string) (string, string, error) {
		defer close(refreshed)
		return testToken(t, time.Now().Add(time.Hour)), "", nil
	}, time.Minute)
	r.minWait = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-refreshed:
	case <-time.After(2 * time.Second):
		t.Fatal("token was not refreshed")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Greater(t, g.Status().ExpiresIn, 50*time.Minute)
}

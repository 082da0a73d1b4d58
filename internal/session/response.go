package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/raine/dairy-console/internal/metrics"
	"github.com/raine/dairy-console/internal/storage"
)

// DefaultRedirectDelay lets teardown settle before the host navigates away.
const DefaultRedirectDelay = 100 * time.Millisecond

// ErrAuthenticationFailed is wrapped by every *AuthError.
var ErrAuthenticationFailed = errors.New("authentication failed")

// AuthError reports a response classified as an authorization failure.
type AuthError struct {
	StatusCode int
	URL        string
}

func (e *AuthError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("authentication failed (status: %d)", e.StatusCode)
	}
	return fmt.Sprintf("authentication failed: %s (status: %d)", e.URL, e.StatusCode)
}

func (e *AuthError) Unwrap() error {
	return ErrAuthenticationFailed
}

// IsAuthError reports whether resp is a 401 or 403.
func IsAuthError(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden
}

// ResponseInterceptor tears the session down when the API rejects it.
//
// Every rejection clears the stored credentials. Signalling the identity
// store and scheduling the redirect run behind a single-use latch, so
// concurrent failures of one session produce one of each. The latch is
// re-armed by Rearm, or when a rejection arrives while a different access
// token is stored than the one last torn down.
type ResponseInterceptor struct {
	store     *storage.CredentialStore
	identity  IdentityClearer
	navigator Navigator
	delay     time.Duration
	metrics   *metrics.Session

	mu       sync.Mutex
	armed    bool
	tornDown string
	pending  bool
	wg       sync.WaitGroup
}

// NewResponseInterceptor creates an armed interceptor. identity and
// navigator may be nil.
func NewResponseInterceptor(store *storage.CredentialStore, identity IdentityClearer, navigator Navigator, delay time.Duration, m *metrics.Session) *ResponseInterceptor {
	if delay <= 0 {
		delay = DefaultRedirectDelay
	}
	return &ResponseInterceptor{
		store:     store,
		identity:  identity,
		navigator: navigator,
		delay:     delay,
		metrics:   m,
		armed:     true,
	}
}

// Handle passes resp through. A 401 tears the session down first; 403 does
// not, see HandleAuthError.
func (i *ResponseInterceptor) Handle(ctx context.Context, resp *http.Response) *http.Response {
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		return resp
	}

	url := ""
	if resp.Request != nil {
		url = resp.Request.URL.String()
	}
	log.Warn().Str("url", url).Int("status", resp.StatusCode).Msg("session rejected by api")
	i.metrics.AuthError(strconv.Itoa(resp.StatusCode))

	i.teardown(ctx, "unauthorized", true)
	return resp
}

// HandleAuthError clears credentials, schedules the login redirect and
// returns an *AuthError when resp is a 401 or 403. It returns nil for any
// other response.
func (i *ResponseInterceptor) HandleAuthError(resp *http.Response) error {
	if !IsAuthError(resp) {
		return nil
	}

	i.metrics.AuthError(strconv.Itoa(resp.StatusCode))
	i.teardown(context.Background(), "auth_error", false)
	return newAuthError(resp)
}

func newAuthError(resp *http.Response) *AuthError {
	authErr := &AuthError{StatusCode: resp.StatusCode}
	if resp.Request != nil {
		authErr.URL = resp.Request.URL.String()
	}
	return authErr
}

// Rearm resets the teardown latch.
func (i *ResponseInterceptor) Rearm() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.armed = true
}

// Wait blocks until a pending redirect has run.
func (i *ResponseInterceptor) Wait() {
	i.wg.Wait()
}

// teardown clears the stored credentials and reports whether this call
// also fired the latch. The redirect is scheduled even if clearing panics.
func (i *ResponseInterceptor) teardown(ctx context.Context, reason string, signal bool) bool {
	if !i.fire(reason) {
		i.store.ClearAuthCookies()
		return false
	}

	defer i.scheduleRedirect()

	if signal {
		i.clearIdentity(ctx)
	}
	i.store.ClearAuthCookies()
	i.metrics.Teardown(reason)
	log.Info().Str("reason", reason).Msg("session torn down")
	return true
}

// fire consumes the latch. A shut latch opens again when the stored access
// token is not the one torn down last, i.e. credentials were written without
// going through Rearm.
func (i *ResponseInterceptor) fire(reason string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()

	current := i.store.AccessToken()
	if !i.armed && current != "" && current != i.tornDown {
		log.Debug().Str("reason", reason).Msg("new credentials since last teardown, re-arming")
		i.armed = true
	}
	if !i.armed {
		log.Debug().Str("reason", reason).Msg("session already torn down")
		return false
	}
	i.armed = false
	i.tornDown = current
	return true
}

func (i *ResponseInterceptor) clearIdentity(ctx context.Context) {
	if i.identity == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("identity store panicked during teardown")
		}
	}()
	if err := i.identity.ClearIdentity(ctx); err != nil {
		log.Error().Err(err).Msg("failed to clear identity during teardown")
	}
}

// scheduleRedirect navigates to LoginPath after the delay. While one
// redirect is pending further calls are ignored.
func (i *ResponseInterceptor) scheduleRedirect() {
	if i.navigator == nil {
		return
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pending {
		return
	}
	i.pending = true
	i.wg.Add(1)

	time.AfterFunc(i.delay, func() {
		defer i.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("navigator panicked")
			}
			i.mu.Lock()
			i.pending = false
			i.mu.Unlock()
		}()

		i.metrics.Redirect()
		if err := i.navigator.Navigate(LoginPath); err != nil {
			log.Error().Err(err).Str("path", LoginPath).Msg("failed to navigate to login")
		}
	})
}

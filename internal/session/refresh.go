package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultRefreshLead is how long before expiry the access token is renewed.
	DefaultRefreshLead = time.Minute

	minRefreshWait = 5 * time.Second
	maxRefreshWait = 15 * time.Minute
)

// ErrNoRefreshToken is returned by RefreshNow when no refresh token is stored.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// RefreshFunc exchanges a refresh token for new tokens. An empty refresh
// token in the result keeps the current one. Implementations return an
// *AuthError when the refresh token itself is rejected.
type RefreshFunc func(ctx context.Context, refreshToken string) (accessToken, newRefreshToken string, err error)

// Refresher renews the access token shortly before it expires. It is only
// created when a refresh endpoint is configured.
type Refresher struct {
	guard   *Guard
	refresh RefreshFunc
	lead    time.Duration
	minWait time.Duration
	maxWait time.Duration
	group   singleflight.Group
}

// NewRefresher renews tokens stored in guard's store using fn.
func NewRefresher(guard *Guard, fn RefreshFunc, lead time.Duration) *Refresher {
	if lead <= 0 {
		lead = DefaultRefreshLead
	}
	return &Refresher{
		guard:   guard,
		refresh: fn,
		lead:    lead,
		minWait: minRefreshWait,
		maxWait: maxRefreshWait,
	}
}

// Run blocks until ctx is cancelled, refreshing whenever the stored token
// comes within the lead time of expiring.
func (r *Refresher) Run(ctx context.Context) error {
	log.Info().Dur("lead", r.lead).Msg("starting token refresher")

	for {
		timer := time.NewTimer(r.nextWait())
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("stopping token refresher")
			return ctx.Err()
		case <-timer.C:
		}

		if !r.due() {
			continue
		}
		if err := r.RefreshNow(ctx); err != nil {
			log.Warn().Err(err).Msg("token refresh failed")
		}
	}
}

// nextWait is the time until the token enters the lead window, bounded so
// new sign-ins are noticed and failures are retried without spinning.
func (r *Refresher) nextWait() time.Duration {
	raw := r.guard.store.AccessToken()
	if raw == "" {
		return r.maxWait
	}
	wait := r.guard.codec.TimeUntilExpiry(raw) - r.lead
	if wait < r.minWait {
		return r.minWait
	}
	if wait > r.maxWait {
		return r.maxWait
	}
	return wait
}

func (r *Refresher) due() bool {
	creds := r.guard.store.GetAuthCookies()
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		return false
	}
	return r.guard.codec.TimeUntilExpiry(creds.AccessToken) <= r.lead
}

// RefreshNow refreshes immediately. Concurrent calls share one exchange.
// A rejected refresh token logs the session out.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	_, err, shared := r.group.Do("refresh", func() (any, error) {
		return nil, r.refreshOnce(ctx)
	})
	if shared {
		log.Debug().Msg("joined in-flight token refresh")
	}
	return err
}

func (r *Refresher) refreshOnce(ctx context.Context) error {
	creds := r.guard.store.GetAuthCookies()
	if creds.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	accessToken, refreshToken, err := r.refresh(ctx, creds.RefreshToken)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			r.guard.metrics.Refresh("rejected")
			log.Warn().Int("status", authErr.StatusCode).Msg("refresh token rejected, logging out")
			r.guard.Logout(ctx)
			return err
		}
		r.guard.metrics.Refresh("error")
		return err
	}

	r.guard.store.UpdateTokens(accessToken, refreshToken)
	r.guard.metrics.Refresh("ok")
	log.Info().Dur("expiresIn", r.guard.codec.TimeUntilExpiry(accessToken)).Msg("access token refreshed")
	return nil
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// HTTPRefreshFunc posts the refresh token as JSON to endpoint. It uses its
// own client so a rejected refresh does not pass through the guard's hooks.
func HTTPRefreshFunc(client *resty.Client, endpoint string) RefreshFunc {
	if client == nil {
		client = resty.New().SetTimeout(30 * time.Second)
	}
	return func(ctx context.Context, refreshToken string) (string, string, error) {
		result := &refreshResponse{}
		res, err := client.R().
			SetContext(ctx).
			SetBody(refreshRequest{RefreshToken: refreshToken}).
			SetResult(result).
			Post(endpoint)
		if err != nil {
			return "", "", fmt.Errorf("refresh request failed: %w", err)
		}
		if res.StatusCode() == http.StatusUnauthorized || res.StatusCode() == http.StatusForbidden {
			return "", "", &AuthError{StatusCode: res.StatusCode(), URL: endpoint}
		}
		if res.IsError() {
			return "", "", fmt.Errorf("refresh failed: %s %s (status: %d)", res.Request.Method, res.Request.URL, res.StatusCode())
		}
		if result.AccessToken == "" {
			return "", "", errors.New("refresh response has no access token")
		}
		return result.AccessToken, result.RefreshToken, nil
	}
}

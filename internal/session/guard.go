// Package session is the console's authenticated HTTP client.
//
// A Guard wraps a resty client with two hooks. Before each request the
// stored access token is attached as a bearer credential; after each
// received response a 401 tears the session down and sends the host to
// /login. Transport errors bypass the hooks and reach the caller untouched.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/raine/dairy-console/internal/metrics"
	"github.com/raine/dairy-console/internal/storage"
	"github.com/raine/dairy-console/internal/token"
)

// State is the coarse session state.
type State int

const (
	Anonymous State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

type options struct {
	baseURL       string
	timeout       time.Duration
	httpClient    *http.Client
	identity      IdentityClearer
	navigator     Navigator
	redirectDelay time.Duration
	metrics       *metrics.Session
	codec         *token.Codec
}

// Option configures a Guard.
type Option func(*options)

// WithBaseURL resolves relative request URLs against url.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithTimeout bounds each request. Zero leaves the transport default.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHTTPClient sets the underlying http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithIdentity sets the collaborator signalled on teardown.
func WithIdentity(c IdentityClearer) Option {
	return func(o *options) { o.identity = c }
}

// WithNavigator enables the login redirect.
func WithNavigator(n Navigator) Option {
	return func(o *options) { o.navigator = n }
}

// WithRedirectDelay overrides DefaultRedirectDelay.
func WithRedirectDelay(d time.Duration) Option {
	return func(o *options) { o.redirectDelay = d }
}

// WithMetrics records session events.
func WithMetrics(m *metrics.Session) Option {
	return func(o *options) { o.metrics = m }
}

// WithCodec overrides the token codec, mostly to pin its clock.
func WithCodec(c *token.Codec) Option {
	return func(o *options) { o.codec = c }
}

// Guard is the session-guarded HTTP client.
type Guard struct {
	store     *storage.CredentialStore
	client    *resty.Client
	codec     *token.Codec
	metrics   *metrics.Session
	requests  *RequestInterceptor
	responses *ResponseInterceptor
}

// New builds a Guard around store.
func New(store *storage.CredentialStore, opts ...Option) *Guard {
	o := options{redirectDelay: DefaultRedirectDelay}
	for _, opt := range opts {
		opt(&o)
	}
	if o.codec == nil {
		o.codec = token.NewCodec()
	}

	g := &Guard{
		store:     store,
		codec:     o.codec,
		metrics:   o.metrics,
		requests:  NewRequestInterceptor(store),
		responses: NewResponseInterceptor(store, o.identity, o.navigator, o.redirectDelay, o.metrics),
	}

	if o.httpClient != nil {
		g.client = resty.NewWithClient(o.httpClient)
	} else {
		g.client = resty.New()
	}
	g.client.
		SetDebug(false).
		SetHeader("Accept", "application/json")
	if o.baseURL != "" {
		g.client.SetBaseURL(o.baseURL)
	}
	if o.timeout > 0 {
		g.client.SetTimeout(o.timeout)
	}

	g.client.OnBeforeRequest(setRequestID)
	g.client.OnBeforeRequest(g.requests.beforeRequest)
	g.client.OnAfterResponse(g.afterResponse)

	return g
}

// Client returns the hooked resty client for callers that prefer building
// requests with resty directly.
func (g *Guard) Client() *resty.Client {
	return g.client
}

// Store returns the credential store.
func (g *Guard) Store() *storage.CredentialStore {
	return g.store
}

// Requests returns the request interceptor.
func (g *Guard) Requests() *RequestInterceptor {
	return g.requests
}

// Responses returns the response interceptor.
func (g *Guard) Responses() *ResponseInterceptor {
	return g.responses
}

// Fetch sends a request through the interceptors. A response of any status
// is returned as is; only transport failures produce an error.
func (g *Guard) Fetch(ctx context.Context, url string, opts RequestOptions) (*resty.Response, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	req := g.client.R().SetContext(ctx)
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if opts.Token != "" {
		req.SetAuthToken(opts.Token)
	}
	if opts.Body != nil {
		req.SetBody(opts.Body)
	}

	return req.Execute(method, url)
}

func (g *Guard) afterResponse(_ *resty.Client, r *resty.Response) error {
	g.responses.Handle(r.Request.Context(), r.RawResponse)
	return nil
}

func setRequestID(_ *resty.Client, r *resty.Request) error {
	if r.Header.Get("X-Request-Id") == "" {
		r.Header.Set("X-Request-Id", uuid.NewString())
	}
	return nil
}

// SignIn stores credentials from the external login flow and re-arms the
// teardown latch.
func (g *Guard) SignIn(accessToken, refreshToken string, user, profile any) {
	g.store.SetAuthCookies(accessToken, refreshToken, user, profile)
	g.responses.Rearm()
	log.Info().Msg("session signed in")
}

// Logout tears the session down as if the API had rejected it.
func (g *Guard) Logout(ctx context.Context) {
	g.responses.teardown(ctx, "logout", true)
}

// CheckAuth returns an *AuthError when res is a 401 or 403. A 401 was
// already torn down and counted by the response hook; a 403 goes through
// HandleAuthError here.
func (g *Guard) CheckAuth(res *resty.Response) error {
	if res == nil || res.RawResponse == nil {
		return nil
	}
	if res.StatusCode() == http.StatusUnauthorized {
		return newAuthError(res.RawResponse)
	}
	return g.responses.HandleAuthError(res.RawResponse)
}

// State reports Authenticated while an access token is stored.
func (g *Guard) State() State {
	if g.store.AccessToken() != "" {
		return Authenticated
	}
	return Anonymous
}

// Status describes the stored session.
type Status struct {
	State     State
	Claims    *token.Claims
	Expired   bool
	ExpiresIn time.Duration
}

// Status decodes the stored access token. Claims is nil when there is no
// token or it cannot be decoded.
func (g *Guard) Status() Status {
	raw := g.store.AccessToken()
	st := Status{State: g.State()}
	if raw == "" {
		return st
	}
	st.Claims, _ = token.Decode(raw)
	st.Expired = g.codec.IsExpired(raw)
	st.ExpiresIn = g.codec.TimeUntilExpiry(raw)
	return st
}

// Wait blocks until a pending login redirect has run.
func (g *Guard) Wait() {
	g.responses.Wait()
}

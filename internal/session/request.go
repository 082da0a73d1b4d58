package session

import (
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/raine/dairy-console/internal/storage"
)

// RequestOptions is the part of an outgoing request the interceptors and
// Fetch care about.
type RequestOptions struct {
	Method string
	Header http.Header
	Body   any
	// Token is a caller-supplied bearer token. Like an explicit
	// Authorization header it takes precedence over the stored one.
	Token string
}

func (o RequestOptions) hasAuthorization() bool {
	return o.Token != "" || o.Header.Get("Authorization") != ""
}

// RequestInterceptor attaches the stored access token to outgoing requests.
type RequestInterceptor struct {
	store *storage.CredentialStore
}

// NewRequestInterceptor reads tokens from store.
func NewRequestInterceptor(store *storage.CredentialStore) *RequestInterceptor {
	return &RequestInterceptor{store: store}
}

// Prepare returns opts with an Authorization: Bearer header added when a
// token is stored and the caller did not supply credentials. A missing token
// is not an error; the request goes out anonymous. The caller's header map
// is never modified.
func (i *RequestInterceptor) Prepare(url string, opts RequestOptions) RequestOptions {
	accessToken := i.store.AccessToken()

	if opts.hasAuthorization() {
		return opts
	}
	if accessToken == "" {
		log.Debug().Str("url", url).Msg("no access token, sending anonymous request")
		return opts
	}

	header := opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Authorization", "Bearer "+accessToken)
	opts.Header = header
	return opts
}

// beforeRequest adapts Prepare to resty's request middleware.
func (i *RequestInterceptor) beforeRequest(_ *resty.Client, r *resty.Request) error {
	opts := i.Prepare(r.URL, RequestOptions{
		Method: r.Method,
		Header: r.Header,
		Token:  r.Token,
	})
	r.Header = opts.Header
	return nil
}

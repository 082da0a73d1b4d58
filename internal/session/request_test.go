package session

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrepare_AttachesStoredToken(t *testing.T) {
	store := newTestStore()
	store.SetAuthCookies("stored-token", "refresh", nil, nil)
	i := NewRequestInterceptor(store)

	opts := i.Prepare("/api/herds", RequestOptions{Method: http.MethodGet})

	assert.Equal(t, "Bearer stored-token", opts.Header.Get("Authorization"))
}

func TestPrepare_CallerCredentialsWin(t *testing.T) {
	store := newTestStore()
	store.SetAuthCookies("stored-token", "refresh", nil, nil)
	i := NewRequestInterceptor(store)

	header := http.Header{}
	header.Set("Authorization", "Bearer caller-token")
	opts := i.Prepare("/api/herds", RequestOptions{Header: header})
	assert.Equal(t, "Bearer caller-token", opts.Header.Get("Authorization"))

	opts = i.Prepare("/api/herds", RequestOptions{Token: "caller-token"})
	assert.Equal(t, "", opts.Header.Get("Authorization"))
	assert.Equal(t, "caller-token", opts.Token)
}

func TestPrepare_AnonymousWithoutToken(t *testing.T) {
	i := NewRequestInterceptor(newTestStore())

	header := http.Header{"Accept": {"application/json"}}
	opts := i.Prepare("/api/herds", RequestOptions{Header: header})

	assert.Equal(t, header, opts.Header)
	assert.Empty(t, opts.Header.Get("Authorization"))
}

func TestPrepare_DoesNotMutateCallerHeader(t *testing.T) {
	store := newTestStore()
	store.SetAuthCookies("stored-token", "refresh", nil, nil)
	i := NewRequestInterceptor(store)

	header := http.Header{"Accept": {"application/json"}}
	opts := i.Prepare("/api/herds", RequestOptions{Header: header})

	assert.Empty(t, header.Get("Authorization"))
	assert.Equal(t, "application/json", opts.Header.Get("Accept"))
	assert.Equal(t, "Bearer stored-token", opts.Header.Get("Authorization"))
}

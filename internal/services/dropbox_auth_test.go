package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthManager(srvURL, tokenPath string) *DropboxAuthManager {
	return &DropboxAuthManager{
		clientID:     "app-id",
		clientSecret: "app-secret",
		redirectURI:  "http://localhost/cb",
		authBase:     srvURL,
		tokenURL:     srvURL + "/oauth2/token",
		endpoints:    DropboxEndpoints{API: srvURL, Content: srvURL},
		tokens:       NewTokenStore(tokenPath),
	}
}

// tokenEndpoint fakes the OAuth token endpoint, counting calls.
func tokenEndpoint(calls *atomic.Int32, accessToken string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			http.NotFound(w, r)
			return
		}
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":%q,"refresh_token":"rotated-refresh","expires_in":14400}`, accessToken)
	})
}

func TestClientColdStartNotAuthorized(t *testing.T) {
	m := newTestAuthManager("http://unused", filepath.Join(t.TempDir(), "tokens.json"))

	_, err := m.Client(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthorized)

	// terminal outcome is cached
	_, err = m.Client(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestClientNoCredentials(t *testing.T) {
	m := newTestAuthManager("http://unused", filepath.Join(t.TempDir(), "tokens.json"))
	m.clientID = ""

	_, err := m.Client(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.False(t, m.Enabled())
}

func TestClientValidTokenSkipsRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(tokenEndpoint(&calls, "fresh"))
	defer srv.Close()

	tokenPath := filepath.Join(t.TempDir(), "tokens.json")
	_, err := NewTokenStore(tokenPath).Save("valid-access", "refresh-1", 4*time.Hour)
	require.NoError(t, err)

	m := newTestAuthManager(srv.URL, tokenPath)
	client, err := m.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "valid-access", client.accessToken)
	assert.Equal(t, int32(0), calls.Load())
}

func TestClientRefreshesExpiredToken(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(tokenEndpoint(&calls, "refreshed-access"))
	defer srv.Close()

	tokenPath := filepath.Join(t.TempDir(), "tokens.json")
	_, err := NewTokenStore(tokenPath).Save("stale-access", "refresh-1", -time.Hour)
	require.NoError(t, err)

	m := newTestAuthManager(srv.URL, tokenPath)
	client, err := m.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", client.accessToken)
	assert.Equal(t, int32(1), calls.Load())

	// cached client, no second network call
	_, err = m.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	// rotated refresh token was persisted
	record := m.tokens.Load()
	require.NotNil(t, record)
	assert.Equal(t, "rotated-refresh", record.RefreshToken)
}

func TestClientExpiredWithoutRefreshToken(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "tokens.json")
	_, err := NewTokenStore(tokenPath).Save("stale-access", "", -time.Hour)
	require.NoError(t, err)

	m := newTestAuthManager("http://unused", tokenPath)
	_, err = m.Client(context.Background())
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestClientWhileRefreshInFlight(t *testing.T) {
	m := newTestAuthManager("http://unused", filepath.Join(t.TempDir(), "tokens.json"))
	m.refreshing = true

	_, err := m.Client(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInFlight)

	_, err = m.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRefreshInFlight)
}

func TestRefreshFailurePropagatesAndClearsClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	tokenPath := filepath.Join(t.TempDir(), "tokens.json")
	_, err := NewTokenStore(tokenPath).Save("stale-access", "refresh-1", -time.Hour)
	require.NoError(t, err)

	m := newTestAuthManager(srv.URL, tokenPath)
	_, err = m.Client(context.Background())
	require.Error(t, err)
	var te *TokenExchangeError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadRequest, te.StatusCode)

	assert.False(t, m.refreshing, "refresh guard must be released")
	assert.Nil(t, m.client)
}

func TestExchangeCodeEnablesClient(t *testing.T) {
	var calls atomic.Int32
	var seenGrant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		seenGrant = r.PostFormValue("grant_type")
		tokenEndpoint(&calls, "exchanged-access").ServeHTTP(w, r)
	}))
	defer srv.Close()

	tokenPath := filepath.Join(t.TempDir(), "tokens.json")
	m := newTestAuthManager(srv.URL, tokenPath)

	require.NoError(t, m.ExchangeCode(context.Background(), "auth-code"))
	assert.Equal(t, "authorization_code", seenGrant)

	client, err := m.Client(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "exchanged-access", client.accessToken)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDisconnectClearsTokens(t *testing.T) {
	tokenPath := filepath.Join(t.TempDir(), "tokens.json")
	_, err := NewTokenStore(tokenPath).Save("access", "refresh", time.Hour)
	require.NoError(t, err)

	m := newTestAuthManager("http://unused", tokenPath)
	_, err = m.Client(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Disconnect())
	_, err = m.Client(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthorized)
}

func TestAuthorizationURL(t *testing.T) {
	m := newTestAuthManager("https://www.example.com", filepath.Join(t.TempDir(), "tokens.json"))

	raw := m.AuthorizationURL("state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "app-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "offline", q.Get("token_access_type"))
	assert.Equal(t, "state-123", q.Get("state"))
}

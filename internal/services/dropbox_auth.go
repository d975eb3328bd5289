package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opsched/backend/internal/config"
)

// DropboxAuthManager owns the OAuth lifecycle and hands out a ready-to-use
// client. Init is lazy and idempotent: once a terminal outcome (client or
// unauthorized) is reached, subsequent calls return the cached result until
// Reset. Only one token refresh may be in flight at a time; concurrent
// callers get ErrRefreshInFlight and retry on their next invocation.
type DropboxAuthManager struct {
	clientID     string
	clientSecret string
	redirectURI  string
	authBase     string
	tokenURL     string
	endpoints    DropboxEndpoints
	tokens       *TokenStore

	mu          sync.Mutex
	refreshing  bool
	initialized bool
	client      *DropboxClient
	initErr     error
}

// NewDropboxAuthManager wires the manager from app credentials and the token
// store location.
func NewDropboxAuthManager(cfg *config.Config) *DropboxAuthManager {
	endpoints := DefaultDropboxEndpoints()
	return &DropboxAuthManager{
		clientID:     cfg.DropboxClientID,
		clientSecret: cfg.DropboxClientSecret,
		redirectURI:  cfg.DropboxRedirectURI,
		authBase:     "https://www.dropbox.com",
		tokenURL:     endpoints.API + "/oauth2/token",
		endpoints:    endpoints,
		tokens:       NewTokenStore(cfg.DropboxTokenFile),
	}
}

// Enabled reports whether Dropbox app credentials are configured at all.
func (m *DropboxAuthManager) Enabled() bool {
	return m.clientID != ""
}

// AuthorizationURL builds the provider redirect URL. token_access_type=offline
// asks Dropbox to issue a refresh token with the initial grant.
func (m *DropboxAuthManager) AuthorizationURL(state string) string {
	q := url.Values{}
	q.Set("client_id", m.clientID)
	q.Set("response_type", "code")
	q.Set("token_access_type", "offline")
	q.Set("redirect_uri", m.redirectURI)
	if state != "" {
		q.Set("state", state)
	}
	return m.authBase + "/oauth2/authorize?" + q.Encode()
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// postTokenForm calls the OAuth token endpoint with the given form values.
func (m *DropboxAuthManager) postTokenForm(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := newHTTPClient(30 * time.Second).Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, &TokenExchangeError{StatusCode: resp.StatusCode, Body: "response contained no access_token"}
	}
	return &tr, nil
}

// ExchangeCode performs the one-time exchange of an authorization code for
// the initial token pair and persists it.
func (m *DropboxAuthManager) ExchangeCode(ctx context.Context, code string) error {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)
	form.Set("redirect_uri", m.redirectURI)

	tr, err := m.postTokenForm(ctx, form)
	if err != nil {
		return err
	}

	if _, err := m.tokens.Save(tr.AccessToken, tr.RefreshToken, time.Duration(tr.ExpiresIn)*time.Second); err != nil {
		return err
	}

	m.mu.Lock()
	m.client = NewDropboxClient(tr.AccessToken, m.endpoints)
	m.initialized = true
	m.initErr = nil
	m.mu.Unlock()

	log.Println("Dropbox: authorization complete, cloud replication enabled")
	return nil
}

// exchangeRefreshToken trades a refresh token for a new access token and
// persists the result. Dropbox may rotate the refresh token; when it does
// not, the stored one is kept.
func (m *DropboxAuthManager) exchangeRefreshToken(ctx context.Context, refreshToken string) (*DropboxClient, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)

	tr, err := m.postTokenForm(ctx, form)
	if err != nil {
		return nil, err
	}

	newRefresh := tr.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}
	if _, err := m.tokens.Save(tr.AccessToken, newRefresh, time.Duration(tr.ExpiresIn)*time.Second); err != nil {
		return nil, err
	}

	log.Println("Dropbox: access token refreshed")
	return NewDropboxClient(tr.AccessToken, m.endpoints), nil
}

// Client returns a ready client, lazily initializing from the token store
// and refreshing an expired access token when a refresh token exists.
func (m *DropboxAuthManager) Client(ctx context.Context) (*DropboxClient, error) {
	m.mu.Lock()
	if m.refreshing {
		m.mu.Unlock()
		return nil, ErrRefreshInFlight
	}
	if m.initialized {
		client, initErr := m.client, m.initErr
		m.mu.Unlock()
		if client != nil {
			return client, nil
		}
		return nil, initErr
	}

	if !m.Enabled() {
		m.initialized = true
		m.initErr = ErrNotAuthorized
		m.mu.Unlock()
		return nil, ErrNotAuthorized
	}

	record := m.tokens.Load()
	if record == nil {
		m.initialized = true
		m.initErr = ErrNotAuthorized
		m.mu.Unlock()
		return nil, ErrNotAuthorized
	}

	if !record.Expired(time.Now()) {
		m.client = NewDropboxClient(record.AccessToken, m.endpoints)
		m.initialized = true
		m.initErr = nil
		client := m.client
		m.mu.Unlock()
		return client, nil
	}

	if record.RefreshToken == "" {
		m.initialized = true
		m.client = nil
		m.initErr = ErrNoRefreshToken
		m.mu.Unlock()
		return nil, ErrNoRefreshToken
	}

	m.refreshing = true
	m.mu.Unlock()

	client, err := m.exchangeRefreshToken(ctx, record.RefreshToken)
	return m.finishRefresh(client, err)
}

// Refresh forces a token refresh regardless of cached state. A failure
// clears the in-memory client and propagates; it is never swallowed.
func (m *DropboxAuthManager) Refresh(ctx context.Context) (*DropboxClient, error) {
	m.mu.Lock()
	if m.refreshing {
		m.mu.Unlock()
		return nil, ErrRefreshInFlight
	}

	record := m.tokens.Load()
	if record == nil {
		m.initialized = true
		m.client = nil
		m.initErr = ErrNotAuthorized
		m.mu.Unlock()
		return nil, ErrNotAuthorized
	}
	if record.RefreshToken == "" {
		m.initialized = true
		m.client = nil
		m.initErr = ErrNoRefreshToken
		m.mu.Unlock()
		return nil, ErrNoRefreshToken
	}

	m.refreshing = true
	m.mu.Unlock()

	client, err := m.exchangeRefreshToken(ctx, record.RefreshToken)
	return m.finishRefresh(client, err)
}

func (m *DropboxAuthManager) finishRefresh(client *DropboxClient, err error) (*DropboxClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshing = false
	m.initialized = true
	if err != nil {
		m.client = nil
		m.initErr = err
		return nil, err
	}
	m.client = client
	m.initErr = nil
	return client, nil
}

// Reset drops the cached init outcome so the next Client call re-validates.
func (m *DropboxAuthManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.client = nil
	m.initialized = false
	m.initErr = nil
}

// Disconnect removes the persisted tokens and resets in-memory state.
func (m *DropboxAuthManager) Disconnect() error {
	if err := m.tokens.Clear(); err != nil {
		return err
	}
	m.Reset()
	log.Println("Dropbox: disconnected, tokens removed")
	return nil
}

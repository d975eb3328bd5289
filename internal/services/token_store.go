package services

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// OAuthTokenRecord is the persisted Dropbox token state. ExpiresAt is always
// derived from issuance time plus the provider's expires_in.
type OAuthTokenRecord struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"` // epoch milliseconds
	UpdatedAt    string `json:"updated_at"` // RFC 3339
}

// expirySkew renews tokens slightly early so an about-to-expire token is not
// handed to a long upload.
const expirySkew = 60 * time.Second

// Expired reports whether the access token is past (or within skew of) expiry.
func (r *OAuthTokenRecord) Expired(now time.Time) bool {
	return now.Add(expirySkew).UnixMilli() >= r.ExpiresAt
}

// TokenStore persists the token record as a single JSON file. Absence is a
// valid state, not a fault; a corrupt file degrades to "no tokens".
type TokenStore struct {
	path string
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

// Load reads the persisted record. Returns nil when no usable record exists.
func (s *TokenStore) Load() *OAuthTokenRecord {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Dropbox: cannot read token file %s: %v", s.path, err)
		}
		return nil
	}

	var record OAuthTokenRecord
	if err := json.Unmarshal(data, &record); err != nil {
		log.Printf("Dropbox: token file %s is corrupt, treating as unauthorized: %v", s.path, err)
		return nil
	}
	if record.AccessToken == "" {
		return nil
	}
	return &record
}

// Save atomically overwrites the record, computing expiry from expiresIn.
func (s *TokenStore) Save(accessToken, refreshToken string, expiresIn time.Duration) (*OAuthTokenRecord, error) {
	now := time.Now()
	record := &OAuthTokenRecord{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(expiresIn).UnixMilli(),
		UpdatedAt:    now.UTC().Format(time.RFC3339),
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode token record: %w", err)
	}

	// Write-then-rename so a crash mid-write never corrupts the stored record.
	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("failed to finalize token file: %w", err)
	}

	return record, nil
}

// Clear removes the persisted record. Only invoked by an explicit disconnect;
// tokens are never deleted automatically.
func (s *TokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

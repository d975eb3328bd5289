package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DropboxEndpoints are the API hosts. Overridable so tests can point the
// client at a local server.
type DropboxEndpoints struct {
	API     string // RPC-style JSON endpoints
	Content string // upload/download endpoints
}

// DefaultDropboxEndpoints returns the production Dropbox hosts.
func DefaultDropboxEndpoints() DropboxEndpoints {
	return DropboxEndpoints{
		API:     "https://api.dropboxapi.com",
		Content: "https://content.dropboxapi.com",
	}
}

// DropboxClient is a thin client for the Dropbox HTTP API v2, carrying one
// access token. Expired-token responses surface as *AuthError so callers can
// refresh and retry.
type DropboxClient struct {
	endpoints   DropboxEndpoints
	accessToken string
}

func NewDropboxClient(accessToken string, endpoints DropboxEndpoints) *DropboxClient {
	return &DropboxClient{
		endpoints:   endpoints,
		accessToken: accessToken,
	}
}

// newHTTPClient returns an HTTP client with the given timeout.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// CloudEntry is one object in a Dropbox folder listing.
type CloudEntry struct {
	Tag            string    `json:".tag"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	Size           int64     `json:"size"`
	ServerModified time.Time `json:"server_modified"`
}

type dropboxErrorBody struct {
	ErrorSummary string `json:"error_summary"`
}

// apiError converts a non-2xx Dropbox response into a typed error.
func apiError(statusCode int, body []byte) error {
	if statusCode == http.StatusUnauthorized {
		var eb dropboxErrorBody
		json.Unmarshal(body, &eb)
		if eb.ErrorSummary == "" {
			eb.ErrorSummary = "expired_access_token"
		}
		return &AuthError{Summary: eb.ErrorSummary}
	}
	if statusCode == http.StatusConflict {
		var eb dropboxErrorBody
		if err := json.Unmarshal(body, &eb); err == nil && eb.ErrorSummary != "" {
			return &APIError{Summary: eb.ErrorSummary}
		}
	}
	return fmt.Errorf("dropbox returned HTTP %d: %s", statusCode, string(body))
}

// rpc performs a JSON request against an api-host endpoint.
func (c *DropboxClient) rpc(ctx context.Context, path string, payload, out interface{}) error {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode request payload: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoints.API+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := newHTTPClient(30 * time.Second).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp.StatusCode, respBody)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// Upload streams r to remotePath in overwrite mode, so re-uploading the same
// filename replaces the object instead of duplicating it.
func (c *DropboxClient) Upload(ctx context.Context, remotePath string, r io.Reader, size int64) error {
	arg, err := json.Marshal(map[string]interface{}{
		"path": remotePath,
		"mode": "overwrite",
		"mute": true,
	})
	if err != nil {
		return fmt.Errorf("failed to encode upload arg: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoints.Content+"/2/files/upload", r)
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Dropbox-API-Arg", string(arg))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = size

	// 30-minute timeout for large backup uploads
	resp, err := newHTTPClient(30 * time.Minute).Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read upload response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp.StatusCode, respBody)
	}
	return nil
}

// Download fetches remotePath. The caller must close the returned body.
func (c *DropboxClient) Download(ctx context.Context, remotePath string) (io.ReadCloser, error) {
	arg, err := json.Marshal(map[string]string{"path": remotePath})
	if err != nil {
		return nil, fmt.Errorf("failed to encode download arg: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoints.Content+"/2/files/download", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Dropbox-API-Arg", string(arg))

	resp, err := newHTTPClient(30 * time.Minute).Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, apiError(resp.StatusCode, respBody)
	}
	return resp.Body, nil
}

// ListFolder returns every entry in folder, following pagination.
func (c *DropboxClient) ListFolder(ctx context.Context, folder string) ([]CloudEntry, error) {
	var result struct {
		Entries []CloudEntry `json:"entries"`
		Cursor  string       `json:"cursor"`
		HasMore bool         `json:"has_more"`
	}
	if err := c.rpc(ctx, "/2/files/list_folder", map[string]string{"path": folder}, &result); err != nil {
		return nil, err
	}

	entries := result.Entries
	for result.HasMore {
		cursor := result.Cursor
		result.Entries = nil
		if err := c.rpc(ctx, "/2/files/list_folder/continue", map[string]string{"cursor": cursor}, &result); err != nil {
			return nil, err
		}
		entries = append(entries, result.Entries...)
	}
	return entries, nil
}

// Delete removes a remote object.
func (c *DropboxClient) Delete(ctx context.Context, remotePath string) error {
	return c.rpc(ctx, "/2/files/delete_v2", map[string]string{"path": remotePath}, nil)
}

// CreateFolder creates a remote folder; an existing folder is not an error.
func (c *DropboxClient) CreateFolder(ctx context.Context, path string) error {
	err := c.rpc(ctx, "/2/files/create_folder_v2", map[string]string{"path": path}, nil)
	if err != nil && isPathConflict(err) {
		return nil
	}
	return err
}

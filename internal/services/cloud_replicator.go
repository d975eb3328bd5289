package services

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"
)

// Replicator mirrors backup artifacts to offsite storage. The orchestrator
// treats every replicator failure as degradable: logged, never fatal to the
// local operation that triggered it.
type Replicator interface {
	Upload(ctx context.Context, localPath, filename string) error
	List(ctx context.Context) ([]BackupArtifact, error)
	Download(ctx context.Context, remotePath, localDest string) error
	Delete(ctx context.Context, remotePath string) error
	EnsureFolder(ctx context.Context) error
	Check(ctx context.Context) error
}

// CloudReplicator mirrors artifacts to a fixed Dropbox folder. Every
// operation handles "token expired mid-operation" itself: a single auth
// failure triggers exactly one refresh-and-retry, because tokens can expire
// between the auth manager's last check and the actual call.
type CloudReplicator struct {
	auth    *DropboxAuthManager
	folder  string
	retries int
	backoff time.Duration
}

func NewCloudReplicator(auth *DropboxAuthManager, folder string, retries int, backoff time.Duration) *CloudReplicator {
	if retries < 1 {
		retries = 1
	}
	return &CloudReplicator{
		auth:    auth,
		folder:  folder,
		retries: retries,
		backoff: backoff,
	}
}

// withAuthRetry runs fn with a ready client, refreshing once and retrying
// when the call fails with an auth error.
func (r *CloudReplicator) withAuthRetry(ctx context.Context, fn func(*DropboxClient) error) error {
	client, err := r.auth.Client(ctx)
	if err != nil {
		return err
	}

	err = fn(client)
	if !IsAuthError(err) {
		return err
	}

	client, refreshErr := r.auth.Refresh(ctx)
	if refreshErr != nil {
		return refreshErr
	}
	return fn(client)
}

// Upload mirrors a local file to the remote folder in overwrite mode,
// retrying generic failures up to the configured bound with linear backoff.
func (r *CloudReplicator) Upload(ctx context.Context, localPath, filename string) error {
	remotePath := r.folder + "/" + filename

	var lastErr error
	for attempt := 1; attempt <= r.retries; attempt++ {
		lastErr = r.withAuthRetry(ctx, func(client *DropboxClient) error {
			f, err := os.Open(localPath)
			if err != nil {
				return fmt.Errorf("failed to open backup file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("failed to stat backup file: %w", err)
			}
			return client.Upload(ctx, remotePath, f, info.Size())
		})
		if lastErr == nil {
			log.Printf("Dropbox: uploaded %s", filename)
			return nil
		}

		if attempt < r.retries {
			log.Printf("Dropbox: upload attempt %d/%d for %s failed: %v", attempt, r.retries, filename, lastErr)
			select {
			case <-time.After(time.Duration(attempt) * r.backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("cloud upload of %s failed after %d attempts: %w", filename, r.retries, lastErr)
}

// List returns remote backup artifacts, newest first. A folder that does not
// exist yet is an empty list, not an error.
func (r *CloudReplicator) List(ctx context.Context) ([]BackupArtifact, error) {
	var entries []CloudEntry
	err := r.withAuthRetry(ctx, func(client *DropboxClient) error {
		var listErr error
		entries, listErr = client.ListFolder(ctx, r.folder)
		return listErr
	})
	if err != nil {
		if isPathNotFound(err) {
			return []BackupArtifact{}, nil
		}
		return nil, err
	}

	artifacts := []BackupArtifact{}
	for _, entry := range entries {
		if entry.Tag != "" && entry.Tag != "file" {
			continue
		}
		ts, tier, ok := parseArtifactName(entry.Name)
		if !ok {
			continue
		}
		artifacts = append(artifacts, BackupArtifact{
			Filename:  entry.Name,
			Tier:      tier,
			SizeBytes: entry.Size,
			CreatedAt: ts,
			Location:  LocationCloud,
			Path:      entry.PathLower,
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
	return artifacts, nil
}

// Download fetches a remote artifact into localDest.
func (r *CloudReplicator) Download(ctx context.Context, remotePath, localDest string) error {
	return r.withAuthRetry(ctx, func(client *DropboxClient) error {
		body, err := client.Download(ctx, remotePath)
		if err != nil {
			return err
		}
		defer body.Close()

		out, err := os.Create(localDest)
		if err != nil {
			return fmt.Errorf("failed to create local file: %w", err)
		}
		if _, err := io.Copy(out, body); err != nil {
			out.Close()
			os.Remove(localDest)
			return fmt.Errorf("failed to write downloaded backup: %w", err)
		}
		return out.Close()
	})
}

// Delete removes a single remote artifact.
func (r *CloudReplicator) Delete(ctx context.Context, remotePath string) error {
	return r.withAuthRetry(ctx, func(client *DropboxClient) error {
		return client.Delete(ctx, remotePath)
	})
}

// EnsureFolder creates the fixed remote backup folder if missing.
func (r *CloudReplicator) EnsureFolder(ctx context.Context) error {
	return r.withAuthRetry(ctx, func(client *DropboxClient) error {
		return client.CreateFolder(ctx, r.folder)
	})
}

// Check performs a lightweight authenticated call to verify connectivity.
// A missing backup folder still proves the credentials work.
func (r *CloudReplicator) Check(ctx context.Context) error {
	err := r.withAuthRetry(ctx, func(client *DropboxClient) error {
		_, listErr := client.ListFolder(ctx, r.folder)
		return listErr
	})
	if err != nil && isPathNotFound(err) {
		return nil
	}
	return err
}

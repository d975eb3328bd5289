package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newReplicatorWithToken wires a replicator against a fake Dropbox server,
// with a valid persisted access token.
func newReplicatorWithToken(t *testing.T, srvURL, accessToken string) *CloudReplicator {
	t.Helper()
	tokenPath := filepath.Join(t.TempDir(), "tokens.json")
	_, err := NewTokenStore(tokenPath).Save(accessToken, "refresh-1", 4*time.Hour)
	require.NoError(t, err)

	auth := newTestAuthManager(srvURL, tokenPath)
	return NewCloudReplicator(auth, "/opsched-backups", 3, time.Millisecond)
}

func writeLocalBackup(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("-- dump\n"), 0644))
	return path
}

func TestUploadSendsOverwriteMode(t *testing.T) {
	var gotArg, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/files/upload", r.URL.Path)
		gotArg = r.Header.Get("Dropbox-API-Arg")
		gotAuth = r.Header.Get("Authorization")
		io.Copy(io.Discard, r.Body)
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	r := newReplicatorWithToken(t, srv.URL, "token-1")
	local := writeLocalBackup(t, "opsched_20260102T030000_daily.sql")

	err := r.Upload(context.Background(), local, "opsched_20260102T030000_daily.sql")
	require.NoError(t, err)

	assert.Equal(t, "Bearer token-1", gotAuth)
	var arg map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(gotArg), &arg))
	assert.Equal(t, "/opsched-backups/opsched_20260102T030000_daily.sql", arg["path"])
	assert.Equal(t, "overwrite", arg["mode"])
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "upstream hiccup", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	r := newReplicatorWithToken(t, srv.URL, "token-1")
	local := writeLocalBackup(t, "opsched_20260102T030000_daily.sql")

	err := r.Upload(context.Background(), local, "opsched_20260102T030000_daily.sql")
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestUploadGivesUpAfterRetryBudget(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newReplicatorWithToken(t, srv.URL, "token-1")
	local := writeLocalBackup(t, "opsched_20260102T030000_daily.sql")

	err := r.Upload(context.Background(), local, "opsched_20260102T030000_daily.sql")
	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestUploadRefreshesOnceOnExpiredToken(t *testing.T) {
	var refreshes, uploads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth2/token":
			refreshes.Add(1)
			fmt.Fprint(w, `{"access_token":"fresh","expires_in":14400}`)
		case "/2/files/upload":
			uploads.Add(1)
			if r.Header.Get("Authorization") != "Bearer fresh" {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"error_summary":"expired_access_token/"}`)
				return
			}
			fmt.Fprint(w, `{}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	// the stored token is unexpired on paper but already rejected remotely
	r := newReplicatorWithToken(t, srv.URL, "stale")
	local := writeLocalBackup(t, "opsched_20260102T030000_daily.sql")

	err := r.Upload(context.Background(), local, "opsched_20260102T030000_daily.sql")
	require.NoError(t, err)
	assert.Equal(t, int32(1), refreshes.Load())
	assert.Equal(t, int32(2), uploads.Load())
}

func TestListMissingFolderIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error_summary":"path/not_found/.."}`)
	}))
	defer srv.Close()

	r := newReplicatorWithToken(t, srv.URL, "token-1")

	artifacts, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, artifacts)

	// a missing folder still counts as a healthy connection
	assert.NoError(t, r.Check(context.Background()))
}

func TestListSortsNewestFirstAndFiltersForeignEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/files/list_folder", r.URL.Path)
		fmt.Fprint(w, `{"entries":[
			{".tag":"file","name":"opsched_20260102T010000_daily.sql","path_lower":"/opsched-backups/opsched_20260102t010000_daily.sql","size":10},
			{".tag":"folder","name":"archive","path_lower":"/opsched-backups/archive"},
			{".tag":"file","name":"readme.txt","path_lower":"/opsched-backups/readme.txt","size":5},
			{".tag":"file","name":"opsched_20260102T030000_daily.sql","path_lower":"/opsched-backups/opsched_20260102t030000_daily.sql","size":12}
		],"cursor":"","has_more":false}`)
	}))
	defer srv.Close()

	r := newReplicatorWithToken(t, srv.URL, "token-1")

	artifacts, err := r.List(context.Background())
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "opsched_20260102T030000_daily.sql", artifacts[0].Filename)
	assert.Equal(t, LocationCloud, artifacts[0].Location)
	assert.Equal(t, int64(12), artifacts[0].SizeBytes)
}

func TestListFollowsPagination(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			assert.Equal(t, "/2/files/list_folder", r.URL.Path)
			fmt.Fprint(w, `{"entries":[{".tag":"file","name":"opsched_20260102T010000_daily.sql","path_lower":"a","size":1}],"cursor":"c1","has_more":true}`)
		default:
			assert.Equal(t, "/2/files/list_folder/continue", r.URL.Path)
			fmt.Fprint(w, `{"entries":[{".tag":"file","name":"opsched_20260102T020000_daily.sql","path_lower":"b","size":1}],"cursor":"","has_more":false}`)
		}
	}))
	defer srv.Close()

	r := newReplicatorWithToken(t, srv.URL, "token-1")

	artifacts, err := r.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDownloadWritesLocalFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/files/download", r.URL.Path)
		fmt.Fprint(w, "-- dump\n")
	}))
	defer srv.Close()

	r := newReplicatorWithToken(t, srv.URL, "token-1")

	dest := filepath.Join(t.TempDir(), "restore.sql")
	require.NoError(t, r.Download(context.Background(), "/opsched-backups/x.sql", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "-- dump\n", string(data))
}

func TestEnsureFolderTreatsExistingAsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/files/create_folder_v2", r.URL.Path)
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error_summary":"path/conflict/folder/.."}`)
	}))
	defer srv.Close()

	r := newReplicatorWithToken(t, srv.URL, "token-1")
	assert.NoError(t, r.EnsureFolder(context.Background()))
}

func TestOperationsFailWhenNotAuthorized(t *testing.T) {
	auth := newTestAuthManager("http://unused", filepath.Join(t.TempDir(), "tokens.json"))
	r := NewCloudReplicator(auth, "/opsched-backups", 3, time.Millisecond)

	_, err := r.List(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.ErrorIs(t, r.Check(context.Background()), ErrNotAuthorized)
}

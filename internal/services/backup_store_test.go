package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDumper writes fixed content instead of shelling out to pg_dump.
type fakeDumper struct {
	dumpErr    error
	restoreErr error
	restored   []string
}

func (d *fakeDumper) Dump(ctx context.Context, destPath string) error {
	if d.dumpErr != nil {
		return d.dumpErr
	}
	return os.WriteFile(destPath, []byte("-- dump\n"), 0644)
}

func (d *fakeDumper) Restore(ctx context.Context, srcPath string) error {
	d.restored = append(d.restored, srcPath)
	return d.restoreErr
}

// seedArtifact drops a pre-existing backup file into a tier directory.
func seedArtifact(t *testing.T, baseDir string, tier Tier, ts time.Time) string {
	t.Helper()
	dir := filepath.Join(baseDir, string(tier))
	require.NoError(t, os.MkdirAll(dir, 0755))
	name := artifactFilename(ts, tier)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("-- dump\n"), 0644))
	return name
}

func TestDumpCreatesListableArtifact(t *testing.T) {
	store := NewBackupStore(t.TempDir(), &fakeDumper{})

	artifact, err := store.Dump(context.Background(), TierManual)
	require.NoError(t, err)
	assert.Equal(t, TierManual, artifact.Tier)
	assert.Equal(t, LocationLocal, artifact.Location)
	assert.Greater(t, artifact.SizeBytes, int64(0))

	artifacts := store.ListArtifacts(TierManual)
	require.Len(t, artifacts, 1)
	assert.Equal(t, artifact.Filename, artifacts[0].Filename)
}

func TestDumpFailureLeavesNoArtifact(t *testing.T) {
	dir := t.TempDir()
	store := NewBackupStore(dir, &fakeDumper{dumpErr: errors.New("pg_dump exploded")})

	_, err := store.Dump(context.Background(), TierHourly)
	require.Error(t, err)

	assert.Empty(t, store.ListArtifacts(TierHourly))
	entries, err := os.ReadDir(filepath.Join(dir, "hourly"))
	require.NoError(t, err)
	assert.Empty(t, entries, "no temp file may remain")
}

func TestListSkipsTempAndForeignFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewBackupStore(dir, &fakeDumper{})

	seedArtifact(t, dir, TierHourly, time.Date(2026, 1, 2, 3, 0, 0, 0, time.Local))
	hourlyDir := filepath.Join(dir, "hourly")
	require.NoError(t, os.WriteFile(filepath.Join(hourlyDir, ".opsched_20260102T040000_hourly.sql.tmp"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(hourlyDir, "notes.txt"), []byte("x"), 0644))
	// artifact from another tier sitting in the wrong directory
	require.NoError(t, os.WriteFile(filepath.Join(hourlyDir, artifactFilename(time.Now(), TierDaily)), []byte("x"), 0644))

	artifacts := store.ListArtifacts(TierHourly)
	require.Len(t, artifacts, 1)
}

func TestListMissingTierDirIsEmpty(t *testing.T) {
	store := NewBackupStore(t.TempDir(), &fakeDumper{})
	assert.Empty(t, store.ListArtifacts(TierWeekly))
}

func TestPromotePicksNewest(t *testing.T) {
	dir := t.TempDir()
	store := NewBackupStore(dir, &fakeDumper{})

	seedArtifact(t, dir, TierHourly, time.Date(2026, 1, 2, 1, 0, 0, 0, time.Local))
	seedArtifact(t, dir, TierHourly, time.Date(2026, 1, 2, 3, 0, 0, 0, time.Local))
	seedArtifact(t, dir, TierHourly, time.Date(2026, 1, 2, 2, 0, 0, 0, time.Local))

	promoted, err := store.Promote(TierHourly, TierDaily)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, "opsched_20260102T030000_daily.sql", promoted.Filename)
	assert.Equal(t, TierDaily, promoted.Tier)

	// the newest hourly is gone, the other two remain
	assert.Len(t, store.ListArtifacts(TierHourly), 2)
	require.Len(t, store.ListArtifacts(TierDaily), 1)
}

func TestPromoteEmptyTierIsNoOp(t *testing.T) {
	store := NewBackupStore(t.TempDir(), &fakeDumper{})

	promoted, err := store.Promote(TierHourly, TierDaily)
	require.NoError(t, err)
	assert.Nil(t, promoted)
	assert.Empty(t, store.ListArtifacts(TierDaily))
}

func TestEnforceRetentionDeletesOldestOnly(t *testing.T) {
	dir := t.TempDir()
	store := NewBackupStore(dir, &fakeDumper{})

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local)
	for i := 0; i < 5; i++ {
		seedArtifact(t, dir, TierHourly, base.Add(time.Duration(i)*time.Hour))
	}

	deleted := store.EnforceRetention(TierHourly, 3)
	assert.Equal(t, 2, deleted)

	remaining := store.ListArtifacts(TierHourly)
	require.Len(t, remaining, 3)
	// newest three survive
	assert.Equal(t, artifactFilename(base.Add(4*time.Hour), TierHourly), remaining[0].Filename)
	assert.Equal(t, artifactFilename(base.Add(2*time.Hour), TierHourly), remaining[2].Filename)

	// under the limit nothing is deleted
	assert.Equal(t, 0, store.EnforceRetention(TierHourly, 3))
}

func TestRestoreFailureKeepsSource(t *testing.T) {
	dir := t.TempDir()
	dumper := &fakeDumper{restoreErr: &RestoreError{Output: "syntax error", Err: errors.New("exit 3")}}
	store := NewBackupStore(dir, dumper)

	name := seedArtifact(t, dir, TierManual, time.Date(2026, 1, 2, 3, 0, 0, 0, time.Local))
	path := filepath.Join(dir, "manual", name)

	err := store.RestoreLocal(context.Background(), path)
	require.Error(t, err)
	var re *RestoreError
	assert.ErrorAs(t, err, &re)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "source artifact must survive a failed restore")
}

func TestFindArtifactAcrossTiers(t *testing.T) {
	dir := t.TempDir()
	store := NewBackupStore(dir, &fakeDumper{})

	name := seedArtifact(t, dir, TierWeekly, time.Date(2026, 1, 2, 3, 0, 0, 0, time.Local))

	artifact, ok := store.FindArtifact(name)
	require.True(t, ok)
	assert.Equal(t, TierWeekly, artifact.Tier)

	// path components are stripped, not traversed
	artifact, ok = store.FindArtifact("../../" + name)
	require.True(t, ok)
	assert.Equal(t, name, artifact.Filename)

	_, ok = store.FindArtifact("opsched_20990101T000000_manual.sql")
	assert.False(t, ok)
}

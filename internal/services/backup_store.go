package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BackupStore owns the on-disk tiered artifact collection. Each tier lives in
// its own directory under baseDir; artifacts are completed, closed files
// whose names encode (timestamp, tier). In-progress dumps use a dot-prefixed
// temp name and are renamed into place, so listings never see partial files.
type BackupStore struct {
	baseDir string
	dumper  Dumper
}

// NewBackupStore creates the store and its base directory.
func NewBackupStore(baseDir string, dumper Dumper) *BackupStore {
	os.MkdirAll(baseDir, 0755)
	return &BackupStore{
		baseDir: baseDir,
		dumper:  dumper,
	}
}

func (s *BackupStore) tierDir(tier Tier) string {
	return filepath.Join(s.baseDir, string(tier))
}

// ListArtifacts enumerates a tier directory, newest first. A missing or
// unreadable directory yields an empty list with a logged warning.
func (s *BackupStore) ListArtifacts(tier Tier) []BackupArtifact {
	dir := s.tierDir(tier)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("Backup: cannot read %s tier directory: %v", tier, err)
		}
		return []BackupArtifact{}
	}

	artifacts := []BackupArtifact{}
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ts, parsedTier, ok := parseArtifactName(entry.Name())
		if !ok || parsedTier != tier {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, BackupArtifact{
			Filename:  entry.Name(),
			Tier:      tier,
			SizeBytes: info.Size(),
			CreatedAt: ts,
			Location:  LocationLocal,
			Path:      filepath.Join(dir, entry.Name()),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CreatedAt.After(artifacts[j].CreatedAt)
	})
	return artifacts
}

// Dump invokes the external dump utility and places the result in the tier
// directory. The dump writes to a temp file first and is renamed into place
// so a crash mid-dump never leaves a listable half-written artifact.
func (s *BackupStore) Dump(ctx context.Context, tier Tier) (*BackupArtifact, error) {
	dir := s.tierDir(tier)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s tier directory: %w", tier, err)
	}

	now := time.Now()
	filename := artifactFilename(now, tier)
	tempPath := filepath.Join(dir, "."+filename+".tmp")
	finalPath := filepath.Join(dir, filename)

	if err := s.dumper.Dump(ctx, tempPath); err != nil {
		os.Remove(tempPath)
		return nil, err
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("failed to finalize backup file: %w", err)
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup file: %w", err)
	}

	log.Printf("Backup: created %s backup %s (%d bytes)", tier, filename, info.Size())
	return &BackupArtifact{
		Filename:  filename,
		Tier:      tier,
		SizeBytes: info.Size(),
		CreatedAt: now,
		Location:  LocationLocal,
		Path:      finalPath,
	}, nil
}

// Promote moves the newest artifact from one tier into another, rewriting
// the tier suffix in the filename. The freshest snapshot graduates to the
// longer-retention tier. An empty source tier is a no-op, not an error.
func (s *BackupStore) Promote(from, to Tier) (*BackupArtifact, error) {
	artifacts := s.ListArtifacts(from)
	if len(artifacts) == 0 {
		return nil, nil
	}
	newest := artifacts[0]

	newName, ok := renamedForTier(newest.Filename, to)
	if !ok {
		return nil, fmt.Errorf("cannot derive %s filename from %s", to, newest.Filename)
	}

	destDir := s.tierDir(to)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s tier directory: %w", to, err)
	}
	destPath := filepath.Join(destDir, newName)

	if err := os.Rename(newest.Path, destPath); err != nil {
		return nil, fmt.Errorf("failed to promote %s to %s: %w", newest.Filename, to, err)
	}

	log.Printf("Backup: promoted %s -> %s", newest.Filename, newName)
	promoted := newest
	promoted.Filename = newName
	promoted.Tier = to
	promoted.Path = destPath
	return &promoted, nil
}

// EnforceRetention deletes the oldest artifacts beyond maxCount. Returns the
// number of artifacts removed.
func (s *BackupStore) EnforceRetention(tier Tier, maxCount int) int {
	if maxCount <= 0 {
		return 0
	}
	artifacts := s.ListArtifacts(tier)
	if len(artifacts) <= maxCount {
		return 0
	}

	deleted := 0
	for _, artifact := range artifacts[maxCount:] {
		if err := os.Remove(artifact.Path); err != nil {
			log.Printf("Backup: failed to delete old %s backup %s: %v", tier, artifact.Filename, err)
			continue
		}
		log.Printf("Backup: deleted old %s backup %s", tier, artifact.Filename)
		deleted++
	}
	return deleted
}

// RestoreLocal replays a local artifact through the external restore utility.
// The source file is never deleted, even on failure.
func (s *BackupStore) RestoreLocal(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("backup file not found: %w", err)
	}
	return s.dumper.Restore(ctx, path)
}

// FindArtifact locates an artifact by bare filename across all local tiers.
func (s *BackupStore) FindArtifact(filename string) (*BackupArtifact, bool) {
	filename = filepath.Base(filename)
	_, tier, ok := parseArtifactName(filename)
	if !ok {
		return nil, false
	}
	for _, artifact := range s.ListArtifacts(tier) {
		if artifact.Filename == filename {
			a := artifact
			return &a, true
		}
	}
	return nil, false
}

// Delete removes a single local artifact.
func (s *BackupStore) Delete(artifact *BackupArtifact) error {
	if err := os.Remove(artifact.Path); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	log.Printf("Backup: deleted %s backup %s", artifact.Tier, artifact.Filename)
	return nil
}

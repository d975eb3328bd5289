package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// BackupInventory is the merged view of local tiers and the cloud bucket.
type BackupInventory struct {
	Local map[Tier][]BackupArtifact `json:"local"`
	Cloud []BackupArtifact          `json:"cloud"`
}

// BackupStatusSnapshot aggregates backup state on demand. Never cached
// beyond a single request.
type BackupStatusSnapshot struct {
	Tiers           map[Tier]int `json:"tiers"`
	TotalSizeBytes  int64        `json:"total_size_bytes"`
	LastLocalBackup *time.Time   `json:"last_local_backup"`
	LastCloudBackup *time.Time   `json:"last_cloud_backup"`
	CloudEnabled    bool         `json:"cloud_enabled"`
}

// BackupOrchestrator coordinates the whole backup lifecycle. Local dump and
// restore failures are fatal to their operation; cloud and FTP failures
// anywhere are logged and degrade functionality instead of aborting.
type BackupOrchestrator struct {
	store       *BackupStore
	cloud       Replicator     // nil when cloud replication is disabled
	ftp         *FTPReplicator // nil when no FTP mirror is configured
	policy      RetentionPolicy
	rolloverDay time.Weekday

	now func() time.Time
}

func NewBackupOrchestrator(store *BackupStore, cloud Replicator, ftp *FTPReplicator, policy RetentionPolicy, rolloverDay time.Weekday) *BackupOrchestrator {
	return &BackupOrchestrator{
		store:       store,
		cloud:       cloud,
		ftp:         ftp,
		policy:      policy,
		rolloverDay: rolloverDay,
		now:         time.Now,
	}
}

// replicate mirrors a daily artifact offsite. Failures must not fail the
// local operation that produced the artifact.
func (o *BackupOrchestrator) replicate(ctx context.Context, artifact *BackupArtifact) {
	if o.cloud != nil {
		if err := o.cloud.EnsureFolder(ctx); err != nil {
			log.Printf("Backup: cloud folder check failed, skipping upload of %s: %v", artifact.Filename, err)
		} else if err := o.cloud.Upload(ctx, artifact.Path, artifact.Filename); err != nil {
			log.Printf("Backup: cloud upload of %s failed, local backup unaffected: %v", artifact.Filename, err)
		}
	}
	if o.ftp != nil {
		if err := o.ftp.Upload(artifact.Path, artifact.Filename); err != nil {
			log.Printf("Backup: FTP upload of %s failed, local backup unaffected: %v", artifact.Filename, err)
		}
	}
}

// CreateBackup dumps the database into the given tier. Daily backups are
// additionally replicated offsite; a replication failure still returns the
// local artifact as success.
func (o *BackupOrchestrator) CreateBackup(ctx context.Context, tier Tier) (*BackupArtifact, error) {
	artifact, err := o.store.Dump(ctx, tier)
	if err != nil {
		return nil, err
	}

	if tier == TierDaily {
		o.replicate(ctx, artifact)
	}
	return artifact, nil
}

// ListBackups merges all local tier listings with the cloud bucket. A cloud
// listing failure degrades to an empty cloud bucket.
func (o *BackupOrchestrator) ListBackups(ctx context.Context) *BackupInventory {
	inventory := &BackupInventory{
		Local: map[Tier][]BackupArtifact{},
		Cloud: []BackupArtifact{},
	}
	for _, tier := range LocalTiers() {
		inventory.Local[tier] = o.store.ListArtifacts(tier)
	}

	if o.cloud != nil {
		cloudArtifacts, err := o.cloud.List(ctx)
		if err != nil {
			log.Printf("Backup: cloud listing failed, showing local backups only: %v", err)
		} else {
			inventory.Cloud = cloudArtifacts
		}
	}
	return inventory
}

// RestoreBackup replays a backup into the database. Cloud artifacts are
// downloaded to a temp file that is removed afterward, success or failure.
// Confirmation of this destructive operation is the caller's responsibility.
func (o *BackupOrchestrator) RestoreBackup(ctx context.Context, ref string, fromCloud bool) error {
	if ref == "" {
		return fmt.Errorf("backup reference is required")
	}

	if fromCloud {
		if o.cloud == nil {
			return fmt.Errorf("cloud replication is not configured")
		}
		tempPath := filepath.Join(os.TempDir(), "opsched_restore_"+uuid.NewString()+".sql")
		defer os.Remove(tempPath)

		if err := o.cloud.Download(ctx, ref, tempPath); err != nil {
			return fmt.Errorf("failed to download cloud backup: %w", err)
		}
		return o.store.RestoreLocal(ctx, tempPath)
	}

	artifact, ok := o.store.FindArtifact(ref)
	if !ok {
		return fmt.Errorf("backup not found: %s", ref)
	}
	return o.store.RestoreLocal(ctx, artifact.Path)
}

// PromoteBackups graduates the newest hourly backup to daily, replicates it,
// and on the rollover day graduates the newest daily to weekly. The
// hourly->daily step (including its upload attempt) completes before the
// weekly check runs.
func (o *BackupOrchestrator) PromoteBackups(ctx context.Context) error {
	promoted, err := o.store.Promote(TierHourly, TierDaily)
	if err != nil {
		return err
	}
	if promoted != nil {
		o.replicate(ctx, promoted)
	}

	if o.now().Weekday() == o.rolloverDay {
		if _, err := o.store.Promote(TierDaily, TierWeekly); err != nil {
			return err
		}
	}
	return nil
}

// CleanupBackups enforces retention. Local cleanup for all tiers runs first
// and unconditionally; offsite cleanup failures are logged and never block.
func (o *BackupOrchestrator) CleanupBackups(ctx context.Context) error {
	for _, tier := range LocalTiers() {
		o.store.EnforceRetention(tier, o.policy.MaxFor(tier))
	}

	if err := o.CloudCleanup(ctx); err != nil {
		log.Printf("Backup: cloud cleanup failed, local cleanup unaffected: %v", err)
	}
	if o.ftp != nil {
		if err := o.ftp.EnforceRetention(o.policy.Cloud); err != nil {
			log.Printf("Backup: FTP cleanup failed, local cleanup unaffected: %v", err)
		}
	}
	return nil
}

// CloudCleanup enforces the cloud retention count. Individual delete
// failures are logged and skipped so the pass continues.
func (o *BackupOrchestrator) CloudCleanup(ctx context.Context) error {
	if o.cloud == nil {
		return nil
	}

	artifacts, err := o.cloud.List(ctx)
	if err != nil {
		return err
	}
	if len(artifacts) <= o.policy.Cloud {
		return nil
	}

	for _, artifact := range artifacts[o.policy.Cloud:] {
		if err := o.cloud.Delete(ctx, artifact.Path); err != nil {
			log.Printf("Backup: failed to delete old cloud backup %s, continuing: %v", artifact.Filename, err)
			continue
		}
		log.Printf("Backup: deleted old cloud backup %s", artifact.Filename)
	}
	return nil
}

// ReplicateArtifact uploads one named local artifact to cloud storage.
// Unlike the create path, a failure here is the operation's result.
func (o *BackupOrchestrator) ReplicateArtifact(ctx context.Context, filename string) error {
	if o.cloud == nil {
		return fmt.Errorf("cloud replication is not configured")
	}

	artifact, ok := o.store.FindArtifact(filename)
	if !ok {
		return fmt.Errorf("backup not found: %s", filename)
	}

	if err := o.cloud.EnsureFolder(ctx); err != nil {
		return err
	}
	return o.cloud.Upload(ctx, artifact.Path, artifact.Filename)
}

// CloudSync uploads the newest daily artifact unless a replica with the same
// timestamp already exists remotely. The timestamp is the artifact identity;
// tier renames from promotion do not change it.
func (o *BackupOrchestrator) CloudSync(ctx context.Context) error {
	if o.cloud == nil {
		return fmt.Errorf("cloud replication is not configured")
	}

	dailies := o.store.ListArtifacts(TierDaily)
	if len(dailies) == 0 {
		return fmt.Errorf("no daily backups to sync")
	}
	newest := dailies[0]

	if remote, err := o.cloud.List(ctx); err == nil {
		key, _ := artifactTimestampKey(newest.Filename)
		for _, artifact := range remote {
			if remoteKey, ok := artifactTimestampKey(artifact.Filename); ok && remoteKey == key {
				log.Printf("Backup: %s already replicated as %s, skipping upload", newest.Filename, artifact.Filename)
				return nil
			}
		}
	}

	if err := o.cloud.EnsureFolder(ctx); err != nil {
		return err
	}
	return o.cloud.Upload(ctx, newest.Path, newest.Filename)
}

// Status recomputes the snapshot on demand, actively re-verifying cloud
// connectivity instead of trusting cached auth state.
func (o *BackupOrchestrator) Status(ctx context.Context) *BackupStatusSnapshot {
	snapshot := &BackupStatusSnapshot{
		Tiers: map[Tier]int{},
	}

	for _, tier := range LocalTiers() {
		artifacts := o.store.ListArtifacts(tier)
		snapshot.Tiers[tier] = len(artifacts)
		for _, artifact := range artifacts {
			snapshot.TotalSizeBytes += artifact.SizeBytes
			if snapshot.LastLocalBackup == nil || artifact.CreatedAt.After(*snapshot.LastLocalBackup) {
				t := artifact.CreatedAt
				snapshot.LastLocalBackup = &t
			}
		}
	}

	if o.cloud != nil {
		cloudArtifacts, err := o.cloud.List(ctx)
		if err != nil {
			log.Printf("Backup: cloud status check failed, reporting cloud disabled: %v", err)
		} else {
			snapshot.CloudEnabled = true
			if len(cloudArtifacts) > 0 {
				t := cloudArtifacts[0].CreatedAt
				snapshot.LastCloudBackup = &t
			}
		}
	}
	return snapshot
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/opsched/backend/internal/config"
	"github.com/opsched/backend/internal/services"
)

// Cron entrypoint for the backup pipeline. Runs without a database handle or
// Redis; the only database interaction is through pg_dump/psql.
//
// Actions:
//
//	backup [-tier hourly]   create a backup in the given tier
//	cleanup                 enforce retention on all tiers, then cloud
//	promote                 hourly->daily, and daily->weekly on rollover day
//	full                    backup + promote + cleanup
//	cloud-cleanup           enforce cloud retention only
//	cloud-sync              force-upload the newest daily backup
//	status                  print the backup status snapshot
func main() {
	var (
		action = flag.String("action", "backup", "backup, cleanup, promote, full, cloud-cleanup, cloud-sync, status")
		tier   = flag.String("tier", "hourly", "backup tier: hourly, daily, weekly, manual")
	)
	flag.Parse()

	cfg := config.Load()

	dumper := services.NewPgDumper(cfg)
	store := services.NewBackupStore(cfg.BackupDir, dumper)
	auth := services.NewDropboxAuthManager(cfg)

	var cloud services.Replicator
	if auth.Enabled() {
		cloud = services.NewCloudReplicator(auth, cfg.DropboxFolder, cfg.CloudUploadRetries, cfg.CloudRetryBackoff)
	}

	ftp := services.NewFTPReplicator(cfg)
	policy := services.PolicyFromConfig(cfg)
	orchestrator := services.NewBackupOrchestrator(store, cloud, ftp, policy, time.Weekday(cfg.WeeklyRolloverDay))

	ctx := context.Background()

	if err := run(ctx, orchestrator, *action, *tier); err != nil {
		log.Printf("backup %s failed: %v", *action, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, orchestrator *services.BackupOrchestrator, action, tierName string) error {
	switch action {
	case "backup":
		tier, ok := services.ParseTier(tierName)
		if !ok {
			return fmt.Errorf("invalid tier: %s", tierName)
		}
		_, err := orchestrator.CreateBackup(ctx, tier)
		return err

	case "cleanup":
		return orchestrator.CleanupBackups(ctx)

	case "promote":
		return orchestrator.PromoteBackups(ctx)

	case "full":
		tier, ok := services.ParseTier(tierName)
		if !ok {
			return fmt.Errorf("invalid tier: %s", tierName)
		}
		if _, err := orchestrator.CreateBackup(ctx, tier); err != nil {
			return err
		}
		if err := orchestrator.PromoteBackups(ctx); err != nil {
			return err
		}
		return orchestrator.CleanupBackups(ctx)

	case "cloud-cleanup":
		return orchestrator.CloudCleanup(ctx)

	case "cloud-sync":
		return orchestrator.CloudSync(ctx)

	case "status":
		snapshot := orchestrator.Status(ctx)
		for _, tier := range services.LocalTiers() {
			fmt.Printf("%-8s %d\n", tier, snapshot.Tiers[tier])
		}
		fmt.Printf("total size: %d bytes\n", snapshot.TotalSizeBytes)
		if snapshot.LastLocalBackup != nil {
			fmt.Printf("last local backup: %s\n", snapshot.LastLocalBackup.Format(time.RFC3339))
		}
		fmt.Printf("cloud enabled: %v\n", snapshot.CloudEnabled)
		if snapshot.LastCloudBackup != nil {
			fmt.Printf("last cloud backup: %s\n", snapshot.LastCloudBackup.Format(time.RFC3339))
		}
		return nil
	}

	return fmt.Errorf("unknown action: %s", action)
}

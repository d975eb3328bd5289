package handlers

import (
	"context"
	"log"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/opsched/backend/internal/database"
	"github.com/opsched/backend/internal/middleware"
	"github.com/opsched/backend/internal/models"
	"github.com/opsched/backend/internal/services"
)

type BackupHandler struct {
	orchestrator *services.BackupOrchestrator
	store        *services.BackupStore
	progress     *services.ProgressStore
}

func NewBackupHandler(orchestrator *services.BackupOrchestrator, store *services.BackupStore, progress *services.ProgressStore) *BackupHandler {
	return &BackupHandler{
		orchestrator: orchestrator,
		store:        store,
		progress:     progress,
	}
}

// recordRun persists a backup run log row when the database is available.
func recordRun(run *models.BackupRunLog) {
	if database.DB == nil {
		return
	}
	if err := database.DB.Create(run).Error; err != nil {
		log.Printf("Backup: failed to record run log: %v", err)
	}
}

// List returns all backups, local tiers and cloud
func (h *BackupHandler) List(c *fiber.Ctx) error {
	inventory := h.orchestrator.ListBackups(c.Context())
	return c.JSON(fiber.Map{
		"success": true,
		"data":    inventory,
	})
}

// CreateBackupRequest represents create backup request
type CreateBackupRequest struct {
	Tier string `json:"tier"` // hourly, daily, weekly, manual
}

// Create creates a new backup. Operator-triggered backups default to the
// manual tier.
func (h *BackupHandler) Create(c *fiber.Ctx) error {
	var req CreateBackupRequest
	if err := c.BodyParser(&req); err != nil {
		req.Tier = ""
	}
	if req.Tier == "" {
		req.Tier = string(services.TierManual)
	}

	tier, ok := services.ParseTier(req.Tier)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid backup tier: " + req.Tier,
		})
	}

	user := middleware.GetCurrentUser(c)
	started := time.Now()

	artifact, err := h.orchestrator.CreateBackup(c.Context(), tier)
	run := &models.BackupRunLog{
		Operation:   "backup",
		Tier:        string(tier),
		StorageType: services.LocationLocal,
		StartedAt:   started,
		CompletedAt: time.Now(),
		Duration:    int(time.Since(started).Seconds()),
	}
	if user != nil {
		run.CreatedByID = &user.ID
		run.CreatedByName = user.Username
	}

	if err != nil {
		run.Status = "failed"
		run.ErrorMessage = err.Error()
		recordRun(run)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to create backup: " + err.Error(),
		})
	}

	run.Status = "success"
	run.Filename = artifact.Filename
	run.FileSize = artifact.SizeBytes
	if tier == services.TierDaily {
		run.StorageType = "both"
	}
	recordRun(run)

	LogAction(c, models.AuditActionCreate, "backup", artifact.Filename, "Created "+string(tier)+" backup")

	return c.JSON(fiber.Map{
		"success": true,
		"data":    artifact,
	})
}

// RestoreBackupRequest represents restore request
type RestoreBackupRequest struct {
	Path     string `json:"path"`     // filename for local, remote path for cloud
	Location string `json:"location"` // local or cloud
	Confirm  bool   `json:"confirm"`
}

// Restore replays a backup into the database. This is destructive, so the
// request must carry an explicit confirmation. The restore runs in the
// background; poll the progress endpoint with the returned operation id.
func (h *BackupHandler) Restore(c *fiber.Ctx) error {
	var req RestoreBackupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Invalid request body",
		})
	}

	if !req.Confirm {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Restore requires explicit confirmation",
		})
	}
	if req.Path == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Backup path is required",
		})
	}

	if req.Location == "" {
		req.Location = services.LocationLocal
	}
	fromCloud := req.Location == services.LocationCloud
	ref := req.Path
	if !fromCloud {
		ref = filepath.Base(ref)
	}

	user := middleware.GetCurrentUser(c)
	LogAction(c, models.AuditActionRestore, "backup", ref, "Database restore initiated")

	opID, err := h.progress.Begin(c.Context(), "restore")
	if err != nil {
		log.Printf("Backup: progress tracking unavailable: %v", err)
	}

	go func() {
		started := time.Now()
		restoreErr := h.orchestrator.RestoreBackup(context.Background(), ref, fromCloud)

		run := &models.BackupRunLog{
			Operation:   "restore",
			Filename:    ref,
			StorageType: req.Location,
			StartedAt:   started,
			CompletedAt: time.Now(),
			Duration:    int(time.Since(started).Seconds()),
			Status:      "success",
		}
		if user != nil {
			run.CreatedByID = &user.ID
			run.CreatedByName = user.Username
		}

		state := services.ProgressStateCompleted
		message := "Restore completed"
		if restoreErr != nil {
			log.Printf("Backup: restore of %s failed: %v", ref, restoreErr)
			run.Status = "failed"
			run.ErrorMessage = restoreErr.Error()
			state = services.ProgressStateFailed
			message = restoreErr.Error()
		}
		recordRun(run)

		if err := h.progress.Update(context.Background(), opID, state, message); err != nil {
			log.Printf("Backup: failed to update restore progress: %v", err)
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success":      true,
		"message":      "Restore started",
		"operation_id": opID,
	})
}

// Progress returns the state of a background operation
func (h *BackupHandler) Progress(c *fiber.Ctx) error {
	if !h.progress.Enabled() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"message": "Progress tracking is unavailable",
		})
	}

	record, err := h.progress.Get(c.Context(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to read operation progress",
		})
	}
	if record == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Operation not found or expired",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    record,
	})
}

// Download streams a local backup file to the client
func (h *BackupHandler) Download(c *fiber.Ctx) error {
	filename := filepath.Base(c.Params("filename"))

	artifact, ok := h.store.FindArtifact(filename)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Backup not found",
		})
	}

	return c.Download(artifact.Path, artifact.Filename)
}

// Delete removes a local backup file
func (h *BackupHandler) Delete(c *fiber.Ctx) error {
	filename := filepath.Base(c.Params("filename"))

	artifact, ok := h.store.FindArtifact(filename)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"success": false,
			"message": "Backup not found",
		})
	}

	if err := h.store.Delete(artifact); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to delete backup: " + err.Error(),
		})
	}

	LogAction(c, models.AuditActionDelete, "backup", filename, "Deleted backup")

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Backup deleted",
	})
}

// Status returns the aggregated backup status snapshot
func (h *BackupHandler) Status(c *fiber.Ctx) error {
	snapshot := h.orchestrator.Status(c.Context())
	return c.JSON(fiber.Map{
		"success": true,
		"data":    snapshot,
	})
}

// Cleanup enforces retention across all tiers
func (h *BackupHandler) Cleanup(c *fiber.Ctx) error {
	if err := h.orchestrator.CleanupBackups(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Cleanup failed: " + err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Cleanup completed",
	})
}

// Promote runs tier promotion
func (h *BackupHandler) Promote(c *fiber.Ctx) error {
	if err := h.orchestrator.PromoteBackups(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Promotion failed: " + err.Error(),
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Promotion completed",
	})
}

// CloudUpload pushes one named local backup to cloud storage
func (h *BackupHandler) CloudUpload(c *fiber.Ctx) error {
	filename := filepath.Base(c.Params("filename"))

	if err := h.orchestrator.ReplicateArtifact(c.Context(), filename); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Cloud upload failed: " + err.Error(),
		})
	}

	LogAction(c, models.AuditActionCreate, "backup", filename, "Uploaded backup to cloud storage")

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Backup uploaded to cloud storage",
	})
}

// CloudSync force-uploads the newest daily backup to cloud storage
func (h *BackupHandler) CloudSync(c *fiber.Ctx) error {
	if err := h.orchestrator.CloudSync(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Cloud sync failed: " + err.Error(),
		})
	}

	LogAction(c, models.AuditActionCreate, "backup", "", "Forced cloud sync")

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Cloud sync completed",
	})
}

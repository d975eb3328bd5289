package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/opsched/backend/internal/models"
	"github.com/opsched/backend/internal/services"
)

type CloudAuthHandler struct {
	auth       *services.DropboxAuthManager
	replicator services.Replicator
}

func NewCloudAuthHandler(auth *services.DropboxAuthManager, replicator services.Replicator) *CloudAuthHandler {
	return &CloudAuthHandler{
		auth:       auth,
		replicator: replicator,
	}
}

// Authorize returns the provider URL the operator must visit to grant access
func (h *CloudAuthHandler) Authorize(c *fiber.Ctx) error {
	if !h.auth.Enabled() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"success": false,
			"message": "Dropbox app credentials are not configured",
		})
	}

	state := uuid.NewString()
	return c.JSON(fiber.Map{
		"success": true,
		"url":     h.auth.AuthorizationURL(state),
		"state":   state,
	})
}

// Callback completes the OAuth flow with the authorization code
func (h *CloudAuthHandler) Callback(c *fiber.Ctx) error {
	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"message": "Missing authorization code",
		})
	}

	if err := h.auth.ExchangeCode(c.Context(), code); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"message": "Token exchange failed: " + err.Error(),
		})
	}

	LogAction(c, models.AuditActionCreate, "dropbox", "", "Dropbox account connected")

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Dropbox connected, cloud replication enabled",
	})
}

// Status reports the cloud replication connection state, actively verifying
// the stored credentials against the provider.
func (h *CloudAuthHandler) Status(c *fiber.Ctx) error {
	if !h.auth.Enabled() {
		return c.JSON(fiber.Map{
			"success":   true,
			"connected": false,
			"state":     "not_configured",
		})
	}

	if err := h.replicator.Check(c.Context()); err != nil {
		state := "error"
		if errors.Is(err, services.ErrNotAuthorized) || errors.Is(err, services.ErrNoRefreshToken) {
			state = "not_connected"
		}
		return c.JSON(fiber.Map{
			"success":   true,
			"connected": false,
			"state":     state,
			"message":   err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"connected": true,
		"state":     "connected",
	})
}

// Disconnect removes the stored tokens and disables cloud replication
func (h *CloudAuthHandler) Disconnect(c *fiber.Ctx) error {
	if err := h.auth.Disconnect(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"message": "Failed to disconnect: " + err.Error(),
		})
	}

	LogAction(c, models.AuditActionDelete, "dropbox", "", "Dropbox account disconnected")

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Dropbox disconnected",
	})
}

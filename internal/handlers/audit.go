package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/opsched/backend/internal/database"
	"github.com/opsched/backend/internal/middleware"
	"github.com/opsched/backend/internal/models"
)

type AuditHandler struct{}

func NewAuditHandler() *AuditHandler {
	return &AuditHandler{}
}

// List returns audit logs
func (h *AuditHandler) List(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	limit := c.QueryInt("limit", 50)
	action := c.Query("action", "")
	entityType := c.Query("entity_type", "")
	userID := c.QueryInt("user_id", 0)

	if page < 1 {
		page = 1
	}
	if limit > 200 {
		limit = 200
	}
	offset := (page - 1) * limit

	query := database.DB.Model(&models.AuditLog{}).Preload("User")

	if action != "" {
		query = query.Where("action = ?", action)
	}
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}
	if userID > 0 {
		query = query.Where("user_id = ?", userID)
	}

	var total int64
	query.Count(&total)

	var logs []models.AuditLog
	query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&logs)

	return c.JSON(fiber.Map{
		"success": true,
		"data":    logs,
		"meta": fiber.Map{
			"page":       page,
			"limit":      limit,
			"total":      total,
			"totalPages": (total + int64(limit) - 1) / int64(limit),
		},
	})
}

// LogAction creates an audit log entry (helper function)
func LogAction(c *fiber.Ctx, action models.AuditAction, entityType, entityName, description string) {
	if database.DB == nil {
		return
	}
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return
	}

	entry := models.AuditLog{
		UserID:      user.ID,
		Username:    user.Username,
		UserType:    user.UserType,
		Action:      action,
		EntityType:  entityType,
		EntityName:  entityName,
		Description: description,
		IPAddress:   c.IP(),
		UserAgent:   c.Get("User-Agent"),
	}
	database.DB.Create(&entry)
}

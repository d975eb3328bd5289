package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/opsched/backend/internal/config"
	"github.com/opsched/backend/internal/database"
	"github.com/opsched/backend/internal/handlers"
	"github.com/opsched/backend/internal/middleware"
	"github.com/opsched/backend/internal/models"
	"github.com/opsched/backend/internal/services"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to database
	if err := database.Connect(cfg); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	// Run migrations
	if err := models.AutoMigrate(database.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed admin user if not exists
	seedAdminUser()

	// Wire the backup pipeline
	dumper := services.NewPgDumper(cfg)
	store := services.NewBackupStore(cfg.BackupDir, dumper)
	auth := services.NewDropboxAuthManager(cfg)

	var cloud services.Replicator
	replicator := services.NewCloudReplicator(auth, cfg.DropboxFolder, cfg.CloudUploadRetries, cfg.CloudRetryBackoff)
	if auth.Enabled() {
		cloud = replicator
	}

	ftp := services.NewFTPReplicator(cfg)
	policy := services.PolicyFromConfig(cfg)
	orchestrator := services.NewBackupOrchestrator(store, cloud, ftp, policy, time.Weekday(cfg.WeeklyRolloverDay))
	progress := services.NewProgressStore(database.Redis, time.Hour)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "OpSched API v1.0",
		ServerHeader: "OpSched",
		BodyLimit:    50 * 1024 * 1024, // 50MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"success": false,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(compress.New())
	app.Use(middleware.Logger())
	app.Use(middleware.CORS())

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "opsched-api",
		})
	})

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(cfg)
	auditHandler := handlers.NewAuditHandler()
	backupHandler := handlers.NewBackupHandler(orchestrator, store, progress)
	cloudAuthHandler := handlers.NewCloudAuthHandler(auth, replicator)

	// API routes
	api := app.Group("/api")

	// Apply rate limiting to API routes (100 requests per minute by default)
	api.Use(middleware.RateLimiter(100, 1*time.Minute))

	// Public routes. The OAuth callback is hit by the operator's browser
	// redirect, which carries no bearer token.
	api.Post("/auth/login", authHandler.Login)
	api.Get("/dropbox/callback", cloudAuthHandler.Callback)

	// Protected routes
	protected := api.Group("", middleware.AuthRequired(cfg))
	protected.Get("/auth/me", authHandler.Me)
	protected.Post("/auth/logout", authHandler.Logout)
	protected.Post("/auth/change-password", authHandler.ChangePassword)

	// Backup routes (Admin only)
	backups := protected.Group("/backups", middleware.AdminOnly())
	backups.Get("/", backupHandler.List)
	backups.Post("/", backupHandler.Create)
	backups.Get("/status", backupHandler.Status)
	backups.Post("/restore", backupHandler.Restore)
	backups.Get("/progress/:id", backupHandler.Progress)
	backups.Post("/cleanup", backupHandler.Cleanup)
	backups.Post("/promote", backupHandler.Promote)
	backups.Post("/cloud/sync", backupHandler.CloudSync)
	backups.Get("/:filename/download", backupHandler.Download)
	backups.Post("/:filename/cloud-upload", backupHandler.CloudUpload)
	backups.Delete("/:filename", backupHandler.Delete)

	// Dropbox OAuth routes (Admin only)
	dropbox := protected.Group("/dropbox", middleware.AdminOnly())
	dropbox.Get("/authorize", cloudAuthHandler.Authorize)
	dropbox.Get("/status", cloudAuthHandler.Status)
	dropbox.Post("/disconnect", cloudAuthHandler.Disconnect)

	// Audit log routes (Admin only)
	audit := protected.Group("/audit", middleware.AdminOnly())
	audit.Get("/", auditHandler.List)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		app.Shutdown()
	}()

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	log.Printf("Starting OpSched API server on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func seedAdminUser() {
	var count int64
	database.DB.Model(&models.User{}).Where("user_type = ?", models.UserTypeAdmin).Count(&count)

	if count == 0 {
		log.Println("Creating default admin user...")

		hashedPassword, _ := bcrypt.GenerateFromPassword([]byte("admin123"), bcrypt.DefaultCost)

		admin := models.User{
			Username:            "admin",
			Password:            string(hashedPassword),
			Email:               "admin@opsched.local",
			FullName:            "System Administrator",
			UserType:            models.UserTypeAdmin,
			ForcePasswordChange: true,
			IsActive:            true,
		}

		if err := database.DB.Create(&admin).Error; err != nil {
			log.Printf("Failed to create admin user: %v", err)
		} else {
			log.Println("Admin user created successfully (username: admin, password: admin123)")
		}
	}
}

package models

import (
	"log"

	"gorm.io/gorm"
)

// AutoMigrate runs database migrations
func AutoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	return db.AutoMigrate(
		&User{},
		&AuditLog{},
		&BackupRunLog{},
	)
}

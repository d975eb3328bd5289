package models

import (
	"time"
)

// BackupRunLog represents a single backup or restore execution
type BackupRunLog struct {
	ID            uint      `json:"id" gorm:"column:id;primaryKey"`
	Operation     string    `json:"operation" gorm:"column:operation;size:20"` // backup, restore
	Tier          string    `json:"tier" gorm:"column:tier;size:20"`
	Filename      string    `json:"filename" gorm:"column:filename;size:255"`
	FileSize      int64     `json:"file_size" gorm:"column:file_size"`
	StorageType   string    `json:"storage_type" gorm:"column:storage_type;size:20"` // local, cloud, both
	Status        string    `json:"status" gorm:"column:status;size:20"`             // success, failed
	ErrorMessage  string    `json:"error_message" gorm:"column:error_message;size:500"`
	Duration      int       `json:"duration" gorm:"column:duration"` // seconds
	StartedAt     time.Time `json:"started_at" gorm:"column:started_at"`
	CompletedAt   time.Time `json:"completed_at" gorm:"column:completed_at"`
	CreatedByID   *uint     `json:"created_by_id" gorm:"column:created_by_id"` // null for scheduled runs
	CreatedByName string    `json:"created_by_name" gorm:"column:created_by_name;size:100"`
}

// TableName specifies the table name for BackupRunLog
func (BackupRunLog) TableName() string {
	return "backup_run_logs"
}

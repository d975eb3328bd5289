package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     int
	RedisPassword string

	// JWT
	JWTSecret      string
	JWTExpireHours int

	// API
	APIPort int

	// Backups
	BackupDir   string
	DumpTimeout time.Duration

	// Local retention (max artifacts kept per tier)
	RetentionHourly int
	RetentionDaily  int
	RetentionWeekly int
	RetentionManual int
	RetentionCloud  int

	// Day of week (0=Sunday) on which daily backups roll over to weekly
	WeeklyRolloverDay int

	// Dropbox OAuth app
	DropboxClientID     string
	DropboxClientSecret string
	DropboxRedirectURI  string
	DropboxTokenFile    string
	DropboxFolder       string

	// Cloud upload retry policy
	CloudUploadRetries int
	CloudRetryBackoff  time.Duration

	// Optional secondary FTP mirror
	FTPMirrorEnabled bool
	FTPHost          string
	FTPPort          int
	FTPUsername      string
	FTPPassword      string
	FTPPath          string
}

// generateSecureSecret generates a cryptographically secure random secret
func generateSecureSecret(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a timestamp-based approach if crypto/rand fails
		return hex.EncodeToString([]byte(os.Getenv("HOSTNAME") + string(rune(length))))
	}
	return hex.EncodeToString(bytes)
}

func Load() *Config {
	// JWT Secret - generate random if not provided
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = generateSecureSecret(32) // 64 character hex string
		log.Println("WARNING: JWT_SECRET not set - generated random secret. Sessions will not persist across restarts.")
	}

	// Database password - warn if using default
	dbPassword := getEnv("DB_PASSWORD", "")
	if dbPassword == "" {
		log.Println("WARNING: DB_PASSWORD not set - this is insecure for production!")
		dbPassword = "changeme"
	}

	if os.Getenv("DROPBOX_CLIENT_ID") == "" {
		log.Println("WARNING: DROPBOX_CLIENT_ID not set - cloud replication is disabled")
	}

	return &Config{
		// Database
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 5432),
		DBUser:     getEnv("DB_USER", "opsched"),
		DBPassword: dbPassword,
		DBName:     getEnv("DB_NAME", "opsched"),

		// Redis
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnvInt("REDIS_PORT", 6379),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		// JWT
		JWTSecret:      jwtSecret,
		JWTExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 168), // 7 days default

		// API
		APIPort: getEnvInt("API_PORT", 8080),

		// Backups
		BackupDir:   getEnv("BACKUP_DIR", "/var/backups/opsched"),
		DumpTimeout: getEnvDuration("DUMP_TIMEOUT", 10*time.Minute),

		RetentionHourly: getEnvInt("RETENTION_HOURLY", 24),
		RetentionDaily:  getEnvInt("RETENTION_DAILY", 7),
		RetentionWeekly: getEnvInt("RETENTION_WEEKLY", 8),
		RetentionManual: getEnvInt("RETENTION_MANUAL", 10),
		RetentionCloud:  getEnvInt("RETENTION_CLOUD", 14),

		WeeklyRolloverDay: getEnvInt("WEEKLY_ROLLOVER_DAY", 0), // Sunday

		// Dropbox
		DropboxClientID:     getEnv("DROPBOX_CLIENT_ID", ""),
		DropboxClientSecret: getEnv("DROPBOX_CLIENT_SECRET", ""),
		DropboxRedirectURI:  getEnv("DROPBOX_REDIRECT_URI", "http://localhost:8080/api/dropbox/callback"),
		DropboxTokenFile:    getEnv("DROPBOX_TOKEN_FILE", "/var/lib/opsched/dropbox_tokens.json"),
		DropboxFolder:       getEnv("DROPBOX_FOLDER", "/opsched-backups"),

		CloudUploadRetries: getEnvInt("CLOUD_UPLOAD_RETRIES", 3),
		CloudRetryBackoff:  getEnvDuration("CLOUD_RETRY_BACKOFF", 1*time.Second),

		// FTP mirror
		FTPMirrorEnabled: getEnv("FTP_MIRROR_ENABLED", "") == "true",
		FTPHost:          getEnv("FTP_HOST", ""),
		FTPPort:          getEnvInt("FTP_PORT", 21),
		FTPUsername:      getEnv("FTP_USERNAME", ""),
		FTPPassword:      getEnv("FTP_PASSWORD", ""),
		FTPPath:          getEnv("FTP_PATH", "/backups"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir    string // Base directory for all databases (always absolute)
	InboxDir   string // Directory watched for normalized position batch files
	ArchiveDir string // Processed batch files are moved here
	LogLevel   string
	Port       int
	DevMode    bool

	// Reconciliation behaviour
	ImportWorkers       int    // Concurrent (bank, portfolio) groups per batch
	RedemptionGraceDays int    // Max ISIN absence still treated as transient, in days
	ImportSchedule      string // Cron expression for the inbox scan

	// Alerting
	OverdraftDedupHours int // Dedup window for unauthorized overdraft alerts
	BreachDedupHours    int // Dedup window for allocation breach alerts (0 = none)

	Backup *BackupConfig
}

// BackupConfig holds S3-compatible backup configuration
type BackupConfig struct {
	Enabled   bool
	Endpoint  string // Custom endpoint for S3-compatible providers (empty = AWS)
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Schedule  string // Cron expression for the backup job
	Retention int    // Number of backups to keep
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RECON_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	inboxDir := getEnv("RECON_INBOX_DIR", filepath.Join(absDataDir, "inbox"))
	archiveDir := getEnv("RECON_ARCHIVE_DIR", filepath.Join(absDataDir, "archive"))

	cfg := &Config{
		DataDir:             absDataDir,
		InboxDir:            inboxDir,
		ArchiveDir:          archiveDir,
		Port:                getEnvAsInt("RECON_PORT", 8010),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		ImportWorkers:       getEnvAsInt("IMPORT_WORKERS", 4),
		RedemptionGraceDays: getEnvAsInt("REDEMPTION_GRACE_DAYS", 30),
		ImportSchedule:      getEnv("IMPORT_SCHEDULE", "0 30 6 * * *"),
		OverdraftDedupHours: getEnvAsInt("OVERDRAFT_DEDUP_HOURS", 24),
		BreachDedupHours:    getEnvAsInt("BREACH_DEDUP_HOURS", 0),
		Backup:              loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.ImportWorkers < 1 {
		return fmt.Errorf("IMPORT_WORKERS must be at least 1, got %d", c.ImportWorkers)
	}
	if c.RedemptionGraceDays < 1 {
		return fmt.Errorf("REDEMPTION_GRACE_DAYS must be at least 1, got %d", c.RedemptionGraceDays)
	}
	if c.Backup != nil && c.Backup.Enabled && c.Backup.Bucket == "" {
		return fmt.Errorf("BACKUP_S3_BUCKET is required when backups are enabled")
	}
	return nil
}

// loadBackupConfig loads backup configuration from environment variables
func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:   getEnvAsBool("BACKUP_ENABLED", false),
		Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
		Region:    getEnv("BACKUP_S3_REGION", "auto"),
		Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
		AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
		SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
		Schedule:  getEnv("BACKUP_SCHEDULE", "0 0 2 * * *"),
		Retention: getEnvAsInt("BACKUP_RETENTION", 7),
	}
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

package backup

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"
)

// SystemConfig represents the complete backup pipeline configuration
type SystemConfig struct {
	Database   DatabaseConfig   `yaml:"database"`
	Staging    DatabaseConfig   `yaml:"staging"`
	Storage    StorageConfig    `yaml:"storage"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Retention  RetentionConfig  `yaml:"retention"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Alerting   AlertingConfig   `yaml:"alerting"`

	// DumpTimeout bounds every external dump/restore process invocation
	DumpTimeout time.Duration `yaml:"dump_timeout"`
	// TempDir holds dump directories while a backup run is in flight
	TempDir string `yaml:"temp_dir"`
	// KeyTables are sampled during restore validation
	KeyTables []string `yaml:"key_tables"`
}

// DatabaseConfig represents a MySQL connection target
type DatabaseConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
	Database string `yaml:"database" json:"database"`
}

// DSN returns a go-sql-driver connection string. An empty database name
// yields a server-level connection, which the restore tester uses to
// create and drop staging databases.
func (dc *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		dc.Username, dc.Password, dc.Host, dc.Port, dc.Database)
}

// Validate validates the DatabaseConfig struct
func (dc *DatabaseConfig) Validate() error {
	var errs ValidationErrors

	if dc.Host == "" {
		errs.Add("host", "database host is required", dc.Host)
	}
	if dc.Port <= 0 || dc.Port > 65535 {
		errs.Add("port", "database port must be between 1 and 65535", dc.Port)
	}
	if dc.Username == "" {
		errs.Add("username", "database username is required", dc.Username)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// StorageConfig defines storage backend configuration
type StorageConfig struct {
	Backend StorageBackendType `yaml:"backend"`
	Prefix  string             `yaml:"prefix"`
	Local   *LocalConfig       `yaml:"local,omitempty"`
	S3      *S3Config          `yaml:"s3,omitempty"`
	GCS     *GCSConfig         `yaml:"gcs,omitempty"`
	Azure   *AzureConfig       `yaml:"azure,omitempty"`
}

// LocalConfig for local file system storage
type LocalConfig struct {
	BasePath    string      `yaml:"base_path"`
	Permissions os.FileMode `yaml:"permissions"`
}

// S3Config for Amazon S3 storage
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// GCSConfig for Google Cloud Storage
type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsPath string `yaml:"credentials_path"`
	ProjectID       string `yaml:"project_id"`
}

// AzureConfig for Azure Blob Storage
type AzureConfig struct {
	AccountName   string `yaml:"account_name"`
	AccountKey    string `yaml:"account_key"`
	ContainerName string `yaml:"container_name"`
}

// Validate validates the StorageConfig struct
func (sc *StorageConfig) Validate() error {
	var errs ValidationErrors

	if !isValidStorageBackendType(sc.Backend) {
		errs.Add("backend", "invalid storage backend type", sc.Backend)
		return errs
	}

	switch sc.Backend {
	case StorageBackendLocal:
		if sc.Local == nil {
			errs.Add("local", "local storage configuration is required", nil)
		} else if sc.Local.BasePath == "" {
			errs.Add("local.base_path", "base path is required for local storage", nil)
		}
	case StorageBackendS3:
		if sc.S3 == nil {
			errs.Add("s3", "S3 storage configuration is required", nil)
		} else {
			if sc.S3.Bucket == "" {
				errs.Add("s3.bucket", "S3 bucket name is required", nil)
			}
			if sc.S3.Region == "" {
				errs.Add("s3.region", "S3 region is required", nil)
			}
		}
	case StorageBackendGCS:
		if sc.GCS == nil {
			errs.Add("gcs", "GCS storage configuration is required", nil)
		} else if sc.GCS.Bucket == "" {
			errs.Add("gcs.bucket", "GCS bucket name is required", nil)
		}
	case StorageBackendAzure:
		if sc.Azure == nil {
			errs.Add("azure", "Azure storage configuration is required", nil)
		} else {
			if sc.Azure.AccountName == "" {
				errs.Add("azure.account_name", "Azure account name is required", nil)
			}
			if sc.Azure.AccountKey == "" {
				errs.Add("azure.account_key", "Azure account key is required", nil)
			}
			if sc.Azure.ContainerName == "" {
				errs.Add("azure.container_name", "Azure container name is required", nil)
			}
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// ArchiveConfig defines how dump directories are packed into artifacts
type ArchiveConfig struct {
	Algorithm CompressionType `yaml:"algorithm"`
	Level     int             `yaml:"level"`
}

// Validate validates the ArchiveConfig struct
func (ac *ArchiveConfig) Validate() error {
	var errs ValidationErrors

	if ac.Algorithm != "" && !isValidCompressionType(ac.Algorithm) {
		errs.Add("algorithm", "invalid compression algorithm", ac.Algorithm)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// EncryptionConfig defines encryption settings. Enabled=false stores
// artifacts unencrypted; the composition root warns operators at startup.
type EncryptionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	KeySource string `yaml:"key_source"` // "env", "file", "passphrase"
	KeyEnvVar string `yaml:"key_env_var"`
	KeyPath   string `yaml:"key_path"`

	// Passphrase mode derives the key via PBKDF2; the salt is fixed per
	// installation so the same passphrase always yields the same key.
	Passphrase     string `yaml:"passphrase"`
	PassphraseSalt string `yaml:"passphrase_salt"`
}

// ResolveKey resolves the configured 32-byte encryption key. It is called
// once at startup so a misconfigured key fails before the first backup run.
func (ec *EncryptionConfig) ResolveKey() ([]byte, error) {
	if !ec.Enabled {
		return nil, nil
	}

	switch ec.KeySource {
	case "env":
		hexKey := os.Getenv(ec.KeyEnvVar)
		if hexKey == "" {
			return nil, NewConfigurationError(fmt.Sprintf("environment variable %s not set", ec.KeyEnvVar), nil)
		}
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, NewConfigurationError("failed to decode hex key from environment variable", err)
		}
		return validateKeyLength(key)

	case "file":
		key, err := os.ReadFile(ec.KeyPath)
		if err != nil {
			return nil, NewConfigurationError("failed to read key file", err)
		}
		return validateKeyLength(key)

	case "passphrase":
		if ec.Passphrase == "" {
			return nil, NewConfigurationError("encryption passphrase is empty", nil)
		}
		if len(ec.PassphraseSalt) < 8 {
			return nil, NewConfigurationError("passphrase salt must be at least 8 bytes", nil)
		}
		return DeriveKeyFromPassphrase(ec.Passphrase, []byte(ec.PassphraseSalt)), nil

	default:
		return nil, NewConfigurationError(fmt.Sprintf("invalid key source: %s", ec.KeySource), nil)
	}
}

func validateKeyLength(key []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, NewConfigurationError(
			fmt.Sprintf("encryption key must be exactly 32 bytes for AES-256, got %d", len(key)), nil)
	}
	return key, nil
}

// RetentionConfig defines how long backups are retained
type RetentionConfig struct {
	Days int `yaml:"days"`
}

// RetentionDate computes the retention date for a backup created at t
func (rc *RetentionConfig) RetentionDate(t time.Time) time.Time {
	return t.AddDate(0, 0, rc.Days)
}

// ScheduleConfig holds the cron expressions for periodic jobs
type ScheduleConfig struct {
	FullBackup        string `yaml:"full_backup"`
	IncrementalBackup string `yaml:"incremental_backup"`
	Cleanup           string `yaml:"cleanup"`
	HealthCheck       string `yaml:"health_check"`
	QuarterlyDrill    string `yaml:"quarterly_drill"`
}

// AlertingConfig defines alert delivery
type AlertingConfig struct {
	Enabled         bool           `yaml:"enabled"`
	MinSeverity     AlertSeverity  `yaml:"min_severity"`
	NotifyOnSuccess bool           `yaml:"notify_on_success"`
	Webhook         *WebhookConfig `yaml:"webhook,omitempty"`
	Email           *EmailConfig   `yaml:"email,omitempty"`
	File            *FileConfig    `yaml:"file,omitempty"`
}

// WebhookConfig for generic webhook notifications
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Headers map[string]string `yaml:"headers"`
	Timeout time.Duration     `yaml:"timeout"`
}

// EmailConfig for email notifications
type EmailConfig struct {
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

// FileConfig for file-based notifications
type FileConfig struct {
	Path string `yaml:"path"`
}

// SetDefaults sets default values for the pipeline configuration
func (c *SystemConfig) SetDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Staging.Port == 0 {
		c.Staging.Port = 3306
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendLocal
		if c.Storage.Local == nil {
			c.Storage.Local = &LocalConfig{BasePath: "./backups"}
		}
	}
	if c.Storage.Prefix == "" {
		c.Storage.Prefix = "backups"
	}
	if c.Storage.Local != nil && c.Storage.Local.Permissions == 0 {
		c.Storage.Local.Permissions = 0o755
	}
	if c.Archive.Algorithm == "" {
		c.Archive.Algorithm = CompressionTypeZstd
	}
	if c.Archive.Level == 0 {
		c.Archive.Level = 3
	}
	if c.Encryption.Enabled && c.Encryption.KeySource == "" {
		c.Encryption.KeySource = "env"
	}
	if c.Encryption.KeyEnvVar == "" {
		c.Encryption.KeyEnvVar = "BACKUP_ENCRYPTION_KEY"
	}
	if c.Retention.Days == 0 {
		c.Retention.Days = 30
	}
	if c.Schedule.FullBackup == "" {
		c.Schedule.FullBackup = "0 2 * * 0" // weekly, Sunday 02:00
	}
	if c.Schedule.IncrementalBackup == "" {
		c.Schedule.IncrementalBackup = "0 2 * * 1-6" // daily except Sunday
	}
	if c.Schedule.Cleanup == "" {
		c.Schedule.Cleanup = "0 4 * * *"
	}
	if c.Schedule.HealthCheck == "" {
		c.Schedule.HealthCheck = "30 * * * *"
	}
	if c.Schedule.QuarterlyDrill == "" {
		c.Schedule.QuarterlyDrill = "0 3 1 1,4,7,10 *" // first day of each quarter
	}
	if c.Alerting.MinSeverity == "" {
		c.Alerting.MinSeverity = AlertSeverityWarning
	}
	if c.DumpTimeout == 0 {
		c.DumpTimeout = 30 * time.Minute
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
}

// Validate validates the full pipeline configuration. It runs at startup;
// invalid encryption keys and malformed settings must never surface for the
// first time inside a scheduled backup run.
func (c *SystemConfig) Validate() error {
	var errs ValidationErrors

	collect := func(field string, err error) {
		if err == nil {
			return
		}
		if ves, ok := err.(ValidationErrors); ok {
			errs = append(errs, ves...)
			return
		}
		errs.Add(field, err.Error(), nil)
	}

	collect("database", c.Database.Validate())
	collect("staging", c.Staging.Validate())
	collect("storage", c.Storage.Validate())
	collect("archive", c.Archive.Validate())

	if c.Database.Database == "" {
		errs.Add("database.database", "primary database name is required", nil)
	}

	if c.Staging.Host == c.Database.Host && c.Staging.Port == c.Database.Port &&
		c.Staging.Database != "" && c.Staging.Database == c.Database.Database {
		errs.Add("staging", "staging target must be distinct from the production database", c.Staging.Database)
	}

	if c.Encryption.Enabled {
		if _, err := c.Encryption.ResolveKey(); err != nil {
			errs.Add("encryption", err.Error(), nil)
		}
	}

	if c.Retention.Days < 0 {
		errs.Add("retention.days", "retention period cannot be negative", c.Retention.Days)
	}

	if c.DumpTimeout <= 0 {
		errs.Add("dump_timeout", "dump timeout must be positive", c.DumpTimeout)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// LoadFromEnvironment overrides configuration from environment variables
func (c *SystemConfig) LoadFromEnvironment() {
	if v := os.Getenv("BACKUP_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = StorageBackendType(v)
	}
	if v := os.Getenv("BACKUP_STORAGE_PREFIX"); v != "" {
		c.Storage.Prefix = v
	}
	if v := os.Getenv("BACKUP_LOCAL_PATH"); v != "" {
		if c.Storage.Local == nil {
			c.Storage.Local = &LocalConfig{}
		}
		c.Storage.Local.BasePath = v
	}
	if v := os.Getenv("BACKUP_S3_BUCKET"); v != "" {
		if c.Storage.S3 == nil {
			c.Storage.S3 = &S3Config{}
		}
		c.Storage.S3.Bucket = v
	}
	if v := os.Getenv("BACKUP_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil {
			c.Retention.Days = days
		}
	}
	if v := os.Getenv("BACKUP_ENCRYPTION_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Encryption.Enabled = enabled
		}
	}
	if v := os.Getenv("BACKUP_DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("BACKUP_DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("BACKUP_STAGING_HOST"); v != "" {
		c.Staging.Host = v
	}
	if v := os.Getenv("BACKUP_STAGING_PASSWORD"); v != "" {
		c.Staging.Password = v
	}
}

package backup

import (
	"time"
)

// BackupType distinguishes full exports from change-log increments
type BackupType string

const (
	BackupTypeFull        BackupType = "FULL"
	BackupTypeIncremental BackupType = "INCREMENTAL"
)

// BackupStatus tracks a catalog record through its lifecycle
type BackupStatus string

const (
	BackupStatusInProgress BackupStatus = "IN_PROGRESS"
	BackupStatusCompleted  BackupStatus = "COMPLETED"
	BackupStatusVerified   BackupStatus = "VERIFIED"
	BackupStatusFailed     BackupStatus = "FAILED"
)

// BackupRecord is the catalog row describing one backup artifact
type BackupRecord struct {
	ID                string       `json:"id"`
	Type              BackupType   `json:"type"`
	ParentID          string       `json:"parent_id,omitempty"`
	Status            BackupStatus `json:"status"`
	StorageLocation   string       `json:"storage_location,omitempty"`
	StorageKey        string       `json:"storage_key,omitempty"`
	Checksum          string       `json:"checksum,omitempty"`
	SizeBytes         int64        `json:"size_bytes"`
	OriginalSizeBytes int64        `json:"original_size_bytes"`
	CreatedAt         time.Time    `json:"created_at"`
	CompletedAt       *time.Time   `json:"completed_at,omitempty"`
	RetentionDate     time.Time    `json:"retention_date"`
	FailureReason     string       `json:"failure_reason,omitempty"`
}

// IsRestorable reports whether the record points at a usable artifact
func (r *BackupRecord) IsRestorable() bool {
	return r.Status == BackupStatusCompleted || r.Status == BackupStatusVerified
}

// CompressionType identifies the archive compression algorithm
type CompressionType string

const (
	CompressionTypeNone CompressionType = "NONE"
	CompressionTypeGzip CompressionType = "GZIP"
	CompressionTypeLZ4  CompressionType = "LZ4"
	CompressionTypeZstd CompressionType = "ZSTD"
)

// StorageBackendType identifies the configured storage backend
type StorageBackendType string

const (
	StorageBackendLocal StorageBackendType = "LOCAL"
	StorageBackendS3    StorageBackendType = "S3"
	StorageBackendGCS   StorageBackendType = "GCS"
	StorageBackendAzure StorageBackendType = "AZURE"
)

// AlertSeverity represents the severity of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "INFO"
	AlertSeverityWarning  AlertSeverity = "WARNING"
	AlertSeverityCritical AlertSeverity = "CRITICAL"
)

// Alert is an operational event surfaced to operators
type Alert struct {
	Severity  AlertSeverity          `json:"severity"`
	Subject   string                 `json:"subject"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// RestoreTestReport describes one restore-and-validate exercise
type RestoreTestReport struct {
	BackupID        string           `json:"backup_id"`
	BackupType      BackupType       `json:"backup_type"`
	StagingDatabase string           `json:"staging_database"`
	Passed          bool             `json:"passed"`
	TablesRestored  int              `json:"tables_restored"`
	KeyTableCounts  map[string]int64 `json:"key_table_counts,omitempty"`
	FailureReason   string           `json:"failure_reason,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
}

// ChainTestReport describes a full backup test composed with its
// most recent incremental
type ChainTestReport struct {
	FullBackupID      string             `json:"full_backup_id"`
	FullReport        *RestoreTestReport `json:"full_report,omitempty"`
	IncrementalReport *RestoreTestReport `json:"incremental_report,omitempty"`
	ChainTestSuccess  bool               `json:"chain_test_success"`
}

// QuarterlyDrillReport summarizes a scheduled recovery drill
type QuarterlyDrillReport struct {
	RanAt        time.Time        `json:"ran_at"`
	FullBackupID string           `json:"full_backup_id,omitempty"`
	Chain        *ChainTestReport `json:"chain,omitempty"`
	TestsRun     int              `json:"tests_run"`
	TestsPassed  int              `json:"tests_passed"`
	TestsFailed  int              `json:"tests_failed"`
	Passed       bool             `json:"passed"`
	FailureNote  string           `json:"failure_note,omitempty"`
}

// CleanupResult summarizes a retention pass
type CleanupResult struct {
	Examined           int           `json:"examined"`
	Deleted            int           `json:"deleted"`
	Kept               int           `json:"kept"`
	DeletedIDs         []string      `json:"deleted_ids,omitempty"`
	RetainedChainRoots []string      `json:"retained_chain_roots,omitempty"`
	Errors             []string      `json:"errors,omitempty"`
	DryRun             bool          `json:"dry_run"`
	Duration           time.Duration `json:"duration"`
}

// HealthReport summarizes a periodic sanity pass over catalog and storage
type HealthReport struct {
	Healthy           bool           `json:"healthy"`
	StorageReachable  bool           `json:"storage_reachable"`
	CatalogReachable  bool           `json:"catalog_reachable"`
	LastFullBackupAge *time.Duration `json:"last_full_backup_age,omitempty"`
	StaleInProgress   int            `json:"stale_in_progress"`
	Issues            []string       `json:"issues,omitempty"`
	CheckedAt         time.Time      `json:"checked_at"`
}

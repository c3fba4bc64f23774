package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GenerateBackupID generates a unique, time-sortable backup ID
func GenerateBackupID(backupType BackupType) string {
	prefix := "full"
	if backupType == BackupTypeIncremental {
		prefix = "incr"
	}
	timestamp := time.Now().UTC().Format("20060102-150405")
	shortUUID := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]

	return fmt.Sprintf("backup-%s-%s-%s", prefix, timestamp, shortUUID)
}

// CalculateChecksum calculates the SHA-256 checksum of artifact bytes.
// The pipeline always hashes the final bytes exactly as written to storage,
// so verification can re-read and re-hash without decrypting.
func CalculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// VerifyChecksum compares data against an expected checksum
func VerifyChecksum(data []byte, expected string) bool {
	return CalculateChecksum(data) == expected
}

// Validate validates the BackupRecord struct
func (r *BackupRecord) Validate() error {
	var errs ValidationErrors

	if r.ID == "" {
		errs.Add("id", "backup ID is required", r.ID)
	}

	switch r.Type {
	case BackupTypeFull:
		if r.ParentID != "" {
			errs.Add("parent_id", "full backups must not reference a parent", r.ParentID)
		}
	case BackupTypeIncremental:
		if r.ParentID == "" {
			errs.Add("parent_id", "incremental backups must reference a parent", r.ParentID)
		}
	default:
		errs.Add("type", "invalid backup type", r.Type)
	}

	if !isValidBackupStatus(r.Status) {
		errs.Add("status", "invalid backup status", r.Status)
	}

	if r.Status == BackupStatusFailed && r.FailureReason == "" {
		errs.Add("failure_reason", "failed backups must record a reason", nil)
	}

	if r.SizeBytes < 0 {
		errs.Add("size_bytes", "backup size cannot be negative", r.SizeBytes)
	}

	if r.OriginalSizeBytes < 0 {
		errs.Add("original_size_bytes", "original size cannot be negative", r.OriginalSizeBytes)
	}

	if r.CreatedAt.IsZero() {
		errs.Add("created_at", "creation timestamp is required", r.CreatedAt)
	}

	if r.RetentionDate.IsZero() {
		errs.Add("retention_date", "retention date is required", r.RetentionDate)
	}

	if r.Status == BackupStatusCompleted || r.Status == BackupStatusVerified {
		if r.StorageLocation == "" {
			errs.Add("storage_location", "completed backups must record a storage location", nil)
		}
		if r.Checksum == "" {
			errs.Add("checksum", "completed backups must record a checksum", nil)
		}
		if r.CompletedAt == nil {
			errs.Add("completed_at", "completed backups must record a completion time", nil)
		}
	}

	if errs.HasErrors() {
		return errs
	}

	return nil
}

// ArtifactKey derives the storage key for a backup artifact
func ArtifactKey(prefix, backupID string) string {
	key := sanitizeKeyComponent(backupID) + ".backup"
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}

// sanitizeKeyComponent removes characters that are unsafe in storage keys
// and file paths
func sanitizeKeyComponent(id string) string {
	sanitized := strings.ReplaceAll(id, "/", "_")
	sanitized = strings.ReplaceAll(sanitized, "\\", "_")
	sanitized = strings.ReplaceAll(sanitized, "..", "_")
	sanitized = strings.ReplaceAll(sanitized, " ", "_")
	return sanitized
}

func isValidBackupStatus(status BackupStatus) bool {
	switch status {
	case BackupStatusInProgress, BackupStatusCompleted, BackupStatusVerified, BackupStatusFailed:
		return true
	default:
		return false
	}
}

func isValidCompressionType(ct CompressionType) bool {
	switch ct {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
		return true
	default:
		return false
	}
}

func isValidStorageBackendType(backend StorageBackendType) bool {
	switch backend {
	case StorageBackendLocal, StorageBackendS3, StorageBackendGCS, StorageBackendAzure:
		return true
	default:
		return false
	}
}

package backup

import (
	"context"
	"fmt"
	"time"

	"mysql-backup-sentinel/internal/logging"
)

// RetentionCleaner removes backups whose retention window has closed.
// A full backup is never deleted while any still-retained incremental
// depends on it, otherwise those incrementals would become unrestorable.
type RetentionCleaner struct {
	catalog  BackupCatalog
	storage  StorageAdapter
	notifier AlertNotifier
	logger   *logging.Logger
}

// NewRetentionCleaner creates a cleaner over the given catalog and storage
func NewRetentionCleaner(catalog BackupCatalog, storage StorageAdapter, notifier AlertNotifier, logger *logging.Logger) *RetentionCleaner {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &RetentionCleaner{
		catalog:  catalog,
		storage:  storage,
		notifier: notifier,
		logger:   logger,
	}
}

// Cleanup deletes expired backups. The artifact is removed from storage
// before the catalog row, so a crash mid-delete leaves a dangling record
// rather than an orphaned artifact. With dryRun set, nothing is deleted and
// the result reports what would have been.
func (rc *RetentionCleaner) Cleanup(ctx context.Context, dryRun bool) (*CleanupResult, error) {
	start := time.Now()
	now := start.UTC()
	result := &CleanupResult{DryRun: dryRun}

	expired, err := rc.catalog.ListExpired(ctx, now)
	if err != nil {
		return nil, err
	}
	result.Examined = len(expired)

	for _, rec := range expired {
		if rec.Type == BackupTypeFull {
			retained, err := rc.catalog.HasRetainedIncrementals(ctx, rec.ID, now)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
				continue
			}
			if retained {
				result.Kept++
				result.RetainedChainRoots = append(result.RetainedChainRoots, rec.ID)
				rc.logger.WithFields(map[string]interface{}{
					"backup_id": rec.ID,
				}).Debug("Keeping expired full backup with retained incrementals")
				continue
			}
		}

		if dryRun {
			result.Deleted++
			result.DeletedIDs = append(result.DeletedIDs, rec.ID)
			continue
		}

		if err := rc.deleteBackup(ctx, rec); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", rec.ID, err))
			continue
		}
		result.Deleted++
		result.DeletedIDs = append(result.DeletedIDs, rec.ID)
	}

	result.Duration = time.Since(start)

	rc.logger.WithFields(map[string]interface{}{
		"examined": result.Examined,
		"deleted":  result.Deleted,
		"kept":     result.Kept,
		"errors":   len(result.Errors),
		"dry_run":  dryRun,
	}).Info("Retention cleanup finished")

	if len(result.Errors) > 0 && rc.notifier != nil {
		alert := NewAlert(AlertSeverityWarning, "Retention cleanup completed with errors", map[string]interface{}{
			"errors":  result.Errors,
			"deleted": result.Deleted,
		})
		if err := rc.notifier.Notify(ctx, alert); err != nil {
			rc.logger.WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Error("Alert delivery failed")
		}
	}

	return result, nil
}

// deleteBackup removes the stored artifact, then the catalog row. Failed
// backups may have no artifact; a missing object is not an error.
func (rc *RetentionCleaner) deleteBackup(ctx context.Context, rec *BackupRecord) error {
	if rec.StorageKey != "" {
		if err := rc.storage.Delete(ctx, rec.StorageKey); err != nil && !IsNotFound(err) {
			return err
		}
	}

	if err := rc.catalog.Delete(ctx, rec.ID); err != nil {
		return err
	}

	rc.logger.WithFields(map[string]interface{}{
		"backup_id": rec.ID,
		"type":      string(rec.Type),
		"status":    string(rec.Status),
	}).Info("Expired backup deleted")

	return nil
}

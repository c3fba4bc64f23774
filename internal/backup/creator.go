package backup

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"mysql-backup-sentinel/internal/logging"
)

// Dumper produces database dumps into a directory and loads them back
type Dumper interface {
	DumpFull(ctx context.Context, dir string) error
	DumpIncremental(ctx context.Context, dir string, since time.Time) error
	Restore(ctx context.Context, dir string, target DatabaseConfig, targetDatabase string) error
}

// CreatorOptions holds the tunables for backup creation
type CreatorOptions struct {
	Retention       RetentionConfig
	TempDir         string
	KeyPrefix       string
	NotifyOnSuccess bool
}

// BackupCreationService runs the dump, archive, encrypt, upload, and verify
// pipeline for full and incremental backups. Every stage failure marks the
// catalog record FAILED, removes any uploaded artifact, and raises exactly
// one critical alert.
type BackupCreationService struct {
	catalog   BackupCatalog
	storage   StorageAdapter
	dumper    Dumper
	archiver  *ArchiveBuilder
	encryptor *Encryptor
	verifier  *IntegrityVerifier
	notifier  AlertNotifier
	logger    *logging.Logger
	opts      CreatorOptions
}

// NewBackupCreationService wires the creation pipeline. A nil encryptor
// means artifacts are stored unencrypted.
func NewBackupCreationService(
	catalog BackupCatalog,
	storage StorageAdapter,
	dumper Dumper,
	archiver *ArchiveBuilder,
	encryptor *Encryptor,
	verifier *IntegrityVerifier,
	notifier AlertNotifier,
	logger *logging.Logger,
	opts CreatorOptions,
) *BackupCreationService {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "backups"
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &BackupCreationService{
		catalog:   catalog,
		storage:   storage,
		dumper:    dumper,
		archiver:  archiver,
		encryptor: encryptor,
		verifier:  verifier,
		notifier:  notifier,
		logger:    logger,
		opts:      opts,
	}
}

// CreateFullBackup runs one full backup end to end
func (s *BackupCreationService) CreateFullBackup(ctx context.Context) (*BackupRecord, error) {
	return s.create(ctx, BackupTypeFull)
}

// CreateIncrementalBackup captures the changes since the latest restorable
// full backup. It fails before writing any catalog record when no usable
// full backup exists or its artifact is missing from storage.
func (s *BackupCreationService) CreateIncrementalBackup(ctx context.Context) (*BackupRecord, error) {
	return s.create(ctx, BackupTypeIncremental)
}

func (s *BackupCreationService) create(ctx context.Context, backupType BackupType) (*BackupRecord, error) {
	var parent *BackupRecord
	if backupType == BackupTypeIncremental {
		var err error
		parent, err = s.resolveParent(ctx)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	rec := &BackupRecord{
		ID:            GenerateBackupID(backupType),
		Type:          backupType,
		Status:        BackupStatusInProgress,
		CreatedAt:     now,
		RetentionDate: s.opts.Retention.RetentionDate(now),
	}
	if parent != nil {
		rec.ParentID = parent.ID
	}

	if err := s.catalog.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"backup_id": rec.ID,
		"type":      string(rec.Type),
		"parent_id": rec.ParentID,
	}).Info("Backup started")

	dumpDir, err := os.MkdirTemp(s.opts.TempDir, rec.ID+"-")
	if err != nil {
		return nil, s.fail(ctx, rec, "", NewDumpError("failed to create dump directory", err))
	}
	defer os.RemoveAll(dumpDir)

	if backupType == BackupTypeFull {
		err = s.dumper.DumpFull(ctx, dumpDir)
	} else {
		err = s.dumper.DumpIncremental(ctx, dumpDir, *parent.CompletedAt)
	}
	if err != nil {
		return nil, s.fail(ctx, rec, "", err)
	}

	data, stats, err := s.archiver.Pack(dumpDir)
	if err != nil {
		return nil, s.fail(ctx, rec, "", err)
	}

	encrypted := false
	if s.encryptor != nil {
		data, err = s.encryptor.Encrypt(data)
		if err != nil {
			return nil, s.fail(ctx, rec, "", err)
		}
		encrypted = true
	}

	// Checksum covers the exact bytes that land in storage
	checksum := CalculateChecksum(data)
	key := ArtifactKey(s.opts.KeyPrefix, rec.ID)

	metadata := ObjectMetadata{
		MetaBackupID:     rec.ID,
		MetaBackupType:   string(rec.Type),
		MetaChecksum:     checksum,
		MetaAlgorithm:    string(s.archiver.Algorithm()),
		MetaEncrypted:    strconv.FormatBool(encrypted),
		MetaOriginalSize: strconv.FormatInt(stats.OriginalSize, 10),
	}
	if rec.ParentID != "" {
		metadata[MetaParentID] = rec.ParentID
	}

	uploadStart := time.Now()
	location, err := s.storage.Put(ctx, key, data, metadata)
	if err != nil {
		return nil, s.fail(ctx, rec, "", err)
	}
	s.logger.LogUploadCompleted(rec.ID, location, key, int64(len(data)), time.Since(uploadStart))

	completedAt := time.Now().UTC()
	if err := s.catalog.MarkCompleted(ctx, rec.ID, location, key, checksum, int64(len(data)), stats.OriginalSize, completedAt); err != nil {
		return nil, s.fail(ctx, rec, key, err)
	}
	rec.Status = BackupStatusCompleted
	rec.StorageLocation = location
	rec.StorageKey = key
	rec.Checksum = checksum
	rec.SizeBytes = int64(len(data))
	rec.OriginalSizeBytes = stats.OriginalSize
	rec.CompletedAt = &completedAt

	if s.verifier != nil {
		if err := s.verifier.VerifyBackup(ctx, rec); err != nil {
			return nil, s.fail(ctx, rec, key, err)
		}
		rec.Status = BackupStatusVerified
	}

	s.logger.WithFields(map[string]interface{}{
		"backup_id":      rec.ID,
		"type":           string(rec.Type),
		"size_bytes":     rec.SizeBytes,
		"original_bytes": rec.OriginalSizeBytes,
		"checksum":       rec.Checksum,
		"duration":       completedAt.Sub(now).String(),
	}).Info("Backup completed")

	if s.opts.NotifyOnSuccess && s.notifier != nil {
		s.notify(ctx, NewAlert(AlertSeverityInfo,
			fmt.Sprintf("Backup %s completed", rec.ID),
			map[string]interface{}{
				"backup_id":  rec.ID,
				"type":       string(rec.Type),
				"size_bytes": rec.SizeBytes,
			}))
	}

	return rec, nil
}

// resolveParent finds the latest restorable full backup and confirms its
// artifact is still present in storage before an incremental starts
func (s *BackupCreationService) resolveParent(ctx context.Context) (*BackupRecord, error) {
	parent, err := s.catalog.LatestFull(ctx)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewChainIntegrityError("no restorable full backup exists to anchor an incremental", err)
		}
		return nil, err
	}
	if parent.CompletedAt == nil {
		return nil, NewChainIntegrityError(fmt.Sprintf("full backup %s has no completion time", parent.ID), nil)
	}

	exists, err := s.storage.Exists(ctx, parent.StorageKey)
	if err != nil {
		return nil, NewStorageError(fmt.Sprintf("failed to check artifact for full backup %s", parent.ID), err)
	}
	if !exists {
		return nil, NewChainIntegrityError(fmt.Sprintf("artifact for full backup %s is missing from storage", parent.ID), nil)
	}

	return parent, nil
}

// fail marks the record FAILED, removes any uploaded artifact, and raises a
// single critical alert
func (s *BackupCreationService) fail(ctx context.Context, rec *BackupRecord, uploadedKey string, cause error) error {
	if err := s.catalog.MarkFailed(ctx, rec.ID, cause.Error()); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"backup_id": rec.ID,
			"error":     err.Error(),
		}).Error("Failed to mark backup as failed")
	}
	rec.Status = BackupStatusFailed
	rec.FailureReason = cause.Error()

	if uploadedKey != "" {
		if err := s.storage.Delete(ctx, uploadedKey); err != nil && !IsNotFound(err) {
			s.logger.WithFields(map[string]interface{}{
				"backup_id": rec.ID,
				"key":       uploadedKey,
				"error":     err.Error(),
			}).Error("Failed to remove artifact of failed backup")
		}
	}

	s.notify(ctx, NewAlert(AlertSeverityCritical,
		fmt.Sprintf("Backup %s failed", rec.ID),
		map[string]interface{}{
			"backup_id":    rec.ID,
			"type":         string(rec.Type),
			"failure_kind": string(KindOf(cause)),
			"error":        cause.Error(),
		}))

	return cause
}

func (s *BackupCreationService) notify(ctx context.Context, alert Alert) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, alert); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"subject": alert.Subject,
			"error":   err.Error(),
		}).Error("Alert delivery failed")
	}
}

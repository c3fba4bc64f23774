package backup

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"mysql-backup-sentinel/internal/logging"
)

// StagingController manages throwaway databases on the staging server and
// runs the validation queries against them
type StagingController interface {
	CreateDatabase(ctx context.Context, name string) error
	DropDatabase(ctx context.Context, name string) error
	CountTables(ctx context.Context, database string) (int, error)

	// CountRows returns the row count for a table, or exists=false when the
	// table is absent from the restored schema
	CountRows(ctx context.Context, database, table string) (count int64, exists bool, err error)
}

type sqlStagingController struct {
	db *sql.DB
}

// NewStagingController creates a controller over an admin connection to the
// staging MySQL server
func NewStagingController(db *sql.DB) StagingController {
	return &sqlStagingController{db: db}
}

func (c *sqlStagingController) CreateDatabase(ctx context.Context, name string) error {
	if err := validateIdentifier(name); err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)); err != nil {
		return NewRestoreValidationError(fmt.Sprintf("failed to create staging database %s", name), err)
	}
	return nil
}

func (c *sqlStagingController) DropDatabase(ctx context.Context, name string) error {
	if err := validateIdentifier(name); err != nil {
		return err
	}
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", name)); err != nil {
		return NewRestoreValidationError(fmt.Sprintf("failed to drop staging database %s", name), err)
	}
	return nil
}

func (c *sqlStagingController) CountTables(ctx context.Context, database string) (int, error) {
	const query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ?`

	var count int
	if err := c.db.QueryRowContext(ctx, query, database).Scan(&count); err != nil {
		return 0, NewRestoreValidationError("failed to count restored tables", err)
	}
	return count, nil
}

func (c *sqlStagingController) CountRows(ctx context.Context, database, table string) (int64, bool, error) {
	if err := validateIdentifier(database); err != nil {
		return 0, false, err
	}
	if err := validateIdentifier(table); err != nil {
		return 0, false, err
	}

	const existsQuery = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`
	var present int
	if err := c.db.QueryRowContext(ctx, existsQuery, database, table).Scan(&present); err != nil {
		return 0, false, NewRestoreValidationError(fmt.Sprintf("failed to check table %s", table), err)
	}
	if present == 0 {
		return 0, false, nil
	}

	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM `%s`.`%s`", database, table)
	if err := c.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, true, NewRestoreValidationError(fmt.Sprintf("failed to count rows in %s", table), err)
	}
	return count, true, nil
}

func validateIdentifier(name string) error {
	if name == "" {
		return NewRestoreValidationError("empty identifier", nil)
	}
	for _, r := range name {
		valid := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
		if !valid {
			return NewRestoreValidationError(fmt.Sprintf("unsafe identifier: %s", name), nil)
		}
	}
	return nil
}

// RestoreOptions holds the tunables for restore testing
type RestoreOptions struct {
	Staging   DatabaseConfig
	KeyTables []string
	TempDir   string
}

// RestoreTestingService proves backups are actually restorable by loading
// them into a throwaway staging database and running sanity queries. The
// staging database is always dropped, pass or fail.
type RestoreTestingService struct {
	catalog  BackupCatalog
	storage  StorageAdapter
	dumper   Dumper
	archiver *ArchiveBuilder
	encrypt  *Encryptor
	staging  StagingController
	notifier AlertNotifier
	logger   *logging.Logger
	opts     RestoreOptions
}

// NewRestoreTestingService wires the restore drill pipeline
func NewRestoreTestingService(
	catalog BackupCatalog,
	storage StorageAdapter,
	dumper Dumper,
	archiver *ArchiveBuilder,
	encryptor *Encryptor,
	staging StagingController,
	notifier AlertNotifier,
	logger *logging.Logger,
	opts RestoreOptions,
) *RestoreTestingService {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &RestoreTestingService{
		catalog:  catalog,
		storage:  storage,
		dumper:   dumper,
		archiver: archiver,
		encrypt:  encryptor,
		staging:  staging,
		notifier: notifier,
		logger:   logger,
		opts:     opts,
	}
}

// TestRestore restores one backup into a fresh staging database and
// validates the result. For an incremental backup the parent full backup is
// restored into the same staging database first, so the test exercises the
// real recovery sequence.
func (s *RestoreTestingService) TestRestore(ctx context.Context, backupID string) (*RestoreTestReport, error) {
	report := &RestoreTestReport{
		BackupID:  backupID,
		StartedAt: time.Now().UTC(),
	}

	rec, err := s.catalog.Get(ctx, backupID)
	if err != nil {
		return s.finish(report, err)
	}
	report.BackupType = rec.Type

	chain, err := s.resolveChain(ctx, rec)
	if err != nil {
		return s.finish(report, err)
	}

	stagingDB := fmt.Sprintf("restore_drill_%s", strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
	report.StagingDatabase = stagingDB

	if err := s.staging.CreateDatabase(ctx, stagingDB); err != nil {
		return s.finish(report, err)
	}
	defer func() {
		// Drop with a fresh context so cleanup survives caller cancellation
		dropCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.staging.DropDatabase(dropCtx, stagingDB); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"staging_database": stagingDB,
				"error":            err.Error(),
			}).Error("Failed to drop staging database")
		}
	}()

	for _, link := range chain {
		if err := s.applyArtifact(ctx, link, stagingDB); err != nil {
			return s.finish(report, err)
		}
	}

	if err := s.validate(ctx, stagingDB, report); err != nil {
		return s.finish(report, err)
	}

	report.Passed = true
	report.FinishedAt = time.Now().UTC()

	s.logger.WithFields(map[string]interface{}{
		"backup_id":        backupID,
		"staging_database": stagingDB,
		"tables_restored":  report.TablesRestored,
		"duration":         report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("Restore test passed")

	return report, nil
}

// resolveChain returns the records to restore in order. A full backup
// restores alone; an incremental restores after its parent full.
func (s *RestoreTestingService) resolveChain(ctx context.Context, rec *BackupRecord) ([]*BackupRecord, error) {
	if !rec.IsRestorable() {
		return nil, NewRestoreValidationError(fmt.Sprintf("backup %s is %s, not restorable", rec.ID, rec.Status), nil)
	}
	if rec.Type == BackupTypeFull {
		return []*BackupRecord{rec}, nil
	}

	parent, err := s.catalog.Get(ctx, rec.ParentID)
	if err != nil {
		return nil, NewChainIntegrityError(fmt.Sprintf("parent of incremental %s not found", rec.ID), err)
	}
	if !parent.IsRestorable() {
		return nil, NewChainIntegrityError(fmt.Sprintf("parent %s of incremental %s is %s", parent.ID, rec.ID, parent.Status), nil)
	}

	return []*BackupRecord{parent, rec}, nil
}

// applyArtifact fetches, verifies, decrypts, unpacks, and loads one backup
// into the staging database
func (s *RestoreTestingService) applyArtifact(ctx context.Context, rec *BackupRecord, stagingDB string) error {
	data, err := s.storage.Get(ctx, rec.StorageKey)
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to fetch artifact for backup %s", rec.ID), err)
	}

	if !VerifyChecksum(data, rec.Checksum) {
		return NewIntegrityError(fmt.Sprintf("checksum mismatch for backup %s", rec.ID), nil)
	}

	if s.encrypt != nil {
		data, err = s.encrypt.Decrypt(data)
		if err != nil {
			return err
		}
	}

	restoreDir, err := os.MkdirTemp(s.opts.TempDir, rec.ID+"-restore-")
	if err != nil {
		return NewRestoreValidationError("failed to create restore directory", err)
	}
	defer os.RemoveAll(restoreDir)

	if err := s.archiver.Unpack(data, restoreDir); err != nil {
		return err
	}

	return s.dumper.Restore(ctx, restoreDir, s.opts.Staging, stagingDB)
}

// validate runs the post-restore sanity queries
func (s *RestoreTestingService) validate(ctx context.Context, stagingDB string, report *RestoreTestReport) error {
	tables, err := s.staging.CountTables(ctx, stagingDB)
	if err != nil {
		return err
	}
	report.TablesRestored = tables
	if tables == 0 {
		return NewRestoreValidationError("restored database contains no tables", nil)
	}

	if len(s.opts.KeyTables) > 0 {
		report.KeyTableCounts = make(map[string]int64)
		for _, table := range s.opts.KeyTables {
			count, exists, err := s.staging.CountRows(ctx, stagingDB, table)
			if err != nil {
				return err
			}
			if !exists {
				continue
			}
			report.KeyTableCounts[table] = count
		}
	}

	return nil
}

func (s *RestoreTestingService) finish(report *RestoreTestReport, err error) (*RestoreTestReport, error) {
	report.Passed = false
	report.FailureReason = err.Error()
	report.FinishedAt = time.Now().UTC()
	return report, err
}

// TestChain exercises a full backup plus its most recent incremental. An
// empty fullBackupID anchors on the latest full backup. The incremental test
// restores the full again first, so a passing chain test proves the complete
// recovery path.
func (s *RestoreTestingService) TestChain(ctx context.Context, fullBackupID string) (*ChainTestReport, error) {
	var full *BackupRecord
	var err error
	if fullBackupID == "" {
		full, err = s.catalog.LatestFull(ctx)
	} else {
		full, err = s.catalog.Get(ctx, fullBackupID)
	}
	if err != nil {
		return nil, err
	}
	if full.Type != BackupTypeFull {
		return nil, NewRestoreValidationError(fmt.Sprintf("backup %s is %s, a chain test anchors on a full backup", full.ID, full.Type), nil)
	}

	chain := &ChainTestReport{FullBackupID: full.ID}

	fullReport, fullErr := s.TestRestore(ctx, full.ID)
	chain.FullReport = fullReport

	inc, err := s.catalog.LatestIncremental(ctx, full.ID)
	switch {
	case err == nil:
		incReport, incErr := s.TestRestore(ctx, inc.ID)
		chain.IncrementalReport = incReport
		chain.ChainTestSuccess = fullErr == nil && incErr == nil
	case IsNotFound(err):
		chain.ChainTestSuccess = fullErr == nil
	default:
		return chain, err
	}

	if !chain.ChainTestSuccess && fullErr != nil {
		return chain, fullErr
	}
	return chain, nil
}

// RunQuarterlyDrill runs the scheduled recovery drill and raises a critical
// alert when any part of it fails
func (s *RestoreTestingService) RunQuarterlyDrill(ctx context.Context) (*QuarterlyDrillReport, error) {
	report := &QuarterlyDrillReport{RanAt: time.Now().UTC()}

	chain, err := s.TestChain(ctx, "")
	if err != nil && chain == nil {
		report.FailureNote = err.Error()
		s.alertDrillFailure(ctx, report)
		return report, err
	}

	report.Chain = chain
	report.FullBackupID = chain.FullBackupID
	for _, r := range []*RestoreTestReport{chain.FullReport, chain.IncrementalReport} {
		if r == nil {
			continue
		}
		report.TestsRun++
		if r.Passed {
			report.TestsPassed++
		} else {
			report.TestsFailed++
			report.FailureNote = r.FailureReason
		}
	}
	report.Passed = report.TestsRun > 0 && report.TestsFailed == 0

	if !report.Passed {
		s.alertDrillFailure(ctx, report)
		if err != nil {
			return report, err
		}
		return report, NewRestoreValidationError("recovery drill failed", nil)
	}

	s.logger.WithFields(map[string]interface{}{
		"full_backup_id": report.FullBackupID,
		"tests_run":      report.TestsRun,
	}).Info("Recovery drill passed")

	return report, nil
}

func (s *RestoreTestingService) alertDrillFailure(ctx context.Context, report *QuarterlyDrillReport) {
	if s.notifier == nil {
		return
	}
	alert := NewAlert(AlertSeverityCritical, "Recovery drill failed", map[string]interface{}{
		"full_backup_id": report.FullBackupID,
		"tests_run":      report.TestsRun,
		"tests_failed":   report.TestsFailed,
		"failure_note":   report.FailureNote,
	})
	if err := s.notifier.Notify(ctx, alert); err != nil {
		s.logger.WithFields(map[string]interface{}{
			"error": err.Error(),
		}).Error("Alert delivery failed")
	}
}

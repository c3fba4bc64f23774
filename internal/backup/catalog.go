package backup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"mysql-backup-sentinel/internal/logging"
)

// BackupCatalog is the persistent metadata store recording every backup's
// identity, lineage, checksum, size, status, and retention date. It is
// append/transition-only: rows are never mutated after reaching VERIFIED
// or FAILED, except by retention deletion.
type BackupCatalog interface {
	// Init creates the catalog table if it does not exist
	Init(ctx context.Context) error

	// Create inserts a new IN_PROGRESS record
	Create(ctx context.Context, rec *BackupRecord) error

	// MarkCompleted transitions a record to COMPLETED with artifact details
	MarkCompleted(ctx context.Context, id, location, key, checksum string, sizeBytes, originalSizeBytes int64, completedAt time.Time) error

	// MarkVerified transitions a COMPLETED record to VERIFIED
	MarkVerified(ctx context.Context, id string) error

	// MarkFailed transitions a record to FAILED with a human-readable reason
	MarkFailed(ctx context.Context, id, reason string) error

	// Get returns the record with the given ID
	Get(ctx context.Context, id string) (*BackupRecord, error)

	// LatestFull returns the most recent restorable full backup
	LatestFull(ctx context.Context) (*BackupRecord, error)

	// LatestIncremental returns the most recent restorable incremental
	// referencing the given full backup
	LatestIncremental(ctx context.Context, fullID string) (*BackupRecord, error)

	// ListExpired returns restorable records whose retention date has passed
	ListExpired(ctx context.Context, asOf time.Time) ([]*BackupRecord, error)

	// HasRetainedIncrementals reports whether any still-retained restorable
	// incremental references the given full backup
	HasRetainedIncrementals(ctx context.Context, fullID string, asOf time.Time) (bool, error)

	// Delete removes a record; callers must delete the stored artifact first
	Delete(ctx context.Context, id string) error

	// List returns the most recent records, newest first
	List(ctx context.Context, limit int) ([]*BackupRecord, error)

	// StaleInProgress returns IN_PROGRESS records older than the cutoff
	StaleInProgress(ctx context.Context, olderThan time.Time) ([]*BackupRecord, error)

	// Ping verifies catalog reachability
	Ping(ctx context.Context) error
}

const recordColumns = `id, backup_type, parent_id, status, storage_location, storage_key,
	checksum, size_bytes, original_size_bytes, created_at, completed_at, retention_date, failure_reason`

// mysqlCatalog persists the catalog in the primary MySQL instance, so
// catalog durability piggybacks on the database being backed up. Every
// artifact also carries its metadata in storage, which keeps the catalog
// reconstructible if the primary is lost.
type mysqlCatalog struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewMySQLCatalog creates a catalog backed by the given database handle
func NewMySQLCatalog(db *sql.DB, logger *logging.Logger) BackupCatalog {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &mysqlCatalog{db: db, logger: logger}
}

func (c *mysqlCatalog) Init(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS backup_catalog (
		id VARCHAR(64) NOT NULL PRIMARY KEY,
		backup_type VARCHAR(16) NOT NULL,
		parent_id VARCHAR(64) NULL,
		status VARCHAR(16) NOT NULL,
		storage_location VARCHAR(1024) NULL,
		storage_key VARCHAR(512) NULL,
		checksum CHAR(64) NULL,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		original_size_bytes BIGINT NOT NULL DEFAULT 0,
		created_at DATETIME(6) NOT NULL,
		completed_at DATETIME(6) NULL,
		retention_date DATETIME(6) NOT NULL,
		failure_reason TEXT NULL,
		INDEX idx_backup_type_status (backup_type, status, created_at),
		INDEX idx_parent (parent_id),
		INDEX idx_retention (retention_date)
	)`

	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return NewCatalogError("failed to initialize backup catalog table", err)
	}
	return nil
}

func (c *mysqlCatalog) Create(ctx context.Context, rec *BackupRecord) error {
	if err := rec.Validate(); err != nil {
		return NewCatalogError("invalid backup record", err)
	}

	const query = `INSERT INTO backup_catalog
		(id, backup_type, parent_id, status, size_bytes, original_size_bytes, created_at, retention_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := c.db.ExecContext(ctx, query,
		rec.ID, rec.Type, nullString(rec.ParentID), rec.Status,
		rec.SizeBytes, rec.OriginalSizeBytes, rec.CreatedAt.UTC(), rec.RetentionDate.UTC())
	if err != nil {
		return NewCatalogError("failed to insert backup record", err)
	}

	return nil
}

func (c *mysqlCatalog) MarkCompleted(ctx context.Context, id, location, key, checksum string, sizeBytes, originalSizeBytes int64, completedAt time.Time) error {
	const query = `UPDATE backup_catalog
		SET status = ?, storage_location = ?, storage_key = ?, checksum = ?,
			size_bytes = ?, original_size_bytes = ?, completed_at = ?
		WHERE id = ? AND status = ?`

	return c.transition(ctx, query, id,
		BackupStatusCompleted, location, key, checksum,
		sizeBytes, originalSizeBytes, completedAt.UTC(), id, BackupStatusInProgress)
}

func (c *mysqlCatalog) MarkVerified(ctx context.Context, id string) error {
	const query = `UPDATE backup_catalog SET status = ? WHERE id = ? AND status = ?`
	return c.transition(ctx, query, id, BackupStatusVerified, id, BackupStatusCompleted)
}

func (c *mysqlCatalog) MarkFailed(ctx context.Context, id, reason string) error {
	const query = `UPDATE backup_catalog
		SET status = ?, failure_reason = ?
		WHERE id = ? AND status IN (?, ?)`
	return c.transition(ctx, query, id,
		BackupStatusFailed, reason, id, BackupStatusInProgress, BackupStatusCompleted)
}

func (c *mysqlCatalog) transition(ctx context.Context, query, id string, args ...interface{}) error {
	result, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return NewCatalogError("failed to update backup record", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return NewCatalogError("failed to confirm backup record update", err)
	}
	if affected == 0 {
		return NewCatalogError(fmt.Sprintf("backup %s not found or not in an updatable state", id), nil)
	}

	return nil
}

func (c *mysqlCatalog) Get(ctx context.Context, id string) (*BackupRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM backup_catalog WHERE id = ?`
	return c.scanOne(c.db.QueryRowContext(ctx, query, id), fmt.Sprintf("backup %s not found", id))
}

func (c *mysqlCatalog) LatestFull(ctx context.Context) (*BackupRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM backup_catalog
		WHERE backup_type = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`
	row := c.db.QueryRowContext(ctx, query, BackupTypeFull, BackupStatusCompleted, BackupStatusVerified)
	return c.scanOne(row, "no completed full backup found")
}

func (c *mysqlCatalog) LatestIncremental(ctx context.Context, fullID string) (*BackupRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM backup_catalog
		WHERE backup_type = ? AND parent_id = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`
	row := c.db.QueryRowContext(ctx, query, BackupTypeIncremental, fullID, BackupStatusCompleted, BackupStatusVerified)
	return c.scanOne(row, fmt.Sprintf("no completed incremental found for %s", fullID))
}

func (c *mysqlCatalog) ListExpired(ctx context.Context, asOf time.Time) ([]*BackupRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM backup_catalog
		WHERE retention_date < ? AND status IN (?, ?, ?)
		ORDER BY created_at ASC`
	return c.scanMany(ctx, query, asOf.UTC(), BackupStatusCompleted, BackupStatusVerified, BackupStatusFailed)
}

func (c *mysqlCatalog) HasRetainedIncrementals(ctx context.Context, fullID string, asOf time.Time) (bool, error) {
	const query = `SELECT COUNT(*) FROM backup_catalog
		WHERE backup_type = ? AND parent_id = ? AND retention_date >= ? AND status IN (?, ?)`

	var count int
	err := c.db.QueryRowContext(ctx, query,
		BackupTypeIncremental, fullID, asOf.UTC(), BackupStatusCompleted, BackupStatusVerified).Scan(&count)
	if err != nil {
		return false, NewCatalogError("failed to count retained incrementals", err)
	}

	return count > 0, nil
}

func (c *mysqlCatalog) Delete(ctx context.Context, id string) error {
	result, err := c.db.ExecContext(ctx, `DELETE FROM backup_catalog WHERE id = ?`, id)
	if err != nil {
		return NewCatalogError("failed to delete backup record", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return NewCatalogError("failed to confirm backup record deletion", err)
	}
	if affected == 0 {
		return NewNotFoundError(fmt.Sprintf("backup %s not found", id), nil)
	}

	return nil
}

func (c *mysqlCatalog) List(ctx context.Context, limit int) ([]*BackupRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + recordColumns + ` FROM backup_catalog ORDER BY created_at DESC LIMIT ?`
	return c.scanMany(ctx, query, limit)
}

func (c *mysqlCatalog) StaleInProgress(ctx context.Context, olderThan time.Time) ([]*BackupRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM backup_catalog
		WHERE status = ? AND created_at < ? ORDER BY created_at ASC`
	return c.scanMany(ctx, query, BackupStatusInProgress, olderThan.UTC())
}

func (c *mysqlCatalog) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return NewCatalogError("backup catalog is unreachable", err)
	}
	return nil
}

// Scan helpers

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (c *mysqlCatalog) scanOne(row rowScanner, notFoundMsg string) (*BackupRecord, error) {
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, NewNotFoundError(notFoundMsg, err)
	}
	if err != nil {
		return nil, NewCatalogError("failed to read backup record", err)
	}
	return rec, nil
}

func (c *mysqlCatalog) scanMany(ctx context.Context, query string, args ...interface{}) ([]*BackupRecord, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewCatalogError("failed to query backup records", err)
	}
	defer rows.Close()

	var records []*BackupRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, NewCatalogError("failed to scan backup record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, NewCatalogError("failed to iterate backup records", err)
	}

	return records, nil
}

func scanRecord(row rowScanner) (*BackupRecord, error) {
	var rec BackupRecord
	var parentID, location, key, checksum, failureReason sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&rec.ID, &rec.Type, &parentID, &rec.Status, &location, &key,
		&checksum, &rec.SizeBytes, &rec.OriginalSizeBytes,
		&rec.CreatedAt, &completedAt, &rec.RetentionDate, &failureReason)
	if err != nil {
		return nil, err
	}

	rec.ParentID = parentID.String
	rec.StorageLocation = location.String
	rec.StorageKey = key.String
	rec.Checksum = checksum.String
	rec.FailureReason = failureReason.String
	if completedAt.Valid {
		t := completedAt.Time
		rec.CompletedAt = &t
	}

	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package backup

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-backup-sentinel/internal/logging"
)

func newMockCatalog(t *testing.T) (BackupCatalog, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewMySQLCatalog(db, logging.NewDefaultLogger()), mock
}

func catalogColumns() []string {
	return []string{
		"id", "backup_type", "parent_id", "status", "storage_location", "storage_key",
		"checksum", "size_bytes", "original_size_bytes", "created_at", "completed_at",
		"retention_date", "failure_reason",
	}
}

func catalogRow(rec *BackupRecord) *sqlmock.Rows {
	var parentID, location, key, checksum, reason interface{}
	if rec.ParentID != "" {
		parentID = rec.ParentID
	}
	if rec.StorageLocation != "" {
		location = rec.StorageLocation
	}
	if rec.StorageKey != "" {
		key = rec.StorageKey
	}
	if rec.Checksum != "" {
		checksum = rec.Checksum
	}
	if rec.FailureReason != "" {
		reason = rec.FailureReason
	}
	var completedAt interface{}
	if rec.CompletedAt != nil {
		completedAt = *rec.CompletedAt
	}

	return sqlmock.NewRows(catalogColumns()).AddRow(
		rec.ID, rec.Type, parentID, rec.Status, location, key,
		checksum, rec.SizeBytes, rec.OriginalSizeBytes, rec.CreatedAt, completedAt,
		rec.RetentionDate, reason)
}

func TestMySQLCatalog_Init(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS backup_catalog").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, catalog.Init(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCatalog_Create(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	now := time.Now().UTC()
	rec := &BackupRecord{
		ID:            "backup-full-20260115-040000-0a1b2c3d",
		Type:          BackupTypeFull,
		Status:        BackupStatusInProgress,
		CreatedAt:     now,
		RetentionDate: now.Add(30 * 24 * time.Hour),
	}

	mock.ExpectExec("INSERT INTO backup_catalog").
		WithArgs(rec.ID, rec.Type, sql.NullString{}, rec.Status,
			rec.SizeBytes, rec.OriginalSizeBytes, rec.CreatedAt, rec.RetentionDate).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, catalog.Create(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCatalog_CreateRejectsInvalidRecord(t *testing.T) {
	catalog, _ := newMockCatalog(t)

	err := catalog.Create(context.Background(), &BackupRecord{ID: "backup-1"})

	require.Error(t, err)
	assert.Equal(t, FailureKindCatalog, KindOf(err))
}

func TestMySQLCatalog_MarkCompleted(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	completedAt := time.Now().UTC()
	mock.ExpectExec("UPDATE backup_catalog").
		WithArgs(BackupStatusCompleted, "/var/backups/b1.tar.zst", "backups/b1.tar.zst", "deadbeef",
			int64(2048), int64(8192), completedAt, "backup-1", BackupStatusInProgress).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := catalog.MarkCompleted(context.Background(), "backup-1",
		"/var/backups/b1.tar.zst", "backups/b1.tar.zst", "deadbeef", 2048, 8192, completedAt)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCatalog_MarkCompletedRequiresInProgress(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectExec("UPDATE backup_catalog").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := catalog.MarkCompleted(context.Background(), "backup-1",
		"/var/backups/b1.tar.zst", "backups/b1.tar.zst", "deadbeef", 2048, 8192, time.Now())

	require.Error(t, err)
	assert.Equal(t, FailureKindCatalog, KindOf(err))
	assert.Contains(t, err.Error(), "not in an updatable state")
}

func TestMySQLCatalog_MarkVerified(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectExec("UPDATE backup_catalog SET status").
		WithArgs(BackupStatusVerified, "backup-1", BackupStatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, catalog.MarkVerified(context.Background(), "backup-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCatalog_MarkFailed(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectExec("UPDATE backup_catalog").
		WithArgs(BackupStatusFailed, "mysqldump exited with status 2", "backup-1",
			BackupStatusInProgress, BackupStatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := catalog.MarkFailed(context.Background(), "backup-1", "mysqldump exited with status 2")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLCatalog_Get(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	completedAt := time.Now().UTC().Truncate(time.Microsecond)
	want := &BackupRecord{
		ID:              "backup-full-20260115-040000-0a1b2c3d",
		Type:            BackupTypeFull,
		Status:          BackupStatusVerified,
		StorageLocation: "/var/backups/b1.tar.zst",
		StorageKey:      "backups/b1.tar.zst",
		Checksum:        "deadbeef",
		SizeBytes:       2048,
		CreatedAt:       completedAt.Add(-time.Hour),
		CompletedAt:     &completedAt,
		RetentionDate:   completedAt.Add(30 * 24 * time.Hour),
	}

	mock.ExpectQuery("SELECT (.+) FROM backup_catalog WHERE id").
		WithArgs(want.ID).
		WillReturnRows(catalogRow(want))

	got, err := catalog.Get(context.Background(), want.ID)

	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Checksum, got.Checksum)
	assert.Equal(t, want.StorageKey, got.StorageKey)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completedAt))
}

func TestMySQLCatalog_GetNotFound(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery("SELECT (.+) FROM backup_catalog WHERE id").
		WithArgs("backup-missing").
		WillReturnError(sql.ErrNoRows)

	rec, err := catalog.Get(context.Background(), "backup-missing")

	assert.Nil(t, rec)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestMySQLCatalog_LatestFull(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	completedAt := time.Now().UTC()
	want := &BackupRecord{
		ID:            "backup-full-20260115-040000-0a1b2c3d",
		Type:          BackupTypeFull,
		Status:        BackupStatusCompleted,
		StorageKey:    "backups/b1.tar.zst",
		Checksum:      "deadbeef",
		CreatedAt:     completedAt.Add(-time.Hour),
		CompletedAt:   &completedAt,
		RetentionDate: completedAt.Add(30 * 24 * time.Hour),
	}

	mock.ExpectQuery("SELECT (.+) FROM backup_catalog").
		WithArgs(BackupTypeFull, BackupStatusCompleted, BackupStatusVerified).
		WillReturnRows(catalogRow(want))

	got, err := catalog.LatestFull(context.Background())

	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
}

func TestMySQLCatalog_LatestIncrementalNotFound(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectQuery("SELECT (.+) FROM backup_catalog").
		WithArgs(BackupTypeIncremental, "backup-full-1", BackupStatusCompleted, BackupStatusVerified).
		WillReturnRows(sqlmock.NewRows(catalogColumns()))

	rec, err := catalog.LatestIncremental(context.Background(), "backup-full-1")

	assert.Nil(t, rec)
	assert.True(t, IsNotFound(err))
}

func TestMySQLCatalog_ListExpired(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	asOf := time.Now().UTC()
	expired := &BackupRecord{
		ID:            "backup-full-1",
		Type:          BackupTypeFull,
		Status:        BackupStatusVerified,
		StorageKey:    "backups/b1.tar.zst",
		CreatedAt:     asOf.Add(-40 * 24 * time.Hour),
		RetentionDate: asOf.Add(-10 * 24 * time.Hour),
	}

	mock.ExpectQuery("SELECT (.+) FROM backup_catalog").
		WithArgs(asOf, BackupStatusCompleted, BackupStatusVerified, BackupStatusFailed).
		WillReturnRows(catalogRow(expired))

	records, err := catalog.ListExpired(context.Background(), asOf)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "backup-full-1", records[0].ID)
}

func TestMySQLCatalog_HasRetainedIncrementals(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	asOf := time.Now().UTC()
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(BackupTypeIncremental, "backup-full-1", asOf, BackupStatusCompleted, BackupStatusVerified).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	retained, err := catalog.HasRetainedIncrementals(context.Background(), "backup-full-1", asOf)

	require.NoError(t, err)
	assert.True(t, retained)
}

func TestMySQLCatalog_Delete(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	mock.ExpectExec("DELETE FROM backup_catalog").
		WithArgs("backup-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, catalog.Delete(context.Background(), "backup-1"))

	mock.ExpectExec("DELETE FROM backup_catalog").
		WithArgs("backup-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := catalog.Delete(context.Background(), "backup-missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestMySQLCatalog_StaleInProgress(t *testing.T) {
	catalog, mock := newMockCatalog(t)

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	stale := &BackupRecord{
		ID:            "backup-full-2",
		Type:          BackupTypeFull,
		Status:        BackupStatusInProgress,
		CreatedAt:     cutoff.Add(-2 * time.Hour),
		RetentionDate: cutoff.Add(30 * 24 * time.Hour),
	}

	mock.ExpectQuery("SELECT (.+) FROM backup_catalog").
		WithArgs(BackupStatusInProgress, cutoff).
		WillReturnRows(catalogRow(stale))

	records, err := catalog.StaleInProgress(context.Background(), cutoff)

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, BackupStatusInProgress, records[0].Status)
}

func TestMySQLCatalog_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	catalog := NewMySQLCatalog(db, logging.NewDefaultLogger())

	mock.ExpectPing()
	require.NoError(t, catalog.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	err = catalog.Ping(context.Background())
	require.Error(t, err)
	assert.Equal(t, FailureKindCatalog, KindOf(err))
}

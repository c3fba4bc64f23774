package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type restoreFixture struct {
	catalog  *fakeCatalog
	storage  *fakeStorage
	dumper   *fakeDumper
	staging  *fakeStaging
	notifier *fakeNotifier
	archiver *ArchiveBuilder
	service  *RestoreTestingService
}

func newRestoreFixture(t *testing.T) *restoreFixture {
	t.Helper()

	archiver, err := NewArchiveBuilder(CompressionTypeGzip, 6)
	require.NoError(t, err)

	f := &restoreFixture{
		catalog:  newFakeCatalog(),
		storage:  newFakeStorage(),
		dumper:   &fakeDumper{},
		staging:  &fakeStaging{tableCount: 4},
		notifier: &fakeNotifier{},
		archiver: archiver,
	}
	f.service = NewRestoreTestingService(
		f.catalog, f.storage, f.dumper, archiver, nil, f.staging, f.notifier, nil,
		RestoreOptions{
			Staging: DatabaseConfig{Host: "staging.internal", Port: 3306, Username: "drill", Password: "pw"},
			TempDir: t.TempDir(),
		})
	return f
}

// packTestDump produces a real archive so the drill path exercises Unpack
func (f *restoreFixture) packTestDump(t *testing.T, fileName, content string) []byte {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, fileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	data, _, err := f.archiver.Pack(dir)
	require.NoError(t, err)
	return data
}

func TestRestoreTestingService_TestRestoreFull(t *testing.T) {
	f := newRestoreFixture(t)
	data := f.packTestDump(t, "full.sql", "CREATE TABLE orders (id INT);")
	rec := seedBackup(t, f.catalog, f.storage, BackupTypeFull, "", data)

	report, err := f.service.TestRestore(context.Background(), rec.ID)

	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, 4, report.TablesRestored)
	assert.True(t, strings.HasPrefix(report.StagingDatabase, "restore_drill_"))

	require.Len(t, f.staging.created, 1)
	require.Len(t, f.staging.dropped, 1)
	assert.Equal(t, f.staging.created[0], f.staging.dropped[0])

	require.Len(t, f.dumper.restoredInto, 1)
	assert.Equal(t, report.StagingDatabase, f.dumper.restoredInto[0])
}

func TestRestoreTestingService_TestRestoreIncrementalRestoresParentFirst(t *testing.T) {
	f := newRestoreFixture(t)
	fullData := f.packTestDump(t, "full.sql", "CREATE TABLE orders (id INT);")
	incData := f.packTestDump(t, filepath.Join("binlogs", "binlog.000001"), "raw binlog bytes")

	full := seedBackup(t, f.catalog, f.storage, BackupTypeFull, "", fullData)
	inc := seedBackup(t, f.catalog, f.storage, BackupTypeIncremental, full.ID, incData)

	report, err := f.service.TestRestore(context.Background(), inc.ID)

	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, BackupTypeIncremental, report.BackupType)

	// Parent full replays first, into the same staging database
	require.Len(t, f.dumper.restoredInto, 2)
	assert.Equal(t, f.dumper.restoredInto[0], f.dumper.restoredInto[1])
	require.Len(t, f.staging.created, 1)
	require.Len(t, f.staging.dropped, 1)
}

func TestRestoreTestingService_ChecksumMismatchStillDropsStaging(t *testing.T) {
	f := newRestoreFixture(t)
	data := f.packTestDump(t, "full.sql", "CREATE TABLE orders (id INT);")
	rec := seedBackup(t, f.catalog, f.storage, BackupTypeFull, "", data)

	f.storage.objects[rec.StorageKey] = []byte("tampered")

	report, err := f.service.TestRestore(context.Background(), rec.ID)

	require.Error(t, err)
	assert.True(t, IsIntegrityFailure(err))
	assert.False(t, report.Passed)
	assert.NotEmpty(t, report.FailureReason)

	require.Len(t, f.staging.dropped, 1)
}

func TestRestoreTestingService_EmptyRestoreFailsValidation(t *testing.T) {
	f := newRestoreFixture(t)
	f.staging.tableCount = 0

	data := f.packTestDump(t, "full.sql", "-- nothing")
	rec := seedBackup(t, f.catalog, f.storage, BackupTypeFull, "", data)

	report, err := f.service.TestRestore(context.Background(), rec.ID)

	require.Error(t, err)
	assert.Equal(t, FailureKindRestoreValidation, KindOf(err))
	assert.Contains(t, err.Error(), "no tables")
	assert.False(t, report.Passed)
	require.Len(t, f.staging.dropped, 1)
}

func TestRestoreTestingService_KeyTableCounts(t *testing.T) {
	f := newRestoreFixture(t)
	f.service.opts.KeyTables = []string{"orders", "absent_table"}
	f.staging.rowCounts = map[string]int64{"orders": 42}

	data := f.packTestDump(t, "full.sql", "CREATE TABLE orders (id INT);")
	rec := seedBackup(t, f.catalog, f.storage, BackupTypeFull, "", data)

	report, err := f.service.TestRestore(context.Background(), rec.ID)

	require.NoError(t, err)
	assert.Equal(t, int64(42), report.KeyTableCounts["orders"])
	_, present := report.KeyTableCounts["absent_table"]
	assert.False(t, present)
}

func TestRestoreTestingService_RejectsFailedBackup(t *testing.T) {
	f := newRestoreFixture(t)
	data := f.packTestDump(t, "full.sql", "CREATE TABLE orders (id INT);")
	rec := seedBackup(t, f.catalog, f.storage, BackupTypeFull, "", data)
	require.NoError(t, f.catalog.MarkFailed(context.Background(), rec.ID, "boom"))

	report, err := f.service.TestRestore(context.Background(), rec.ID)

	require.Error(t, err)
	assert.Equal(t, FailureKindRestoreValidation, KindOf(err))
	assert.False(t, report.Passed)
	assert.Empty(t, f.staging.created)
}

func TestRestoreTestingService_TestChain(t *testing.T) {
	f := newRestoreFixture(t)
	fullData := f.packTestDump(t, "full.sql", "CREATE TABLE orders (id INT);")
	incData := f.packTestDump(t, filepath.Join("binlogs", "binlog.000001"), "raw binlog bytes")

	full := seedBackup(t, f.catalog, f.storage, BackupTypeFull, "", fullData)
	seedBackup(t, f.catalog, f.storage, BackupTypeIncremental, full.ID, incData)

	chain, err := f.service.TestChain(context.Background(), "")

	require.NoError(t, err)
	assert.True(t, chain.ChainTestSuccess)
	assert.Equal(t, full.ID, chain.FullBackupID)
	require.NotNil(t, chain.FullReport)
	require.NotNil(t, chain.IncrementalReport)
}

func TestRestoreTestingService_TestChainWithoutIncremental(t *testing.T) {
	f := newRestoreFixture(t)
	fullData := f.packTestDump(t, "full.sql", "CREATE TABLE orders (id INT);")
	seedBackup(t, f.catalog, f.storage, BackupTypeFull, "", fullData)

	chain, err := f.service.TestChain(context.Background(), "")

	require.NoError(t, err)
	assert.True(t, chain.ChainTestSuccess)
	assert.Nil(t, chain.IncrementalReport)
}

func TestRestoreTestingService_TestChainAnchorsOnGivenFull(t *testing.T) {
	f := newRestoreFixture(t)
	fullData := f.packTestDump(t, "full.sql", "CREATE TABLE orders (id INT);")

	older := seedBackup(t, f.catalog, f.storage, BackupTypeFull, "", fullData)
	seedBackup(t, f.catalog, f.storage, BackupTypeFull, "", fullData)

	chain, err := f.service.TestChain(context.Background(), older.ID)

	require.NoError(t, err)
	assert.True(t, chain.ChainTestSuccess)
	assert.Equal(t, older.ID, chain.FullBackupID)
}

func TestRestoreTestingService_TestChainRejectsIncrementalAnchor(t *testing.T) {
	f := newRestoreFixture(t)
	fullData := f.packTestDump(t, "full.sql", "CREATE TABLE orders (id INT);")
	incData := f.packTestDump(t, filepath.Join("binlogs", "binlog.000001"), "raw binlog bytes")

	full := seedBackup(t, f.catalog, f.storage, BackupTypeFull, "", fullData)
	inc := seedBackup(t, f.catalog, f.storage, BackupTypeIncremental, full.ID, incData)

	chain, err := f.service.TestChain(context.Background(), inc.ID)

	require.Error(t, err)
	assert.Nil(t, chain)
	assert.Equal(t, FailureKindRestoreValidation, KindOf(err))
	assert.Contains(t, err.Error(), "anchors on a full backup")
}

func TestRestoreTestingService_RunQuarterlyDrill(t *testing.T) {
	f := newRestoreFixture(t)
	fullData := f.packTestDump(t, "full.sql", "CREATE TABLE orders (id INT);")
	incData := f.packTestDump(t, filepath.Join("binlogs", "binlog.000001"), "raw binlog bytes")
	full := seedBackup(t, f.catalog, f.storage, BackupTypeFull, "", fullData)
	seedBackup(t, f.catalog, f.storage, BackupTypeIncremental, full.ID, incData)

	report, err := f.service.RunQuarterlyDrill(context.Background())

	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Equal(t, 2, report.TestsRun)
	assert.Equal(t, 2, report.TestsPassed)
	assert.Zero(t, report.TestsFailed)
	assert.Empty(t, f.notifier.bySeverity(AlertSeverityCritical))
}

func TestSQLStagingController(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	controller := NewStagingController(db)
	ctx := context.Background()

	mock.ExpectExec("CREATE DATABASE IF NOT EXISTS `restore_drill_0a1b2c3d`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, controller.CreateDatabase(ctx, "restore_drill_0a1b2c3d"))

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("restore_drill_0a1b2c3d").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	count, err := controller.CountTables(ctx, "restore_drill_0a1b2c3d")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	mock.ExpectExec("DROP DATABASE IF EXISTS `restore_drill_0a1b2c3d`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, controller.DropDatabase(ctx, "restore_drill_0a1b2c3d"))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStagingController_RejectsUnsafeIdentifiers(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	controller := NewStagingController(db)

	err = controller.CreateDatabase(context.Background(), "drop`; --")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsafe identifier")

	err = controller.DropDatabase(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty identifier")
}

func TestRestoreTestingService_RunQuarterlyDrillFailureAlerts(t *testing.T) {
	f := newRestoreFixture(t)
	f.staging.tableCount = 0

	fullData := f.packTestDump(t, "full.sql", "CREATE TABLE orders (id INT);")
	seedBackup(t, f.catalog, f.storage, BackupTypeFull, "", fullData)

	report, err := f.service.RunQuarterlyDrill(context.Background())

	require.Error(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, 1, report.TestsFailed)
	assert.NotEmpty(t, report.FailureNote)

	critical := f.notifier.bySeverity(AlertSeverityCritical)
	require.Len(t, critical, 1)
	assert.Equal(t, "Recovery drill failed", critical[0].Subject)
}

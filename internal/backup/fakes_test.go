package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// In-memory test doubles shared across the package tests.

type fakeCatalog struct {
	mu      sync.Mutex
	records map[string]*BackupRecord
	order   []string

	createErr    error
	completeErr  error
	verifiedIDs  []string
	failedIDs    []string
	deletedIDs   []string
	retainedFull map[string]bool
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		records:      make(map[string]*BackupRecord),
		retainedFull: make(map[string]bool),
	}
}

func (c *fakeCatalog) Init(ctx context.Context) error { return nil }

func (c *fakeCatalog) Create(ctx context.Context, rec *BackupRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return c.createErr
	}
	cp := *rec
	c.records[rec.ID] = &cp
	c.order = append(c.order, rec.ID)
	return nil
}

func (c *fakeCatalog) MarkCompleted(ctx context.Context, id, location, key, checksum string, sizeBytes, originalSizeBytes int64, completedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.completeErr != nil {
		return c.completeErr
	}
	rec, ok := c.records[id]
	if !ok {
		return NewNotFoundError("backup "+id+" not found", nil)
	}
	rec.Status = BackupStatusCompleted
	rec.StorageLocation = location
	rec.StorageKey = key
	rec.Checksum = checksum
	rec.SizeBytes = sizeBytes
	rec.OriginalSizeBytes = originalSizeBytes
	t := completedAt
	rec.CompletedAt = &t
	return nil
}

func (c *fakeCatalog) MarkVerified(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return NewNotFoundError("backup "+id+" not found", nil)
	}
	rec.Status = BackupStatusVerified
	c.verifiedIDs = append(c.verifiedIDs, id)
	return nil
}

func (c *fakeCatalog) MarkFailed(ctx context.Context, id, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return NewNotFoundError("backup "+id+" not found", nil)
	}
	rec.Status = BackupStatusFailed
	rec.FailureReason = reason
	c.failedIDs = append(c.failedIDs, id)
	return nil
}

func (c *fakeCatalog) Get(ctx context.Context, id string) (*BackupRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[id]
	if !ok {
		return nil, NewNotFoundError("backup "+id+" not found", nil)
	}
	cp := *rec
	return &cp, nil
}

func (c *fakeCatalog) LatestFull(ctx context.Context) (*BackupRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.order) - 1; i >= 0; i-- {
		rec := c.records[c.order[i]]
		if rec.Type == BackupTypeFull && rec.IsRestorable() {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, NewNotFoundError("no completed full backup found", nil)
}

func (c *fakeCatalog) LatestIncremental(ctx context.Context, fullID string) (*BackupRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.order) - 1; i >= 0; i-- {
		rec := c.records[c.order[i]]
		if rec.Type == BackupTypeIncremental && rec.ParentID == fullID && rec.IsRestorable() {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, NewNotFoundError("no completed incremental found", nil)
}

func (c *fakeCatalog) ListExpired(ctx context.Context, asOf time.Time) ([]*BackupRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*BackupRecord
	for _, id := range c.order {
		rec := c.records[id]
		if rec.Status == BackupStatusInProgress {
			continue
		}
		if rec.RetentionDate.Before(asOf) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *fakeCatalog) HasRetainedIncrementals(ctx context.Context, fullID string, asOf time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.retainedFull[fullID]; ok {
		return v, nil
	}
	for _, rec := range c.records {
		if rec.Type == BackupTypeIncremental && rec.ParentID == fullID &&
			rec.IsRestorable() && !rec.RetentionDate.Before(asOf) {
			return true, nil
		}
	}
	return false, nil
}

func (c *fakeCatalog) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[id]; !ok {
		return NewNotFoundError("backup "+id+" not found", nil)
	}
	delete(c.records, id)
	c.deletedIDs = append(c.deletedIDs, id)
	return nil
}

func (c *fakeCatalog) List(ctx context.Context, limit int) ([]*BackupRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*BackupRecord
	for i := len(c.order) - 1; i >= 0 && len(out) < limit; i-- {
		if rec, ok := c.records[c.order[i]]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *fakeCatalog) StaleInProgress(ctx context.Context, olderThan time.Time) ([]*BackupRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*BackupRecord
	for _, id := range c.order {
		rec := c.records[id]
		if rec.Status == BackupStatusInProgress && rec.CreatedAt.Before(olderThan) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (c *fakeCatalog) Ping(ctx context.Context) error { return nil }

type fakeStorage struct {
	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]ObjectMetadata

	putErr    error
	getErr    error
	deleteErr error

	deletedKeys []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		objects:  make(map[string][]byte),
		metadata: make(map[string]ObjectMetadata),
	}
}

func (s *fakeStorage) Put(ctx context.Context, key string, data []byte, metadata ObjectMetadata) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return "", s.putErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key] = cp
	s.metadata[key] = metadata
	return "fake://" + key, nil
}

func (s *fakeStorage) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, NewNotFoundError("object "+key+" not found", nil)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *fakeStorage) GetObjectMetadata(ctx context.Context, key string) (ObjectMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	md, ok := s.metadata[key]
	if !ok {
		return nil, NewNotFoundError("object "+key+" not found", nil)
	}
	return md, nil
}

func (s *fakeStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ObjectInfo
	for key, data := range s.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *fakeStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	if _, ok := s.objects[key]; !ok {
		return NewNotFoundError("object "+key+" not found", nil)
	}
	delete(s.objects, key)
	delete(s.metadata, key)
	s.deletedKeys = append(s.deletedKeys, key)
	return nil
}

func (s *fakeStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStorage) HealthCheck(ctx context.Context) error { return nil }

type fakeDumper struct {
	mu sync.Mutex

	fullErr        error
	incrementalErr error
	restoreErr     error

	fullCalls        int
	incrementalCalls int
	sinceTimes       []time.Time
	restoredInto     []string
	dumpContent      string
}

func (d *fakeDumper) DumpFull(ctx context.Context, dir string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fullCalls++
	if d.fullErr != nil {
		return d.fullErr
	}
	content := d.dumpContent
	if content == "" {
		content = "CREATE TABLE users (id INT);"
	}
	return os.WriteFile(filepath.Join(dir, "full.sql"), []byte(content), 0o600)
}

func (d *fakeDumper) DumpIncremental(ctx context.Context, dir string, since time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.incrementalCalls++
	d.sinceTimes = append(d.sinceTimes, since)
	if d.incrementalErr != nil {
		return d.incrementalErr
	}
	binlogDir := filepath.Join(dir, "binlogs")
	if err := os.MkdirAll(binlogDir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(binlogDir, "binlog.000001"), []byte("raw binlog bytes"), 0o600); err != nil {
		return err
	}
	manifest := fmt.Sprintf(`{"source_database":"orders","since":%q,"logs":["binlog.000001"]}`, since.UTC().Format(time.RFC3339))
	return os.WriteFile(filepath.Join(dir, "binlogs.json"), []byte(manifest), 0o600)
}

func (d *fakeDumper) Restore(ctx context.Context, dir string, target DatabaseConfig, targetDatabase string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.restoreErr != nil {
		return d.restoreErr
	}
	d.restoredInto = append(d.restoredInto, targetDatabase)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (n *fakeNotifier) Notify(ctx context.Context, alert Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return n.err
}

func (n *fakeNotifier) bySeverity(severity AlertSeverity) []Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Alert
	for _, a := range n.alerts {
		if a.Severity == severity {
			out = append(out, a)
		}
	}
	return out
}

type fakeStaging struct {
	mu sync.Mutex

	created []string
	dropped []string

	tableCount int
	rowCounts  map[string]int64
	createErr  error
	tablesErr  error
}

func (s *fakeStaging) CreateDatabase(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, name)
	return nil
}

func (s *fakeStaging) DropDatabase(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = append(s.dropped, name)
	return nil
}

func (s *fakeStaging) CountTables(ctx context.Context, database string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tablesErr != nil {
		return 0, s.tablesErr
	}
	return s.tableCount, nil
}

func (s *fakeStaging) CountRows(ctx context.Context, database, table string) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, ok := s.rowCounts[table]
	return count, ok, nil
}

type fakeRunner struct {
	mu       sync.Mutex
	requests []ProcessRequest

	results map[string]*ProcessResult
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results: make(map[string]*ProcessResult),
		errs:    make(map[string]error),
	}
}

func (r *fakeRunner) Run(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if err, ok := r.errs[req.Name]; ok {
		return r.results[req.Name], err
	}
	if res, ok := r.results[req.Name]; ok {
		return res, nil
	}
	return &ProcessResult{}, nil
}

func (r *fakeRunner) lastRequest(name string) (ProcessRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.requests) - 1; i >= 0; i-- {
		if r.requests[i].Name == name {
			return r.requests[i], true
		}
	}
	return ProcessRequest{}, false
}

// seedBackup inserts a completed backup with a stored artifact
func seedBackup(t interface {
	Helper()
	Fatalf(format string, args ...interface{})
}, catalog *fakeCatalog, storage *fakeStorage, backupType BackupType, parentID string, data []byte) *BackupRecord {
	t.Helper()

	id := GenerateBackupID(backupType)
	now := time.Now().UTC().Add(-time.Hour)
	rec := &BackupRecord{
		ID:            id,
		Type:          backupType,
		ParentID:      parentID,
		Status:        BackupStatusInProgress,
		CreatedAt:     now,
		RetentionDate: now.AddDate(0, 0, 30),
	}
	if err := catalog.Create(context.Background(), rec); err != nil {
		t.Fatalf("seed create: %v", err)
	}

	key := ArtifactKey("backups", id)
	if _, err := storage.Put(context.Background(), key, data, ObjectMetadata{MetaBackupID: id}); err != nil {
		t.Fatalf("seed put: %v", err)
	}

	checksum := CalculateChecksum(data)
	completedAt := now.Add(time.Minute)
	if err := catalog.MarkCompleted(context.Background(), id, "fake://"+key, key, checksum, int64(len(data)), int64(len(data)), completedAt); err != nil {
		t.Fatalf("seed complete: %v", err)
	}

	rec, err := catalog.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("seed get: %v", err)
	}
	return rec
}

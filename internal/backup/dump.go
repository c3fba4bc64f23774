package backup

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"mysql-backup-sentinel/internal/logging"
)

// Dump directory layout. The restore path inspects which files are present
// to decide how to replay: a full dump is one SQL file, an incremental is a
// directory of raw binary logs plus a replay manifest.
const (
	fullDumpFile   = "full.sql"
	binlogDirName  = "binlogs"
	binlogManifest = "binlogs.json"
)

// binlogReplayManifest records what an incremental artifact contains so the
// restore side can decode, filter, and rewrite the raw logs
type binlogReplayManifest struct {
	SourceDatabase string    `json:"source_database"`
	Since          time.Time `json:"since"`
	Logs           []string  `json:"logs"`
}

// BinlogLister enumerates the server's binary logs so an incremental dump
// knows which log files to read
type BinlogLister interface {
	ListBinaryLogs(ctx context.Context) ([]string, error)
}

// sqlBinlogLister lists binary logs through a live connection to the
// primary server
type sqlBinlogLister struct {
	db *sql.DB
}

// NewBinlogLister creates a BinlogLister backed by the primary database
func NewBinlogLister(db *sql.DB) BinlogLister {
	return &sqlBinlogLister{db: db}
}

func (l *sqlBinlogLister) ListBinaryLogs(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, "SHOW BINARY LOGS")
	if err != nil {
		return nil, NewDumpError("failed to list binary logs", err)
	}
	defer rows.Close()

	var logs []string
	for rows.Next() {
		var name string
		var size int64
		var encrypted sql.NullString
		// Column count differs across server versions
		cols, err := rows.Columns()
		if err != nil {
			return nil, NewDumpError("failed to inspect binary log columns", err)
		}
		switch len(cols) {
		case 3:
			err = rows.Scan(&name, &size, &encrypted)
		default:
			err = rows.Scan(&name, &size)
		}
		if err != nil {
			return nil, NewDumpError("failed to scan binary log row", err)
		}
		logs = append(logs, name)
	}
	if err := rows.Err(); err != nil {
		return nil, NewDumpError("failed to iterate binary logs", err)
	}

	return logs, nil
}

// DumpExecutor invokes the MySQL native export/import tooling. Its contract
// with the rest of the pipeline is directory-shaped: a dump produces a
// directory tree, a restore consumes one.
type DumpExecutor struct {
	runner  ProcessRunner
	binlogs BinlogLister
	source  DatabaseConfig
	timeout time.Duration
	logger  *logging.Logger
}

// NewDumpExecutor creates a DumpExecutor for the given source database
func NewDumpExecutor(runner ProcessRunner, binlogs BinlogLister, source DatabaseConfig, timeout time.Duration, logger *logging.Logger) *DumpExecutor {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &DumpExecutor{
		runner:  runner,
		binlogs: binlogs,
		source:  source,
		timeout: timeout,
		logger:  logger,
	}
}

// DumpFull exports the entire current state of the source database into dir
func (de *DumpExecutor) DumpFull(ctx context.Context, dir string) error {
	args := []string{
		"--host=" + de.source.Host,
		"--port=" + strconv.Itoa(de.source.Port),
		"--user=" + de.source.Username,
		"--single-transaction",
		"--routines",
		"--triggers",
		"--events",
		de.source.Database,
	}

	result, err := de.runner.Run(ctx, ProcessRequest{
		Name:    "mysqldump",
		Args:    args,
		Env:     []string{"MYSQL_PWD=" + de.source.Password},
		Timeout: de.timeout,
	})
	if err != nil {
		return de.wrapDumpError("mysqldump", result, err)
	}

	if err := os.WriteFile(filepath.Join(dir, fullDumpFile), result.Stdout, 0o600); err != nil {
		return NewDumpError("failed to write full dump file", err)
	}

	de.logger.LogDumpCompleted("full", de.source.Database, int64(len(result.Stdout)), result.Duration)
	return nil
}

// DumpIncremental copies the binary logs covering changes newer than since
// into dir. The logs are kept raw: decoded binlog output binds events to the
// source schema name, so decoding, time filtering, and the database rewrite
// all happen at restore time, when the target database name is known.
func (de *DumpExecutor) DumpIncremental(ctx context.Context, dir string, since time.Time) error {
	logs, err := de.binlogs.ListBinaryLogs(ctx)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		return NewDumpError("binary logging is not enabled on the source server", nil)
	}

	binlogDir := filepath.Join(dir, binlogDirName)
	if err := os.MkdirAll(binlogDir, 0o700); err != nil {
		return NewDumpError("failed to create binlog directory", err)
	}

	args := []string{
		"--read-from-remote-server",
		"--raw",
		"--host=" + de.source.Host,
		"--port=" + strconv.Itoa(de.source.Port),
		"--user=" + de.source.Username,
		"--result-file=" + binlogDir + string(os.PathSeparator),
		"--to-last-log",
	}
	args = append(args, logs[0])

	result, err := de.runner.Run(ctx, ProcessRequest{
		Name:    "mysqlbinlog",
		Args:    args,
		Env:     []string{"MYSQL_PWD=" + de.source.Password},
		Timeout: de.timeout,
	})
	if err != nil {
		return de.wrapDumpError("mysqlbinlog", result, err)
	}

	manifest := binlogReplayManifest{
		SourceDatabase: de.source.Database,
		Since:          since.UTC(),
		Logs:           logs,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return NewDumpError("failed to encode binlog manifest", err)
	}
	if err := os.WriteFile(filepath.Join(dir, binlogManifest), data, 0o600); err != nil {
		return NewDumpError("failed to write binlog manifest", err)
	}

	de.logger.LogDumpCompleted("incremental", de.source.Database, dirSize(binlogDir), result.Duration)
	return nil
}

// Restore replays a dump directory into targetDatabase on the target server
func (de *DumpExecutor) Restore(ctx context.Context, dir string, target DatabaseConfig, targetDatabase string) error {
	if fullPath := filepath.Join(dir, fullDumpFile); fileExists(fullPath) {
		return de.loadFullDump(ctx, fullPath, target, targetDatabase)
	}
	if fileExists(filepath.Join(dir, binlogManifest)) {
		return de.replayBinlogs(ctx, dir, target, targetDatabase)
	}
	return NewDumpError(fmt.Sprintf("no dump file found in %s", dir), nil)
}

func (de *DumpExecutor) loadFullDump(ctx context.Context, dumpFile string, target DatabaseConfig, targetDatabase string) error {
	f, err := os.Open(dumpFile)
	if err != nil {
		return NewDumpError("failed to open dump file for restore", err)
	}
	defer f.Close()

	result, err := de.runner.Run(ctx, ProcessRequest{
		Name:    "mysql",
		Args:    clientArgs(target, targetDatabase),
		Env:     []string{"MYSQL_PWD=" + target.Password},
		Stdin:   f,
		Timeout: de.timeout,
	})
	if err != nil {
		return de.wrapDumpError("mysql", result, err)
	}

	de.logger.LogRestoreCompleted(targetDatabase, filepath.Base(dumpFile), result.Duration)
	return nil
}

// replayBinlogs decodes the archived raw logs and applies them to the
// target database. The schema rewrite happens here: binlog events carry the
// source database name, and without --rewrite-db the replay would land in a
// database named after the source instead of the target.
func (de *DumpExecutor) replayBinlogs(ctx context.Context, dir string, target DatabaseConfig, targetDatabase string) error {
	raw, err := os.ReadFile(filepath.Join(dir, binlogManifest))
	if err != nil {
		return NewDumpError("failed to read binlog manifest", err)
	}
	var manifest binlogReplayManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return NewDumpError("failed to decode binlog manifest", err)
	}

	binlogDir := filepath.Join(dir, binlogDirName)
	var files []string
	for _, name := range manifest.Logs {
		if path := filepath.Join(binlogDir, name); fileExists(path) {
			files = append(files, path)
		}
	}
	if len(files) == 0 {
		return NewDumpError(fmt.Sprintf("no binary log files found in %s", binlogDir), nil)
	}

	args := []string{
		"--rewrite-db=" + manifest.SourceDatabase + "->" + targetDatabase,
		"--database=" + targetDatabase,
		"--start-datetime=" + manifest.Since.UTC().Format("2006-01-02 15:04:05"),
	}
	args = append(args, files...)

	decoded, err := de.runner.Run(ctx, ProcessRequest{
		Name:    "mysqlbinlog",
		Args:    args,
		Timeout: de.timeout,
	})
	if err != nil {
		return de.wrapDumpError("mysqlbinlog", decoded, err)
	}

	result, err := de.runner.Run(ctx, ProcessRequest{
		Name:    "mysql",
		Args:    clientArgs(target, targetDatabase),
		Env:     []string{"MYSQL_PWD=" + target.Password},
		Stdin:   bytes.NewReader(decoded.Stdout),
		Timeout: de.timeout,
	})
	if err != nil {
		return de.wrapDumpError("mysql", result, err)
	}

	de.logger.LogRestoreCompleted(targetDatabase, binlogDirName, result.Duration)
	return nil
}

func clientArgs(target DatabaseConfig, database string) []string {
	return []string{
		"--host=" + target.Host,
		"--port=" + strconv.Itoa(target.Port),
		"--user=" + target.Username,
		database,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func dirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total
}

func (de *DumpExecutor) wrapDumpError(tool string, result *ProcessResult, err error) error {
	if err == ErrProcessTimeout {
		return NewDumpError(fmt.Sprintf("%s timed out after %s", tool, de.timeout), err)
	}

	msg := fmt.Sprintf("%s exited with an error", tool)
	if result != nil && len(result.Stderr) > 0 {
		stderr := strings.TrimSpace(string(result.Stderr))
		if len(stderr) > 500 {
			stderr = stderr[:500] + "..."
		}
		msg = fmt.Sprintf("%s: %s", msg, stderr)
	}
	return NewDumpError(msg, err)
}

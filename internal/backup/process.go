package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"mysql-backup-sentinel/internal/logging"
)

// ProcessRequest describes one external process invocation
type ProcessRequest struct {
	Name    string
	Args    []string
	Env     []string
	Stdin   io.Reader
	Timeout time.Duration
}

// ProcessResult holds the output of a finished process
type ProcessResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// ProcessRunner abstracts external process execution so the dump/restore
// pipeline can be tested without touching the host process table
type ProcessRunner interface {
	Run(ctx context.Context, req ProcessRequest) (*ProcessResult, error)
}

// ErrProcessTimeout is returned when a process exceeds its timeout
var ErrProcessTimeout = errors.New("process timed out")

// execProcessRunner is the only implementation that spawns real processes
type execProcessRunner struct {
	logger *logging.Logger
}

// NewProcessRunner creates the real ProcessRunner
func NewProcessRunner(logger *logging.Logger) ProcessRunner {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &execProcessRunner{logger: logger}
}

// Run executes the process with a hard timeout. A stalled invocation is
// killed and reported as ErrProcessTimeout rather than left hanging.
func (r *execProcessRunner) Run(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
	runCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, req.Name, req.Args...)
	if len(req.Env) > 0 {
		cmd.Env = append(os.Environ(), req.Env...)
	}
	if req.Stdin != nil {
		cmd.Stdin = req.Stdin
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := &ProcessResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: duration,
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	r.logger.LogProcessInvocation(req.Name, req.Args, duration, result.ExitCode, err)

	if runCtx.Err() == context.DeadlineExceeded {
		return result, ErrProcessTimeout
	}
	if err != nil {
		return result, err
	}

	return result, nil
}

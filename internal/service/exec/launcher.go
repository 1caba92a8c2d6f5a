// Package exec implements the worker-pool child-process launcher shared
// by the execution tool (C11) and the test tool (C12): both spawn an
// isolated interpreter process with pre-exec resource limits and a
// bounded, timeout-guarded wait.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
	"github.com/ultimate-mcp/mcpd/internal/domain/execution"
	"github.com/ultimate-mcp/mcpd/internal/telemetry"
)

var tracer = otel.Tracer(telemetry.Tracer)

// interpreters maps a supported language to the binary the exec helper
// should exec into. Go is deliberately absent: "go run" compiles first,
// which does not fit the fixed-timeout interpreter-per-request model.
var interpreters = map[string]string{
	"python":     "python3",
	"javascript": "node",
}

// InterpreterFor reports the binary a language execs into, and whether
// the language is supported at all (independent of whether it is
// currently enabled by configuration).
func InterpreterFor(language string) (string, bool) {
	bin, ok := interpreters[language]
	return bin, ok
}

// sourceFilename returns the filename the source is written to inside
// the private working directory; the exec helper's chosen interpreter
// infers nothing from the extension, but a realistic name makes
// interpreter error messages and stack traces readable.
func sourceFilename(language string) string {
	switch language {
	case "python":
		return "main.py"
	case "javascript":
		return "main.js"
	default:
		return "main.src"
	}
}

// envAllowList is the minimal environment passed to the child, per
// spec §4.8's "environment reduced to a minimal allow-list".
var envAllowKeys = []string{"PATH", "HOME", "LANG", "LC_ALL"}

func allowListEnv() []string {
	var env []string
	for _, k := range envAllowKeys {
		if v := os.Getenv(k); v != "" {
			env = append(env, k+"="+v)
		}
	}
	return env
}

// Launcher spawns one child per Run call through this binary's own
// "exec-helper" subcommand, which applies resource limits and then
// execs the real interpreter. Go's os/exec has no pre-exec callback, so
// this re-exec is the idiomatic way to get rlimits applied before the
// interpreter starts running untrusted code.
type Launcher struct {
	selfPath string
}

// NewLauncher resolves the running binary's own path, used to spawn the
// exec-helper subcommand.
func NewLauncher() (*Launcher, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving own executable path: %w", err)
	}
	return &Launcher{selfPath: self}, nil
}

// Result is one child process's outcome.
type Result struct {
	ReturnCode      int
	Stdout          string
	Stderr          string
	Truncated       bool
	PeakMemoryBytes int64
	Duration        time.Duration
	Reason          execution.Reason
}

// Run executes source under language's interpreter inside a private
// working directory, enforcing limits and the timeout/grace-period
// kill sequence from spec §4.8.
func (l *Launcher) Run(ctx context.Context, source []byte, language string, limits execution.Limits) (result *Result, err error) {
	ctx, span := tracer.Start(ctx, "exec.Launcher.Run", trace.WithAttributes(
		attribute.String("exec.language", language),
		attribute.Int("exec.timeout_secs", limits.TimeoutSecs),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if result != nil {
			span.SetAttributes(
				attribute.Int("exec.return_code", result.ReturnCode),
				attribute.String("exec.reason", string(result.Reason)),
			)
		}
		span.End()
	}()

	bin, ok := InterpreterFor(language)
	if !ok {
		return &Result{Reason: execution.ReasonUnsupportedLanguage}, apperr.New(apperr.InvalidInput, "unsupported language: "+language)
	}
	if _, err := exec.LookPath(bin); err != nil {
		return &Result{Reason: execution.ReasonSpawnFailed}, apperr.Wrap(apperr.Internal, "interpreter not found: "+bin, err)
	}

	workDir, err := newPrivateWorkDir()
	if err != nil {
		return &Result{Reason: execution.ReasonSpawnFailed}, apperr.Wrap(apperr.Internal, "creating private working directory", err)
	}
	defer os.RemoveAll(workDir)

	sourcePath := filepath.Join(workDir, sourceFilename(language))
	if err := os.WriteFile(sourcePath, source, 0600); err != nil {
		return &Result{Reason: execution.ReasonSpawnFailed}, apperr.Wrap(apperr.Internal, "writing source file", err)
	}

	timeout := time.Duration(limits.TimeoutSecs) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"exec-helper", language, sourcePath,
		strconv.Itoa(limits.TimeoutSecs),
		strconv.FormatInt(limits.MemoryLimitBytes, 10),
		strconv.FormatInt(limits.FileLimitBytes, 10),
		strconv.Itoa(limits.FDLimit),
	}
	cmd := exec.Command(l.selfPath, args...)
	cmd.Dir = workDir
	cmd.Stdin = nil
	cmd.Env = allowListEnv()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	outLimit := limits.OutputLimitBytes
	if outLimit <= 0 {
		outLimit = 100 * 1024
	}
	stdout := &boundedWriter{limit: outLimit}
	stderr := &boundedWriter{limit: outLimit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return &Result{Reason: execution.ReasonSpawnFailed}, apperr.Wrap(apperr.Internal, "spawning child", err)
	}

	waitErr := waitWithTimeout(runCtx, cmd)
	duration := time.Since(start)

	result = &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.overflow || stderr.overflow,
		Duration:  duration,
	}
	result.PeakMemoryBytes = peakRSS(cmd.ProcessState)

	if runCtx.Err() != nil {
		result.ReturnCode = -1
		result.Reason = execution.ReasonTimeout
		return result, nil
	}
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ReturnCode = exitErr.ExitCode()
			return result, nil
		}
		result.Reason = execution.ReasonInternal
		return result, apperr.Wrap(apperr.Internal, "waiting for child", waitErr)
	}

	result.ReturnCode = 0
	return result, nil
}

// waitWithTimeout waits for cmd to exit, and on context deadline sends
// SIGTERM to the whole process group, then SIGKILL after a 500ms grace
// period, per spec §4.8 step 6.
func waitWithTimeout(ctx context.Context, cmd *exec.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		pgid := cmd.Process.Pid
		_ = syscall.Kill(-pgid, syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			<-done
		}
		return ctx.Err()
	}
}

// peakRSS extracts the child's peak resident-set size where the OS
// reports it; unsupported platforms return 0.
func peakRSS(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	// Maxrss is in KB on Linux, bytes on Darwin; normalize to bytes
	// assuming Linux, the only platform this sandbox targets.
	return ru.Maxrss * 1024
}

// newPrivateWorkDir creates a mode-0700 directory guaranteed removed on
// every exit path by the caller's defer.
func newPrivateWorkDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "mcpd-exec-"+uuid.New().String())
	if err := os.Mkdir(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// boundedWriter truncates writes past limit, the O_MAX rule applied to
// both stdout and stderr independently.
type boundedWriter struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (b *boundedWriter) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := len(p)
	room := b.limit - b.buf.Len()
	if room <= 0 {
		b.overflow = true
		return total, nil
	}
	if len(p) > room {
		b.overflow = true
		p = p[:room]
	}
	if _, err := b.buf.Write(p); err != nil {
		return 0, err
	}
	return total, nil
}

func (b *boundedWriter) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

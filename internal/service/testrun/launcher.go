// Package testrun implements the test tool (C12): a variant of the
// execution tool that runs a test harness over an uploaded module
// instead of executing it directly. It shares the resource-limit,
// timeout, and truncation machinery of internal/service/exec, adapted
// here for harness commands (pytest, node's built-in test runner)
// rather than bare interpreter invocation.
package testrun

import (
	"bytes"
	"context"
	"fmt"
	"os"
	osexec "os/exec"
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

// harnessCommand describes how to invoke a language's test harness
// against a single uploaded module.
type harnessCommand struct {
	bin  string
	args func(sourcePath string) []string
}

var harnessCommands = map[string]harnessCommand{
	"python": {
		bin:  "pytest",
		args: func(sourcePath string) []string { return []string{sourcePath} },
	},
	"javascript": {
		bin:  "node",
		args: func(sourcePath string) []string { return []string{"--test", sourcePath} },
	},
}

// HarnessFor reports the binary and argv a language's test harness
// execs into, and whether the language has one configured.
func HarnessFor(language string) (bin string, args func(string) []string, ok bool) {
	h, ok := harnessCommands[language]
	return h.bin, h.args, ok
}

func sourceFilename(language string) string {
	switch language {
	case "python":
		return "test_main.py"
	case "javascript":
		return "main.test.js"
	default:
		return "test_main.src"
	}
}

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
// "test-helper" subcommand, mirroring exec.Launcher's re-exec
// resource-limit pattern for the harness commands above.
type Launcher struct {
	selfPath string
}

// NewLauncher resolves the running binary's own path.
func NewLauncher() (*Launcher, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving own executable path: %w", err)
	}
	return &Launcher{selfPath: self}, nil
}

// Result is one harness run's outcome, prior to output parsing.
type Result struct {
	ReturnCode      int
	Stdout          string
	Stderr          string
	Truncated       bool
	PeakMemoryBytes int64
	Duration        time.Duration
	Reason          execution.Reason
}

// Run executes source as a test module under language's harness inside
// a private working directory, enforcing the same limits and
// timeout/grace-period kill sequence as the execution tool.
func (l *Launcher) Run(ctx context.Context, source []byte, language string, limits execution.Limits) (result *Result, err error) {
	ctx, span := tracer.Start(ctx, "testrun.Launcher.Run", trace.WithAttributes(
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

	if _, _, ok := HarnessFor(language); !ok {
		return &Result{Reason: execution.ReasonUnsupportedLanguage}, apperr.New(apperr.InvalidInput, "no test harness for language: "+language)
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
		"test-helper", language, sourcePath,
		strconv.Itoa(limits.TimeoutSecs),
		strconv.FormatInt(limits.MemoryLimitBytes, 10),
		strconv.FormatInt(limits.FileLimitBytes, 10),
		strconv.Itoa(limits.FDLimit),
	}
	cmd := osexec.Command(l.selfPath, args...)
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
		if exitErr, ok := waitErr.(*osexec.ExitError); ok {
			result.ReturnCode = exitErr.ExitCode()
			return result, nil
		}
		result.Reason = execution.ReasonInternal
		return result, apperr.Wrap(apperr.Internal, "waiting for child", waitErr)
	}

	result.ReturnCode = 0
	return result, nil
}

func waitWithTimeout(ctx context.Context, cmd *osexec.Cmd) error {
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

func peakRSS(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	ru, ok := state.SysUsage().(*syscall.Rusage)
	if !ok {
		return 0
	}
	return ru.Maxrss * 1024
}

func newPrivateWorkDir() (string, error) {
	dir := filepath.Join(os.TempDir(), "mcpd-test-"+uuid.New().String())
	if err := os.Mkdir(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

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

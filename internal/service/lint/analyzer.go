package lint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// AnalyzerResult is what an external analyzer reported about one
// source file.
type AnalyzerResult struct {
	ExitCode int
	Output   string
}

// Analyzer runs a third-party static-analysis tool over source and
// returns its exit code and bounded output. A nil Analyzer means no
// external analyzer is configured for the language; the lint tool then
// reports only the structural facts it extracted itself.
type Analyzer interface {
	Analyze(ctx context.Context, language string, source []byte) (AnalyzerResult, error)
}

// CommandAnalyzer shells out to a configured binary per language,
// writing source to a private temp file first since most static
// analyzers take a file path rather than stdin.
type CommandAnalyzer struct {
	// Commands maps a language name to the analyzer binary and its
	// fixed arguments; the source file path is appended last.
	Commands map[string]CommandSpec
	// Timeout bounds the analyzer's wall-clock run.
	Timeout time.Duration
	// MaxOutputBytes truncates captured stdout/stderr (O_MAX).
	MaxOutputBytes int
}

// CommandSpec names one language's analyzer binary and its arguments.
type CommandSpec struct {
	Path string
	Args []string
	Ext  string // file extension for the temp source file, e.g. ".py"
}

// Analyze satisfies Analyzer. Returns a zero AnalyzerResult with no
// error when the language has no configured analyzer, so callers can
// treat "not configured" and "ran with exit 0 and no output" uniformly
// as "nothing to report".
func (c *CommandAnalyzer) Analyze(ctx context.Context, language string, source []byte) (AnalyzerResult, error) {
	spec, ok := c.Commands[language]
	if !ok {
		return AnalyzerResult{}, nil
	}
	if _, err := exec.LookPath(spec.Path); err != nil {
		return AnalyzerResult{}, nil
	}

	tmp, err := os.CreateTemp("", "lint-*"+spec.Ext)
	if err != nil {
		return AnalyzerResult{}, fmt.Errorf("creating analyzer input file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(source); err != nil {
		tmp.Close()
		return AnalyzerResult{}, fmt.Errorf("writing analyzer input file: %w", err)
	}
	tmp.Close()

	timeout := c.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string{}, spec.Args...), tmpPath)
	cmd := exec.CommandContext(cmdCtx, spec.Path, args...)
	cmd.Stdin = nil

	limit := c.MaxOutputBytes
	if limit <= 0 {
		limit = 100 * 1024
	}
	var buf boundedBuffer
	buf.limit = limit
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if cmdCtx.Err() == context.DeadlineExceeded {
			return AnalyzerResult{ExitCode: -1, Output: buf.String()}, nil
		} else {
			return AnalyzerResult{}, fmt.Errorf("running analyzer: %w", runErr)
		}
	}

	return AnalyzerResult{ExitCode: exitCode, Output: buf.String()}, nil
}

// boundedBuffer is an io.Writer that silently drops bytes past limit,
// the same O_MAX truncation rule the execution tool applies to child
// output.
type boundedBuffer struct {
	buf      bytes.Buffer
	limit    int
	overflow bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
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

func (b *boundedBuffer) String() string { return b.buf.String() }

var _ io.Writer = (*boundedBuffer)(nil)

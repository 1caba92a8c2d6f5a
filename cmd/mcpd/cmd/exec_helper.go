//go:build !windows

package cmd

import (
	"fmt"
	"os"
	osexec "os/exec"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	execsvc "github.com/ultimate-mcp/mcpd/internal/service/exec"
)

// execHelperCmd is not a user-facing command: the execution and test
// tools re-exec this binary as the direct child they spawn, so that
// resource limits can be applied (via unix.Setrlimit) before the real
// interpreter starts. os/exec has no pre-exec hook, so a tiny helper
// that sets its own limits and then execs into the interpreter is the
// standard way to get this ordering right in Go.
var execHelperCmd = &cobra.Command{
	Use:    "exec-helper <language> <source-file> <timeout-secs> <memory-bytes> <file-bytes> <fd-limit>",
	Hidden: true,
	Args:   cobra.ExactArgs(6),
	RunE:   runExecHelper,
}

func init() {
	rootCmd.AddCommand(execHelperCmd)
}

func runExecHelper(cmd *cobra.Command, args []string) error {
	language, sourcePath := args[0], args[1]

	timeoutSecs, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing timeout-secs: %w", err)
	}
	memBytes, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing memory-bytes: %w", err)
	}
	fileBytes, err := strconv.ParseInt(args[4], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing file-bytes: %w", err)
	}
	fdLimit, err := strconv.ParseInt(args[5], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing fd-limit: %w", err)
	}

	if err := applyResourceLimits(timeoutSecs, memBytes, fileBytes, fdLimit); err != nil {
		return fmt.Errorf("applying resource limits: %w", err)
	}

	bin, ok := execsvc.InterpreterFor(language)
	if !ok {
		return fmt.Errorf("unsupported language %q", language)
	}
	path, err := osexec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("locating interpreter %q: %w", bin, err)
	}

	// syscall.Exec replaces this process image in place, preserving the
	// fds, cwd, and process group the parent already set up.
	return syscall.Exec(path, []string{bin, sourcePath}, os.Environ())
}

// applyResourceLimits sets the CPU-seconds, address-space, file-size,
// and open-file limits from spec §4.8 step 4, plus a process-count cap
// of one additional process beyond this one. Limits of zero are left
// at whatever the parent environment already has.
func applyResourceLimits(cpuSecs, memBytes, fileBytes, fdLimit int64) error {
	if cpuSecs > 0 {
		if err := unix.Setrlimit(unix.RLIMIT_CPU, &unix.Rlimit{Cur: uint64(cpuSecs), Max: uint64(cpuSecs)}); err != nil {
			return fmt.Errorf("RLIMIT_CPU: %w", err)
		}
	}
	if memBytes > 0 {
		if err := unix.Setrlimit(unix.RLIMIT_AS, &unix.Rlimit{Cur: uint64(memBytes), Max: uint64(memBytes)}); err != nil {
			return fmt.Errorf("RLIMIT_AS: %w", err)
		}
	}
	if fileBytes > 0 {
		if err := unix.Setrlimit(unix.RLIMIT_FSIZE, &unix.Rlimit{Cur: uint64(fileBytes), Max: uint64(fileBytes)}); err != nil {
			return fmt.Errorf("RLIMIT_FSIZE: %w", err)
		}
	}
	if fdLimit > 0 {
		if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{Cur: uint64(fdLimit), Max: uint64(fdLimit)}); err != nil {
			return fmt.Errorf("RLIMIT_NOFILE: %w", err)
		}
	}
	// One additional process/thread beyond this one: the interpreter
	// itself, no forked children.
	if err := unix.Setrlimit(unix.RLIMIT_NPROC, &unix.Rlimit{Cur: 2, Max: 2}); err != nil {
		return fmt.Errorf("RLIMIT_NPROC: %w", err)
	}
	return nil
}

//go:build !windows

package cmd

import (
	"fmt"
	"os"
	osexec "os/exec"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	testsvc "github.com/ultimate-mcp/mcpd/internal/service/testrun"
)

// testHelperCmd is the test tool's counterpart to exec-helper: the
// direct child the test tool spawns, applying resource limits before
// exec'ing into the language's test harness rather than a bare
// interpreter.
var testHelperCmd = &cobra.Command{
	Use:    "test-helper <language> <source-file> <timeout-secs> <memory-bytes> <file-bytes> <fd-limit>",
	Hidden: true,
	Args:   cobra.ExactArgs(6),
	RunE:   runTestHelper,
}

func init() {
	rootCmd.AddCommand(testHelperCmd)
}

func runTestHelper(cmd *cobra.Command, args []string) error {
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

	bin, argsFn, ok := testsvc.HarnessFor(language)
	if !ok {
		return fmt.Errorf("no test harness for language %q", language)
	}
	path, err := osexec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("locating harness %q: %w", bin, err)
	}

	return syscall.Exec(path, append([]string{bin}, argsFn(sourcePath)...), os.Environ())
}

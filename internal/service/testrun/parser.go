package testrun

import (
	"regexp"
	"strconv"
)

// pytestSummary matches pytest's trailing summary line, e.g.
// "3 passed, 1 failed in 0.42s" or "5 passed in 0.10s".
var pytestSummary = regexp.MustCompile(`(\d+) passed(?:, (\d+) failed)?`)

// nodeTestPass / nodeTestFail match the summary lines node's built-in
// test runner (`node --test`) emits in its default TAP-derived reporter:
// "# pass 4" and "# fail 1".
var nodeTestPass = regexp.MustCompile(`(?m)^# pass (\d+)`)
var nodeTestFail = regexp.MustCompile(`(?m)^# fail (\d+)`)

// parseHarnessOutput attempts to extract pass/fail counts from a test
// harness's stdout. It never errors: an unrecognized format simply
// leaves ok=false and both counts at zero, per spec §4.9's best-effort
// contract — callers still get the raw stdout/stderr/return_code.
func parseHarnessOutput(framework, stdout string) (passed, failed int, ok bool) {
	switch framework {
	case "pytest":
		if m := pytestSummary.FindStringSubmatch(stdout); m != nil {
			passed, _ = strconv.Atoi(m[1])
			if m[2] != "" {
				failed, _ = strconv.Atoi(m[2])
			}
			return passed, failed, true
		}
	case "node --test":
		passMatch := nodeTestPass.FindStringSubmatch(stdout)
		failMatch := nodeTestFail.FindStringSubmatch(stdout)
		if passMatch == nil && failMatch == nil {
			return 0, 0, false
		}
		if passMatch != nil {
			passed, _ = strconv.Atoi(passMatch[1])
		}
		if failMatch != nil {
			failed, _ = strconv.Atoi(failMatch[1])
		}
		return passed, failed, true
	}
	return 0, 0, false
}

// frameworkFor returns the conventional test-harness command for
// language, mirroring the interpreter selection in launcher.go.
func frameworkFor(language string) string {
	switch language {
	case "python":
		return "pytest"
	case "javascript":
		return "node --test"
	default:
		return ""
	}
}

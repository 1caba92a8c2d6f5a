package testrun

import "testing"

func TestParseHarnessOutput_Pytest(t *testing.T) {
	stdout := "collected 4 items\n....\n4 passed, 0 failed in 0.12s\n"
	passed, failed, ok := parseHarnessOutput("pytest", stdout)
	if !ok || passed != 4 || failed != 0 {
		t.Fatalf("parseHarnessOutput() = (%d, %d, %v), want (4, 0, true)", passed, failed, ok)
	}
}

func TestParseHarnessOutput_PytestNoFailures(t *testing.T) {
	passed, failed, ok := parseHarnessOutput("pytest", "3 passed in 0.02s\n")
	if !ok || passed != 3 || failed != 0 {
		t.Fatalf("parseHarnessOutput() = (%d, %d, %v), want (3, 0, true)", passed, failed, ok)
	}
}

func TestParseHarnessOutput_NodeTest(t *testing.T) {
	stdout := "TAP version 13\n# tests 5\n# pass 4\n# fail 1\n"
	passed, failed, ok := parseHarnessOutput("node --test", stdout)
	if !ok || passed != 4 || failed != 1 {
		t.Fatalf("parseHarnessOutput() = (%d, %d, %v), want (4, 1, true)", passed, failed, ok)
	}
}

func TestParseHarnessOutput_UnrecognizedFormatIsBestEffort(t *testing.T) {
	passed, failed, ok := parseHarnessOutput("pytest", "SEGFAULT\n")
	if ok || passed != 0 || failed != 0 {
		t.Fatalf("parseHarnessOutput() = (%d, %d, %v), want (0, 0, false)", passed, failed, ok)
	}
}

func TestFrameworkFor(t *testing.T) {
	if frameworkFor("python") != "pytest" {
		t.Error("frameworkFor(python) must be pytest")
	}
	if frameworkFor("javascript") != "node --test" {
		t.Error("frameworkFor(javascript) must be node --test")
	}
	if frameworkFor("cobol") != "" {
		t.Error("frameworkFor(cobol) must be empty")
	}
}

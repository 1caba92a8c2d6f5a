package testrun

import (
	"os"
	"testing"
)

func TestHarnessFor_KnownAndUnknownLanguages(t *testing.T) {
	bin, args, ok := HarnessFor("python")
	if !ok || bin != "pytest" || len(args("x.py")) != 1 || args("x.py")[0] != "x.py" {
		t.Errorf("HarnessFor(python) = (%q, ..., %v), want (pytest, [x.py], true)", bin, ok)
	}
	if _, _, ok := HarnessFor("cobol"); ok {
		t.Error("HarnessFor(cobol) = ok, want unsupported")
	}
}

func TestNewPrivateWorkDir_IsMode0700(t *testing.T) {
	dir, err := newPrivateWorkDir()
	if err != nil {
		t.Fatalf("newPrivateWorkDir() = %v", err)
	}
	defer os.RemoveAll(dir)

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("mode = %o, want 0700", perm)
	}
}

func TestBoundedWriter_TruncatesAndFlagsOverflow(t *testing.T) {
	w := &boundedWriter{limit: 4}
	n, err := w.Write([]byte("hello"))
	if err != nil {
		t.Fatalf("Write() = %v", err)
	}
	if n != len("hello") {
		t.Errorf("Write() returned %d, want %d", n, len("hello"))
	}
	if w.String() != "hell" || !w.overflow {
		t.Errorf("String() = %q overflow=%v, want %q overflow=true", w.String(), w.overflow, "hell")
	}
}

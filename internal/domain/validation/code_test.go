package validation

import (
	"context"
	"strings"
	"testing"

	"github.com/ultimate-mcp/mcpd/internal/apperr"
)

func TestValidateCode_AllowsBenignPython(t *testing.T) {
	src := []byte(`
def add(a, b):
    return a + b

class Greeter:
    def greet(self, name):
        return "hello " + name
`)
	if err := ValidateCode(context.Background(), src, LangPython, false); err != nil {
		t.Fatalf("ValidateCode() = %v, want nil", err)
	}
}

func TestValidateCode_DeniesDangerousImport(t *testing.T) {
	cases := []string{
		"import os\n",
		"import subprocess\n",
		"from socket import socket\n",
		"import ctypes\n",
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			err := ValidateCode(context.Background(), []byte(src), LangPython, false)
			if !apperr.Is(err, apperr.InvalidInput) {
				t.Fatalf("ValidateCode(%q) = %v, want InvalidInput", src, err)
			}
		})
	}
}

func TestValidateCode_AllowsNonStrictNetworkImport(t *testing.T) {
	err := ValidateCode(context.Background(), []byte("import http\n"), LangPython, false)
	if err != nil {
		t.Fatalf("ValidateCode(non-strict http import) = %v, want nil", err)
	}
}

func TestValidateCode_StrictDeniesNetworkImport(t *testing.T) {
	err := ValidateCode(context.Background(), []byte("import http\n"), LangPython, true)
	if !apperr.Is(err, apperr.InvalidInput) {
		t.Fatalf("ValidateCode(strict http import) = %v, want InvalidInput", err)
	}
}

func TestValidateCode_DeniesDangerousCall(t *testing.T) {
	cases := []string{
		`eval("1+1")`,
		`exec("print(1)")`,
		`compile("1", "<s>", "eval")`,
		`__import__("os")`,
		`input("go ahead: ")`,
	}
	for _, src := range cases {
		t.Run(src, func(t *testing.T) {
			err := ValidateCode(context.Background(), []byte(src), LangPython, false)
			if !apperr.Is(err, apperr.InvalidInput) {
				t.Fatalf("ValidateCode(%q) = %v, want InvalidInput", src, err)
			}
		})
	}
}

func TestValidateCode_AllowsReadOpenButDeniesWriteOpen(t *testing.T) {
	if err := ValidateCode(context.Background(), []byte(`open("f.txt", "r")`), LangPython, false); err != nil {
		t.Fatalf("read-mode open must be allowed, got %v", err)
	}
	if err := ValidateCode(context.Background(), []byte(`open("f.txt", "w")`), LangPython, false); !apperr.Is(err, apperr.InvalidInput) {
		t.Fatalf("write-mode open must be denied, got %v", err)
	}
}

func TestValidateCode_DeniesDunderAttributeAccess(t *testing.T) {
	err := ValidateCode(context.Background(), []byte(`x = object().__class__.__bases__`), LangPython, false)
	if !apperr.Is(err, apperr.InvalidInput) {
		t.Fatalf("ValidateCode(dunder access) = %v, want InvalidInput", err)
	}
}

func TestValidateCode_DeniesSubscriptReachingBuiltins(t *testing.T) {
	err := ValidateCode(context.Background(), []byte(`x = globals()['__builtins__']`), LangPython, false)
	if !apperr.Is(err, apperr.InvalidInput) {
		t.Fatalf("ValidateCode(subscript) = %v, want InvalidInput", err)
	}
}

func TestValidateCode_RejectsOversizedSource(t *testing.T) {
	src := []byte(strings.Repeat("x = 1\n", SMax))
	err := ValidateCode(context.Background(), src, LangPython, false)
	if !apperr.Is(err, apperr.InvalidInput) {
		t.Fatalf("ValidateCode(oversized) = %v, want InvalidInput", err)
	}
}

func TestValidateCode_UnsupportedLanguage(t *testing.T) {
	err := ValidateCode(context.Background(), []byte("1+1"), "cobol", false)
	if !apperr.Is(err, apperr.InvalidInput) {
		t.Fatalf("ValidateCode(unsupported language) = %v, want InvalidInput", err)
	}
}

func TestComplexityOf_CountsBranches(t *testing.T) {
	src := []byte(`
def f(x):
    if x > 0:
        return 1
    elif x < 0:
        return -1
    else:
        return 0
`)
	tree, err := parseSource(context.Background(), src, LangPython)
	if err != nil {
		t.Fatalf("parseSource: %v", err)
	}
	defer tree.Close()

	complexity := ComplexityOf(tree.RootNode())
	if complexity < 2 {
		t.Errorf("ComplexityOf = %d, want >= 2 for a function with if/elif", complexity)
	}
}

func TestScanDangerousConstructs_ReturnsEveryViolation(t *testing.T) {
	src := []byte("import os\nimport subprocess\neval('1')\n")
	tree, err := parseSource(context.Background(), src, LangPython)
	if err != nil {
		t.Fatalf("parseSource: %v", err)
	}
	defer tree.Close()

	diags := ScanDangerousConstructs(tree.RootNode(), src, false)
	if len(diags) != 3 {
		t.Fatalf("ScanDangerousConstructs found %d diagnostics, want 3: %+v", len(diags), diags)
	}
}

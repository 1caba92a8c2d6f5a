package validation

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// Size and shape limits enforced before and during the AST walk.
const (
	// SMax is the default maximum source length in bytes.
	SMax = 100 * 1024
	// DMax is the default maximum AST depth.
	DMax = 200
	// NMax is the default maximum AST node count.
	NMax = 50_000
)

// defaultDangerousModules is denied regardless of strict mode: the OS,
// subprocess, raw-socket, filesystem, dynamic-loader, and ctypes
// families. Matching is by dotted-path prefix, so "os.path" and
// "ctypes.util" are caught by "os" and "ctypes" respectively.
var defaultDangerousModules = map[string]bool{
	"os":              true,
	"subprocess":      true,
	"socket":          true,
	"shutil":          true,
	"importlib":       true,
	"imp":             true,
	"ctypes":          true,
	"fcntl":           true,
	"pty":             true,
	"resource":        true,
	"multiprocessing": true,
}

// strictAdditionalModules is denied only when ValidateCode is called
// with strict=true: higher-level network-I/O libraries that a
// non-strict (trusted/development) caller may legitimately need.
var strictAdditionalModules = map[string]bool{
	"http":      true,
	"urllib":    true,
	"ftplib":    true,
	"telnetlib": true,
	"smtplib":   true,
	"requests":  true,
	"httpx":     true,
	"ssl":       true,
}

// dangerousFunctions is the bare-name call denylist. "open" is only
// denied when called in a write/append/exclusive mode; see isWriteOpen.
var dangerousFunctions = map[string]bool{
	"eval":       true,
	"exec":       true,
	"compile":    true,
	"__import__": true,
	"input":      true,
	"help":       true,
}

// dunderNames are interpreter-internal attribute names that reach
// builtins, the class hierarchy, or bytecode from ordinary-looking
// attribute access.
var dunderNames = map[string]bool{
	"__builtins__":   true,
	"__globals__":    true,
	"__import__":     true,
	"__subclasses__": true,
	"__mro__":        true,
	"__dict__":       true,
	"__class__":      true,
	"__bases__":      true,
	"__code__":       true,
	"__closure__":    true,
	"__func__":       true,
	"__self__":       true,
}

// branchNodeTypes are the node kinds counted toward the cyclomatic
// complexity approximation (count of branch-forming nodes + 1),
// shared with the lint tool's complexity computation.
var branchNodeTypes = map[string]bool{
	"if_statement":           true,
	"elif_clause":            true,
	"for_statement":          true,
	"while_statement":        true,
	"except_clause":          true,
	"with_statement":         true,
	"boolean_operator":       true,
	"conditional_expression": true,
	"case_clause":            true,
}

// Diagnostic is one rejected construct found while walking the AST.
type Diagnostic struct {
	Reason         string
	OffendingToken string
	Line           int
}

// ValidateCode parses source as language and walks the resulting AST,
// denying any dangerous import, dangerous bare-name call, dunder
// attribute access, or subscript access that reaches one of the above.
// strict additionally denies network-I/O modules. Returns the first
// violation found; callers that need every violation should use Scan.
func ValidateCode(ctx context.Context, source []byte, language string, strict bool) error {
	tree, err := ParseWithinBounds(ctx, source, language)
	if err != nil {
		return err
	}
	defer tree.Close()

	root := tree.RootNode()
	diags := ScanDangerousConstructs(root, source, strict)
	if len(diags) > 0 {
		d := diags[0]
		return securityViolation(d.Reason, d.OffendingToken)
	}
	return nil
}

// ParseWithinBounds parses source as language and enforces the S_MAX/
// D_MAX/N_MAX size and shape limits, returning the parsed tree for
// reuse by callers that need the AST beyond dangerous-construct
// scanning (the lint tool's structural extraction, in particular). The
// caller owns the returned tree and must call tree.Close().
func ParseWithinBounds(ctx context.Context, source []byte, language string) (*sitter.Tree, error) {
	if len(source) > SMax {
		return nil, invalidInput(fmt.Sprintf("source length %d exceeds maximum %d", len(source), SMax), "")
	}

	tree, err := parseSource(ctx, source, language)
	if err != nil {
		return nil, err
	}

	count, depth := nodeCount(tree.RootNode())
	if depth > DMax {
		tree.Close()
		return nil, invalidInput(fmt.Sprintf("AST depth %d exceeds maximum %d", depth, DMax), "")
	}
	if count > NMax {
		tree.Close()
		return nil, invalidInput(fmt.Sprintf("AST node count %d exceeds maximum %d", count, NMax), "")
	}
	return tree, nil
}

// ScanDangerousConstructs walks the tree rooted at root and returns
// every dangerous-construct diagnostic found. Exported so the lint
// tool (C10) can surface them as warnings alongside structural facts
// without re-parsing the source.
func ScanDangerousConstructs(root *sitter.Node, source []byte, strict bool) []Diagnostic {
	var diags []Diagnostic
	walkDangerous(root, source, strict, &diags)
	return diags
}

func walkDangerous(n *sitter.Node, source []byte, strict bool, diags *[]Diagnostic) {
	if n == nil {
		return
	}

	switch n.Type() {
	case "import_statement":
		checkImportStatement(n, source, strict, diags)
	case "import_from_statement":
		checkImportFromStatement(n, source, strict, diags)
	case "call":
		checkCall(n, source, diags)
	case "attribute":
		checkAttribute(n, source, diags)
	case "subscript":
		checkSubscript(n, source, diags)
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		walkDangerous(n.Child(i), source, strict, diags)
	}
}

func isDangerousModule(dotted string, strict bool) bool {
	root := dotted
	if i := strings.IndexByte(dotted, '.'); i >= 0 {
		root = dotted[:i]
	}
	if defaultDangerousModules[root] {
		return true
	}
	return strict && strictAdditionalModules[root]
}

func checkImportStatement(n *sitter.Node, source []byte, strict bool, diags *[]Diagnostic) {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "dotted_name":
			reportIfDangerousModule(c, source, strict, diags)
		case "aliased_import":
			if c.ChildCount() > 0 {
				reportIfDangerousModule(c.Child(0), source, strict, diags)
			}
		}
	}
}

func checkImportFromStatement(n *sitter.Node, source []byte, strict bool, diags *[]Diagnostic) {
	// import_from_statement's module name is its first dotted_name child
	// (the "from" target); later dotted_name/aliased_import children are
	// the imported members and are not module paths.
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == "dotted_name" {
			reportIfDangerousModule(c, source, strict, diags)
			return
		}
	}
}

func reportIfDangerousModule(n *sitter.Node, source []byte, strict bool, diags *[]Diagnostic) {
	if n == nil {
		return
	}
	name := nodeText(n, source)
	if isDangerousModule(name, strict) {
		*diags = append(*diags, Diagnostic{
			Reason:         fmt.Sprintf("import of disallowed module %q", name),
			OffendingToken: name,
			Line:           int(n.StartPoint().Row) + 1,
		})
	}
}

func checkCall(n *sitter.Node, source []byte, diags *[]Diagnostic) {
	if n.ChildCount() == 0 {
		return
	}
	callee := n.Child(0)
	if callee.Type() != "identifier" {
		return
	}
	name := nodeText(callee, source)
	if name == "open" {
		if isWriteOpen(n, source) {
			*diags = append(*diags, Diagnostic{
				Reason:         "open() call in a write-capable mode",
				OffendingToken: name,
				Line:           int(n.StartPoint().Row) + 1,
			})
		}
		return
	}
	if dangerousFunctions[name] {
		*diags = append(*diags, Diagnostic{
			Reason:         fmt.Sprintf("call to disallowed function %q", name),
			OffendingToken: name,
			Line:           int(n.StartPoint().Row) + 1,
		})
	}
}

// isWriteOpen inspects open()'s arguments for a mode string containing
// w, a, x, or + in either positional or "mode=" keyword form.
func isWriteOpen(call *sitter.Node, source []byte) bool {
	var argList *sitter.Node
	for i := 0; i < int(call.ChildCount()); i++ {
		if call.Child(i).Type() == "argument_list" {
			argList = call.Child(i)
			break
		}
	}
	if argList == nil {
		return false
	}

	positional := 0
	for i := 0; i < int(argList.ChildCount()); i++ {
		arg := argList.Child(i)
		switch arg.Type() {
		case "string":
			positional++
			if positional == 2 && modeIsWrite(nodeText(arg, source)) {
				return true
			}
		case "keyword_argument":
			if arg.ChildCount() >= 2 {
				key := nodeText(arg.Child(0), source)
				if key == "mode" && modeIsWrite(nodeText(arg.Child(int(arg.ChildCount())-1), source)) {
					return true
				}
			}
		}
	}
	return false
}

func modeIsWrite(quoted string) bool {
	mode := strings.Trim(quoted, "\"'")
	return strings.ContainsAny(mode, "wax+")
}

func checkAttribute(n *sitter.Node, source []byte, diags *[]Diagnostic) {
	// attribute: object "." attribute-identifier; the attribute name is
	// the last identifier child.
	var attrName *sitter.Node
	for i := int(n.ChildCount()) - 1; i >= 0; i-- {
		if n.Child(i).Type() == "identifier" {
			attrName = n.Child(i)
			break
		}
	}
	if attrName == nil {
		return
	}
	name := nodeText(attrName, source)
	if dunderNames[name] {
		*diags = append(*diags, Diagnostic{
			Reason:         fmt.Sprintf("access to interpreter-internal attribute %q", name),
			OffendingToken: name,
			Line:           int(n.StartPoint().Row) + 1,
		})
	}
}

func checkSubscript(n *sitter.Node, source []byte, diags *[]Diagnostic) {
	text := nodeText(n, source)
	lower := strings.ToLower(text)
	for dunder := range dunderNames {
		if strings.Contains(lower, strings.ToLower(dunder)) {
			*diags = append(*diags, Diagnostic{
				Reason:         fmt.Sprintf("subscript access reaching %q", dunder),
				OffendingToken: dunder,
				Line:           int(n.StartPoint().Row) + 1,
			})
			return
		}
	}
	if strings.Contains(text, "globals(") || strings.Contains(text, "locals(") {
		*diags = append(*diags, Diagnostic{
			Reason:         "subscript access into globals()/locals()",
			OffendingToken: text,
			Line:           int(n.StartPoint().Row) + 1,
		})
	}
}

// ComplexityOf returns the branch-node-counting cyclomatic-complexity
// approximation: count of branch-forming nodes, plus 1.
func ComplexityOf(root *sitter.Node) int {
	return 1 + countBranchNodes(root)
}

func countBranchNodes(n *sitter.Node) int {
	if n == nil {
		return 0
	}
	count := 0
	if branchNodeTypes[n.Type()] {
		count++
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		count += countBranchNodes(n.Child(i))
	}
	return count
}

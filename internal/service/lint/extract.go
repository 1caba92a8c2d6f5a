package lint

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/ultimate-mcp/mcpd/internal/domain/validation"
)

// kinds lists the tree-sitter node types that denote a function, a
// class (or, for Go, a struct type), and an import statement for one
// supported language.
type kinds struct {
	function []string
	class    []string
	importer []string
}

var languageKinds = map[string]kinds{
	validation.LangPython: {
		function: []string{"function_definition"},
		class:    []string{"class_definition"},
		importer: []string{"import_statement", "import_from_statement"},
	},
	validation.LangJavaScript: {
		function: []string{"function_declaration"},
		class:    []string{"class_declaration"},
		importer: []string{"import_statement"},
	},
	validation.LangGo: {
		function: []string{"function_declaration", "method_declaration"},
		class:    []string{"type_declaration"},
		importer: []string{"import_spec"},
	},
}

// extracted holds the structural facts pulled from one parse tree,
// each slice already in document order.
type extracted struct {
	functions []string
	classes   []string
	imports   []string
}

func extractStructure(root *sitter.Node, source []byte, language string) extracted {
	k := languageKinds[language]
	var ex extracted
	walkStructure(root, source, k, &ex)
	ex.functions = dedupeStable(ex.functions)
	ex.classes = dedupeStable(ex.classes)
	ex.imports = dedupeStable(ex.imports)
	return ex
}

func walkStructure(n *sitter.Node, source []byte, k kinds, ex *extracted) {
	if n == nil {
		return
	}

	t := n.Type()
	switch {
	case containsType(k.function, t):
		if name := firstNamedChild(n, source); name != "" {
			ex.functions = append(ex.functions, name)
		}
	case containsType(k.class, t):
		if t == "type_declaration" {
			ex.classes = append(ex.classes, goStructNames(n, source)...)
		} else if name := firstNamedChild(n, source); name != "" {
			ex.classes = append(ex.classes, name)
		}
	case containsType(k.importer, t):
		ex.imports = append(ex.imports, importTargets(n, source)...)
	}

	for i := 0; i < int(n.ChildCount()); i++ {
		walkStructure(n.Child(i), source, k, ex)
	}
}

func containsType(types []string, t string) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

// firstNamedChild returns the text of the first identifier-like child,
// which tree-sitter's python/javascript/go grammars all use to carry a
// function or class's declared name.
func firstNamedChild(n *sitter.Node, source []byte) string {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "identifier", "field_identifier", "type_identifier":
			return text(c, source)
		}
	}
	return ""
}

// goStructNames extracts the names of struct-backed type_spec children
// of a Go type_declaration; plain type aliases (non-struct underlying
// type) are not treated as class-equivalents.
func goStructNames(decl *sitter.Node, source []byte) []string {
	var names []string
	for i := 0; i < int(decl.ChildCount()); i++ {
		spec := decl.Child(i)
		if spec.Type() != "type_spec" {
			continue
		}
		var name string
		isStruct := false
		for j := 0; j < int(spec.ChildCount()); j++ {
			c := spec.Child(j)
			switch c.Type() {
			case "type_identifier":
				name = text(c, source)
			case "struct_type":
				isStruct = true
			}
		}
		if name != "" && isStruct {
			names = append(names, name)
		}
	}
	return names
}

// importTargets extracts the module/package path(s) referenced by one
// import statement/spec node.
func importTargets(n *sitter.Node, source []byte) []string {
	var out []string
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "dotted_name":
			out = append(out, text(c, source))
		case "aliased_import":
			if c.ChildCount() > 0 {
				out = append(out, text(c.Child(0), source))
			}
		case "string", "interpreted_string_literal":
			out = append(out, trimQuotes(text(c, source)))
		}
	}
	// import_from_statement's first dotted_name is the module target;
	// later ones are imported member names, not module paths.
	if n.Type() == "import_from_statement" && len(out) > 1 {
		out = out[:1]
	}
	return out
}

func trimQuotes(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'' || s[0] == '`') {
		return s[1 : len(s)-1]
	}
	return s
}

func text(n *sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return string(source[n.StartByte():n.EndByte()])
}

// dedupeStable removes repeats while preserving the order of each
// name's first occurrence, matching the source-order-then-dedup
// extraction contract.
func dedupeStable(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

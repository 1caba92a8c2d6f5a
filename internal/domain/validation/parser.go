package validation

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// Language names accepted by validate_code. Python is the primary
// supported language; the others must be explicitly enabled by C1
// configuration before a caller may select them.
const (
	LangPython     = "python"
	LangJavaScript = "javascript"
	LangGo         = "go"
)

// languageOf resolves the tree-sitter grammar for a language name.
func languageOf(language string) (*sitter.Language, bool) {
	switch language {
	case LangPython:
		return python.GetLanguage(), true
	case LangJavaScript:
		return javascript.GetLanguage(), true
	case LangGo:
		return golang.GetLanguage(), true
	default:
		return nil, false
	}
}

// parseSource parses source with the grammar for language. The caller
// owns the returned tree and must call tree.Close().
func parseSource(ctx context.Context, source []byte, language string) (*sitter.Tree, error) {
	lang, ok := languageOf(language)
	if !ok {
		return nil, invalidInput(fmt.Sprintf("unsupported language %q", language), language)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parsing %s source: %w", language, err)
	}
	return tree, nil
}

// nodeCount returns the number of nodes in the subtree rooted at n,
// and the maximum depth reached below n (n itself counts as depth 1).
func nodeCount(n *sitter.Node) (count, depth int) {
	if n == nil {
		return 0, 0
	}
	count = 1
	depth = 1
	for i := 0; i < int(n.ChildCount()); i++ {
		c, d := nodeCount(n.Child(i))
		count += c
		if d+1 > depth {
			depth = d + 1
		}
	}
	return count, depth
}

func nodeText(n *sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return string(source[n.StartByte():n.EndByte()])
}

package validation

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// mutatingClauses are the Cypher-family write clauses a read-path query
// string must never contain. The only sanctioned write path is C14's
// parameterized upsert, never a user-supplied query string.
var mutatingClauses = []string{
	"DELETE", "DETACH DELETE", "REMOVE", "CREATE", "MERGE", "SET", "DROP",
}

// adminProcedurePrefixes flags calls into database-administration
// procedure namespaces, which a read-only query has no business with.
var adminProcedurePrefixes = []string{
	"CALL DBMS.", "CALL DB.", "CALL APOC.", "CALL SYSTEM.",
}

// statementSeparator and commentSequence close the classic
// statement-stacking and trailing-comment injection vectors.
var (
	statementSeparatorRe = regexp.MustCompile(`;`)
	commentSequenceRe    = regexp.MustCompile(`//|/\*|--`)
	stringLiteralRe      = regexp.MustCompile(`'(?:[^'\\]|\\.)*'|"(?:[^"\\]|\\.)*"`)
)

// ValidateGraphQuery rejects a user-supplied read-path query string if
// it contains a mutating clause, an admin procedure call, a statement
// separator, or a comment sequence. Matching runs against a normalized
// form — Unicode NFKC, case-folded, with string literals masked — so
// fullwidth-character and in-literal obfuscation cannot bypass the
// keyword scan.
func ValidateGraphQuery(text string) error {
	normalized := normalizeQuery(text)

	for _, clause := range mutatingClauses {
		if containsKeyword(normalized, clause) {
			return invalidInput("graph query contains a mutating clause", clause)
		}
	}
	for _, prefix := range adminProcedurePrefixes {
		if strings.Contains(normalized, prefix) {
			return invalidInput("graph query calls an administration procedure", prefix)
		}
	}
	if statementSeparatorRe.MatchString(normalized) {
		return invalidInput("graph query contains a statement separator", ";")
	}
	if commentSequenceRe.MatchString(normalized) {
		return invalidInput("graph query contains a comment sequence", "")
	}
	return nil
}

// normalizeQuery applies Unicode NFKC normalization (closing the
// fullwidth-character bypass class), upper-cases the result for
// keyword comparison, and masks string literal contents so a keyword
// embedded inside a quoted literal cannot trip the scan — or, more
// importantly, so a real clause hidden *around* a literal is still
// visible once the literal's body is blanked out.
func normalizeQuery(text string) string {
	nfkc := norm.NFKC.String(text)
	masked := stringLiteralRe.ReplaceAllStringFunc(nfkc, func(lit string) string {
		return strings.Repeat(" ", len(lit))
	})
	return strings.ToUpper(masked)
}

// containsKeyword reports whether normalized contains keyword (already
// uppercase) bounded by non-identifier characters on both sides, so
// "CREATED_AT" does not match the clause "CREATE".
func containsKeyword(normalized, keyword string) bool {
	idx := 0
	for {
		pos := strings.Index(normalized[idx:], keyword)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(keyword)
		before := rune(0)
		if start > 0 {
			before = rune(normalized[start-1])
		}
		after := rune(0)
		if end < len(normalized) {
			after = rune(normalized[end])
		}
		if !isIdentChar(before) && !isIdentChar(after) {
			return true
		}
		idx = start + 1
	}
}

func isIdentChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

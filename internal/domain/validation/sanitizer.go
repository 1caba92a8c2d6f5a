package validation

import "strings"

// MaxStringLength bounds any single string value passed through
// SanitizeValue, protecting against memory exhaustion from an
// oversized tool argument.
const MaxStringLength = 1 << 20

// Sanitizer applies regex-advisory, defense-in-depth cleanup to tool
// arguments before they reach a validator. Per §4.1, pattern-only
// checks are never the sole defense — AST parsing and the dedicated
// identifier/path/query validators in this package own the actual
// accept/reject decision. Sanitizer only strips null bytes and caps
// string length so a malformed argument cannot wedge downstream code.
type Sanitizer struct{}

// NewSanitizer creates a new Sanitizer instance. Stateless.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{}
}

// SanitizeValue recursively sanitizes a value: strings have null bytes
// stripped and are truncated at MaxStringLength; maps and slices are
// sanitized element-wise; other types pass through unchanged.
func (s *Sanitizer) SanitizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		return s.sanitizeString(val)

	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, elem := range val {
			result[k] = s.SanitizeValue(elem)
		}
		return result

	case []interface{}:
		result := make([]interface{}, len(val))
		for i, elem := range val {
			result[i] = s.SanitizeValue(elem)
		}
		return result

	default:
		return v
	}
}

func (s *Sanitizer) sanitizeString(str string) string {
	str = strings.ReplaceAll(str, "\x00", "")
	if len(str) > MaxStringLength {
		str = str[:MaxStringLength]
	}
	return str
}

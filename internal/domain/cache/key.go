package cache

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// FunctionKey derives a stable cache key for a tool or function call from
// its name and a set of arguments. Arguments are serialized with sorted
// map keys so that equivalent calls always hash identically, then hashed
// with xxhash (the key only needs collision resistance, not
// cryptographic strength — xxhash is cheaper than SHA-256 for this
// high-frequency path).
func FunctionKey(name string, args map[string]any) (string, error) {
	sortedArgs, err := stableJSON(args)
	if err != nil {
		return "", fmt.Errorf("cache: encode args for %q: %w", name, err)
	}
	sum := xxhash.Sum64String(name + ":" + sortedArgs)
	return fmt.Sprintf("%s:%016x", name, sum), nil
}

// stableJSON marshals m with keys sorted, so two maps with the same
// entries always produce byte-identical output regardless of insertion
// order (json.Marshal on a Go map already sorts string keys, but this is
// made explicit to document the invariant the key derivation depends on).
func stableJSON(m map[string]any) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]struct {
		K string `json:"k"`
		V any    `json:"v"`
	}, len(keys))
	for i, k := range keys {
		ordered[i].K = k
		ordered[i].V = m[k]
	}

	b, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

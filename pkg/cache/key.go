package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/Sternrassler/sparse-collection/pkg/sparse"
)

// KeyPrefix is the namespace of every page cache key.
const KeyPrefix = "sparse"

// CacheKey identifies one cached page of a remote source.
type CacheKey struct {
	// Source names the remote dataset (e.g., "/api/words")
	Source string

	// Start is the index of the first record in the page
	Start int

	// Length is the page size the page was requested with
	Length int

	// Query is the filter the page was requested under
	Query sparse.Query
}

// String generates a deterministic cache key string.
// Format: sparse:source:start=0:length=10:key1=val1:key2=val2
//
// Query keys and values are query-escaped, so a value holding ":" or "="
// cannot pose as another parameter.
//
// Example:
//
//	sparse:api/words:start=720:length=10:q=ab
func (k CacheKey) String() string {
	parts := []string{KeyPrefix, sourceSegment(k.Source)}

	parts = append(parts,
		fmt.Sprintf("start=%d", k.Start),
		fmt.Sprintf("length=%d", k.Length),
	)

	// Query params sorted for determinism
	if len(k.Query) > 0 {
		keys := make([]string, 0, len(k.Query))
		for key := range k.Query {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			value := fmt.Sprint(k.Query[key])
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
		}
	}

	return strings.Join(parts, ":")
}

// SourcePattern returns the SCAN pattern matching every page of source.
func SourcePattern(source string) string {
	return KeyPrefix + ":" + sourceSegment(source) + ":*"
}

func sourceSegment(source string) string {
	return strings.Trim(source, "/")
}

package cache

import (
	"testing"

	"github.com/Sternrassler/sparse-collection/pkg/sparse"
)

func TestCacheKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  CacheKey
		want string
	}{
		{
			name: "first page no query",
			key: CacheKey{
				Source: "/api/words",
				Length: 10,
			},
			want: "sparse:api/words:start=0:length=10",
		},
		{
			name: "later page",
			key: CacheKey{
				Source: "/api/words/",
				Start:  720,
				Length: 10,
			},
			want: "sparse:api/words:start=720:length=10",
		},
		{
			name: "query params sorted",
			key: CacheKey{
				Source: "api/words",
				Start:  10,
				Length: 10,
				Query:  sparse.Query{"q": "ab", "lang": "en"},
			},
			want: "sparse:api/words:start=10:length=10:lang=en:q=ab",
		},
		{
			name: "non-string query values",
			key: CacheKey{
				Source: "api/words",
				Length: 25,
				Query:  sparse.Query{"min": 3, "exact": true},
			},
			want: "sparse:api/words:start=0:length=25:exact=true:min=3",
		},
		{
			name: "separators in query escaped",
			key: CacheKey{
				Source: "api/words",
				Length: 10,
				Query:  sparse.Query{"a": "1:b=2", "q x": "a b"},
			},
			want: "sparse:api/words:start=0:length=10:a=1%3Ab%3D2:q+x=a+b",
		},
		{
			name: "empty query same as nil",
			key: CacheKey{
				Source: "api/words",
				Length: 10,
				Query:  sparse.Query{},
			},
			want: "sparse:api/words:start=0:length=10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("CacheKey.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCacheKey_Deterministic(t *testing.T) {
	key := CacheKey{
		Source: "/api/words",
		Start:  30,
		Length: 10,
		Query:  sparse.Query{"a": "1", "b": "2", "c": "3", "d": "4"},
	}

	first := key.String()
	for i := 0; i < 100; i++ {
		if got := key.String(); got != first {
			t.Fatalf("CacheKey.String() not deterministic: got %q, want %q", got, first)
		}
	}
}

func TestCacheKey_DistinctQueries(t *testing.T) {
	queries := []sparse.Query{
		{"a": "1:b=2"},
		{"a": "1", "b": "2"},
		{"a=1": "", "b": "2"},
		{"a": "1=b:2"},
	}

	seen := make(map[string]int)
	for i, q := range queries {
		key := CacheKey{Source: "api/words", Length: 10, Query: q}.String()
		if j, ok := seen[key]; ok {
			t.Errorf("queries %v and %v share key %q", queries[j], q, key)
		}
		seen[key] = i
	}
}

func TestSourcePattern(t *testing.T) {
	if got, want := SourcePattern("/api/words/"), "sparse:api/words:*"; got != want {
		t.Errorf("SourcePattern() = %q, want %q", got, want)
	}
}

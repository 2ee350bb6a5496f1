package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/sparse-collection/internal/testutil"
	"github.com/Sternrassler/sparse-collection/pkg/sparse"
)

func TestPageParams(t *testing.T) {
	tests := []struct {
		name string
		r    sparse.Range
		q    sparse.Query
		want string
	}{
		{
			name: "paging only",
			r:    sparse.Range{Start: 720, Length: 10, Page: 73},
			want: "limit=10&offset=720",
		},
		{
			name: "string query",
			r:    sparse.Range{Length: 10},
			q:    sparse.Query{"q": "fox"},
			want: "limit=10&offset=0&q=fox",
		},
		{
			name: "list and scalar values",
			r:    sparse.Range{Length: 5},
			q:    sparse.Query{"tag": []string{"a", "b"}, "min": 3, "any": []any{1, "x"}},
			want: "any=1&any=x&limit=5&min=3&offset=0&tag=a&tag=b",
		},
		{
			name: "nil values skipped",
			r:    sparse.Range{Length: 5},
			q:    sparse.Query{"q": nil},
			want: "limit=5&offset=0",
		},
		{
			name: "paging wins over query",
			r:    sparse.Range{Start: 20, Length: 10},
			q:    sparse.Query{"offset": "999"},
			want: "limit=10&offset=20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PageParams(tt.r, tt.q).Encode(); got != tt.want {
				t.Errorf("PageParams() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTotal(t *testing.T) {
	tests := []struct {
		raw    string
		want   *int
		wantOK bool
	}{
		{raw: "1001", want: sparse.Total(1001), wantOK: true},
		{raw: "0", want: sparse.Total(0), wantOK: true},
		{raw: "-5", want: sparse.Total(-5), wantOK: true},
		{raw: "", want: nil, wantOK: true},
		{raw: "null", want: nil, wantOK: true},
		{raw: `"12"`, want: nil, wantOK: false},
		{raw: "12.5", want: nil, wantOK: false},
		{raw: "{}", want: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := ParseTotal(json.RawMessage(tt.raw))
			if ok != tt.wantOK {
				t.Errorf("ParseTotal(%q) ok = %v, want %v", tt.raw, ok, tt.wantOK)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseTotal(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestFetcher_Page(t *testing.T) {
	mock := testutil.NewMockSource(1001)
	defer mock.Close()

	fetch := Fetcher[testutil.Word](newTestClient(t, mock.URL()), testutil.WordsPath)

	page, err := fetch(context.Background(), sparse.Range{Start: 720, Length: 10, Page: 73}, nil)
	if err != nil {
		t.Fatalf("fetch() error = %v", err)
	}

	want := make([]testutil.Word, 0, 10)
	for i := 720; i < 730; i++ {
		want = append(want, testutil.WordAt(i))
	}
	if diff := cmp.Diff(want, page.Records); diff != "" {
		t.Errorf("Records mismatch (-want +got):\n%s", diff)
	}
	if page.Total == nil || *page.Total != 1001 {
		t.Errorf("Total = %v, want 1001", page.Total)
	}
}

func TestFetcher_ShortLastPage(t *testing.T) {
	mock := testutil.NewMockSource(1001)
	defer mock.Close()

	fetch := Fetcher[testutil.Word](newTestClient(t, mock.URL()), testutil.WordsPath)

	page, err := fetch(context.Background(), sparse.Range{Start: 1000, Length: 10, Page: 101}, nil)
	if err != nil {
		t.Fatalf("fetch() error = %v", err)
	}
	if len(page.Records) != 1 {
		t.Errorf("len(Records) = %d, want 1", len(page.Records))
	}
}

func TestFetcher_Query(t *testing.T) {
	mock := testutil.NewMockSource(200)
	defer mock.Close()

	fetch := Fetcher[testutil.Word](newTestClient(t, mock.URL()), testutil.WordsPath)

	page, err := fetch(context.Background(), sparse.Range{Length: 5}, sparse.Query{"q": "fox"})
	if err != nil {
		t.Fatalf("fetch() error = %v", err)
	}

	matching := mock.Matching("fox")
	if page.Total == nil || *page.Total != len(matching) {
		t.Errorf("Total = %v, want %d", page.Total, len(matching))
	}
	if diff := cmp.Diff(matching[:5], page.Records); diff != "" {
		t.Errorf("Records mismatch (-want +got):\n%s", diff)
	}
	if got := mock.RequestQuery(0).Get("q"); got != "fox" {
		t.Errorf("q = %q, want %q", got, "fox")
	}
}

func TestFetcher_MalformedTotal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *int
	}{
		{name: "negative passed through", raw: "-5", want: sparse.Total(-5)},
		{name: "string treated as absent", raw: `"1001"`, want: nil},
		{name: "null treated as absent", raw: "null", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockSource(50)
			defer mock.Close()
			mock.SetRawTotal(tt.raw)

			fetch := Fetcher[testutil.Word](newTestClient(t, mock.URL()), testutil.WordsPath)
			page, err := fetch(context.Background(), sparse.Range{Length: 10}, nil)
			if err != nil {
				t.Fatalf("fetch() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, page.Total); diff != "" {
				t.Errorf("Total mismatch (-want +got):\n%s", diff)
			}
			if len(page.Records) != 10 {
				t.Errorf("len(Records) = %d, want 10", len(page.Records))
			}
		})
	}
}

func TestFetcher_ClientError(t *testing.T) {
	mock := testutil.NewMockSource(50)
	defer mock.Close()

	fetch := Fetcher[testutil.Word](newTestClient(t, mock.URL()), "/api/unknown")
	_, err := fetch(context.Background(), sparse.Range{Length: 10}, nil)

	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("fetch() error = %v, want *RemoteError", err)
	}
	if remoteErr.StatusCode != http.StatusNotFound || remoteErr.ErrorClass != ErrorClassClient {
		t.Errorf("RemoteError = %+v, want 404 client error", remoteErr)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("requests = %d, want 1 (client errors are not retried)", mock.GetRequestCount())
	}
}

func TestFetcher_RecoversFromTransientFailure(t *testing.T) {
	mock := testutil.NewMockSource(50)
	defer mock.Close()
	mock.FailNext(1, http.StatusBadGateway)

	fetch := Fetcher[testutil.Word](newTestClient(t, mock.URL()), testutil.WordsPath)
	page, err := fetch(context.Background(), sparse.Range{Length: 10}, nil)
	if err != nil {
		t.Fatalf("fetch() error = %v", err)
	}
	if len(page.Records) != 10 {
		t.Errorf("len(Records) = %d, want 10", len(page.Records))
	}
	if mock.GetRequestCount() != 2 {
		t.Errorf("requests = %d, want 2", mock.GetRequestCount())
	}
}

func TestFetcher_InvalidBody(t *testing.T) {
	mock := testutil.NewMockSource(0)
	defer mock.Close()
	mock.SetResponse("/api/broken", testutil.MockResponse{StatusCode: http.StatusOK, Body: "not json"})

	fetch := Fetcher[testutil.Word](newTestClient(t, mock.URL()), "/api/broken")
	_, err := fetch(context.Background(), sparse.Range{Length: 10}, nil)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("fetch() error = %v, want %v", err, ErrInvalidResponse)
	}
}

func TestFetcher_DrivesCollection(t *testing.T) {
	mock := testutil.NewMockSource(1001)
	defer mock.Close()

	words, err := sparse.Array(
		Fetcher[testutil.Word](newTestClient(t, mock.URL()), testutil.WordsPath),
		sparse.WithLogger(zerolog.Nop()),
	)
	if err != nil {
		t.Fatalf("Array() error = %v", err)
	}

	if err := words.Load(context.Background(), 723); err != nil {
		t.Fatalf("Load(723) error = %v", err)
	}

	got, ok := words.Get(723).Content()
	if !ok || got != testutil.WordAt(723) {
		t.Errorf("Get(723).Content() = %v, %v, want %v, true", got, ok, testutil.WordAt(723))
	}
	if words.Len() != 1001 {
		t.Errorf("Len() = %d, want 1001", words.Len())
	}
	if diff := cmp.Diff([]int{720}, mock.Offsets()); diff != "" {
		t.Errorf("requested offsets mismatch (-want +got):\n%s", diff)
	}
}

package pagination

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/sparse-collection/pkg/sparse"
)

// fakeLoader records loaded page starts.
type fakeLoader struct {
	mu       sync.Mutex
	loaded   []int
	pageSize int
	length   int
	fail     map[int]error
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeLoader) Load(ctx context.Context, index int) error {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	f.loaded = append(f.loaded, index)
	f.mu.Unlock()

	return f.fail[index]
}

func (f *fakeLoader) PageSize() int { return f.pageSize }
func (f *fakeLoader) Len() int      { return f.length }

func (f *fakeLoader) starts() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int(nil), f.loaded...)
	sort.Ints(out)
	return out
}

func TestNewPreloader_Defaults(t *testing.T) {
	p := NewPreloader(&fakeLoader{pageSize: 10}, Config{})

	if p.config.MaxConcurrency != 4 {
		t.Errorf("MaxConcurrency = %d, want 4", p.config.MaxConcurrency)
	}
	if p.config.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", p.config.Timeout)
	}
	if p.config.BufferSize != 64 {
		t.Errorf("BufferSize = %d, want 64", p.config.BufferSize)
	}
}

func TestPreload_Window(t *testing.T) {
	tests := []struct {
		name       string
		length     int
		from, to   int
		wantStarts []int
	}{
		{name: "aligned window", length: 1000, from: 700, to: 730, wantStarts: []int{700, 710, 720}},
		{name: "unaligned window", length: 1000, from: 705, to: 721, wantStarts: []int{700, 710, 720}},
		{name: "clipped to length", length: 1001, from: 980, to: 2000, wantStarts: []int{980, 990, 1000}},
		{name: "unknown length not clipped", length: 0, from: 0, to: 25, wantStarts: []int{0, 10, 20}},
		{name: "single item", length: 1000, from: 723, to: 724, wantStarts: []int{720}},
		{name: "negative from", length: 1000, from: -5, to: 5, wantStarts: []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := &fakeLoader{pageSize: 10, length: tt.length}
			p := NewPreloader(loader, DefaultConfig())

			res, err := p.Preload(context.Background(), tt.from, tt.to)
			if err != nil {
				t.Fatalf("Preload() error = %v", err)
			}
			if diff := cmp.Diff(tt.wantStarts, loader.starts()); diff != "" {
				t.Errorf("loaded starts mismatch (-want +got):\n%s", diff)
			}
			if res.Pages != len(tt.wantStarts) || res.Loaded != len(tt.wantStarts) {
				t.Errorf("Result = %+v, want %d pages loaded", res, len(tt.wantStarts))
			}
		})
	}
}

func TestPreload_EmptyWindow(t *testing.T) {
	loader := &fakeLoader{pageSize: 10, length: 100}
	res, err := NewPreloader(loader, DefaultConfig()).Preload(context.Background(), 50, 50)

	if err != nil || res.Pages != 0 {
		t.Errorf("Preload(50, 50) = %+v, %v, want no pages", res, err)
	}
	if len(loader.starts()) != 0 {
		t.Errorf("loaded = %v, want none", loader.starts())
	}
}

func TestPreload_InvalidPageSize(t *testing.T) {
	_, err := NewPreloader(&fakeLoader{}, DefaultConfig()).Preload(context.Background(), 0, 10)
	if err == nil {
		t.Error("Preload() with page size 0 should fail")
	}
}

func TestPreload_PartialFailure(t *testing.T) {
	boom := errors.New("page down")
	loader := &fakeLoader{pageSize: 10, length: 100, fail: map[int]error{30: boom}}

	res, err := NewPreloader(loader, DefaultConfig()).Preload(context.Background(), 0, 50)

	if !errors.Is(err, boom) {
		t.Fatalf("Preload() error = %v, want %v", err, boom)
	}
	if res.Loaded != 4 || res.Pages != 5 {
		t.Errorf("Result = %+v, want 4/5 loaded", res)
	}
	if !errors.Is(res.Failed[30], boom) {
		t.Errorf("Failed[30] = %v, want %v", res.Failed[30], boom)
	}
	if len(loader.starts()) != 5 {
		t.Errorf("loaded = %v, want all 5 pages attempted", loader.starts())
	}
}

func TestPreload_FirstPageFailure(t *testing.T) {
	boom := errors.New("first page down")
	loader := &fakeLoader{pageSize: 10, length: 100, fail: map[int]error{0: boom}}

	res, err := NewPreloader(loader, DefaultConfig()).Preload(context.Background(), 0, 50)

	if !errors.Is(err, boom) {
		t.Fatalf("Preload() error = %v, want %v", err, boom)
	}
	if diff := cmp.Diff([]int{0}, loader.starts()); diff != "" {
		t.Errorf("loaded starts mismatch (-want +got):\n%s", diff)
	}
	if res.Loaded != 0 {
		t.Errorf("Loaded = %d, want 0", res.Loaded)
	}
}

func TestPreload_BoundedConcurrency(t *testing.T) {
	loader := &fakeLoader{pageSize: 10, length: 1000, delay: 10 * time.Millisecond}
	p := NewPreloader(loader, Config{MaxConcurrency: 3})

	if _, err := p.Preload(context.Background(), 0, 300); err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	if peak := loader.peak.Load(); peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestPreload_ContextCancelled(t *testing.T) {
	loader := &fakeLoader{pageSize: 10, length: 10000, delay: 20 * time.Millisecond}
	p := NewPreloader(loader, Config{MaxConcurrency: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := p.Preload(ctx, 0, 10000)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Preload() error = %v, want %v", err, context.DeadlineExceeded)
	}
	if res.Loaded >= res.Pages {
		t.Errorf("Result = %d/%d, want partial", res.Loaded, res.Pages)
	}
}

func TestPreload_SparseCollection(t *testing.T) {
	var mu sync.Mutex
	var starts []int

	fetch := func(ctx context.Context, r sparse.Range, q sparse.Query) (*sparse.Page[string], error) {
		mu.Lock()
		starts = append(starts, r.Start)
		mu.Unlock()

		records := make([]string, 0, r.Length)
		for i := r.Start; i < min(r.Start+r.Length, 95); i++ {
			records = append(records, fmt.Sprintf("word-%04d", i))
		}
		return &sparse.Page[string]{Records: records, Total: sparse.Total(95)}, nil
	}

	words, err := sparse.Array(fetch, sparse.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("Array() error = %v", err)
	}

	res, err := NewPreloader(words, DefaultConfig()).Preload(context.Background(), 40, 200)
	if err != nil {
		t.Fatalf("Preload() error = %v", err)
	}
	if res.Pages != 6 || res.Loaded != 6 {
		t.Errorf("Result = %+v, want 6/6 pages", res)
	}

	for i := 40; i < 95; i++ {
		item := words.Get(i, sparse.NoFetch())
		if got, ok := item.Content(); !ok || got != fmt.Sprintf("word-%04d", i) {
			t.Fatalf("Get(%d).Content() = %q, %v, want loaded", i, got, ok)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	sort.Ints(starts)
	if diff := cmp.Diff([]int{40, 50, 60, 70, 80, 90}, starts); diff != "" {
		t.Errorf("fetched pages mismatch (-want +got):\n%s", diff)
	}
}

func TestPreload_FetchDisabledCollection(t *testing.T) {
	var calls atomic.Int32
	fetch := func(ctx context.Context, r sparse.Range, q sparse.Query) (*sparse.Page[string], error) {
		calls.Add(1)
		return &sparse.Page[string]{Records: make([]string, r.Length), Total: sparse.Total(100)}, nil
	}

	words, err := sparse.Array(fetch,
		sparse.WithLogger(zerolog.Nop()),
		sparse.WithFetchEnabled(false),
		sparse.WithLength(100),
	)
	if err != nil {
		t.Fatalf("Array() error = %v", err)
	}

	res, err := NewPreloader(words, DefaultConfig()).Preload(context.Background(), 0, 50)
	if !errors.Is(err, sparse.ErrFetchDisabled) {
		t.Fatalf("Preload() error = %v, want %v", err, sparse.ErrFetchDisabled)
	}
	if res.Loaded != 0 {
		t.Errorf("Loaded = %d, want 0", res.Loaded)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("fetch calls = %d, want 0", n)
	}
}

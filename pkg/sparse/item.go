package sparse

import (
	"context"
	"sync"
	"time"
)

// Status describes where an item is in its fetch lifecycle.
// It is derived from whether a fetch is pending, never stored.
type Status int

const (
	// StatusNeverStarted means no fetch was ever armed for the item.
	StatusNeverStarted Status = iota

	// StatusInFlight means a fetch is pending and not yet settled.
	StatusInFlight

	// StatusSettled means the last fetch was resolved or rejected.
	StatusSettled
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusNeverStarted:
		return "never-started"
	case StatusInFlight:
		return "in-flight"
	case StatusSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Clock returns the current time. Items and collections read time only
// through their clock.
type Clock func() time.Time

// pendingFetch is the handle of one outstanding content fetch.
// done is closed exactly once when the fetch settles.
type pendingFetch struct {
	done chan struct{}
}

// Item is a single addressable slot of a Collection.
//
// An item holds possibly absent content, the time the content was last
// fetched, and at most one pending fetch. Content is cleared whenever a new
// fetch is armed so old data is never reported as current during a refetch.
//
// Item is safe for concurrent use.
type Item[T any] struct {
	mu sync.Mutex

	content    T
	hasContent bool

	// lastFetchedAt is in ms since epoch; 0 means never fetched.
	lastFetchedAt int64
	ttlMillis     int64

	pending *pendingFetch
	started bool
	err     error

	clock Clock
}

// NewItem creates an empty item with a fixed TTL. A nil clock uses time.Now.
func NewItem[T any](ttl time.Duration, clock Clock) *Item[T] {
	if clock == nil {
		clock = time.Now
	}
	return &Item[T]{
		ttlMillis: ttl.Milliseconds(),
		clock:     clock,
	}
}

func (i *Item[T]) nowMillis() int64 {
	return i.clock().UnixMilli()
}

// Content returns the fetched record and whether one is present.
func (i *Item[T]) Content() (T, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.content, i.hasContent
}

// LastFetchedAt returns when content was last resolved.
// The zero time is returned if the item was never fetched or was reset.
func (i *Item[T]) LastFetchedAt() time.Time {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.lastFetchedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(i.lastFetchedAt)
}

// TTL returns the freshness window fixed at creation.
func (i *Item[T]) TTL() time.Duration {
	return time.Duration(i.ttlMillis) * time.Millisecond
}

// Status returns the derived fetch status.
func (i *Item[T]) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.statusLocked()
}

func (i *Item[T]) statusLocked() Status {
	switch {
	case i.pending != nil:
		return StatusInFlight
	case i.started:
		return StatusSettled
	default:
		return StatusNeverStarted
	}
}

// IsLoading reports whether the item has never been fetched or is being
// fetched right now.
func (i *Item[T]) IsLoading() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.statusLocked() != StatusSettled
}

// IsStale reports whether lastFetchedAt + ttl has elapsed.
func (i *Item[T]) IsStale() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.staleLocked()
}

func (i *Item[T]) staleLocked() bool {
	return i.lastFetchedAt+i.ttlMillis <= i.nowMillis()
}

// Err returns the error of the last rejected fetch, or nil.
func (i *Item[T]) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// ShouldFetch reports whether content should be (re)fetched: no fetch is
// pending and the item is stale or was last fetched at or before expiredAt.
func (i *Item[T]) ShouldFetch(expiredAt time.Time) bool {
	return i.shouldFetch(expiredAt.UnixMilli())
}

func (i *Item[T]) shouldFetch(expiredAtMillis int64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pending != nil {
		return false
	}
	return i.staleLocked() || i.lastFetchedAt <= expiredAtMillis
}

// StartFetch arms a fetch and returns a channel closed when it settles.
// If a fetch is already pending, its channel is returned and nothing
// changes.
func (i *Item[T]) StartFetch() <-chan struct{} {
	return i.arm().done
}

func (i *Item[T]) arm() *pendingFetch {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pending != nil {
		return i.pending
	}

	var zero T
	i.content = zero
	i.hasContent = false
	i.err = nil
	i.started = true
	i.pending = &pendingFetch{done: make(chan struct{})}
	return i.pending
}

// ResolveContent settles the pending fetch with record. It returns false if
// no fetch was pending.
func (i *Item[T]) ResolveContent(record T) bool {
	return i.resolve(nil, record)
}

// RejectContent settles the pending fetch with err, leaving content and
// lastFetchedAt untouched so the item stays eligible for a retry.
// It returns false if no fetch was pending.
func (i *Item[T]) RejectContent(err error) bool {
	return i.reject(nil, err)
}

// resolve settles the pending fetch. A non-nil want restricts settlement to
// that specific handle.
func (i *Item[T]) resolve(want *pendingFetch, record T) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pending == nil || (want != nil && i.pending != want) {
		return false
	}

	i.content = record
	i.hasContent = true
	i.lastFetchedAt = i.nowMillis()
	i.err = nil
	close(i.pending.done)
	i.pending = nil
	return true
}

func (i *Item[T]) reject(want *pendingFetch, err error) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pending == nil || (want != nil && i.pending != want) {
		return false
	}

	i.err = err
	close(i.pending.done)
	i.pending = nil
	return true
}

// ResetContent drops content and marks the item as never fetched, which
// makes it stale. A pending fetch is not cancelled.
func (i *Item[T]) ResetContent() {
	i.mu.Lock()
	defer i.mu.Unlock()

	var zero T
	i.content = zero
	i.hasContent = false
	i.lastFetchedAt = 0
}

// Wait blocks until the pending fetch settles or ctx is done, and returns
// the fetch error. Without a pending fetch it returns the last error at once.
func (i *Item[T]) Wait(ctx context.Context) error {
	i.mu.Lock()
	p := i.pending
	err := i.err
	i.mu.Unlock()

	if p == nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return i.Err()
	}
}

package sparse

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/Sternrassler/sparse-collection/pkg/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// emptyQueryKey is the serialized form of an empty filter. A new collection
// starts with it, so FilterBy(Query{}) on a fresh collection is a no-op.
const emptyQueryKey = "{}"

// Range is a page descriptor: a page-aligned block of indices.
// Page is 1-based.
type Range struct {
	Start  int
	Length int
	Page   int
}

// Query is the opaque filter passed through to the page callback.
type Query map[string]any

// Page is a page callback result. Total is nil when the source does not
// report one.
type Page[T any] struct {
	Records []T
	Total   *int
}

// Total returns a pointer to n for use in Page.Total.
func Total(n int) *int {
	return &n
}

// FetchFunc fetches one page of records for a query.
// It is called on its own goroutine and may block.
type FetchFunc[T any] func(ctx context.Context, r Range, q Query) (*Page[T], error)

type armedItem[T any] struct {
	item   *Item[T]
	handle *pendingFetch
}

// pageFetch is one issued page request. generation is the filter generation
// current when it was issued.
type pageFetch[T any] struct {
	rng        Range
	query      Query
	generation uint64
	armed      map[int]armedItem[T]
}

// Collection is a virtual array over a remotely paged data source.
//
// Indexing returns an Item immediately; the page containing the index is
// fetched in the background on first access or once the item is stale.
// Concurrent accesses to the same page issue exactly one request.
//
// Collection is safe for concurrent use.
type Collection[T any] struct {
	mu sync.Mutex

	id     string
	fetch  FetchFunc[T]
	ctx    context.Context
	clock  Clock
	logger zerolog.Logger

	pageSize     int
	ttl          time.Duration
	fetchEnabled bool

	// expiredAt is in ms since epoch.
	expiredAt int64

	capacity      int
	capacityKnown bool

	slots map[int]*Item[T]

	query      Query
	queryKey   string
	generation uint64

	inFlight map[Range]*pageFetch[T]

	outstanding int
	idle        chan struct{}

	observers    map[int]func(Change)
	nextObserver int
}

// New creates a collection bound to fetch.
// Returns ErrConfiguration if fetch is nil or cfg is invalid.
func New[T any](fetch FetchFunc[T], cfg Config) (*Collection[T], error) {
	if fetch == nil {
		return nil, fmt.Errorf("%w: page callback is required", ErrConfiguration)
	}
	if cfg.PageSize < 0 {
		return nil, fmt.Errorf("%w: page size must be positive (got %d)", ErrConfiguration, cfg.PageSize)
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("%w: ttl must not be negative (got %s)", ErrConfiguration, cfg.TTL)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Length != nil && *cfg.Length < 0 {
		return nil, fmt.Errorf("%w: length must not be negative (got %d)", ErrConfiguration, *cfg.Length)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}

	id := uuid.NewString()

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = logging.NewLogger("sparse-collection")
	}
	logCtx := logger.With().Str("collection", id)
	if cfg.Name != "" {
		logCtx = logCtx.Str("name", cfg.Name)
	}

	c := &Collection[T]{
		id:           id,
		fetch:        fetch,
		ctx:          cfg.Context,
		clock:        cfg.Clock,
		logger:       logCtx.Logger(),
		pageSize:     cfg.PageSize,
		ttl:          cfg.TTL,
		fetchEnabled: !cfg.FetchDisabled,
		slots:        make(map[int]*Item[T]),
		query:        Query{},
		queryKey:     emptyQueryKey,
		inFlight:     make(map[Range]*pageFetch[T]),
		observers:    make(map[int]func(Change)),
	}
	if cfg.Length != nil {
		c.capacity = *cfg.Length
		c.capacityKnown = true
	}

	return c, nil
}

// ID returns the collection's unique identifier.
func (c *Collection[T]) ID() string {
	return c.id
}

// PageSize returns the configured page size.
func (c *Collection[T]) PageSize() int {
	return c.pageSize
}

// TTL returns the TTL given to new items.
func (c *Collection[T]) TTL() time.Duration {
	return c.ttl
}

// FetchEnabled reports whether index access may trigger fetches.
func (c *Collection[T]) FetchEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchEnabled
}

// SetFetchEnabled toggles fetching, e.g. off while a list is scrolling fast.
func (c *Collection[T]) SetFetchEnabled(enabled bool) {
	c.mu.Lock()
	c.fetchEnabled = enabled
	c.mu.Unlock()
}

// ExpiredAt returns the expiry watermark set by the last Expire.
func (c *Collection[T]) ExpiredAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.UnixMilli(c.expiredAt)
}

// Query returns a copy of the current filter.
func (c *Collection[T]) Query() Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.query)
}

// GetOption adjusts a single Get call.
type GetOption func(*getOptions)

type getOptions struct {
	noFetch bool
}

// NoFetch makes Get return the item without triggering a fetch.
func NoFetch() GetOption {
	return func(o *getOptions) { o.noFetch = true }
}

// Get returns the item at index, creating it if needed, and starts a fetch of
// its page if the item should be fetched. It returns nil for negative indices
// and for indices at or past a known length. Get never blocks on the network.
func (c *Collection[T]) Get(index int, opts ...GetOption) *Item[T] {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	if index < 0 || (c.capacityKnown && index >= c.capacity) {
		c.mu.Unlock()
		return nil
	}

	item := c.itemAt(index)
	if o.noFetch || !c.fetchEnabled {
		c.mu.Unlock()
		return item
	}

	var pf *pageFetch[T]
	if item.shouldFetch(c.expiredAt) {
		pf = c.startPage(index)
	}
	c.mu.Unlock()

	c.dispatch(pf)
	return item
}

// Load gets the item at index and waits until its fetch settles. It returns
// ErrFetchDisabled if fetching is off and the item holds no content.
func (c *Collection[T]) Load(ctx context.Context, index int) error {
	item := c.Get(index)
	if item == nil {
		return fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	if err := item.Wait(ctx); err != nil {
		return err
	}
	if _, ok := item.Content(); !ok && !c.FetchEnabled() {
		return fmt.Errorf("%w: index %d", ErrFetchDisabled, index)
	}
	return nil
}

// Len returns the known length. While the length is unknown it returns 0
// and starts a fetch of the first page to learn it, unless item 0 is in
// flight or still fresh.
func (c *Collection[T]) Len() int {
	c.mu.Lock()
	if c.capacityKnown {
		n := c.capacity
		c.mu.Unlock()
		return n
	}

	var pf *pageFetch[T]
	if c.fetchEnabled && c.itemAt(0).shouldFetch(c.expiredAt) {
		pf = c.startPage(0)
	}
	c.mu.Unlock()

	c.dispatch(pf)
	return 0
}

// SetLen overwrites the known length. A negative n marks the length unknown.
func (c *Collection[T]) SetLen(n int) {
	change := Change{Kind: ChangeLength, Length: n}

	c.mu.Lock()
	if n < 0 {
		c.capacityKnown = false
		c.capacity = 0
		change.Length = -1
	} else {
		c.setCapacity(n)
	}
	c.mu.Unlock()

	c.notify([]Change{change})
}

// Loading reports whether the length is still unknown.
func (c *Collection[T]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.capacityKnown
}

// FirstItem returns the item at index 0.
func (c *Collection[T]) FirstItem() *Item[T] {
	return c.Get(0)
}

// LastItem returns the item at Len()-1, or nil while the length is 0 or
// unknown.
func (c *Collection[T]) LastItem() *Item[T] {
	n := c.Len()
	if n == 0 {
		return nil
	}
	return c.Get(n - 1)
}

// Expire drops in-flight page bookkeeping and moves the expiry watermark to
// now, so every item reports ShouldFetch on its next access. Network requests
// already issued are not aborted; their items are released with ErrExpired
// and the late responses no longer reach them.
func (c *Collection[T]) Expire() {
	c.mu.Lock()
	c.expireLocked()
	c.mu.Unlock()

	c.notify([]Change{{Kind: ChangeExpired}})
}

func (c *Collection[T]) expireLocked() {
	dropped := len(c.inFlight)
	for _, pf := range c.inFlight {
		for _, a := range pf.armed {
			a.item.reject(a.handle, ErrExpired)
		}
	}
	c.inFlight = make(map[Range]*pageFetch[T])
	c.expiredAt = c.clock().UnixMilli()
	Expirations.Inc()

	c.logger.Debug().
		Int("dropped_pages", dropped).
		Int64("expired_at", c.expiredAt).
		Msg("Collection expired")
}

// FilterBy replaces the query passed to the page callback. Filters are
// compared by their JSON form; an equal filter is a no-op. A new filter
// clears the length, expires the collection and starts length discovery.
// Responses to earlier filters are ignored.
func (c *Collection[T]) FilterBy(q Query) error {
	if q == nil {
		q = Query{}
	}
	key, err := queryKey(q)
	if err != nil {
		return fmt.Errorf("%w: filter must be serializable: %v", ErrInvalidArgument, err)
	}

	c.mu.Lock()
	if key == c.queryKey {
		c.mu.Unlock()
		return nil
	}

	c.query = maps.Clone(q)
	c.queryKey = key
	c.generation++
	c.capacityKnown = false
	c.capacity = 0
	c.expireLocked()
	FilterChanges.Inc()

	c.logger.Info().
		Str("filter", key).
		Uint64("generation", c.generation).
		Msg("Filter changed")

	var pf *pageFetch[T]
	if c.fetchEnabled {
		pf = c.startPage(0)
	}
	c.mu.Unlock()

	c.dispatch(pf)
	c.notify([]Change{
		{Kind: ChangeFilter},
		{Kind: ChangeExpired},
		{Kind: ChangeLength, Length: -1},
	})
	return nil
}

// Filter is not supported on sparse collections; use FilterBy.
func (c *Collection[T]) Filter(func(T) bool) error {
	return fmt.Errorf("%w: filter() is not supported by sparse collections, use FilterBy", ErrUnsupportedOperation)
}

// Unset clears the content of the items at the given indices, making them
// stale. Indices without an item are skipped.
func (c *Collection[T]) Unset(indices ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, idx := range indices {
		if item, ok := c.slots[idx]; ok {
			item.ResetContent()
		}
	}
}

// UnsetAll flattens groups of indices and unsets them.
func (c *Collection[T]) UnsetAll(groups ...[]int) {
	var flat []int
	for _, g := range groups {
		flat = append(flat, g...)
	}
	c.Unset(flat...)
}

// Wait blocks until no page fetch is outstanding or ctx is done.
func (c *Collection[T]) Wait(ctx context.Context) error {
	c.mu.Lock()
	if c.outstanding == 0 {
		c.mu.Unlock()
		return nil
	}
	idle := c.idle
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-idle:
		return nil
	}
}

// itemAt returns the item at index, creating it. Callers hold c.mu.
func (c *Collection[T]) itemAt(index int) *Item[T] {
	item, ok := c.slots[index]
	if !ok {
		item = NewItem[T](c.ttl, c.clock)
		c.slots[index] = item
	}
	return item
}

// pageFor returns the descriptor of the page containing index.
func (c *Collection[T]) pageFor(index int) Range {
	page := index / c.pageSize
	return Range{
		Start:  max(page*c.pageSize, 0),
		Length: c.pageSize,
		Page:   page + 1,
	}
}

// startPage registers a fetch for the page containing index and arms every
// item in it. It returns nil if that page is already in flight.
// Callers hold c.mu and must pass the result to dispatch after unlocking.
func (c *Collection[T]) startPage(index int) *pageFetch[T] {
	rng := c.pageFor(index)
	if _, ok := c.inFlight[rng]; ok {
		PageDedups.Inc()
		c.logger.Debug().
			Int("page", rng.Page).
			Int("index", index).
			Msg("Page already in flight")
		return nil
	}

	end := rng.Start + rng.Length
	if c.capacityKnown {
		end = min(end, c.capacity)
	}

	pf := &pageFetch[T]{
		rng:        rng,
		query:      maps.Clone(c.query),
		generation: c.generation,
		armed:      make(map[int]armedItem[T], rng.Length),
	}
	for i := rng.Start; i < end; i++ {
		item := c.itemAt(i)
		pf.armed[i] = armedItem[T]{item: item, handle: item.arm()}
	}
	c.inFlight[rng] = pf

	if c.outstanding == 0 {
		c.idle = make(chan struct{})
	}
	c.outstanding++

	c.logger.Debug().
		Int("page", rng.Page).
		Int("start", rng.Start).
		Int("length", rng.Length).
		Uint64("generation", pf.generation).
		Msg("Fetching page")

	return pf
}

func (c *Collection[T]) dispatch(pf *pageFetch[T]) {
	if pf == nil {
		return
	}
	go c.runPage(pf)
}

func (c *Collection[T]) runPage(pf *pageFetch[T]) {
	start := time.Now()
	page, err := c.fetch(c.ctx, pf.rng, pf.query)
	PageFetchDuration.Observe(time.Since(start).Seconds())

	var changes []Change
	c.mu.Lock()
	if c.inFlight[pf.rng] == pf {
		delete(c.inFlight, pf.rng)
	}

	if err != nil {
		changes = c.failPage(pf, err)
	} else {
		changes = c.applyPage(pf, page)
	}
	c.mu.Unlock()

	// Observers see the change before Wait returns, so they must not call Wait.
	c.notify(changes)

	c.mu.Lock()
	c.outstanding--
	if c.outstanding == 0 {
		close(c.idle)
	}
	c.mu.Unlock()
}

// failPage rejects every item still armed by pf. Callers hold c.mu.
func (c *Collection[T]) failPage(pf *pageFetch[T], err error) []Change {
	ferr := &FetchError{Range: pf.rng, Err: err}
	for _, a := range pf.armed {
		a.item.reject(a.handle, ferr)
	}
	PageFetches.WithLabelValues("error").Inc()

	c.logger.Warn().
		Err(err).
		Int("page", pf.rng.Page).
		Int("start", pf.rng.Start).
		Msg("Page fetch failed")

	return []Change{{Kind: ChangePageFailed, Range: pf.rng, Err: ferr}}
}

// applyPage resolves the items armed by pf with the records at their
// positions and, if pf belongs to the current filter generation, applies the
// reported total. Callers hold c.mu.
func (c *Collection[T]) applyPage(pf *pageFetch[T], page *Page[T]) []Change {
	if page == nil {
		page = &Page[T]{}
	}

	var changes []Change
	if pf.generation != c.generation {
		PageFetches.WithLabelValues("stale_generation").Inc()
		c.logger.Debug().
			Int("page", pf.rng.Page).
			Uint64("generation", pf.generation).
			Uint64("current_generation", c.generation).
			Msg("Ignoring total from superseded filter")
	} else {
		PageFetches.WithLabelValues("success").Inc()
		if ch, ok := c.applyTotal(pf, page.Total); ok {
			changes = append(changes, ch)
		}
	}

	for idx, a := range pf.armed {
		pos := idx - pf.rng.Start
		if pos < len(page.Records) {
			a.item.resolve(a.handle, page.Records[pos])
			continue
		}
		a.item.reject(a.handle, fmt.Errorf("%w %d", ErrMissingRecord, idx))
	}

	return append(changes, Change{Kind: ChangePageLoaded, Range: pf.rng})
}

func (c *Collection[T]) applyTotal(pf *pageFetch[T], total *int) (Change, bool) {
	if total == nil {
		return Change{}, false
	}
	if *total < 0 {
		MalformedTotals.Inc()
		c.logger.Warn().
			Err(ErrMalformedTotal).
			Int("total", *total).
			Int("page", pf.rng.Page).
			Msg("Ignoring malformed total, keeping previous length")
		return Change{}, false
	}
	if c.capacityKnown && c.capacity == *total {
		return Change{}, false
	}

	c.setCapacity(*total)
	c.logger.Info().
		Int("length", *total).
		Msg("Collection length updated")
	return Change{Kind: ChangeLength, Length: *total}, true
}

// setCapacity records a known length and drops slots past it.
// Callers hold c.mu.
func (c *Collection[T]) setCapacity(n int) {
	c.capacity = n
	c.capacityKnown = true
	for idx := range c.slots {
		if idx >= n {
			delete(c.slots, idx)
		}
	}
}

func queryKey(q Query) (string, error) {
	data, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

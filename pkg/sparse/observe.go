package sparse

// ChangeKind identifies what changed in a collection.
type ChangeKind int

const (
	// ChangeLength is emitted when the known length changes or is cleared.
	ChangeLength ChangeKind = iota + 1

	// ChangePageLoaded is emitted after a page's records were applied.
	ChangePageLoaded

	// ChangePageFailed is emitted after a page callback failed.
	ChangePageFailed

	// ChangeExpired is emitted by Expire.
	ChangeExpired

	// ChangeFilter is emitted when FilterBy replaced the query.
	ChangeFilter
)

// String returns the change kind name.
func (k ChangeKind) String() string {
	switch k {
	case ChangeLength:
		return "length"
	case ChangePageLoaded:
		return "page_loaded"
	case ChangePageFailed:
		return "page_failed"
	case ChangeExpired:
		return "expired"
	case ChangeFilter:
		return "filter"
	default:
		return "unknown"
	}
}

// Change describes one state change. Range is set for page changes, Length
// for length changes (-1 when the length became unknown), Err for failures.
type Change struct {
	Kind   ChangeKind
	Range  Range
	Length int
	Err    error
}

// Observe registers fn to be called after every change. Observers run on the
// goroutine that caused the change, outside the collection lock, so they may
// call back into the collection. The returned func unregisters fn.
//
// Wait returns only after the observers of a settling page have run, so an
// observer must not call Wait; it would block on its own page. Load and Get
// are safe.
func (c *Collection[T]) Observe(fn func(Change)) (cancel func()) {
	c.mu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *Collection[T]) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}

	c.mu.Lock()
	fns := make([]func(Change), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, ch := range changes {
		for _, fn := range fns {
			fn(ch)
		}
	}
}

package sparse

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultPageSize is the number of records requested per page.
	DefaultPageSize = 10

	// DefaultTTL is how long fetched content stays fresh.
	DefaultTTL = 10 * time.Hour
)

// Config holds collection configuration.
type Config struct {
	// Name labels the collection in logs (optional).
	Name string

	// PageSize is the page/batch size used to align fetch ranges.
	PageSize int

	// TTL is copied into every item when it is created.
	TTL time.Duration

	// FetchDisabled makes index access return placeholder items without
	// calling the page callback.
	FetchDisabled bool

	// Length primes a known length at construction (nil = unknown).
	Length *int

	// Clock overrides time.Now.
	Clock Clock

	// Logger overrides the component logger.
	Logger *zerolog.Logger

	// Context is passed to every page callback (default: context.Background).
	Context context.Context
}

// DefaultConfig returns the default collection configuration.
func DefaultConfig() Config {
	return Config{
		PageSize: DefaultPageSize,
		TTL:      DefaultTTL,
	}
}

// Option adjusts a Config before a collection is built.
type Option func(*Config)

// WithName sets the collection name used in logs.
func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithPageSize overrides the default page size.
func WithPageSize(n int) Option {
	return func(c *Config) { c.PageSize = n }
}

// WithTTL overrides the default item TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Config) { c.TTL = ttl }
}

// WithFetchEnabled enables or disables fetching on index access.
func WithFetchEnabled(enabled bool) Option {
	return func(c *Config) { c.FetchDisabled = !enabled }
}

// WithLength primes the collection with a known length.
func WithLength(n int) Option {
	return func(c *Config) { c.Length = &n }
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(c *Config) { c.Clock = clock }
}

// WithLogger overrides the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) { c.Logger = &logger }
}

// WithContext sets the context handed to page callbacks.
func WithContext(ctx context.Context) Option {
	return func(c *Config) { c.Context = ctx }
}

// Array builds a collection bound to fetch, starting from DefaultConfig and
// applying opts in order.
func Array[T any](fetch FetchFunc[T], opts ...Option) (*Collection[T], error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(fetch, cfg)
}

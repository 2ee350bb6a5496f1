// Command sparse-proxy serves a sparse collection over HTTP, backed by a
// remote paged source and an optional Redis page cache.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/Sternrassler/sparse-collection/pkg/cache"
	"github.com/Sternrassler/sparse-collection/pkg/client"
	"github.com/Sternrassler/sparse-collection/pkg/logging"
	"github.com/Sternrassler/sparse-collection/pkg/ratelimit"
	"github.com/Sternrassler/sparse-collection/pkg/sparse"
)

const userAgent = "sparse-proxy/0.1.0"

type options struct {
	SourceURL string
	Path      string
	Port      string
	PageSize  int
	TTL       time.Duration
	CacheTTL  time.Duration
	RedisAddr string
	LogLevel  logging.LogLevel
	LogPretty bool
}

func parseFlags(args []string) (options, error) {
	fs := flag.NewFlagSet("sparse-proxy", flag.ContinueOnError)

	var o options
	var level string
	fs.StringVar(&o.SourceURL, "source-url", getEnv("SOURCE_URL", ""), "base URL of the remote paged source (required)")
	fs.StringVar(&o.Path, "path", getEnv("SOURCE_PATH", "/api/words"), "path of the paged endpoint")
	fs.StringVar(&o.Port, "port", getEnv("PORT", "8080"), "listen port")
	fs.IntVar(&o.PageSize, "page-size", getEnvInt("PAGE_SIZE", sparse.DefaultPageSize), "records per page")
	fs.DurationVar(&o.TTL, "ttl", getEnvDuration("ITEM_TTL", sparse.DefaultTTL), "item freshness")
	fs.DurationVar(&o.CacheTTL, "cache-ttl", getEnvDuration("CACHE_TTL", cache.DefaultTTL), "page cache entry lifetime")
	fs.StringVar(&o.RedisAddr, "redis-url", getEnv("REDIS_URL", ""), "Redis address for the shared page cache (optional)")
	fs.StringVar(&level, "log-level", getEnv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	fs.BoolVar(&o.LogPretty, "log-pretty", getEnv("LOG_PRETTY", "") == "true", "human-readable logs")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if o.SourceURL == "" {
		return options{}, errors.New("--source-url is required")
	}
	if o.PageSize <= 0 {
		return options{}, fmt.Errorf("--page-size must be positive (got %d)", o.PageSize)
	}

	parsed, err := logging.ParseLevel(level)
	if err != nil {
		return options{}, err
	}
	o.LogLevel = parsed

	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "sparse-proxy: %v\n", err)
		os.Exit(2)
	}

	logger := logging.Setup(logging.Config{
		Level:   opts.LogLevel,
		Pretty:  opts.LogPretty,
		Output:  os.Stderr,
		Service: "sparse-proxy",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, opts options, logger zerolog.Logger) error {
	var redisClient *redis.Client
	if opts.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: opts.RedisAddr,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("redis", opts.RedisAddr).Msg("Connected to Redis")
	}

	records, err := newCollection(ctx, opts, redisClient, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + opts.Port,
		Handler:           newServer(records, logger).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("source", opts.SourceURL).
			Str("path", opts.Path).
			Int("page_size", opts.PageSize).
			Msg("Starting sparse proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newCollection wires the remote client, error budget and optional page
// cache into a collection of raw JSON records.
func newCollection(ctx context.Context, opts options, redisClient *redis.Client, logger zerolog.Logger) (*sparse.Collection[json.RawMessage], error) {
	budget := ratelimit.DefaultConfig()
	budget.Source = opts.SourceURL

	cfg := client.DefaultConfig(opts.SourceURL, userAgent)
	cfg.Tracker = ratelimit.NewTracker(redisClient, budget, logger)

	remote, err := client.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	fetch := client.Fetcher[json.RawMessage](remote, opts.Path)
	if redisClient != nil {
		fetch = cache.Wrap(cache.NewManager(redisClient), opts.SourceURL+opts.Path, opts.CacheTTL, fetch)
	}

	return sparse.Array(fetch,
		sparse.WithName(opts.Path),
		sparse.WithPageSize(opts.PageSize),
		sparse.WithTTL(opts.TTL),
		sparse.WithContext(ctx),
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/sparse-collection/pkg/logging"
)

// Config holds preloader configuration
type Config struct {
	// MaxConcurrency is the maximum number of pages loaded in parallel
	MaxConcurrency int
	// Timeout per page load
	Timeout time.Duration
	// Buffer size for channels
	BufferSize int
}

// DefaultConfig returns a default preloader configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
		BufferSize:     64,
	}
}

// Loader is a paged collection the preloader can warm. sparse.Collection
// implements it.
type Loader interface {
	// Load requests the item at index and waits until its page settles
	Load(ctx context.Context, index int) error
	// PageSize is the number of items per page
	PageSize() int
	// Len is the known length, 0 while unknown
	Len() int
}

// PageResult represents the result of loading a single page
type PageResult struct {
	Start int
	Error error
}

// Result summarises a preload run
type Result struct {
	// Pages is the number of pages covering the requested window
	Pages int
	// Loaded is the number of pages that settled successfully
	Loaded int
	// Failed maps the start index of each failed page to its error
	Failed map[int]error
}

// Preloader loads the pages covering an index window with a worker pool
type Preloader struct {
	loader Loader
	config Config
	logger zerolog.Logger
}

// NewPreloader creates a new preloader
func NewPreloader(loader Loader, config Config) *Preloader {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}

	return &Preloader{
		loader: loader,
		config: config,
		logger: logging.NewLogger("preloader"),
	}
}

// Preload loads every page overlapping [from, to). The first page is loaded
// on its own so the window can be clipped to the length it reports; the
// rest are spread across the worker pool. Failed pages do not stop the run;
// they are reported in Result.Failed and joined into the returned error.
func (p *Preloader) Preload(ctx context.Context, from, to int) (Result, error) {
	result := Result{Failed: make(map[int]error)}
	if from < 0 {
		from = 0
	}
	if to <= from {
		return result, nil
	}

	start := time.Now()
	pageSize := p.loader.PageSize()
	if pageSize <= 0 {
		return result, fmt.Errorf("invalid page size %d", pageSize)
	}
	first := (from / pageSize) * pageSize

	if err := p.loadPage(ctx, first); err != nil {
		result.Pages = 1
		result.Failed[first] = err
		return result, fmt.Errorf("failed to load first page: %w", err)
	}
	result.Loaded = 1

	if n := p.loader.Len(); n > 0 && to > n {
		to = n
	}

	var starts []int
	for s := first + pageSize; s < to; s += pageSize {
		starts = append(starts, s)
	}
	result.Pages = 1 + len(starts)

	p.logger.Debug().
		Int("from", from).
		Int("to", to).
		Int("pages", result.Pages).
		Msg("Starting preload")

	if len(starts) > 0 {
		pageQueue := make(chan int, p.config.BufferSize)
		pageResults := make(chan PageResult, p.config.BufferSize)

		go func() {
			defer close(pageQueue)
			for _, s := range starts {
				select {
				case pageQueue <- s:
				case <-ctx.Done():
					return
				}
			}
		}()

		var wg sync.WaitGroup
		for i := 0; i < min(p.config.MaxConcurrency, len(starts)); i++ {
			wg.Add(1)
			go p.worker(ctx, pageQueue, pageResults, &wg, i)
		}

		go func() {
			wg.Wait()
			close(pageResults)
		}()

		for r := range pageResults {
			if r.Error != nil {
				result.Failed[r.Start] = r.Error
				continue
			}
			result.Loaded++
		}
	}

	p.logger.Debug().
		Int("loaded", result.Loaded).
		Int("failed", len(result.Failed)).
		Int("pages", result.Pages).
		Dur("duration", time.Since(start)).
		Msg("Preload complete")

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("preload cancelled (partial: %d/%d pages): %w", result.Loaded, result.Pages, err)
	}
	if len(result.Failed) > 0 {
		errs := make([]error, 0, len(result.Failed))
		for _, err := range result.Failed {
			errs = append(errs, err)
		}
		return result, fmt.Errorf("preload (partial: %d/%d pages): %w", result.Loaded, result.Pages, errors.Join(errs...))
	}

	return result, nil
}

func (p *Preloader) loadPage(ctx context.Context, start int) error {
	pageCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()
	return p.loader.Load(pageCtx, start)
}

// worker processes page starts from the queue
func (p *Preloader) worker(ctx context.Context, pageQueue <-chan int, results chan<- PageResult, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	pagesProcessed := 0

	for s := range pageQueue {
		if ctx.Err() != nil {
			p.logger.Debug().
				Int("worker_id", workerID).
				Int("pages_processed", pagesProcessed).
				Msg("Worker stopping (context cancelled)")
			return
		}

		err := p.loadPage(ctx, s)
		if err != nil {
			p.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("start", s).
				Msg("Page preload failed")
		}

		results <- PageResult{Start: s, Error: err}
		pagesProcessed++
	}
}

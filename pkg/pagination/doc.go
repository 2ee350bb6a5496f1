// Package pagination warms ranges of a paged collection in parallel.
//
// A sparse collection fetches a page only when one of its indices is read.
// When a caller knows it is about to show a window of items (for example
// the next screen of a scrolling list), Preloader requests the pages
// covering that window up front through a bounded worker pool.
//
// Example usage:
//
//	preloader := pagination.NewPreloader(words, pagination.DefaultConfig())
//	res, err := preloader.Preload(ctx, 700, 800)
//
// The preloader:
//   - Loads the first page of the window to learn the length
//   - Clips the window to that length
//   - Distributes the remaining pages across workers (default 4)
//   - Reports failed pages without aborting the others
package pagination

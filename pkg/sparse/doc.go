// Package sparse provides a virtual array over large, remotely paged datasets.
//
// A Collection behaves like a fully materialized array of Items, but only the
// pages that are actually indexed get fetched. Each index maps lazily to an
// Item that carries possibly absent content, the time it was last fetched and
// its loading state, so callers can render placeholders while pages arrive.
//
// # Basic Usage
//
//	words, err := sparse.Array(func(ctx context.Context, r sparse.Range, q sparse.Query) (*sparse.Page[Word], error) {
//		records, total, err := api.ListWords(ctx, r.Start, r.Length, q)
//		if err != nil {
//			return nil, err
//		}
//		return &sparse.Page[Word]{Records: records, Total: sparse.Total(total)}, nil
//	}, sparse.WithPageSize(25))
//
//	n := words.Len()       // 0 until the first page reports a total
//	item := words.Get(723) // returns at once, fetches page 29 in the background
//	if w, ok := item.Content(); ok {
//		fmt.Println(w.Phrase)
//	}
//
// # Fetch Coordination
//
//   - An index belongs to page floor(index / pageSize); the whole page is
//     requested with one callback invocation.
//   - At most one request per page is in flight. Every item of the page is
//     armed before the callback is started, so concurrent accesses to the
//     same page never issue a second request.
//   - A successful page resolves its items by position and updates the length
//     when the reported total is a non-negative integer. Otherwise the
//     previous length is kept and a warning is logged.
//   - A failed page rejects the items it armed; they stay stale and are
//     fetched again on their next access. Nothing is retried automatically.
//
// # Staleness
//
// An item is stale once lastFetchedAt + TTL has passed. Expire moves the
// collection's watermark to now so every item is refetched on next access,
// without evicting anything. FilterBy changes the query, clears the length,
// expires the collection and discards late responses from older filters via
// a generation counter.
//
// # Metrics
//
//   - sparse_page_fetches_total{result} - Settled page fetches
//   - sparse_page_fetch_duration_seconds - Page callback duration
//   - sparse_page_dedup_total - Requests deduplicated against in-flight pages
//   - sparse_malformed_totals_total - Rejected page totals
//   - sparse_expirations_total - Expire calls
//   - sparse_filter_changes_total - Effective FilterBy calls
package sparse

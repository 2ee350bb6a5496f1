package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/Sternrassler/sparse-collection/pkg/logging"
	"github.com/Sternrassler/sparse-collection/pkg/sparse"
)

const (
	// DefaultTTL is used when Wrap is given a non-positive TTL
	DefaultTTL = 5 * time.Minute
)

// Wrap returns a page callback that serves pages of source from the Redis
// cache and falls through to next on a miss. Concurrent misses for the same
// page share one call to next. Cache failures are logged and bypassed, and
// only successful pages are stored.
//
// A nil manager disables caching and returns next unchanged.
func Wrap[T any](m *Manager, source string, ttl time.Duration, next sparse.FetchFunc[T]) sparse.FetchFunc[T] {
	if m == nil {
		return next
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	logger := logging.NewLogger("page-cache").With().Str("source", source).Logger()
	var flight singleflight.Group

	return func(ctx context.Context, r sparse.Range, q sparse.Query) (*sparse.Page[T], error) {
		key := CacheKey{Source: source, Start: r.Start, Length: r.Length, Query: q}

		if page, ok := lookup[T](ctx, m, key, logger); ok {
			return page, nil
		}

		v, err, shared := flight.Do(key.String(), func() (any, error) {
			// A concurrent load may have filled the entry while we waited
			if page, ok := lookup[T](ctx, m, key, logger); ok {
				return page, nil
			}

			page, err := next(ctx, r, q)
			if err != nil {
				return nil, err
			}
			if page == nil {
				return nil, fmt.Errorf("page %d: source returned no page", r.Page)
			}

			store(ctx, m, key, page, ttl, logger)
			return page, nil
		})
		if err != nil {
			return nil, err
		}
		if shared {
			SharedLoads.Inc()
		}

		page := v.(*sparse.Page[T])
		return &sparse.Page[T]{
			Records: append([]T(nil), page.Records...),
			Total:   page.Total,
		}, nil
	}
}

func lookup[T any](ctx context.Context, m *Manager, key CacheKey, logger zerolog.Logger) (*sparse.Page[T], bool) {
	entry, err := m.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			logger.Warn().Err(err).Str("key", key.String()).Msg("Page cache read failed, using source")
		}
		return nil, false
	}

	records, err := DecodeRecords[T](entry.Records)
	if err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		logger.Warn().Err(err).Str("key", key.String()).Msg("Cached page undecodable, using source")
		_ = m.Delete(ctx, key)
		return nil, false
	}

	logger.Debug().Int("start", key.Start).Int("length", key.Length).Msg("Page cache hit")
	return &sparse.Page[T]{Records: records, Total: entry.Total}, true
}

func store[T any](ctx context.Context, m *Manager, key CacheKey, page *sparse.Page[T], ttl time.Duration, logger zerolog.Logger) {
	raw, err := EncodeRecords(page.Records)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		logger.Warn().Err(err).Str("key", key.String()).Msg("Page not cacheable")
		return
	}

	now := time.Now()
	entry := &PageEntry{
		Records:  raw,
		Total:    page.Total,
		CachedAt: now,
		Expires:  now.Add(ttl),
	}
	if err := m.Set(ctx, key, entry); err != nil {
		logger.Warn().Err(err).Str("key", key.String()).Msg("Page cache write failed")
	}
}

// EncodeRecords encodes records with msgpack, honouring json struct tags
// so record types need no msgpack-specific annotations.
func EncodeRecords[T any](records []T) (msgpack.RawMessage, error) {
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetCustomStructTag("json")
	enc.SetSortMapKeys(true)
	err := enc.Encode(records)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", records, err)
	}
	return buf.Bytes(), nil
}

// DecodeRecords is the inverse of EncodeRecords.
func DecodeRecords[T any](raw msgpack.RawMessage) ([]T, error) {
	var records []T
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(raw))
	dec.SetCustomStructTag("json")
	err := dec.Decode(&records)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %T: %v", ErrInvalidEntry, records, err)
	}
	return records, nil
}

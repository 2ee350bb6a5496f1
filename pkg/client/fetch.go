package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/Sternrassler/sparse-collection/pkg/sparse"
)

// maxPageBytes bounds the size of a decoded page body.
const maxPageBytes = 32 << 20

// pageResponse is the wire format of a page:
// {"data": [...], "meta": {"total": N}}.
type pageResponse[T any] struct {
	Data []T `json:"data"`
	Meta struct {
		Total json.RawMessage `json:"total"`
	} `json:"meta"`
}

// Fetcher returns a page callback that reads pages of path from c.
//
// A page is requested as GET path?offset=<start>&limit=<length> plus one
// parameter per query entry. A total that is missing, null or not an
// integer is reported as absent; negative totals are passed through for the
// collection to reject.
func Fetcher[T any](c *Client, path string) sparse.FetchFunc[T] {
	return func(ctx context.Context, r sparse.Range, q sparse.Query) (*sparse.Page[T], error) {
		resp, err := c.Get(ctx, path, PageParams(r, q))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, &RemoteError{
				StatusCode: resp.StatusCode,
				ErrorClass: Classify(resp, nil),
				Endpoint:   path,
				Message:    resp.Status,
			}
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return nil, fmt.Errorf("read page %d: %w", r.Page, err)
		}

		var page pageResponse[T]
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrInvalidResponse, r.Page, err)
		}

		total, ok := ParseTotal(page.Meta.Total)
		if !ok {
			c.logger.Warn().
				Str("endpoint", path).
				Int("page", r.Page).
				RawJSON("total", page.Meta.Total).
				Msg("Page total is not an integer, treating as absent")
		}

		return &sparse.Page[T]{Records: page.Data, Total: total}, nil
	}
}

// PageParams builds the query parameters of a page request. Query values
// that are string slices become repeated parameters; everything else is
// formatted with fmt.
func PageParams(r sparse.Range, q sparse.Query) url.Values {
	params := url.Values{}

	keys := make([]string, 0, len(q))
	for key := range q {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch v := q[key].(type) {
		case nil:
		case string:
			params.Set(key, v)
		case []string:
			params[key] = append([]string(nil), v...)
		case []any:
			for _, item := range v {
				params.Add(key, fmt.Sprint(item))
			}
		default:
			params.Set(key, fmt.Sprint(v))
		}
	}

	// Paging parameters win over query entries of the same name
	params.Set("offset", strconv.Itoa(r.Start))
	params.Set("limit", strconv.Itoa(r.Length))

	return params
}

// ParseTotal decodes a raw total. It returns nil, true when the total is
// missing or null, and nil, false when it is present but not an integer.
func ParseTotal(raw json.RawMessage) (*int, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, true
	}

	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, false
	}
	return sparse.Total(n), true
}

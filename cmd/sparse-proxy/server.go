package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/sparse-collection/pkg/metrics"
	"github.com/Sternrassler/sparse-collection/pkg/pagination"
	"github.com/Sternrassler/sparse-collection/pkg/sparse"
)

// maxWindow caps the number of items returned by one window request.
const maxWindow = 500

type server struct {
	records   *sparse.Collection[json.RawMessage]
	preloader *pagination.Preloader
	logger    zerolog.Logger
	timeout   time.Duration
}

func newServer(records *sparse.Collection[json.RawMessage], logger zerolog.Logger) *server {
	return &server{
		records:   records,
		preloader: pagination.NewPreloader(records, pagination.DefaultConfig()),
		logger:    logger,
		timeout:   30 * time.Second,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /length", s.handleLength)
	mux.HandleFunc("GET /items/{index}", s.handleItem)
	mux.HandleFunc("GET /items", s.handleWindow)
	mux.HandleFunc("POST /preload", s.handlePreload)
	mux.HandleFunc("POST /filter", s.handleFilter)
	mux.HandleFunc("POST /expire", s.handleExpire)
	mux.HandleFunc("POST /unset", s.handleUnset)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

type lengthResponse struct {
	Length  int  `json:"length"`
	Loading bool `json:"loading"`
}

func (s *server) handleLength(w http.ResponseWriter, r *http.Request) {
	n := s.records.Len()
	s.writeJSON(w, http.StatusOK, lengthResponse{Length: n, Loading: s.records.Loading()})
}

type itemView struct {
	Index         int             `json:"index"`
	Status        string          `json:"status"`
	Content       json.RawMessage `json:"content,omitempty"`
	Stale         bool            `json:"stale"`
	LastFetchedAt *time.Time      `json:"last_fetched_at,omitempty"`
	Error         string          `json:"error,omitempty"`
}

func viewOf(index int, item *sparse.Item[json.RawMessage]) itemView {
	v := itemView{
		Index:  index,
		Status: item.Status().String(),
		Stale:  item.IsStale(),
	}
	if content, ok := item.Content(); ok {
		v.Content = content
	}
	if at := item.LastFetchedAt(); !at.IsZero() {
		v.LastFetchedAt = &at
	}
	if err := item.Err(); err != nil {
		v.Error = err.Error()
	}
	return v
}

// handleItem returns one item. With ?wait=true it blocks until the item's
// page settles.
func (s *server) handleItem(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid index %q", r.PathValue("index")))
		return
	}

	var getOpts []sparse.GetOption
	if r.URL.Query().Get("wait") == "true" {
		// Load does the fetching; the read after it must not start a retry.
		getOpts = append(getOpts, sparse.NoFetch())

		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()

		if err := s.records.Load(ctx, index); err != nil {
			switch {
			case errors.Is(err, sparse.ErrOutOfRange):
				s.writeError(w, http.StatusNotFound, err)
				return
			case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
				s.writeError(w, http.StatusGatewayTimeout, err)
				return
			}
			// Fetch errors are reported on the item itself.
			s.logger.Debug().Err(err).Int("index", index).Msg("Item load failed")
		}
	}

	item := s.records.Get(index, getOpts...)
	if item == nil {
		s.writeError(w, http.StatusNotFound, fmt.Errorf("%w: %d", sparse.ErrOutOfRange, index))
		return
	}
	s.writeJSON(w, http.StatusOK, viewOf(index, item))
}

type windowResponse struct {
	From   int        `json:"from"`
	To     int        `json:"to"`
	Length int        `json:"length"`
	Items  []itemView `json:"items"`
}

// handleWindow returns the items in [from, to) without blocking, starting
// fetches for pages that need them.
func (s *server) handleWindow(w http.ResponseWriter, r *http.Request) {
	from, to, err := windowParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	n := s.records.Len()
	if !s.records.Loading() {
		to = min(to, n)
	}

	resp := windowResponse{From: from, To: to, Length: n, Items: []itemView{}}
	for i := from; i < to; i++ {
		item := s.records.Get(i)
		if item == nil {
			break
		}
		resp.Items = append(resp.Items, viewOf(i, item))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type preloadResponse struct {
	Pages  int            `json:"pages"`
	Loaded int            `json:"loaded"`
	Failed map[int]string `json:"failed,omitempty"`
}

// handlePreload loads every page covering [from, to) and reports the result.
func (s *server) handlePreload(w http.ResponseWriter, r *http.Request) {
	from, to, err := windowParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	result, err := s.preloader.Preload(ctx, from, to)
	resp := preloadResponse{Pages: result.Pages, Loaded: result.Loaded}
	if len(result.Failed) > 0 {
		resp.Failed = make(map[int]string, len(result.Failed))
		for start, ferr := range result.Failed {
			resp.Failed[start] = ferr.Error()
		}
	}

	status := http.StatusOK
	if err != nil {
		s.logger.Warn().Err(err).Int("from", from).Int("to", to).Msg("Preload incomplete")
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, resp)
}

func (s *server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var q sparse.Query
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&q); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode filter: %w", err))
		return
	}

	if err := s.records.FilterBy(q); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleExpire(w http.ResponseWriter, r *http.Request) {
	s.records.Expire()
	w.WriteHeader(http.StatusNoContent)
}

// handleUnset clears the content of every ?i= index.
func (s *server) handleUnset(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query()["i"]
	if len(raw) == 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("at least one i parameter is required"))
		return
	}

	indices := make([]int, 0, len(raw))
	for _, v := range raw {
		i, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid index %q", v))
			return
		}
		indices = append(indices, i)
	}

	s.records.Unset(indices...)
	w.WriteHeader(http.StatusNoContent)
}

func windowParams(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	from, err := strconv.Atoi(q.Get("from"))
	if err != nil || from < 0 {
		return 0, 0, fmt.Errorf("invalid from %q", q.Get("from"))
	}
	to, err := strconv.Atoi(q.Get("to"))
	if err != nil || to < from {
		return 0, 0, fmt.Errorf("invalid to %q", q.Get("to"))
	}
	if to-from > maxWindow {
		return 0, 0, fmt.Errorf("window of %d items exceeds %d", to-from, maxWindow)
	}
	return from, to, nil
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

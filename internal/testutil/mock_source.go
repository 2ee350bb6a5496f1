// Package testutil provides testing utilities for remote sparse sources.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// WordsPath is the path of the paged words endpoint.
const WordsPath = "/api/words"

// Word is one record served by MockSource.
type Word struct {
	ID     int    `json:"id"`
	Phrase string `json:"phrase"`
}

var (
	adjectives = []string{"brainy", "tame", "quiet", "bold", "eager", "fuzzy", "lucky", "plain"}
	nouns      = []string{"carnation", "fox", "river", "lantern", "meadow", "otter", "piano", "quartz", "saddle", "tulip"}
)

// WordAt returns the deterministic word at index i.
func WordAt(i int) Word {
	adj := adjectives[i%len(adjectives)]
	noun := nouns[(i/len(adjectives))%len(nouns)]
	return Word{ID: i, Phrase: fmt.Sprintf("%s %s %d", adj, noun, i)}
}

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSource is a configurable mock paged source for testing.
//
// GET /api/words?offset=&limit=&q= returns
// {"data": [...], "meta": {"total": N}} over a fixed list of words; q keeps
// only phrases containing it.
type MockSource struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	words []Word

	delay       time.Duration
	failNext    int
	failStatus  int
	rawTotal    string
	errorRemain string
	errorReset  string

	// Tracking
	RequestCount int
	Requests     []url.Values
}

// NewMockSource creates a mock source serving n words.
func NewMockSource(n int) *MockSource {
	words := make([]Word, n)
	for i := range words {
		words[i] = WordAt(i)
	}

	mock := &MockSource{
		handlers:    make(map[string]func(w http.ResponseWriter, r *http.Request)),
		words:       words,
		errorRemain: "100",
		errorReset:  "60",
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.Requests = append(mock.Requests, r.URL.Query())
		mock.mu.Unlock()

		// Check for custom handler
		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		if r.URL.Path == WordsPath {
			mock.wordsHandler(w, r)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSource) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSource) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockSource) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.Requests = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockSource) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockSource) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetDelay delays every words response.
func (m *MockSource) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// FailNext answers the next n words requests with status.
func (m *MockSource) FailNext(n, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failStatus = status
}

// SetRawTotal replaces meta.total with raw JSON (e.g. "-5", `"12"`, "null").
// An empty string restores the real total.
func (m *MockSource) SetRawTotal(raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rawTotal = raw
}

// SetErrorLimit sets the error budget headers sent with every words response.
func (m *MockSource) SetErrorLimit(remain, reset int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorRemain = strconv.Itoa(remain)
	m.errorReset = strconv.Itoa(reset)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSource) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// RequestQuery returns the query parameters of the i-th request.
func (m *MockSource) RequestQuery(i int) url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if i < 0 || i >= len(m.Requests) {
		return nil
	}
	return m.Requests[i]
}

// Offsets returns the offset parameter of every request, in arrival order.
func (m *MockSource) Offsets() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	offsets := make([]int, 0, len(m.Requests))
	for _, q := range m.Requests {
		n, _ := strconv.Atoi(q.Get("offset"))
		offsets = append(offsets, n)
	}
	return offsets
}

// Matching returns the words whose phrase contains q.
func (m *MockSource) Matching(q string) []Word {
	if q == "" {
		return m.words
	}
	var out []Word
	for _, w := range m.words {
		if strings.Contains(w.Phrase, q) {
			out = append(out, w)
		}
	}
	return out
}

func (m *MockSource) wordsHandler(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	delay := m.delay
	fail := m.failNext > 0
	status := m.failStatus
	if fail {
		m.failNext--
	}
	rawTotal := m.rawTotal
	remain, reset := m.errorRemain, m.errorReset
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("X-Error-Limit-Remain", remain)
	w.Header().Set("X-Error-Limit-Reset", reset)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	if fail {
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"error": %q}`, http.StatusText(status))
		return
	}

	params := r.URL.Query()
	offset, err := strconv.Atoi(params.Get("offset"))
	if err != nil || offset < 0 {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid offset"}`))
		return
	}
	limit, err := strconv.Atoi(params.Get("limit"))
	if err != nil || limit <= 0 {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid limit"}`))
		return
	}

	matching := m.Matching(params.Get("q"))
	end := min(offset+limit, len(matching))
	data := []Word{}
	if offset < end {
		data = matching[offset:end]
	}

	total := json.RawMessage(strconv.Itoa(len(matching)))
	if rawTotal != "" {
		total = json.RawMessage(rawTotal)
	}

	body := struct {
		Data []Word `json:"data"`
		Meta struct {
			Total json.RawMessage `json:"total"`
		} `json:"meta"`
	}{Data: data}
	body.Meta.Total = total

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"X-Error-Limit-Remain": "95",
			"X-Error-Limit-Reset":  "60",
			"Content-Type":         "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"X-Error-Limit-Remain": "5",
			"X-Error-Limit-Reset":  "30",
			"Content-Type":         "application/json; charset=utf-8",
		},
	}
}

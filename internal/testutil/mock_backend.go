// Package testutil provides testing utilities for the fan-out benchmark.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/fanout-bench/pkg/table"
)

// MockResponse defines a canned response for a mock backend endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockBackend is a configurable in-memory data service speaking the HTTP
// backend protocol. Data requests answer one row per requested identifier with
// values from CellFor.
type MockBackend struct {
	server *httptest.Server

	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	tokens   map[string]bool
	queued   []MockResponse
	nextID   int

	throttleRemaining int
	throttleReset     int

	// Tracking
	RequestCount     int
	DataRequestCount int
	SessionsOpened   int
	SessionsClosed   int
	LastParameters   map[string]string
	LastUniverse     []string
}

// NewMockBackend starts a mock backend server.
func NewMockBackend() *MockBackend {
	mock := &MockBackend{
		handlers: make(map[string]http.HandlerFunc),
		tokens:   make(map[string]bool),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		switch {
		case r.URL.Path == "/v1/sessions" && r.Method == http.MethodPost:
			mock.openSession(w, r)
		case strings.HasPrefix(r.URL.Path, "/v1/sessions/") && r.Method == http.MethodDelete:
			mock.closeSession(w, r)
		case r.URL.Path == "/v1/data" && r.Method == http.MethodPost:
			mock.data(w, r)
		default:
			writeError(w, http.StatusNotFound, "not found")
		}
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockBackend) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockBackend) Close() {
	m.server.Close()
}

// SetHandler overrides the handler for a path.
func (m *MockBackend) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// QueueDataResponse makes the next data request answer with resp instead of a table.
// Queued responses are consumed in order.
func (m *MockBackend) QueueDataResponse(resp ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = append(m.queued, resp...)
}

// SetThrottle makes every data response carry throttle headers.
func (m *MockBackend) SetThrottle(remaining, resetSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.throttleRemaining = remaining
	m.throttleReset = resetSeconds
}

// GetDataRequestCount returns the number of data requests received.
func (m *MockBackend) GetDataRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.DataRequestCount
}

// GetSessionCounts returns how many sessions were opened and closed.
func (m *MockBackend) GetSessionCounts() (opened, closed int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.SessionsOpened, m.SessionsClosed
}

// GetLastParameters returns the parameters of the last data request.
func (m *MockBackend) GetLastParameters() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastParameters
}

func (m *MockBackend) openSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AppKey string `json:"app_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AppKey == "" {
		writeError(w, http.StatusUnauthorized, "app key required")
		return
	}

	m.mu.Lock()
	m.nextID++
	token := fmt.Sprintf("token-%d", m.nextID)
	m.tokens[token] = true
	m.SessionsOpened++
	m.mu.Unlock()

	writeJSON(w, http.StatusCreated, map[string]string{"token": token})
}

func (m *MockBackend) closeSession(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")

	m.mu.Lock()
	known := m.tokens[token]
	delete(m.tokens, token)
	if known {
		m.SessionsClosed++
	}
	m.mu.Unlock()

	if !known {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *MockBackend) data(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	m.mu.Lock()
	m.DataRequestCount++
	valid := m.tokens[token]
	var queued *MockResponse
	if len(m.queued) > 0 {
		resp := m.queued[0]
		m.queued = m.queued[1:]
		queued = &resp
	}
	remaining, reset := m.throttleRemaining, m.throttleReset
	m.mu.Unlock()

	if reset > 0 {
		w.Header().Set("X-Throttle-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-Throttle-Reset", strconv.Itoa(reset))
	}

	if !valid {
		writeError(w, http.StatusUnauthorized, "invalid session token")
		return
	}

	if queued != nil {
		if queued.Delay > 0 {
			time.Sleep(queued.Delay)
		}
		for key, value := range queued.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(queued.StatusCode)
		if queued.Body != "" {
			w.Write([]byte(queued.Body))
		}
		return
	}

	var req struct {
		Universe   []string          `json:"universe"`
		Fields     []string          `json:"fields"`
		Parameters map[string]string `json:"parameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	m.mu.Lock()
	m.LastParameters = req.Parameters
	m.LastUniverse = req.Universe
	m.mu.Unlock()

	headers := append([]string{table.IdentifierColumn}, req.Fields...)
	data := make([][]any, 0, len(req.Universe))
	for _, id := range req.Universe {
		rec := make([]any, 0, len(headers))
		rec = append(rec, id)
		for _, f := range req.Fields {
			rec = append(rec, wireCell(CellFor(id, f)))
		}
		data = append(data, rec)
	}

	writeJSON(w, http.StatusOK, map[string]any{"headers": headers, "data": data})
}

func wireCell(v table.Value) any {
	switch v.Kind {
	case table.KindString:
		return v.Str
	case table.KindNumber:
		return v.Num
	case table.KindDate:
		return v.Date.Format(table.DateLayout)
	default:
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"X-Throttle-Remaining": "0",
			"X-Throttle-Reset":     "30",
			"Content-Type":         "application/json; charset=utf-8",
		},
	}
}

// NewBadFieldResponse creates a 400 response for an unknown field.
func NewBadFieldResponse(field string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       fmt.Sprintf(`{"error": "unknown field %s"}`, field),
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

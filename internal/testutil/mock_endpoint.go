// Package testutil provides testing utilities for the bulk lookup pipeline.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// LookupPath is the path prefix served by MockEndpoint.
const LookupPath = "/lookup/"

// MockResponse defines one answer of the mock endpoint.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockEndpoint is a configurable lookup endpoint for tests. Each key can be
// scripted with a sequence of responses; the last one repeats once the
// sequence is used up. Unscripted keys get the default response.
type MockEndpoint struct {
	server *httptest.Server

	mu           sync.RWMutex
	scripts      map[string][]MockResponse
	defaultResp  *MockResponse
	requests     map[string]int
	totalCount   int
	lastHeader   http.Header
	inFlight     int
	peakInFlight int
}

// NewMockEndpoint starts a mock lookup endpoint.
func NewMockEndpoint() *MockEndpoint {
	mock := &MockEndpoint{
		scripts:  make(map[string][]MockResponse),
		requests: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockEndpoint) URL() string {
	return m.server.URL
}

// Endpoint returns a lookup URL template for client.Config.Endpoint.
func (m *MockEndpoint) Endpoint() string {
	return m.server.URL + LookupPath + "{key}"
}

// Close shuts down the mock server.
func (m *MockEndpoint) Close() {
	m.server.CloseClientConnections()
	m.server.Close()
}

// SetResponse makes every request for key answer with resp.
func (m *MockEndpoint) SetResponse(key string, resp MockResponse) {
	m.SetSequence(key, resp)
}

// SetSequence scripts successive answers for key.
func (m *MockEndpoint) SetSequence(key string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[key] = responses
}

// SetDefault sets the answer for unscripted keys.
func (m *MockEndpoint) SetDefault(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp = &resp
}

// RequestCount returns the number of requests received for key.
func (m *MockEndpoint) RequestCount(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[key]
}

// TotalRequests returns the number of requests received.
func (m *MockEndpoint) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalCount
}

// PeakInFlight returns the highest number of concurrent requests observed.
func (m *MockEndpoint) PeakInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peakInFlight
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockEndpoint) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// Reset clears all tracking counters.
func (m *MockEndpoint) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = make(map[string]int)
	m.totalCount = 0
	m.lastHeader = nil
	m.peakInFlight = 0
}

func (m *MockEndpoint) handle(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, LookupPath)

	m.mu.Lock()
	n := m.requests[key]
	m.requests[key] = n + 1
	m.totalCount++
	m.lastHeader = r.Header.Clone()
	m.inFlight++
	if m.inFlight > m.peakInFlight {
		m.peakInFlight = m.inFlight
	}
	resp := m.responseFor(key, n)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// responseFor must be called with mu held.
func (m *MockEndpoint) responseFor(key string, n int) MockResponse {
	script, ok := m.scripts[key]
	if ok && len(script) > 0 {
		if n >= len(script) {
			n = len(script) - 1
		}
		return script[n]
	}
	if m.defaultResp != nil {
		return *m.defaultResp
	}
	return NotFound()
}

// OK creates a 200 response with body.
func OK(body string) MockResponse {
	return MockResponse{StatusCode: http.StatusOK, Body: body}
}

// NotFound creates a 404 response.
func NotFound() MockResponse {
	return MockResponse{StatusCode: http.StatusNotFound, Body: "not found"}
}

// ServerError creates a 500 response.
func ServerError() MockResponse {
	return MockResponse{StatusCode: http.StatusInternalServerError, Body: "internal error"}
}

// Slow creates a 200 response delivered after delay. Use a delay longer
// than the client timeout to simulate a timed-out attempt.
func Slow(body string, delay time.Duration) MockResponse {
	return MockResponse{StatusCode: http.StatusOK, Body: body, Delay: delay}
}

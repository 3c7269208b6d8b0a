//go:build integration

// Package testutil provides an in-process Azure DevOps REST server for
// integration tests of the tracker client and store.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// RecordedRequest stores information about a request made to the mock server.
type RecordedRequest struct {
	Method   string
	Path     string
	RawQuery string
	Headers  http.Header
	Body     []byte
}

// MockResponse is a canned response for one path.
type MockResponse struct {
	StatusCode int
	Body       interface{}
	Headers    map[string]string
}

// MockServer records requests, serves canned responses and simulates
// failures before handing over to its route handler.
type MockServer struct {
	Server *httptest.Server

	mu        sync.Mutex
	requests  []RecordedRequest
	responses map[string]MockResponse
	handler   http.HandlerFunc

	authError bool
	// failures left to inject with failStatus, counted per request.
	failStatus int
	failLeft   int
}

// NewMockServer starts a server that answers 404 until a handler is set.
func NewMockServer() *MockServer {
	m := &MockServer{responses: make(map[string]MockResponse)}
	m.Server = httptest.NewServer(http.HandlerFunc(m.serve))
	return m
}

func (m *MockServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	_ = r.Body.Close()

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Headers:  r.Header.Clone(),
		Body:     body,
	})
	authError := m.authError
	injected := 0
	if m.failLeft != 0 {
		injected = m.failStatus
		if m.failLeft > 0 {
			m.failLeft--
		}
	}
	canned, found := m.responses[r.URL.Path]
	handler := m.handler
	m.mu.Unlock()

	switch {
	case authError:
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		return
	case injected != 0:
		if injected == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "0")
		}
		writeJSON(w, injected, map[string]string{"message": http.StatusText(injected)})
		return
	case found:
		for k, v := range canned.Headers {
			w.Header().Set(k, v)
		}
		status := canned.StatusCode
		if status == 0 {
			status = http.StatusOK
		}
		writeJSON(w, status, canned.Body)
		return
	case handler != nil:
		r.Body = io.NopCloser(bytes.NewReader(body))
		handler(w, r)
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not found"})
}

// URL returns the mock server URL.
func (m *MockServer) URL() string {
	return m.Server.URL
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.Server.Close()
}

// SetResponse serves body with statusCode for every request to path.
func (m *MockServer) SetResponse(path string, statusCode int, body interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = MockResponse{StatusCode: statusCode, Body: body}
}

// SetHandler installs the route handler for requests without a canned response.
func (m *MockServer) SetHandler(h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// SetAuthError makes every request fail with 401 while enabled.
func (m *MockServer) SetAuthError(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authError = enabled
}

// FailNext answers the next n requests with status. A negative n fails
// every request until Reset.
func (m *MockServer) FailNext(status, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failStatus = status
	m.failLeft = n
}

// Requests returns the recorded requests.
func (m *MockServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestsFor returns the recorded requests with the given method.
func (m *MockServer) RequestsFor(method string) []RecordedRequest {
	var out []RecordedRequest
	for _, r := range m.Requests() {
		if r.Method == method {
			out = append(out, r)
		}
	}
	return out
}

// Reset clears recorded requests, canned responses and injected failures.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.responses = make(map[string]MockResponse)
	m.authError = false
	m.failStatus = 0
	m.failLeft = 0
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

package testutil

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/tokenrail/tokenrail/internal/httpclient"
)

// MockHTTPClient implements a mock HTTP client for testing
type MockHTTPClient struct {
	mu       sync.RWMutex
	routes   map[string]MockResponse
	requests []*httpclient.Request
}

// MockResponse represents a mock HTTP response
type MockResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// NewMockHTTPClient creates a new mock HTTP client
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		routes: make(map[string]MockResponse),
	}
}

// RegisterResponse registers a mock response for a given URL
func (m *MockHTTPClient) RegisterResponse(url string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[url] = resp
}

// Requests returns every request sent through the client, in order
func (m *MockHTTPClient) Requests() []*httpclient.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*httpclient.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Send implements the httpclient.Client interface
func (m *MockHTTPClient) Send(ctx context.Context, req *httpclient.Request) (*httpclient.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	// Find the matching route
	var matchedResponse MockResponse
	var found bool
	for route, resp := range m.routes {
		if strings.HasSuffix(req.URL, route) {
			matchedResponse = resp
			found = true
			break
		}
	}

	if !found {
		// Unregistered routes succeed so callers that fire-and-forget
		// (alerts) do not fail tests that never registered a sink.
		return &httpclient.Response{
			StatusCode: http.StatusOK,
			Body:       []byte("ok"),
			Headers:    map[string]string{},
		}, nil
	}

	return &httpclient.Response{
		StatusCode: matchedResponse.StatusCode,
		Body:       matchedResponse.Body,
		Headers:    matchedResponse.Headers,
	}, nil
}

// Clear removes all registered responses and recorded requests
func (m *MockHTTPClient) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = make(map[string]MockResponse)
	m.requests = nil
}

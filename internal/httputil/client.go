// Package httputil holds small HTTP helpers shared by the API server and
// outbound notifiers.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// Doer is the subset of *http.Client used by outbound notifiers.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// MockResponse is a canned response for MockDoer.
type MockResponse struct {
	StatusCode int
	Body       string
	Error      error
}

// MockDoer records requests and replays queued responses in order. Once
// the queue is empty it answers 200 with an empty body.
type MockDoer struct {
	mu        sync.Mutex
	requests  []*http.Request
	bodies    [][]byte
	responses []MockResponse
}

func NewMockDoer(responses ...MockResponse) *MockDoer {
	return &MockDoer{responses: responses}
}

func (m *MockDoer) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		_ = req.Body.Close()
		body = b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	resp := MockResponse{StatusCode: http.StatusOK}
	if len(m.responses) > 0 {
		resp = m.responses[0]
		m.responses = m.responses[1:]
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(bytes.NewBufferString(resp.Body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// Requests returns the recorded requests and their bodies.
func (m *MockDoer) Requests() ([]*http.Request, [][]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), m.requests...), append([][]byte(nil), m.bodies...)
}

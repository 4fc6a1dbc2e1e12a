// Package httputil holds the HTTP helpers shared by the debug routes and
// the remote camera sources.
package httputil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// HTTPClient is the part of *http.Client that remote camera sources use.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient wraps c, or http.DefaultClient when c is nil.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

// Fetch GETs url and returns the body. Any status other than 200 is an
// error. At most limit bytes are read.
func Fetch(ctx context.Context, c HTTPClient, url string, limit int64) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("GET %s: %w", url, err)
	}
	if int64(len(body)) > limit {
		return nil, "", fmt.Errorf("GET %s: body exceeds %d bytes", url, limit)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// MockHTTPClient replays canned responses in order, then answers 404.
type MockHTTPClient struct {
	mu        sync.Mutex
	responses []MockResponse
	requests  []string
}

// MockResponse is one canned reply. A non-nil Err fails the request.
type MockResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
	Err         error
}

func NewMockHTTPClient(responses ...MockResponse) *MockHTTPClient {
	return &MockHTTPClient{responses: responses}
}

// Add queues another response.
func (m *MockHTTPClient) Add(r MockResponse) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, r)
	return m
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req.URL.String())

	r := MockResponse{StatusCode: http.StatusNotFound}
	if len(m.responses) > 0 {
		r, m.responses = m.responses[0], m.responses[1:]
	}
	if r.Err != nil {
		return nil, r.Err
	}
	h := make(http.Header)
	if r.ContentType != "" {
		h.Set("Content-Type", r.ContentType)
	}
	return &http.Response{
		StatusCode: r.StatusCode,
		Status:     fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode)),
		Header:     h,
		Body:       io.NopCloser(bytes.NewReader(r.Body)),
		Request:    req,
	}, nil
}

// Requests returns the URLs requested so far.
func (m *MockHTTPClient) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

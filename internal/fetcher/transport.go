package fetcher

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Response is the part of an HTTP response the fetcher consumes.
// The caller must close Body.
type Response struct {
	StatusCode    int
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
}

// Transport opens a GET request and returns the response stream
type Transport interface {
	OpenGet(ctx context.Context, url string) (*Response, error)
}

// HTTPTransport implements Transport over net/http
type HTTPTransport struct {
	client    *http.Client
	userAgent string
}

// NewHTTPTransport creates a transport with the given request timeout
func NewHTTPTransport(timeout time.Duration, userAgent string) *HTTPTransport {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPTransport{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// NewHTTPTransportWithClient wraps an existing client
func NewHTTPTransportWithClient(client *http.Client, userAgent string) *HTTPTransport {
	return &HTTPTransport{client: client, userAgent: userAgent}
}

// OpenGet issues a GET for url
func (t *HTTPTransport) OpenGet(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	req.Header.Set("Accept", "image/png, image/jpeg, image/gif, image/webp, image/bmp, */*;q=0.5")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

// NetworkProbe reports whether the network is reachable before a download starts
type NetworkProbe interface {
	Available(ctx context.Context) bool
}

// DialProbe considers the network available when a TCP connection to Address succeeds
type DialProbe struct {
	Address string
	Timeout time.Duration
}

// Available dials the probe address
func (p DialProbe) Available(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

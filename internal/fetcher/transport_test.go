package fetcher

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_OpenGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("body"))
	}))
	defer server.Close()

	resp, err := NewHTTPTransport(time.Second, "ua").OpenGet(context.Background(), server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.ContentType)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "body", string(data))
}

func TestHTTPTransport_CancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHTTPTransport(time.Second, "").OpenGet(ctx, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDialProbe(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()

	assert.True(t, DialProbe{Address: addr, Timeout: time.Second}.Available(context.Background()))

	listener.Close()
	assert.False(t, DialProbe{Address: addr, Timeout: time.Second}.Available(context.Background()))
}

package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingObserver struct {
	mu       sync.Mutex
	methods  []string
	statuses []int
}

func (r *recordingObserver) ObserveRequest(method, _ string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods = append(r.methods, method)
	r.statuses = append(r.statuses, status)
}

func TestHTTPClient_DefaultUserAgent(t *testing.T) {
	var gotUA, gotEncoding string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotEncoding = r.Header.Get("Accept-Encoding")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(nil, zaptest.NewLogger(t), nil)
	defer client.Close()

	resp, err := client.Get(context.Background(), server.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "geomirror/1.0", gotUA)
	// The transport asks for gzip on its own; the client never adds deflate
	assert.NotContains(t, gotEncoding, "deflate")
}

func TestHTTPClient_HeaderOverrides(t *testing.T) {
	var gotUA, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
	}))
	defer server.Close()

	client := NewHTTPClient(nil, zaptest.NewLogger(t), nil)
	resp, err := client.Head(context.Background(), server.URL, map[string]string{
		"User-Agent": "custom/2.0",
		"Accept":     "application/vnd.github+json",
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "custom/2.0", gotUA)
	assert.Equal(t, "application/vnd.github+json", gotAccept)
}

func TestHTTPClient_ObserverAndStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	observer := &recordingObserver{}
	client := NewHTTPClient(nil, zaptest.NewLogger(t), observer)

	resp, err := client.Head(context.Background(), server.URL, nil)
	require.NoError(t, err)
	resp.Body.Close()

	server.Close()
	_, err = client.Get(context.Background(), server.URL, nil)
	require.Error(t, err)

	assert.Equal(t, []string{http.MethodHead, http.MethodGet}, observer.methods)
	assert.Equal(t, []int{http.StatusNotFound, 0}, observer.statuses)

	stats := client.GetStats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)
	assert.InDelta(t, 50.0, stats.SuccessRate, 0.001)
}

func TestHTTPClient_TooManyRedirects(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, server.URL+r.URL.Path+"x", http.StatusFound)
	}))
	defer server.Close()

	cfg := DefaultHTTPConfig()
	cfg.MaxRedirects = 3
	client := NewHTTPClient(cfg, zaptest.NewLogger(t), nil)

	_, err := client.Get(context.Background(), server.URL+"/a", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many redirects")
}

func TestHTTPClient_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewHTTPClient(nil, zaptest.NewLogger(t), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, server.URL, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

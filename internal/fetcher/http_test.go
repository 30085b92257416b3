package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPOptions{
		UserAgent:  "lexveille-test/1.0",
		Timeout:    5 * time.Second,
		MaxRetries: 3,
	})
}

func TestHTTPFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lexveille-test/1.0", r.Header.Get("User-Agent"))
		w.Write([]byte("Art. 1\nToute personne jouit des droits civils."))
	}))
	defer srv.Close()

	body, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Art. 1")
}

func TestHTTPFetcher_RetriesServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := testFetcher()
	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPFetcher_NoRetryOnNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testFetcher().Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 404")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPFetcher_RejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPOptions{MaxRetries: 1, MaxBytes: 1024})
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestAdaptiveLimiter_AdjustsRate(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10)

	lim.OnRateLimit()
	assert.Equal(t, rate.Limit(5), lim.Limit())

	// Floor at initial/4.
	for i := 0; i < 10; i++ {
		lim.OnRateLimit()
	}
	assert.Equal(t, rate.Limit(2.5), lim.Limit())

	// Ceiling at 2x initial.
	for i := 0; i < 50; i++ {
		lim.OnSuccess()
	}
	assert.Equal(t, rate.Limit(20), lim.Limit())
}

func TestClient_Fetch_UnsupportedScheme(t *testing.T) {
	c := NewClient(HTTPOptions{})
	_, err := c.Fetch(context.Background(), "gopher://example.org/laws")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestParseFTPURL(t *testing.T) {
	host, path, err := parseFTPURL("ftp://mirror.example.org/gazette/2026/01.txt")
	require.NoError(t, err)
	assert.Equal(t, "mirror.example.org:21", host)
	assert.Equal(t, "/gazette/2026/01.txt", path)

	_, _, err = parseFTPURL("https://example.org/x")
	assert.Error(t, err)

	_, _, err = parseFTPURL("ftp://mirror.example.org")
	assert.Error(t, err)
}

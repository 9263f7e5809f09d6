package httpcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"feedvault/internal/model"
	"feedvault/internal/queue"
	"feedvault/internal/urlguard"
)

type memStore struct {
	mu      sync.Mutex
	entries map[string]model.CacheEntry
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]model.CacheEntry)}
}

func (s *memStore) GetCacheEntry(url string) (*model.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[url]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *memStore) PutCacheEntry(entry model.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.URL] = entry
	return nil
}

func newTestClient(store Store, maxRetries int) *Client {
	q := queue.New(queue.Config{
		Concurrency:  4,
		WindowStarts: 100,
		Window:       10 * time.Millisecond,
		MaxRetries:   maxRetries,
		BackoffBase:  time.Millisecond,
	}, zap.NewNop())

	// Tests talk to httptest loopback servers.
	validator := urlguard.New(true)
	return New(store, q, validator, 5*time.Second, "feedvault-test/1.0", zap.NewNop())
}

func TestFetchCached_StoresFreshResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Header().Set("Etag", `"v1"`)
		w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
		w.Write([]byte("<rss/>"))
	}))
	defer srv.Close()

	store := newMemStore()
	client := newTestClient(store, 0)

	result, err := client.FetchCached(context.Background(), srv.URL, model.CacheKindFeed)
	require.NoError(t, err)
	require.False(t, result.FromCache)
	require.Equal(t, http.StatusOK, result.Status)
	require.Equal(t, []byte("<rss/>"), result.Body)

	entry, err := store.GetCacheEntry(srv.URL)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, `"v1"`, *entry.ETag)
	require.Equal(t, "Mon, 02 Jan 2006 15:04:05 GMT", *entry.LastModified)
	require.Equal(t, []byte("<rss/>"), entry.Body)
}

func TestFetchCached_NotModifiedServesStoredBody(t *testing.T) {
	t.Parallel()

	var sawValidator bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			sawValidator = true
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Etag", `"v1"`)
		w.Write([]byte("first body"))
	}))
	defer srv.Close()

	store := newMemStore()
	client := newTestClient(store, 0)
	ctx := context.Background()

	first, err := client.FetchCached(ctx, srv.URL, model.CacheKindFeed)
	require.NoError(t, err)
	require.False(t, first.FromCache)

	second, err := client.FetchCached(ctx, srv.URL, model.CacheKindFeed)
	require.NoError(t, err)
	require.True(t, sawValidator)
	require.True(t, second.FromCache)
	require.Nil(t, second.StaleErr)
	require.Equal(t, []byte("first body"), second.Body)
}

func TestFetchCached_StaleOnError(t *testing.T) {
	t.Parallel()

	var failing bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("good body"))
	}))
	defer srv.Close()

	store := newMemStore()
	client := newTestClient(store, 0)
	ctx := context.Background()

	_, err := client.FetchCached(ctx, srv.URL, model.CacheKindFeed)
	require.NoError(t, err)

	failing = true
	result, err := client.FetchCached(ctx, srv.URL, model.CacheKindFeed)
	require.NoError(t, err)
	require.True(t, result.FromCache)
	require.Error(t, result.StaleErr)
	require.Equal(t, []byte("good body"), result.Body)
}

func TestFetchCached_ErrorWithoutPriorPropagates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestClient(newMemStore(), 0)

	result, err := client.FetchCached(context.Background(), srv.URL, model.CacheKindFeed)
	require.Error(t, err)
	require.Nil(t, result)

	httpErr, ok := err.(*queue.HTTPError)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, httpErr.Status)
}

func TestFetchCached_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("eventually"))
	}))
	defer srv.Close()

	client := newTestClient(newMemStore(), 3)

	result, err := client.FetchCached(context.Background(), srv.URL, model.CacheKindFeed)
	require.NoError(t, err)
	require.Equal(t, []byte("eventually"), result.Body)
	require.Equal(t, 3, requests)
}

func TestFetchCached_BlockedURLNeverFetched(t *testing.T) {
	t.Parallel()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	store := newMemStore()
	q := queue.New(queue.Config{Concurrency: 1, WindowStarts: 10, Window: 10 * time.Millisecond}, zap.NewNop())
	// Loopback is blocked without the private-network override.
	client := New(store, q, urlguard.New(false), time.Second, "feedvault-test/1.0", zap.NewNop())

	_, err := client.FetchCached(context.Background(), srv.URL, model.CacheKindFeed)
	require.Error(t, err)
	require.Zero(t, requests)
	require.Empty(t, store.entries)
}

func TestFetchResource_SkipsCache(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	store := newMemStore()
	client := newTestClient(store, 0)

	result, err := client.FetchResource(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "image/png", result.ContentType)
	require.Equal(t, []byte{0x89, 'P', 'N', 'G'}, result.Body)
	require.Empty(t, store.entries)
}

package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"feedvault/internal/httpcache"
	"feedvault/internal/model"
	"feedvault/internal/queue"
	"feedvault/internal/urlguard"
)

type fakeStore struct {
	mu       sync.Mutex
	feeds    []model.Feed
	articles map[string]model.Article
	cache    map[string]model.CacheEntry
}

func newFakeStore(feeds ...model.Feed) *fakeStore {
	return &fakeStore{
		feeds:    feeds,
		articles: make(map[string]model.Article),
		cache:    make(map[string]model.CacheEntry),
	}
}

func (s *fakeStore) ListFeeds() ([]model.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feeds, nil
}

func (s *fakeStore) UpsertArticle(a model.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.articles[a.ID] = a
	return nil
}

func (s *fakeStore) GetCacheEntry(url string) (*model.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache[url]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (s *fakeStore) PutCacheEntry(entry model.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[entry.URL] = entry
	return nil
}

func newTestService(store *fakeStore, cfg Config) *Service {
	q := queue.New(queue.Config{
		Concurrency:  4,
		WindowStarts: 100,
		Window:       10 * time.Millisecond,
		BackoffBase:  time.Millisecond,
	}, zap.NewNop())
	fetcher := httpcache.New(store, q, urlguard.New(true), 5*time.Second, "feedvault-test/1.0", zap.NewNop())
	return NewService(store, fetcher, cfg, zap.NewNop())
}

func feedPayload(title string, items string) string {
	return `<?xml version="1.0"?><rss version="2.0"><channel><title>` + title + `</title>` + items + `</channel></rss>`
}

func itemXML(title, guid, pubDate string) string {
	out := "<item><title>" + title + "</title><guid>" + guid + "</guid>"
	if pubDate != "" {
		out += "<pubDate>" + pubDate + "</pubDate>"
	}
	return out + "</item>"
}

func TestFetchFeed_PersistsArticlesAndMemoizes(t *testing.T) {
	t.Parallel()

	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, feedPayload("Memo Feed",
			itemXML("First", "g1", "Tue, 10 Jun 2025 08:00:00 GMT")+
				itemXML("Second", "g2", "Wed, 11 Jun 2025 09:00:00 GMT")))
	}))
	defer srv.Close()

	store := newFakeStore()
	svc := newTestService(store, Config{CacheTTL: time.Minute})
	ctx := context.Background()

	first, err := svc.FetchFeed(ctx, srv.URL)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, "Memo Feed", first.Title)
	require.Len(t, first.Items, 2)
	require.Len(t, store.articles, 2)

	second, err := svc.FetchFeed(ctx, srv.URL)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, requests, "memoized fetch must not hit the network")
}

func TestFetchFeed_MalformedPayloadIsSkipped(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "definitely not xml")
	}))
	defer srv.Close()

	svc := newTestService(newFakeStore(), Config{})

	canonical, err := svc.FetchFeed(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Nil(t, canonical)
}

func TestGetAllArticles_AggregatesAndSorts(t *testing.T) {
	t.Parallel()

	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedPayload("Feed A",
			itemXML("Old", "a1", "Mon, 02 Jun 2025 10:00:00 GMT")+
				itemXML("Undated", "a2", "")))
	}))
	defer srvA.Close()

	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedPayload("Feed B",
			itemXML("Newest", "b1", "Fri, 13 Jun 2025 10:00:00 GMT")+
				itemXML("Middle", "b2", "Sat, 07 Jun 2025 10:00:00 GMT")))
	}))
	defer srvB.Close()

	store := newFakeStore(
		model.Feed{URL: srvA.URL, DisplayName: "A"},
		model.Feed{URL: srvB.URL, DisplayName: "B"},
	)
	svc := newTestService(store, Config{BatchSize: 2, OverfetchMultiple: 3})

	items, err := svc.GetAllArticles(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 4)

	require.Equal(t, "Newest", items[0].Title)
	require.Equal(t, "Middle", items[1].Title)
	require.Equal(t, "Old", items[2].Title)
	require.Equal(t, "Undated", items[3].Title, "items without a timestamp sort last")
}

func TestGetAllArticles_UnreachableFeedIsSkipped(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedPayload("Alive", itemXML("Only", "g1", "Mon, 02 Jun 2025 10:00:00 GMT")))
	}))
	defer srv.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer down.Close()

	store := newFakeStore(
		model.Feed{URL: down.URL, DisplayName: "down"},
		model.Feed{URL: srv.URL, DisplayName: "alive"},
	)
	svc := newTestService(store, Config{BatchSize: 2})

	items, err := svc.GetAllArticles(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "Only", items[0].Title)
}

func TestGetArticlesByDate_SingleDayWindow(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, feedPayload("Dated",
			itemXML("Late on the 10th", "d1", "Tue, 10 Jun 2025 23:00:00 GMT")+
				itemXML("Early on the 11th", "d2", "Wed, 11 Jun 2025 01:00:00 GMT")+
				itemXML("Way before", "d3", "Sun, 01 Jun 2025 12:00:00 GMT")+
				itemXML("Undated", "d4", "")))
	}))
	defer srv.Close()

	store := newFakeStore(model.Feed{URL: srv.URL, DisplayName: "dated"})
	svc := newTestService(store, Config{})
	ctx := context.Background()

	day := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	single, err := svc.GetArticlesByDate(ctx, day, 1)
	require.NoError(t, err)
	require.Len(t, single, 1)
	require.Equal(t, "Late on the 10th", single[0].Title)

	double, err := svc.GetArticlesByDate(ctx, day, 2)
	require.NoError(t, err)
	require.Len(t, double, 2)
	require.Equal(t, "Early on the 11th", double[0].Title)
	require.Equal(t, "Late on the 10th", double[1].Title)
}

func TestSortByPublished_StableWithNils(t *testing.T) {
	t.Parallel()

	ts := func(day int) *time.Time {
		t := time.Date(2025, 6, day, 12, 0, 0, 0, time.UTC)
		return &t
	}

	items := []model.CanonicalItem{
		{Title: "undated-a"},
		{Title: "second", PublishedAt: ts(5)},
		{Title: "undated-b"},
		{Title: "first", PublishedAt: ts(9)},
		{Title: "third", PublishedAt: ts(1)},
	}

	sortByPublished(items)

	require.Equal(t, "first", items[0].Title)
	require.Equal(t, "second", items[1].Title)
	require.Equal(t, "third", items[2].Title)
	// Relative order of undated items is preserved.
	require.Equal(t, "undated-a", items[3].Title)
	require.Equal(t, "undated-b", items[4].Title)
}

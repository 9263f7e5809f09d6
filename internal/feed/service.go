package feed

import (
	"context"
	"sort"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"feedvault/internal/httpcache"
	"feedvault/internal/model"
)

const memoryCacheSize = 256

// Store is the slice of the database the feed service needs.
type Store interface {
	ListFeeds() ([]model.Feed, error)
	UpsertArticle(article model.Article) error
}

type Config struct {
	CacheTTL          time.Duration
	BatchSize         int
	OverfetchMultiple int
}

// Service fetches, normalizes, and aggregates feeds. Parsed results are held
// in a short-lived memory tier so bursts of refresh calls never reach the
// queue; the persistent conditional cache below it has its own validator-based
// invalidation and the two are deliberately kept apart.
type Service struct {
	store      Store
	fetcher    *httpcache.Client
	normalizer *Normalizer
	memo       *expirable.LRU[string, *model.CanonicalFeed]
	batchSize  int
	overfetch  int
	logger     *zap.Logger
}

func NewService(store Store, fetcher *httpcache.Client, cfg Config, logger *zap.Logger) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 10
	}
	if cfg.OverfetchMultiple < 1 {
		cfg.OverfetchMultiple = 3
	}
	return &Service{
		store:      store,
		fetcher:    fetcher,
		normalizer: NewNormalizer(),
		memo:       expirable.NewLRU[string, *model.CanonicalFeed](memoryCacheSize, nil, cfg.CacheTTL),
		batchSize:  cfg.BatchSize,
		overfetch:  cfg.OverfetchMultiple,
		logger:     logger,
	}
}

// FetchFeed returns the canonical feed for a URL, consulting the memory tier
// first, then the conditional cache. Parsed items are persisted as article
// rows. A malformed payload is logged and yields nil rather than an error.
func (s *Service) FetchFeed(ctx context.Context, feedURL string) (*model.CanonicalFeed, error) {
	if cached, ok := s.memo.Get(feedURL); ok {
		return cached, nil
	}

	result, err := s.fetcher.FetchCached(ctx, feedURL, model.CacheKindFeed)
	if err != nil {
		return nil, err
	}
	if result.StaleErr != nil {
		s.logger.Warn("feed refresh failed, using cached payload",
			zap.String("url", feedURL), zap.Error(result.StaleErr))
	}

	canonical, err := s.normalizer.Parse(result.Body, feedURL)
	if err != nil {
		s.logger.Error("failed to parse feed payload",
			zap.String("url", feedURL), zap.Error(err))
		return nil, nil
	}

	for _, item := range canonical.Items {
		if err := s.persistItem(item); err != nil {
			s.logger.Warn("failed to persist article",
				zap.String("feed", feedURL), zap.String("title", item.Title), zap.Error(err))
		}
	}

	s.memo.Add(feedURL, canonical)
	return canonical, nil
}

func (s *Service) persistItem(item model.CanonicalItem) error {
	article := model.Article{
		ID:             model.ArticleID(item.FeedURL, item.GUID, item.Link, item.Title),
		FeedURL:        item.FeedURL,
		GUID:           item.GUID,
		Link:           item.Link,
		Title:          item.Title,
		Author:         item.Author,
		ContentHTML:    item.BodyHTML,
		ContentSnippet: item.Snippet,
	}
	if item.PublishedAt != nil {
		published := item.PublishedAt.UTC().Format(time.RFC3339)
		article.PublishedAt = &published
	}
	return s.store.UpsertArticle(article)
}

// GetAllArticles aggregates items across all subscribed feeds: fixed-size
// batches fetched in parallel, sequential across batches, stopping early once
// a generous multiple of the requested limit has accumulated. The stop is a
// latency bound, not a correctness guarantee, so the result may exceed the
// nominal limit or fall short when feeds are exhausted.
func (s *Service) GetAllArticles(ctx context.Context, limit int) ([]model.CanonicalItem, error) {
	if limit < 1 {
		limit = 50
	}
	items, err := s.collect(ctx, limit*s.overfetch)
	if err != nil {
		return nil, err
	}
	sortByPublished(items)
	return items, nil
}

// GetArticlesByDate returns items published within [date 00:00:00, date +
// windowDays-1 23:59:59.999] in UTC. Items without a timestamp are excluded.
func (s *Service) GetArticlesByDate(ctx context.Context, date time.Time, windowDays int) ([]model.CanonicalItem, error) {
	if windowDays < 1 {
		windowDays = 1
	}

	start := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, windowDays).Add(-time.Millisecond)

	items, err := s.collect(ctx, 0)
	if err != nil {
		return nil, err
	}

	var filtered []model.CanonicalItem
	for _, item := range items {
		if item.PublishedAt == nil {
			continue
		}
		published := item.PublishedAt.UTC()
		if !published.Before(start) && !published.After(end) {
			filtered = append(filtered, item)
		}
	}

	sortByPublished(filtered)
	return filtered, nil
}

// collect fetches feeds in parallel batches. A non-positive target disables
// the early stop and visits every feed.
func (s *Service) collect(ctx context.Context, target int) ([]model.CanonicalItem, error) {
	feeds, err := s.store.ListFeeds()
	if err != nil {
		return nil, err
	}

	var items []model.CanonicalItem
	for start := 0; start < len(feeds); start += s.batchSize {
		end := start + s.batchSize
		if end > len(feeds) {
			end = len(feeds)
		}
		batch := feeds[start:end]

		results := make([]*model.CanonicalFeed, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, f := range batch {
			g.Go(func() error {
				canonical, err := s.FetchFeed(gctx, f.URL)
				if err != nil {
					// One unreachable feed must not sink the whole pass.
					s.logger.Warn("skipping feed during aggregation",
						zap.String("url", f.URL), zap.Error(err))
					return nil
				}
				results[i] = canonical
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, canonical := range results {
			if canonical == nil {
				continue
			}
			items = append(items, canonical.Items...)
		}

		if target > 0 && len(items) >= target {
			break
		}
	}

	return items, nil
}

// sortByPublished orders newest first; items lacking a timestamp sort as the
// oldest regardless of insertion order.
func sortByPublished(items []model.CanonicalItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].PublishedAt, items[j].PublishedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}

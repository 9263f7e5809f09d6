// Package httpcache performs all outbound HTTP on behalf of the pipeline. It
// layers a persistent conditional cache over the fetch queue: validators
// (etag / last-modified) avoid re-downloading unchanged payloads, and a prior
// known-good body is served when a refresh fails.
package httpcache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"feedvault/internal/model"
	"feedvault/internal/queue"
	"feedvault/internal/urlguard"
)

// Store is the slice of the database the cache layer owns.
type Store interface {
	GetCacheEntry(url string) (*model.CacheEntry, error)
	PutCacheEntry(entry model.CacheEntry) error
}

// Result is the outcome of a cached fetch. When StaleErr is non-nil the Body
// came from the cache after a failed refresh; callers choose whether to
// proceed or warn.
type Result struct {
	Status      int
	Body        []byte
	ContentType string
	FromCache   bool
	StaleErr    error
}

type Client struct {
	store     Store
	queue     *queue.Queue
	validator *urlguard.Validator
	http      *http.Client
	userAgent string
	logger    *zap.Logger
}

func New(store Store, q *queue.Queue, validator *urlguard.Validator, timeout time.Duration, userAgent string, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		store:     store,
		queue:     q,
		validator: validator,
		http:      &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
	}
}

// FetchCached validates the URL, then performs a conditional GET through the
// queue. A fresh body overwrites the cache entry; a 304 returns the stored
// body; any other failure falls back to the stored body when one exists.
func (c *Client) FetchCached(ctx context.Context, rawURL string, kind model.CacheKind) (*Result, error) {
	// Validation always precedes queueing.
	if err := c.validator.Validate(ctx, rawURL); err != nil {
		return nil, err
	}

	prior, err := c.store.GetCacheEntry(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}

	var fetched *fetchedResponse
	fetchErr := c.queue.Do(ctx, func(ctx context.Context) error {
		resp, err := c.doGet(ctx, rawURL, prior)
		if err != nil {
			return err
		}
		fetched = resp
		return nil
	})

	if fetchErr != nil {
		if prior != nil {
			c.logger.Warn("serving stale cache entry after failed refresh",
				zap.String("url", rawURL), zap.Error(fetchErr))
			return &Result{
				Status:      prior.HTTPStatus,
				Body:        prior.Body,
				ContentType: derefString(prior.ContentType),
				FromCache:   true,
				StaleErr:    fetchErr,
			}, nil
		}
		return nil, fetchErr
	}

	if fetched.notModified {
		if prior == nil {
			// A 304 without a prior entry means we never sent validators;
			// treat it as a server error rather than inventing a body.
			return nil, &queue.HTTPError{Status: http.StatusNotModified, URL: rawURL}
		}
		return &Result{
			Status:      prior.HTTPStatus,
			Body:        prior.Body,
			ContentType: derefString(prior.ContentType),
			FromCache:   true,
		}, nil
	}

	entry := model.CacheEntry{
		URL:          rawURL,
		Kind:         string(kind),
		HTTPStatus:   fetched.status,
		ContentType:  optionalString(fetched.contentType),
		ETag:         optionalString(fetched.etag),
		LastModified: optionalString(fetched.lastModified),
		FetchedAt:    time.Now().UTC().Format(time.RFC3339),
		Body:         fetched.body,
	}
	if err := c.store.PutCacheEntry(entry); err != nil {
		return nil, fmt.Errorf("failed to store cache entry: %w", err)
	}

	return &Result{
		Status:      fetched.status,
		Body:        fetched.body,
		ContentType: fetched.contentType,
		FromCache:   false,
	}, nil
}

// FetchResource validates and downloads a URL through the queue without
// touching the persistent cache. Used for embedded-resource localization,
// where dedup is handled per document rather than per URL history.
func (c *Client) FetchResource(ctx context.Context, rawURL string) (*Result, error) {
	if err := c.validator.Validate(ctx, rawURL); err != nil {
		return nil, err
	}

	var fetched *fetchedResponse
	err := c.queue.Do(ctx, func(ctx context.Context) error {
		resp, err := c.doGet(ctx, rawURL, nil)
		if err != nil {
			return err
		}
		fetched = resp
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Status:      fetched.status,
		Body:        fetched.body,
		ContentType: fetched.contentType,
	}, nil
}

type fetchedResponse struct {
	status       int
	body         []byte
	contentType  string
	etag         string
	lastModified string
	notModified  bool
}

func (c *Client) doGet(ctx context.Context, rawURL string, prior *model.CacheEntry) (*fetchedResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	if prior != nil {
		if prior.ETag != nil && *prior.ETag != "" {
			req.Header.Set("If-None-Match", *prior.ETag)
		}
		if prior.LastModified != nil && *prior.LastModified != "" {
			req.Header.Set("If-Modified-Since", *prior.LastModified)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return &fetchedResponse{notModified: true}, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response body: %w", err)
		}
		return &fetchedResponse{
			status:       resp.StatusCode,
			body:         body,
			contentType:  resp.Header.Get("Content-Type"),
			etag:         resp.Header.Get("Etag"),
			lastModified: resp.Header.Get("Last-Modified"),
		}, nil
	default:
		return nil, &queue.HTTPError{Status: resp.StatusCode, URL: rawURL}
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

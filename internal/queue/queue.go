// Package queue provides the single shared admission gate for every outbound
// network call: feed fetches, article fetches, and resource downloads all run
// through one Queue so global throughput stays bounded regardless of call
// site.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"feedvault/internal/urlguard"
)

// HTTPError carries the status of a non-2xx response so the retry policy can
// distinguish transient failures (429, 5xx) from permanent ones (other 4xx).
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Status, e.URL)
}

// IsRetryable implements the retry taxonomy: failures with no HTTP status
// (network, DNS, reset) are retryable, as are 429 and 5xx. Validation errors
// and other 4xx propagate immediately. Context errors are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var validationErr *urlguard.ValidationError
	if errors.As(err, &validationErr) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}
	return true
}

type Config struct {
	// Concurrency caps in-flight tasks; WindowStarts caps task starts per
	// rolling Window.
	Concurrency  int
	WindowStarts int
	Window       time.Duration

	// MaxRetries is the per-task retry budget beyond the first attempt.
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffMaxDelay time.Duration
}

type Queue struct {
	slots       chan struct{}
	limiter     *rate.Limiter
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
	logger      *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Queue {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.WindowStarts < 1 {
		cfg.WindowStarts = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 800 * time.Millisecond
	}
	if cfg.BackoffMaxDelay <= 0 {
		cfg.BackoffMaxDelay = 30 * time.Second
	}

	return &Queue{
		slots:       make(chan struct{}, cfg.Concurrency),
		limiter:     rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.WindowStarts)), cfg.WindowStarts),
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		backoffMax:  cfg.BackoffMaxDelay,
		logger:      logger,
	}
}

// Do runs fn under admission control, retrying transient failures with
// exponential backoff. Each retry re-enters the admission gate as a fresh
// attempt: the concurrency slot is released before the backoff sleep, so a
// retrying task cannot starve other callers.
func (q *Queue) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.backoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = q.backoffMax
	bo.MaxElapsedTime = 0

	var lastErr error
	for attempt := 0; attempt <= q.maxRetries; attempt++ {
		if attempt > 0 {
			delay := bo.NextBackOff()
			q.logger.Debug("retrying task",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := q.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
	}

	return lastErr
}

func (q *Queue) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := q.limiter.Wait(ctx); err != nil {
		return err
	}

	select {
	case q.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-q.slots }()

	return fn(ctx)
}

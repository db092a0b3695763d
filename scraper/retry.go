package scraper

import (
	"context"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/mehran282/off-board-v1/config"
)

// retryManager re-issues failed requests with exponential backoff. Retries
// run inside the failing request's OnError callback, so the collector's Wait
// covers them.
type retryManager struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
	metrics    *Metrics

	mu           sync.Mutex
	attempts     map[string]int
	totalRetries int
}

func newRetryManager(cfg config.ScrapeConfig, metrics *Metrics) *retryManager {
	return &retryManager{
		maxRetries: cfg.MaxRetries,
		base:       cfg.RetryBackoff,
		max:        cfg.RetryBackoffMax,
		metrics:    metrics,
		attempts:   make(map[string]int),
	}
}

// Schedule reserves the next attempt for url and returns its delay. It
// reports false once the url has used up its retries.
func (rm *retryManager) Schedule(url string) (time.Duration, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	attempt := rm.attempts[url]
	if attempt >= rm.maxRetries {
		return 0, false
	}
	attempt++
	rm.attempts[url] = attempt
	rm.totalRetries++
	rm.metrics.IncRetries()
	return rm.backoff(attempt), true
}

// Retry waits out the backoff and re-issues r. It reports false when no
// retry was issued.
func (rm *retryManager) Retry(ctx context.Context, r *colly.Request) bool {
	target := r.URL.String()
	delay, ok := rm.Schedule(target)
	if !ok {
		return false
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	}

	if err := r.Retry(); err != nil {
		zap.L().Debug("scraper: retry not issued", zap.String("url", target), zap.Error(err))
		return false
	}
	zap.L().Debug("scraper: retrying", zap.String("url", target), zap.Duration("after", delay))
	return true
}

func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if rm.max > 0 && delay > rm.max {
		delay = rm.max
	}
	return delay
}

// TotalRetries returns how many retries were scheduled.
func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}

// Package fetcher composes the plain HTTP fetcher, headless rendering, per-host
// rate limiting and retries into the single fetch capability workers depend on.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
	"github.com/JakeFAU/sitesearch-crawler/internal/metrics"
)

// Pipeline implements crawler.Fetcher.
type Pipeline struct {
	probe    crawler.Fetcher
	headless crawler.Fetcher
	detector crawler.HeadlessDetector
	retry    crawler.RetryPolicy
	limiter  crawler.RateLimiter
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
}

var _ crawler.Fetcher = (*Pipeline)(nil)

// New wires a pipeline. headless, detector, retry and limiter are optional.
func New(
	probe crawler.Fetcher,
	headless crawler.Fetcher,
	detector crawler.HeadlessDetector,
	retry crawler.RetryPolicy,
	limiter crawler.RateLimiter,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		probe:    probe,
		headless: headless,
		detector: detector,
		retry:    retry,
		limiter:  limiter,
		logger:   logger,
		sleep:    sleepWithContext,
	}
}

// Fetch returns the page or a *crawler.FetchError once retries are exhausted.
func (p *Pipeline) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := p.fetchOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		if p.retry == nil || !p.retry.ShouldRetry(err, attempt) {
			return crawler.FetchResponse{}, asFetchError(req.URL, attempt, err)
		}
		delay := p.retry.Backoff(attempt - 1)
		metrics.IncFetchRetries()
		p.logger.Debug("retrying fetch",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return crawler.FetchResponse{}, asFetchError(req.URL, attempt, sleepErr)
		}
	}
}

func (p *Pipeline) fetchOnce(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, req.URL); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
	if req.UseHeadless && p.headless != nil {
		return p.observe(p.headless.Fetch(ctx, req))
	}

	resp, err := p.probe.Fetch(ctx, req)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: req.URL, StatusCode: resp.StatusCode}
	}
	if p.headless != nil && p.detector != nil && p.detector.ShouldPromote(resp) {
		rendered, renderErr := p.headless.Fetch(ctx, req)
		if renderErr == nil {
			return p.observe(rendered, nil)
		}
		p.logger.Warn("headless render failed; keeping probe body",
			zap.String("url", req.URL),
			zap.Error(renderErr),
		)
	}
	return p.observe(resp, nil)
}

func (p *Pipeline) observe(resp crawler.FetchResponse, err error) (crawler.FetchResponse, error) {
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	metrics.ObserveFetch(resp.UsedHeadless, resp.Duration)
	return resp, nil
}

func asFetchError(url string, attempts int, err error) error {
	var fetchErr *crawler.FetchError
	if errors.As(err, &fetchErr) {
		out := *fetchErr
		out.URL = url
		out.Attempts = attempts
		return &out
	}
	return &crawler.FetchError{URL: url, Attempts: attempts, Err: err}
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

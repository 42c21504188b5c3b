package fetcher

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
)

type scriptedFetcher struct {
	mu        sync.Mutex
	calls     int
	responses []crawler.FetchResponse
	errs      []error
}

func (f *scriptedFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	resp := crawler.FetchResponse{StatusCode: http.StatusOK, Body: []byte("<html><body>ok</body></html>")}
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	resp.URL = req.URL
	return resp, nil
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingLimiter struct {
	mu    sync.Mutex
	waits int
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits++
	return nil
}

func newTestPipeline(probe, headless crawler.Fetcher, limiter crawler.RateLimiter) *Pipeline {
	p := New(probe, headless, NewHeuristic(0),
		crawler.NewExponentialRetryPolicy(2, time.Millisecond, time.Millisecond),
		limiter, zap.NewNop())
	p.sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func TestPipeline_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	probe := &scriptedFetcher{errs: []error{errors.New("connection reset"), nil}}
	limiter := &countingLimiter{}
	p := newTestPipeline(probe, nil, limiter)

	resp, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, probe.Calls())
	require.Equal(t, 2, limiter.waits)
}

func TestPipeline_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: connection refused")
	probe := &scriptedFetcher{errs: []error{cause, cause, cause, cause}}
	p := newTestPipeline(probe, nil, nil)

	_, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://down.test"})
	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, 3, fetchErr.Attempts)
	require.Equal(t, "https://down.test", fetchErr.URL)
	require.ErrorIs(t, err, cause)
	require.Equal(t, 3, probe.Calls())
}

func TestPipeline_ClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	probe := &scriptedFetcher{responses: []crawler.FetchResponse{{StatusCode: http.StatusNotFound}}}
	p := newTestPipeline(probe, nil, nil)

	_, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/missing"})
	var fetchErr *crawler.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	require.Equal(t, 1, fetchErr.Attempts)
	require.Equal(t, 1, probe.Calls())
}

func TestPipeline_PromotesShellPagesToHeadless(t *testing.T) {
	t.Parallel()

	probe := &scriptedFetcher{responses: []crawler.FetchResponse{{
		StatusCode: http.StatusOK,
		Body:       []byte(`<html><body><div id="__next"></div></body></html>`),
	}}}
	headless := &scriptedFetcher{responses: []crawler.FetchResponse{{
		StatusCode:   http.StatusOK,
		Body:         []byte(`<html><body><h1>Rendered</h1></body></html>`),
		UsedHeadless: true,
	}}}
	p := newTestPipeline(probe, headless, nil)

	resp, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://spa.test"})
	require.NoError(t, err)
	require.True(t, resp.UsedHeadless)
	require.Contains(t, string(resp.Body), "Rendered")
	require.Equal(t, 1, headless.Calls())
}

func TestPipeline_KeepsProbeBodyWhenRenderFails(t *testing.T) {
	t.Parallel()

	probe := &scriptedFetcher{responses: []crawler.FetchResponse{{
		StatusCode: http.StatusOK,
		Body:       []byte(`<div id="__next"></div><p>server text</p>`),
	}}}
	headless := &scriptedFetcher{errs: []error{errors.New("chrome not installed")}}
	p := newTestPipeline(probe, headless, nil)

	resp, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://spa.test"})
	require.NoError(t, err)
	require.False(t, resp.UsedHeadless)
	require.Contains(t, string(resp.Body), "server text")
}

func TestPipeline_ExplicitHeadlessSkipsProbe(t *testing.T) {
	t.Parallel()

	probe := &scriptedFetcher{}
	headless := &scriptedFetcher{responses: []crawler.FetchResponse{{StatusCode: http.StatusOK, UsedHeadless: true}}}
	p := newTestPipeline(probe, headless, nil)

	resp, err := p.Fetch(context.Background(), crawler.FetchRequest{URL: "https://x.test", UseHeadless: true})
	require.NoError(t, err)
	require.True(t, resp.UsedHeadless)
	require.Zero(t, probe.Calls())
}

func TestPipeline_CanceledContextStopsRetries(t *testing.T) {
	t.Parallel()

	probe := &scriptedFetcher{errs: []error{errors.New("reset"), errors.New("reset"), errors.New("reset")}}
	p := New(probe, nil, nil, crawler.NewExponentialRetryPolicy(2, time.Hour, time.Hour), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Fetch(ctx, crawler.FetchRequest{URL: "https://x.test"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, probe.Calls())
}

func TestSleepWithContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepWithContext(context.Background(), 0))
	require.NoError(t, sleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepWithContext(ctx, time.Hour), context.Canceled)
}

// Package collyfetcher fetches pages over plain HTTP with a gocolly collector.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
)

// DefaultUserAgent presents the crawler as a current desktop browser.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const (
	defaultTimeout = 5 * time.Second
	// DefaultMaxBodyBytes caps how much of a page is read.
	DefaultMaxBodyBytes = 5 << 20
)

// ErrNotHTML marks a successful response whose content type cannot be indexed.
var ErrNotHTML = errors.New("response is not html")

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodyBytes  int
}

// Fetcher implements crawler.Fetcher on top of a template collector that is cloned per request.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	base := colly.NewCollector(colly.Async(false))
	base.WithTransport(newTransport())
	return &Fetcher{cfg: cfg, base: base}
}

// visit accumulates what the collector callbacks observe during one request.
type visit struct {
	request crawler.FetchRequest
	start   time.Time
	resp    crawler.FetchResponse
	err     error
}

func (v *visit) onRequest(r *colly.Request) {
	for key, values := range v.request.Headers {
		for _, value := range values {
			r.Headers.Add(key, value)
		}
	}
}

func (v *visit) onResponse(r *colly.Response) {
	v.resp = toFetchResponse(r, v.start)
}

func (v *visit) onError(r *colly.Response, err error) {
	if r != nil && r.StatusCode != 0 {
		v.resp = toFetchResponse(r, v.start)
	}
	v.err = err
}

func (f *Fetcher) collector(v *visit) *colly.Collector {
	c := f.base.Clone()
	c.UserAgent = f.cfg.UserAgent
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.MaxBodySize = f.cfg.MaxBodyBytes
	// phrase verification re-fetches pages the crawl already visited.
	c.AllowURLRevisit = true
	c.SetRequestTimeout(f.cfg.Timeout)
	c.OnRequest(v.onRequest)
	c.OnResponse(v.onResponse)
	c.OnError(v.onError)
	return c
}

// Fetch performs one GET. Non-2xx statuses, robots.txt refusals and non-HTML
// bodies surface as *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	v := &visit{request: request, start: time.Now()}
	c := f.collector(v)

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(request.URL)
	}()

	var err error
	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err = <-done:
	}
	if err == nil {
		err = v.err
	}

	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked):
		return crawler.FetchResponse{}, &crawler.FetchError{
			URL: request.URL, Attempts: 1, StatusCode: http.StatusForbidden, Err: err,
		}
	case err != nil:
		if code := v.resp.StatusCode; code != 0 && (code < 200 || code > 299) {
			return v.resp, &crawler.FetchError{URL: request.URL, Attempts: 1, StatusCode: code}
		}
		return crawler.FetchResponse{}, fmt.Errorf("colly visit %s: %w", request.URL, err)
	case !isHTML(v.resp.Headers):
		return v.resp, &crawler.FetchError{
			URL: request.URL, Attempts: 1, StatusCode: v.resp.StatusCode, Err: ErrNotHTML,
		}
	}
	return v.resp, nil
}

func toFetchResponse(r *colly.Response, start time.Time) crawler.FetchResponse {
	resp := crawler.FetchResponse{
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Duration:   time.Since(start),
	}
	if r.Request != nil && r.Request.URL != nil {
		resp.URL = r.Request.URL.String()
	}
	if r.Headers != nil {
		resp.Headers = r.Headers.Clone()
	}
	return resp
}

// isHTML accepts a missing Content-Type; servers omit it often enough for HTML pages.
func isHTML(headers http.Header) bool {
	raw := headers.Get("Content-Type")
	if raw == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}

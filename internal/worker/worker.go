// Package worker implements the crawl loop: pull a task, fetch, analyze, index, repeat.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-crawler/internal/analyzer"
	"github.com/JakeFAU/sitesearch-crawler/internal/clock/system"
	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
	"github.com/JakeFAU/sitesearch-crawler/internal/metrics"
)

// Crawl outcomes recorded in metrics.
const (
	outcomeIndexed    = "indexed"
	outcomeMissing    = "missing"
	outcomeFetchError = "fetch_error"
	outcomeParseError = "parse_error"
	outcomeEmpty      = "empty"
	outcomeStoreError = "store_error"
	outcomeHalted     = "halted"
	outcomePanic      = "panic"
)

// Config controls Worker behavior.
type Config struct {
	Analyzer    analyzer.Options
	ContentType string
	// ArchivePrefix is prepended to snapshot object names.
	ArchivePrefix string
	// Skip keeps discovered links on filtered hosts out of the frontier.
	Skip *crawler.HostFilter
}

// Dependencies groups the collaborators a Worker talks to. Archive, Publisher
// and Hasher are optional. A worker without a Dispatcher can only Verify.
type Dependencies struct {
	Dispatcher crawler.Dispatcher
	Frontier   crawler.FrontierStore
	Index      crawler.IndexStore
	Fetcher    crawler.Fetcher
	Archive    crawler.BlobStore
	Publisher  crawler.Publisher
	Hasher     crawler.Hasher
	Clock      crawler.Clock
}

// Worker executes crawl and phrase-verify tasks.
type Worker struct {
	id     int
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
}

// New constructs a Worker.
func New(id int, deps Dependencies, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if cfg.Analyzer == (analyzer.Options{}) {
		cfg.Analyzer = analyzer.DefaultOptions()
	}
	return &Worker{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		logger: logger.With(zap.Int("worker_id", id)),
	}
}

// ID returns the worker's identifier.
func (w *Worker) ID() int {
	return w.id
}

// Run pulls tasks until the dispatcher sends StopTask or ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	if w.deps.Dispatcher == nil {
		return errors.New("worker has no dispatcher")
	}
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	success := true
	for {
		task, err := w.deps.Dispatcher.Next(ctx, w.id, success)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("next task: %w", err)
		}
		switch t := task.(type) {
		case crawler.StopTask:
			w.logger.Debug("worker stopping")
			return nil
		case crawler.CrawlTask:
			success = w.crawlRecovered(ctx, t.Position)
		case crawler.VerifyTask:
			if _, err := w.Verify(ctx, t); err != nil {
				w.logger.Debug("verify task failed", zap.Int64("position", t.Position), zap.Error(err))
			}
			success = true
		default:
			return fmt.Errorf("unsupported task %T", task)
		}
	}
}

// crawlRecovered reports a panicking crawl as a failure so the position is compensated
// and the worker keeps asking for tasks.
func (w *Worker) crawlRecovered(ctx context.Context, position int64) (indexed bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("crawl panicked",
				zap.Int64("position", position),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"),
			)
			metrics.ObserveCrawl("", outcomePanic, 0)
			indexed = false
		}
	}()
	return w.crawl(ctx, position)
}

// crawl runs one position through the pipeline and reports whether its description was persisted.
func (w *Worker) crawl(ctx context.Context, position int64) bool {
	logger := w.logger.With(zap.Int64("position", position))

	url, err := w.deps.Frontier.URLAt(ctx, position)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			logger.Debug("position not in frontier")
		} else {
			logger.Warn("frontier lookup failed", zap.Error(err))
		}
		metrics.ObserveCrawl("", outcomeMissing, 0)
		return false
	}
	logger = logger.With(zap.String("url", url))

	resp, err := w.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: url})
	if err != nil {
		logger.Info("fetch failed", zap.Error(err))
		metrics.ObserveCrawl(url, outcomeFetchError, 0)
		return false
	}

	base := url
	if resp.URL != "" {
		base = resp.URL
	}
	page, err := analyzer.Parse(string(resp.Body), base)
	if err != nil {
		logger.Info("page not parseable", zap.Error(err))
		metrics.ObserveCrawl(url, outcomeParseError, len(resp.Body))
		return false
	}
	result := page.Analyze(w.cfg.Analyzer)

	snapshotURI := w.archive(ctx, logger, url, resp.Body)

	if w.halted() {
		metrics.ObserveCrawl(url, outcomeHalted, len(resp.Body))
		return false
	}
	w.enqueueLinks(ctx, logger, result.Links)

	if len(result.Keywords) == 0 {
		logger.Debug("no keywords found, skipping index")
		metrics.ObserveCrawl(url, outcomeEmpty, len(resp.Body))
		return false
	}

	if w.halted() {
		metrics.ObserveCrawl(url, outcomeHalted, len(resp.Body))
		return false
	}
	if err := w.deps.Index.UpsertKeywords(ctx, url, result.Keywords); err != nil {
		logger.Error("keyword upsert failed", zap.Error(err))
		metrics.ObserveCrawl(url, outcomeStoreError, len(resp.Body))
		return false
	}

	if w.halted() {
		metrics.ObserveCrawl(url, outcomeHalted, len(resp.Body))
		return false
	}
	if err := w.deps.Index.UpsertDescription(ctx, url, result.Description); err != nil {
		logger.Error("description upsert failed", zap.Error(err))
		metrics.ObserveCrawl(url, outcomeStoreError, len(resp.Body))
		return false
	}

	metrics.ObserveCrawl(url, outcomeIndexed, len(resp.Body))
	logger.Debug("page indexed",
		zap.Strings("keywords", result.KeywordList()),
		zap.Int("links", len(result.Links)),
		zap.Bool("headless", resp.UsedHeadless),
	)
	w.publish(ctx, logger, crawler.PageIndexedEvent{
		URL:         url,
		Position:    position,
		Keywords:    result.KeywordList(),
		Links:       len(result.Links),
		SnapshotURI: snapshotURI,
		IndexedAt:   w.deps.Clock.Now(),
	})
	return true
}

// Verify re-fetches the page at task.Position and counts phrase occurrences in its visible text.
// It returns a nil result when the page cannot be fetched or, with MatchAll, when any phrase is absent.
func (w *Worker) Verify(ctx context.Context, task crawler.VerifyTask) (*crawler.VerifyResult, error) {
	url, err := w.deps.Frontier.URLAt(ctx, task.Position)
	if err != nil {
		return nil, fmt.Errorf("position %d: %w", task.Position, err)
	}
	resp, err := w.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: url})
	if err != nil {
		return nil, err
	}
	page, err := analyzer.Parse(string(resp.Body), url)
	if err != nil {
		return nil, err
	}
	text := page.VisibleText()

	rank := 0
	for _, phrase := range task.Phrases {
		count := analyzer.CountWholeWord(text, phrase)
		if count == 0 && task.MatchAll {
			return nil, nil
		}
		rank += count
	}
	return &crawler.VerifyResult{URL: url, Rank: rank}, nil
}

func (w *Worker) halted() bool {
	return w.deps.Dispatcher != nil && w.deps.Dispatcher.Halted()
}

func (w *Worker) enqueueLinks(ctx context.Context, logger *zap.Logger, links []string) {
	for _, link := range links {
		normalized, err := crawler.NormalizeURL(link)
		if err != nil || w.cfg.Skip.Blocked(normalized) {
			continue
		}
		if _, err := w.deps.Frontier.InsertIfAbsent(ctx, normalized); err != nil {
			logger.Warn("frontier insert failed", zap.String("link", normalized), zap.Error(err))
		}
	}
}

func (w *Worker) archive(ctx context.Context, logger *zap.Logger, url string, body []byte) string {
	if w.deps.Archive == nil || w.deps.Hasher == nil {
		return ""
	}
	digest, err := w.deps.Hasher.Hash([]byte(url))
	if err != nil {
		logger.Warn("snapshot name failed", zap.Error(err))
		return ""
	}
	uri, err := w.deps.Archive.PutObject(ctx, w.snapshotPath(digest), w.cfg.ContentType, body)
	if err != nil {
		logger.Warn("snapshot upload failed", zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) snapshotPath(digest string) string {
	prefix := strings.Trim(w.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return digest + ".html"
	}
	return fmt.Sprintf("%s/%s.html", prefix, digest)
}

func (w *Worker) publish(ctx context.Context, logger *zap.Logger, event crawler.PageIndexedEvent) {
	if w.deps.Publisher == nil {
		return
	}
	if _, err := w.deps.Publisher.Publish(ctx, crawler.TopicPageIndexed, event); err != nil {
		logger.Warn("publish page event failed", zap.Error(err))
	}
}


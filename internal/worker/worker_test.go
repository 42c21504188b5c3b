package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-crawler/internal/analyzer"
	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
	hashsha "github.com/JakeFAU/sitesearch-crawler/internal/hash/sha256"
	pubmem "github.com/JakeFAU/sitesearch-crawler/internal/publisher/memory"
	"github.com/JakeFAU/sitesearch-crawler/internal/storage/memory"
)

const homePage = `<html><head><title></title></head><body>
<h1>Welcome Home Page</h1>
<p>welcome home welcome</p>
<a href="/about">About</a>
<a href="mailto:someone@example.com">mail</a>
</body></html>`

func TestWorker_CrawlIndexesPage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memory.NewStore()
	_, err := store.InsertIfAbsent(ctx, "https://example.com/")
	require.NoError(t, err)

	dispatcher := &scriptedDispatcher{tasks: []crawler.Task{crawler.CrawlTask{Position: 1}}}
	archive := memory.NewBlobStore()
	publisher := pubmem.New()
	fetcher := &fakeFetcher{pages: map[string]string{"https://example.com/": homePage}}

	w := New(1, Dependencies{
		Dispatcher: dispatcher,
		Frontier:   store,
		Index:      store,
		Fetcher:    fetcher,
		Archive:    archive,
		Publisher:  publisher,
		Hasher:     hashsha.New(),
		Clock:      fixedClock{now: time.Unix(100, 0)},
	}, Config{
		Analyzer:      analyzer.Options{KeywordLimit: 2, DescriptionMaxLength: 200, MaxLinks: 50},
		ArchivePrefix: "/snapshots/",
	}, zap.NewNop())

	require.NoError(t, w.Run(ctx))
	require.Equal(t, []bool{true, true}, dispatcher.reported())

	welcome, err := store.SearchKeywords(ctx, []string{"welcome"}, crawler.SearchAny)
	require.NoError(t, err)
	require.Equal(t, []crawler.SearchResult{{URL: "https://example.com/", Description: "Welcome Home Page", Rank: 3}}, welcome)

	home, err := store.SearchKeywords(ctx, []string{"home"}, crawler.SearchAny)
	require.NoError(t, err)
	require.Len(t, home, 1)
	require.Equal(t, 2, home[0].Rank)

	page, err := store.SearchKeywords(ctx, []string{"page"}, crawler.SearchAny)
	require.NoError(t, err)
	require.Empty(t, page)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	about, err := store.URLAt(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/about", about)

	paths := archive.Paths()
	require.Len(t, paths, 1)
	require.True(t, strings.HasPrefix(paths[0], "snapshots/"))
	require.True(t, strings.HasSuffix(paths[0], ".html"))

	messages := publisher.Messages()
	require.Len(t, messages, 1)
	require.Equal(t, crawler.TopicPageIndexed, messages[0].Topic)
	event, ok := messages[0].Payload.(crawler.PageIndexedEvent)
	require.True(t, ok)
	require.Equal(t, []string{"welcome", "home"}, event.Keywords)
	require.Equal(t, int64(1), event.Position)
	require.Equal(t, "memory://"+paths[0], event.SnapshotURI)
	require.Equal(t, time.Unix(100, 0), event.IndexedAt)
}

func TestWorker_ReportsFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pages   map[string]string
		fail    map[string]error
		task    crawler.CrawlTask
		indexed int64
		links   int64
	}{
		{
			name: "position beyond frontier",
			task: crawler.CrawlTask{Position: 7},
		},
		{
			name: "fetch error",
			fail: map[string]error{"https://example.com/": &crawler.FetchError{
				URL: "https://example.com/", Attempts: 3, StatusCode: http.StatusBadGateway,
			}},
			task: crawler.CrawlTask{Position: 1},
		},
		{
			name:  "nothing indexable",
			pages: map[string]string{"https://example.com/": `<p>no headings</p><a href="/next">next</a>`},
			task:  crawler.CrawlTask{Position: 1},
			links: 1,
		},
		{
			name:  "empty body",
			pages: map[string]string{"https://example.com/": "   "},
			task:  crawler.CrawlTask{Position: 1},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := memory.NewStore()
			_, err := store.InsertIfAbsent(ctx, "https://example.com/")
			require.NoError(t, err)

			dispatcher := &scriptedDispatcher{tasks: []crawler.Task{tc.task}}
			w := New(2, Dependencies{
				Dispatcher: dispatcher,
				Frontier:   store,
				Index:      store,
				Fetcher:    &fakeFetcher{pages: tc.pages, errs: tc.fail},
			}, Config{}, zap.NewNop())

			require.NoError(t, w.Run(ctx))
			require.Equal(t, []bool{true, false}, dispatcher.reported())

			indexed, err := store.CountIndexed(ctx)
			require.NoError(t, err)
			require.Equal(t, tc.indexed, indexed)

			count, err := store.Count(ctx)
			require.NoError(t, err)
			require.Equal(t, 1+tc.links, count)
		})
	}
}

func TestWorker_SkipsFilteredHosts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memory.NewStore()
	_, err := store.InsertIfAbsent(ctx, "https://example.com/")
	require.NoError(t, err)

	page := `<html><body><h1>Links Galore</h1>
<a href="https://facebook.com/share">share</a>
<a href="https://ads.tracker.net/pixel">ad</a>
<a href="/kept">kept</a>
</body></html>`
	dispatcher := &scriptedDispatcher{tasks: []crawler.Task{crawler.CrawlTask{Position: 1}}}
	w := New(7, Dependencies{
		Dispatcher: dispatcher,
		Frontier:   store,
		Index:      store,
		Fetcher:    &fakeFetcher{pages: map[string]string{"https://example.com/": page}},
	}, Config{Skip: crawler.NewHostFilter([]string{"facebook.com", "*.tracker.net"})}, zap.NewNop())

	require.NoError(t, w.Run(ctx))
	require.Equal(t, []bool{true, true}, dispatcher.reported())

	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	kept, err := store.URLAt(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/kept", kept)
}

func TestWorker_PanickingFetchIsReportedAsFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memory.NewStore()
	_, err := store.InsertIfAbsent(ctx, "https://example.com/")
	require.NoError(t, err)
	_, err = store.InsertIfAbsent(ctx, "https://example.com/ok")
	require.NoError(t, err)

	dispatcher := &scriptedDispatcher{tasks: []crawler.Task{
		crawler.CrawlTask{Position: 1},
		crawler.CrawlTask{Position: 2},
	}}
	fetcher := &panickingFetcher{
		panicOn: "https://example.com/",
		next:    &fakeFetcher{pages: map[string]string{"https://example.com/ok": homePage}},
	}
	w := New(1, Dependencies{
		Dispatcher: dispatcher,
		Frontier:   store,
		Index:      store,
		Fetcher:    fetcher,
	}, Config{
		Analyzer: analyzer.Options{KeywordLimit: 2, DescriptionMaxLength: 200, MaxLinks: 50},
	}, zap.NewNop())

	require.NotPanics(t, func() {
		require.NoError(t, w.Run(ctx))
	})
	require.Equal(t, []bool{true, false, true}, dispatcher.reported())

	indexed, err := store.CountIndexed(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), indexed)
}

func TestWorker_HaltedSkipsPersistence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memory.NewStore()
	_, err := store.InsertIfAbsent(ctx, "https://example.com/")
	require.NoError(t, err)

	dispatcher := &scriptedDispatcher{tasks: []crawler.Task{crawler.CrawlTask{Position: 1}}}
	dispatcher.halted.Store(true)
	w := New(3, Dependencies{
		Dispatcher: dispatcher,
		Frontier:   store,
		Index:      store,
		Fetcher:    &fakeFetcher{pages: map[string]string{"https://example.com/": homePage}},
	}, Config{}, zap.NewNop())

	require.NoError(t, w.Run(ctx))
	require.Equal(t, []bool{true, false}, dispatcher.reported())

	indexed, err := store.CountIndexed(ctx)
	require.NoError(t, err)
	require.Zero(t, indexed)
	count, err := store.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestWorker_StoreErrorIsFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memory.NewStore()
	_, err := store.InsertIfAbsent(ctx, "https://example.com/")
	require.NoError(t, err)

	dispatcher := &scriptedDispatcher{tasks: []crawler.Task{crawler.CrawlTask{Position: 1}}}
	w := New(4, Dependencies{
		Dispatcher: dispatcher,
		Frontier:   store,
		Index:      failingIndex{IndexStore: store},
		Fetcher:    &fakeFetcher{pages: map[string]string{"https://example.com/": homePage}},
	}, Config{}, zap.NewNop())

	require.NoError(t, w.Run(ctx))
	require.Equal(t, []bool{true, false}, dispatcher.reported())
}

func TestWorker_RunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	w := New(5, Dependencies{Dispatcher: blockingDispatcher{}}, Config{}, zap.NewNop())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_RunWithoutDispatcher(t *testing.T) {
	t.Parallel()
	w := New(6, Dependencies{}, Config{}, nil)
	require.Error(t, w.Run(context.Background()))
}

func TestWorker_Verify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := memory.NewStore()
	_, err := store.InsertIfAbsent(ctx, "https://example.com/a")
	require.NoError(t, err)
	_, err = store.InsertIfAbsent(ctx, "https://example.com/down")
	require.NoError(t, err)

	fetcher := &fakeFetcher{
		pages: map[string]string{
			"https://example.com/a": `<html><body><p>The alpha release.</p><script>beta beta</script></body></html>`,
		},
		errs: map[string]error{"https://example.com/down": errors.New("connection refused")},
	}
	w := New(0, Dependencies{Frontier: store, Fetcher: fetcher}, Config{}, zap.NewNop())

	phrases := []string{"alpha", "beta"}

	result, err := w.Verify(ctx, crawler.VerifyTask{Position: 1, Phrases: phrases, MatchAll: true})
	require.NoError(t, err)
	require.Nil(t, result)

	result, err = w.Verify(ctx, crawler.VerifyTask{Position: 1, Phrases: phrases, MatchAll: false})
	require.NoError(t, err)
	require.Equal(t, &crawler.VerifyResult{URL: "https://example.com/a", Rank: 1}, result)

	result, err = w.Verify(ctx, crawler.VerifyTask{Position: 1, Phrases: []string{"alpha release"}, MatchAll: true})
	require.NoError(t, err)
	require.Equal(t, 1, result.Rank)

	result, err = w.Verify(ctx, crawler.VerifyTask{Position: 2, Phrases: phrases})
	require.Error(t, err)
	require.Nil(t, result)

	result, err = w.Verify(ctx, crawler.VerifyTask{Position: 9, Phrases: phrases})
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.Nil(t, result)
}

type scriptedDispatcher struct {
	mu      sync.Mutex
	tasks   []crawler.Task
	reports []bool
	halted  atomic.Bool
}

func (d *scriptedDispatcher) Next(_ context.Context, _ int, success bool) (crawler.Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports = append(d.reports, success)
	if len(d.tasks) == 0 {
		return crawler.StopTask{}, nil
	}
	task := d.tasks[0]
	d.tasks = d.tasks[1:]
	return task, nil
}

func (d *scriptedDispatcher) Halted() bool {
	return d.halted.Load()
}

func (d *scriptedDispatcher) reported() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.reports...)
}

type blockingDispatcher struct{}

func (blockingDispatcher) Next(ctx context.Context, _ int, _ bool) (crawler.Task, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingDispatcher) Halted() bool { return false }

type fakeFetcher struct {
	pages map[string]string
	errs  map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if err, ok := f.errs[req.URL]; ok {
		return crawler.FetchResponse{}, err
	}
	body, ok := f.pages[req.URL]
	if !ok {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: req.URL, Attempts: 1, StatusCode: http.StatusNotFound}
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

type panickingFetcher struct {
	panicOn string
	next    crawler.Fetcher
}

func (f *panickingFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	if req.URL == f.panicOn {
		panic("renderer crashed")
	}
	return f.next.Fetch(ctx, req)
}

type failingIndex struct {
	crawler.IndexStore
}

func (failingIndex) UpsertKeywords(context.Context, string, []crawler.KeywordRank) error {
	return crawler.StorageError("upsert keywords", errors.New("disk full"))
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time {
	return c.now
}

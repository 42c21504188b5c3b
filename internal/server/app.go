// Package server builds the crawl and search service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-crawler/internal/analyzer"
	"github.com/JakeFAU/sitesearch-crawler/internal/api"
	"github.com/JakeFAU/sitesearch-crawler/internal/clock/system"
	"github.com/JakeFAU/sitesearch-crawler/internal/config"
	"github.com/JakeFAU/sitesearch-crawler/internal/coordinator"
	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
	"github.com/JakeFAU/sitesearch-crawler/internal/fetcher"
	collyfetcher "github.com/JakeFAU/sitesearch-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/sitesearch-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/sitesearch-crawler/internal/hash/sha256"
	"github.com/JakeFAU/sitesearch-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/sitesearch-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/sitesearch-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/sitesearch-crawler/internal/search"
	gcsstorage "github.com/JakeFAU/sitesearch-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/sitesearch-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/sitesearch-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/sitesearch-crawler/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/sitesearch-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/sitesearch-crawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store       crawler.Store
	coordinator *coordinator.Coordinator
	workers     []coordinator.Runner
	apiServer   *api.Server

	headless        *headlessfetcher.Fetcher
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
}

// Build creates the application's dependencies and seeds the frontier.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	logger.Info("building application",
		zap.Int("port", cfg.Server.Port),
		zap.String("db_driver", cfg.DB.Driver),
		zap.String("archive", cfg.Archive.Backend),
		zap.Int("target_pages", cfg.Crawler.TargetPages),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
	)

	if err := app.build(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	if a.store, err = setupStore(ctx, a.cfg, a.logger); err != nil {
		return err
	}
	blobStore, err := a.setupArchive(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	pageFetcher, err := a.setupFetcher()
	if err != nil {
		return err
	}

	clock := system.New()
	workerCfg := worker.Config{
		Analyzer: analyzer.Options{
			KeywordLimit:         a.cfg.Crawler.KeywordLimit,
			DescriptionMaxLength: a.cfg.Crawler.DescriptionMaxLength,
			MaxLinks:             a.cfg.Crawler.MaxLinksPerPage,
		},
		ContentType:   a.cfg.Archive.ContentType,
		ArchivePrefix: a.cfg.Archive.Prefix,
		Skip:          crawler.NewHostFilter(a.cfg.Crawler.BlockedHosts),
	}
	deps := worker.Dependencies{
		Frontier:  a.store,
		Index:     a.store,
		Fetcher:   pageFetcher,
		Archive:   blobStore,
		Publisher: publisher,
		Hasher:    sha256.New(),
		Clock:     clock,
	}

	// The verifier shares the crawl fetch path but never asks for tasks.
	verifier := worker.New(0, deps, workerCfg, a.logger.Named("verifier"))
	a.coordinator, err = coordinator.New(coordinator.Config{
		TargetPages:       int64(a.cfg.Crawler.TargetPages),
		Seeds:             a.cfg.Crawler.Seeds,
		VerifyTimeout:     a.cfg.VerifyTimeout(),
		VerifyParallelism: a.cfg.Crawler.VerifyParallelism,
	}, coordinator.Dependencies{
		Frontier:  a.store,
		Index:     a.store,
		Verifier:  verifier,
		Publisher: publisher,
		Clock:     clock,
	}, a.logger.Named("coordinator"))
	if err != nil {
		return fmt.Errorf("coordinator init failed: %w", err)
	}
	if err := a.coordinator.Seed(ctx); err != nil {
		return fmt.Errorf("seed frontier: %w", err)
	}

	deps.Dispatcher = a.coordinator
	for i := 1; i <= a.cfg.Crawler.Concurrency; i++ {
		a.workers = append(a.workers, worker.New(i, deps, workerCfg, a.logger.Named("worker")))
	}

	engine := search.New(a.coordinator, a.store, a.store, a.coordinator, a.logger.Named("search"))
	a.apiServer = api.NewServer(engine, a.coordinator, api.Options{
		AllowedOrigin:  a.cfg.Server.AllowedOrigin,
		RequestTimeout: time.Duration(a.cfg.Server.RequestTimeoutSeconds) * time.Second,
	}, a.logger.Named("api"))
	return nil
}

func setupStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Store, error) {
	var (
		store crawler.Store
		err   error
	)
	switch cfg.DB.Driver {
	case config.DriverPostgres:
		store, err = pgstore.NewStore(ctx, pgstore.Config{
			DSN:                  cfg.DB.DSN,
			MaxConns:             cfg.DB.MaxConns,
			MinConns:             cfg.DB.MinConns,
			MaxConnLifetime:      time.Duration(cfg.DB.MaxConnLifetimeSeconds) * time.Second,
			DescriptionMaxLength: cfg.Crawler.DescriptionMaxLength,
		})
	case config.DriverSQLite:
		store, err = sqlitestore.Open(ctx, cfg.DB.DSN, cfg.Crawler.DescriptionMaxLength)
	default:
		store = memorystorage.NewStore()
	}
	if err != nil {
		return nil, fmt.Errorf("%s store init failed: %w", cfg.DB.Driver, err)
	}
	logger.Info("index store ready", zap.String("driver", cfg.DB.Driver))

	if cfg.DB.ResetOnStart {
		if err := store.Reset(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("reset store: %w", err)
		}
		logger.Info("index store reset")
	}
	return store, nil
}

func (a *App) setupArchive(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Archive.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving snapshots to GCS", zap.String("bucket", a.cfg.Archive.Bucket))
		return blobStore, nil
	case config.ArchiveLocal:
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("archiving snapshots locally", zap.String("path", a.cfg.Archive.BaseDir))
		return blobStore, nil
	case config.ArchiveMemory:
		a.logger.Info("archiving snapshots in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		a.logger.Info("snapshot archiving disabled")
		return nil, nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = client.Publisher(a.cfg.PubSub.TopicName)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(a.pubsubPublisher), nil
}

func (a *App) setupFetcher() (crawler.Fetcher, error) {
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
	})

	var (
		headless crawler.Fetcher
		detector crawler.HeadlessDetector
	)
	if a.cfg.Headless.Enabled {
		f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(a.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		a.headless = f
		headless = f
		detector = fetcher.NewHeuristic(a.cfg.Headless.PromotionThresh)
		a.logger.Info("headless rendering enabled", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
	}

	var limiter crawler.RateLimiter
	if a.cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.RateLimit.DefaultRPS,
			DefaultBurst: a.cfg.RateLimit.DefaultBurst,
		})
		a.logger.Info("per-host rate limit enabled",
			zap.Float64("default_rps", a.cfg.RateLimit.DefaultRPS),
			zap.Int("default_burst", a.cfg.RateLimit.DefaultBurst),
		)
	}

	base, maxDelay := a.cfg.BackoffBounds()
	retry := crawler.NewExponentialRetryPolicy(a.cfg.HTTP.MaxRetries, base, maxDelay)
	return fetcher.New(probe, headless, detector, retry, limiter, a.logger.Named("fetcher")), nil
}

// Handler exposes the API router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Ready reports whether the index-ready gate is open.
func (a *App) Ready() bool {
	return a.coordinator.Ready()
}

// Crawl runs the worker pool until the gate opens, the frontier is exhausted or ctx ends.
func (a *App) Crawl(ctx context.Context) error {
	if err := a.coordinator.Run(ctx, a.workers...); err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}
	readiness := a.coordinator.Readiness()
	a.logger.Info("crawl finished",
		zap.Bool("ready", a.coordinator.Ready()),
		zap.Int64("indexed", readiness.IndexedCount),
	)
	return nil
}

// Run serves the API while the crawl builds the index, and blocks until ctx
// is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	crawlDone := make(chan error, 1)
	go func() {
		crawlDone <- a.Crawl(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	var crawlErr error
	select {
	case crawlErr = <-crawlDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("crawl did not stop before shutdown deadline")
	}
	a.Close()
	return crawlErr
}

// Close releases external resources. It is safe on a partially built App.
func (a *App) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
	a.logger.Info("shutdown complete")
}

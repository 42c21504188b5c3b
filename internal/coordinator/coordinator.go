// Package coordinator hands crawl positions to a pool of pull-based workers,
// tracks the compensation quota, and opens the index-ready gate once enough
// pages have been indexed. It also runs the phrase-verification fan-out.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-crawler/internal/clock/system"
	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
	"github.com/JakeFAU/sitesearch-crawler/internal/metrics"
)

// Config controls dispatch and verification.
type Config struct {
	// TargetPages is the number of indexed pages required before the gate opens.
	TargetPages int64
	Seeds       []string
	// VerifyTimeout bounds one phrase-verification fan-out. Zero means no bound.
	VerifyTimeout time.Duration
	// VerifyParallelism caps concurrent verifications. Zero runs one goroutine per position.
	VerifyParallelism int
}

// Verifier re-fetches one page and scores phrase occurrences.
type Verifier interface {
	Verify(ctx context.Context, task crawler.VerifyTask) (*crawler.VerifyResult, error)
}

// Runner is a crawl worker driven by the coordinator.
type Runner interface {
	ID() int
	Run(ctx context.Context) error
}

// Dependencies groups the coordinator's collaborators. Verifier and Publisher are optional.
type Dependencies struct {
	Frontier  crawler.FrontierStore
	Index     crawler.IndexStore
	Verifier  Verifier
	Publisher crawler.Publisher
	Clock     crawler.Clock
}

type request struct {
	workerID int
	success  bool
	reply    chan crawler.Task
}

// Coordinator implements crawler.Dispatcher. All dispatch state is owned by the
// goroutine running Run; other goroutines only see the published snapshot.
type Coordinator struct {
	cfg    Config
	deps   Dependencies
	logger *zap.Logger

	requests chan request
	exits    chan int
	done     chan struct{}
	halt     chan struct{}
	haltOnce sync.Once
	ready    atomic.Bool
	snapshot atomic.Pointer[crawler.Readiness]

	// loop state
	position int64
	quota    int64
	indexed  int64
	known    int64
	inFlight int
	busy     map[int]bool
	parked   []request
	gateOpen bool
}

var _ crawler.Dispatcher = (*Coordinator)(nil)

// New validates cfg and builds a Coordinator.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Coordinator, error) {
	if cfg.TargetPages <= 0 {
		return nil, fmt.Errorf("target pages must be positive, got %d", cfg.TargetPages)
	}
	if deps.Frontier == nil || deps.Index == nil {
		return nil, errors.New("frontier and index stores are required")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
		requests: make(chan request),
		exits:    make(chan int),
		done:     make(chan struct{}),
		halt:     make(chan struct{}),
		position: 1,
		busy:     make(map[int]bool),
	}
	c.publishSnapshot()
	metrics.SetIndexReady(false)
	return c, nil
}

// Seed inserts the normalized seed URLs into the frontier. Any failure is fatal to the crawl.
func (c *Coordinator) Seed(ctx context.Context) error {
	if len(c.cfg.Seeds) == 0 {
		return errors.New("no seed urls configured")
	}
	for _, seed := range c.cfg.Seeds {
		normalized, err := crawler.NormalizeURL(seed)
		if err != nil {
			return fmt.Errorf("seed %q: %w", seed, err)
		}
		pos, err := c.deps.Frontier.InsertIfAbsent(ctx, normalized)
		if err != nil {
			return fmt.Errorf("insert seed %q: %w", normalized, err)
		}
		c.logger.Debug("seeded frontier", zap.String("url", normalized), zap.Int64("position", pos))
	}
	return nil
}

// Run starts the workers and serves their task requests until every worker
// has exited or ctx ends. The gate opens when the last worker exits even if
// the target was not reached.
func (c *Coordinator) Run(ctx context.Context, workers ...Runner) error {
	if len(workers) == 0 {
		return errors.New("no workers to run")
	}
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Go(func() {
			defer c.exited(w.ID())
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("worker panicked",
						zap.Int("worker_id", w.ID()),
						zap.String("panic", fmt.Sprint(r)),
						zap.Stack("stack"),
					)
				}
			}()
			if err := w.Run(ctx); err != nil {
				c.logger.Error("worker exited with error", zap.Int("worker_id", w.ID()), zap.Error(err))
			}
		})
	}
	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
	}()

	c.logger.Info("crawl started",
		zap.Int("workers", len(workers)),
		zap.Int64("target_pages", c.cfg.TargetPages),
	)
	c.loop(ctx, workersDone)
	wg.Wait()
	return nil
}

// Next implements crawler.Dispatcher.
func (c *Coordinator) Next(ctx context.Context, workerID int, success bool) (crawler.Task, error) {
	req := request{workerID: workerID, success: success, reply: make(chan crawler.Task, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return crawler.StopTask{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case task := <-req.reply:
		return task, nil
	case <-c.done:
		select {
		case task := <-req.reply:
			return task, nil
		default:
			return crawler.StopTask{}, nil
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Halted reports whether workers must stop persisting: the gate is open or the crawl was cancelled.
func (c *Coordinator) Halted() bool {
	select {
	case <-c.halt:
		return true
	default:
		return false
	}
}

// HaltSignal is closed when workers must stop persisting.
func (c *Coordinator) HaltSignal() <-chan struct{} {
	return c.halt
}

// Ready reports whether the index-ready gate is open. Once true it stays true.
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}

// Readiness returns the latest published snapshot of the dispatch state.
func (c *Coordinator) Readiness() crawler.Readiness {
	return *c.snapshot.Load()
}

func (c *Coordinator) loop(ctx context.Context, workersDone <-chan struct{}) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.raiseHalt()
			c.logger.Info("crawl cancelled", zap.Int64("next_position", c.position))
			return
		case <-workersDone:
			c.finish(ctx)
			return
		case req := <-c.requests:
			c.handle(ctx, req)
		case id := <-c.exits:
			c.handleExit(ctx, id)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, req request) {
	if c.busy[req.workerID] {
		delete(c.busy, req.workerID)
		c.inFlight--
	}
	if !req.success {
		c.quota++
		metrics.SetCompensationQuota(c.quota)
	}
	c.parked = append(c.parked, req)
	c.drain(ctx)
}

// exited tells the loop a worker is gone so a position it held is not waited on.
func (c *Coordinator) exited(workerID int) {
	select {
	case c.exits <- workerID:
	case <-c.done:
	}
}

// handleExit treats a position abandoned by an exiting worker as a failed crawl.
func (c *Coordinator) handleExit(ctx context.Context, workerID int) {
	if !c.busy[workerID] {
		return
	}
	delete(c.busy, workerID)
	c.inFlight--
	c.quota++
	metrics.SetCompensationQuota(c.quota)
	c.logger.Warn("worker exited while crawling", zap.Int("worker_id", workerID))
	c.drain(ctx)
}

// drain answers parked requests in arrival order until one has to keep waiting.
func (c *Coordinator) drain(ctx context.Context) {
	defer c.publishSnapshot()
	for len(c.parked) > 0 {
		task, ok := c.decide(ctx)
		if !ok {
			return
		}
		req := c.parked[0]
		c.parked = c.parked[1:]
		if _, crawl := task.(crawler.CrawlTask); crawl {
			c.busy[req.workerID] = true
			c.inFlight++
		}
		req.reply <- task
	}
}

// decide picks the next task. ok is false when the request must wait for an
// in-flight worker to grow the frontier.
func (c *Coordinator) decide(ctx context.Context) (crawler.Task, bool) {
	if c.gateOpen {
		return crawler.StopTask{}, true
	}
	if c.position > c.cfg.TargetPages+c.quota {
		count, err := c.deps.Index.CountIndexed(ctx)
		if err != nil {
			c.logger.Warn("count indexed pages failed", zap.Error(err))
		} else {
			c.indexed = count
			metrics.SetIndexedPages(count)
			if count >= c.cfg.TargetPages {
				c.openGate(ctx)
				return crawler.StopTask{}, true
			}
			c.quota += c.cfg.TargetPages - count
			metrics.SetCompensationQuota(c.quota)
		}
	}

	if c.position > c.known {
		known, err := c.deps.Frontier.Count(ctx)
		if err != nil {
			c.logger.Warn("count frontier failed", zap.Error(err))
		} else {
			c.known = known
		}
	}
	if c.position <= c.known {
		task := crawler.CrawlTask{Position: c.position}
		c.position++
		metrics.IncDispatched()
		return task, true
	}
	if c.inFlight == 0 {
		c.logger.Info("frontier exhausted", zap.Int64("position", c.position), zap.Int64("known", c.known))
		return crawler.StopTask{}, true
	}
	return nil, false
}

func (c *Coordinator) finish(ctx context.Context) {
	if c.gateOpen {
		return
	}
	if count, err := c.deps.Index.CountIndexed(ctx); err == nil {
		c.indexed = count
		metrics.SetIndexedPages(count)
	}
	if c.indexed < c.cfg.TargetPages {
		c.logger.Warn("all workers exited before reaching the target",
			zap.Int64("indexed", c.indexed),
			zap.Int64("target_pages", c.cfg.TargetPages),
		)
	}
	c.openGate(ctx)
	c.publishSnapshot()
}

func (c *Coordinator) openGate(ctx context.Context) {
	if c.gateOpen {
		return
	}
	c.gateOpen = true
	c.ready.Store(true)
	metrics.SetIndexReady(true)
	c.raiseHalt()

	event := crawler.IndexReadyEvent{
		IndexedCount:      c.indexed,
		CompensationQuota: c.quota,
		Positions:         c.position - 1,
		OpenedAt:          c.deps.Clock.Now(),
	}
	c.logger.Info("index ready",
		zap.Int64("indexed", event.IndexedCount),
		zap.Int64("compensation_quota", event.CompensationQuota),
		zap.Int64("positions_dispatched", event.Positions),
	)
	if c.deps.Publisher != nil {
		if _, err := c.deps.Publisher.Publish(ctx, crawler.TopicIndexReady, event); err != nil {
			c.logger.Warn("publish index ready event failed", zap.Error(err))
		}
	}
}

func (c *Coordinator) raiseHalt() {
	c.haltOnce.Do(func() { close(c.halt) })
}

func (c *Coordinator) publishSnapshot() {
	c.snapshot.Store(&crawler.Readiness{
		Building:          !c.gateOpen,
		IndexedCount:      c.indexed,
		CompensationQuota: c.quota,
		Position:          c.position,
		InFlight:          c.inFlight,
	})
}

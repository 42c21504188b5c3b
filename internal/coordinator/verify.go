package coordinator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
	"github.com/JakeFAU/sitesearch-crawler/internal/metrics"
)

type verifySlot struct {
	index  int
	result *crawler.VerifyResult
}

// Verify checks phrases against every position in parallel and returns one slot
// per position, nil where the page failed, missed, errored or did not finish
// before the verify timeout.
func (c *Coordinator) Verify(
	ctx context.Context,
	positions []int64,
	phrases []string,
	matchAll bool,
) []*crawler.VerifyResult {
	results := make([]*crawler.VerifyResult, len(positions))
	if len(positions) == 0 {
		return results
	}
	if c.deps.Verifier == nil {
		c.logger.Warn("phrase verification requested without a verifier")
		return results
	}
	if c.cfg.VerifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.VerifyTimeout)
		defer cancel()
	}

	// Buffered so stragglers never block after the collector gives up.
	slots := make(chan verifySlot, len(positions))
	go func() {
		var g errgroup.Group
		if c.cfg.VerifyParallelism > 0 {
			g.SetLimit(c.cfg.VerifyParallelism)
		}
		for i, position := range positions {
			g.Go(func() error {
				slots <- verifySlot{index: i, result: c.verifyOne(ctx, position, phrases, matchAll)}
				return nil
			})
		}
		_ = g.Wait()
		close(slots)
	}()

	for received := 0; received < len(positions); {
		select {
		case slot, ok := <-slots:
			if !ok {
				return results
			}
			results[slot.index] = slot.result
			received++
		case <-ctx.Done():
			c.logger.Warn("phrase verification did not finish",
				zap.Int("positions", len(positions)),
				zap.Int("completed", received),
				zap.Error(ctx.Err()),
			)
			return results
		}
	}
	return results
}

func (c *Coordinator) verifyOne(
	ctx context.Context,
	position int64,
	phrases []string,
	matchAll bool,
) (result *crawler.VerifyResult) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("phrase verifier panicked",
				zap.Int64("position", position),
				zap.String("panic", fmt.Sprint(r)),
			)
			metrics.ObservePhraseVerification("error")
			result = nil
		}
	}()
	if ctx.Err() != nil {
		metrics.ObservePhraseVerification("error")
		return nil
	}
	res, err := c.deps.Verifier.Verify(ctx, crawler.VerifyTask{
		Position: position,
		Phrases:  phrases,
		MatchAll: matchAll,
	})
	if err != nil {
		c.logger.Debug("phrase verification failed", zap.Int64("position", position), zap.Error(err))
		metrics.ObservePhraseVerification("error")
		return nil
	}
	if res == nil {
		metrics.ObservePhraseVerification("miss")
		return nil
	}
	metrics.ObservePhraseVerification("hit")
	return res
}

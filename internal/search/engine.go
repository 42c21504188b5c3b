// Package search answers keyword and phrase queries against the crawl index.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
	"github.com/JakeFAU/sitesearch-crawler/internal/metrics"
)

// Gate reports whether the index is ready to serve.
type Gate interface {
	Ready() bool
}

// PhraseVerifier re-checks candidate positions for phrases, one slot per position.
type PhraseVerifier interface {
	Verify(ctx context.Context, positions []int64, phrases []string, matchAll bool) []*crawler.VerifyResult
}

// Engine runs plain-term searches against the keyword index and phrase searches
// through live verification.
type Engine struct {
	gate     Gate
	frontier crawler.FrontierStore
	index    crawler.IndexStore
	verifier PhraseVerifier
	logger   *zap.Logger
}

// New builds an Engine.
func New(
	gate Gate,
	frontier crawler.FrontierStore,
	index crawler.IndexStore,
	verifier PhraseVerifier,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		gate:     gate,
		frontier: frontier,
		index:    index,
		verifier: verifier,
		logger:   logger,
	}
}

// Search returns matches ordered by rank, highest first. It fails with
// crawler.ErrIndexBuilding until the gate opens, and with a validation error
// for an unknown mode or a phrase without a plain anchor term.
func (e *Engine) Search(ctx context.Context, keywords []string, mode crawler.SearchMode) ([]crawler.SearchResult, error) {
	if !e.gate.Ready() {
		metrics.ObserveSearch(modeLabel(mode), "none", "building")
		return nil, crawler.ErrIndexBuilding
	}
	if _, ok := crawler.ParseSearchMode(string(mode)); !ok {
		metrics.ObserveSearch("invalid", "none", "invalid")
		return nil, &crawler.ValidationError{Reason: fmt.Sprintf("unknown search type %q", mode)}
	}

	q := ParseQuery(keywords)
	if len(q.Phrases) > 0 && len(q.Terms) == 0 {
		metrics.ObserveSearch(string(mode), "phrase", "invalid")
		return nil, &crawler.ValidationError{Reason: "a phrase search needs at least one plain keyword"}
	}
	if q.Empty() {
		metrics.ObserveSearch(string(mode), "none", "empty")
		return []crawler.SearchResult{}, nil
	}

	kind, run := "plain", e.searchTerms
	if len(q.Phrases) > 0 {
		kind, run = "phrase", e.searchPhrases
	}
	results, err := run(ctx, q, mode)
	if err != nil {
		metrics.ObserveSearch(string(mode), kind, "error")
		return nil, err
	}
	outcome := "hit"
	if len(results) == 0 {
		outcome = "empty"
	}
	metrics.ObserveSearch(string(mode), kind, outcome)
	return results, nil
}

func (e *Engine) searchTerms(ctx context.Context, q Query, mode crawler.SearchMode) ([]crawler.SearchResult, error) {
	results, err := e.index.SearchKeywords(ctx, q.Terms, mode)
	if err != nil {
		return nil, fmt.Errorf("search keywords: %w", err)
	}
	if results == nil {
		results = []crawler.SearchResult{}
	}
	return results, nil
}

func (e *Engine) searchPhrases(ctx context.Context, q Query, mode crawler.SearchMode) ([]crawler.SearchResult, error) {
	anchor := q.Terms[0]
	positions, err := e.frontier.PositionsMatching(ctx, anchor)
	if err != nil {
		return nil, fmt.Errorf("match anchor %q: %w", anchor, err)
	}
	if len(positions) == 0 {
		return []crawler.SearchResult{}, nil
	}
	if e.verifier == nil {
		return nil, errors.New("phrase search is not configured")
	}

	verified := e.verifier.Verify(ctx, positions, q.Phrases, mode == crawler.SearchAll)
	hits := make([]crawler.VerifyResult, 0, len(verified))
	urls := make([]string, 0, len(verified))
	for _, v := range verified {
		if v == nil {
			continue
		}
		hits = append(hits, *v)
		urls = append(urls, v.URL)
	}
	e.logger.Debug("phrase search verified",
		zap.String("anchor", anchor),
		zap.Int("candidates", len(positions)),
		zap.Int("hits", len(hits)),
	)
	if len(hits) == 0 {
		return []crawler.SearchResult{}, nil
	}

	descriptions, err := e.index.Descriptions(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("load descriptions: %w", err)
	}
	results := make([]crawler.SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, crawler.SearchResult{
			URL:         hit.URL,
			Description: descriptions[hit.URL],
			Rank:        hit.Rank,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Rank != results[j].Rank {
			return results[i].Rank > results[j].Rank
		}
		return results[i].URL < results[j].URL
	})
	return results, nil
}

func modeLabel(mode crawler.SearchMode) string {
	if _, ok := crawler.ParseSearchMode(string(mode)); ok {
		return string(mode)
	}
	return "invalid"
}

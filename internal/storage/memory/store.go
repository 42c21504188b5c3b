// Package memory provides in-process frontier, index and snapshot stores for development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
)

// Store keeps the frontier and index tables in process memory for development/testing.
type Store struct {
	mu           sync.RWMutex
	urls         []string
	positions    map[string]int64
	keywords     map[string]map[string]int
	descriptions map[string]string
}

var _ crawler.Store = (*Store)(nil)

// NewStore constructs an empty Store.
func NewStore() *Store {
	s := &Store{}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.urls = nil
	s.positions = make(map[string]int64)
	s.keywords = make(map[string]map[string]int)
	s.descriptions = make(map[string]string)
}

// Reset empties every table.
func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

// Close is a no-op.
func (s *Store) Close() {}

// InsertIfAbsent returns the existing position for url or appends it.
func (s *Store) InsertIfAbsent(_ context.Context, url string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos, ok := s.positions[url]; ok {
		return pos, nil
	}
	s.urls = append(s.urls, url)
	pos := int64(len(s.urls))
	s.positions[url] = pos
	return pos, nil
}

// URLAt returns the URL holding position.
func (s *Store) URLAt(_ context.Context, position int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if position < 1 || position > int64(len(s.urls)) {
		return "", crawler.ErrNotFound
	}
	return s.urls[position-1], nil
}

// Count returns the number of known URLs.
func (s *Store) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.urls)), nil
}

// PositionsMatching lists positions whose URL contains substr.
func (s *Store) PositionsMatching(_ context.Context, substr string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for i, url := range s.urls {
		if strings.Contains(url, substr) {
			out = append(out, int64(i+1))
		}
	}
	return out, nil
}

// UpsertKeywords overwrites the rank of each (url, keyword) pair.
func (s *Store) UpsertKeywords(_ context.Context, url string, keywords []crawler.KeywordRank) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ranks, ok := s.keywords[url]
	if !ok {
		ranks = make(map[string]int, len(keywords))
		s.keywords[url] = ranks
	}
	for _, kw := range keywords {
		ranks[kw.Keyword] = kw.Rank
	}
	return nil
}

// UpsertDescription stores the description for url; last write wins.
func (s *Store) UpsertDescription(_ context.Context, url string, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptions[url] = description
	return nil
}

// CountIndexed returns the number of URLs with a description.
func (s *Store) CountIndexed(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.descriptions)), nil
}

// SearchKeywords sums the rank of keyword rows containing any (or all) terms, per described URL.
func (s *Store) SearchKeywords(_ context.Context, terms []string, mode crawler.SearchMode) ([]crawler.SearchResult, error) {
	if len(terms) == 0 {
		return []crawler.SearchResult{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]crawler.SearchResult, 0)
	for url, ranks := range s.keywords {
		desc, described := s.descriptions[url]
		if !described {
			continue
		}
		total, matched := 0, false
		for keyword, rank := range ranks {
			if keywordMatches(keyword, terms, mode) {
				total += rank
				matched = true
			}
		}
		if matched {
			results = append(results, crawler.SearchResult{URL: url, Description: desc, Rank: total})
		}
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Rank != results[j].Rank {
			return results[i].Rank > results[j].Rank
		}
		return results[i].URL < results[j].URL
	})
	return results, nil
}

func keywordMatches(keyword string, terms []string, mode crawler.SearchMode) bool {
	for _, term := range terms {
		hit := strings.Contains(keyword, term)
		if mode == crawler.SearchAll && !hit {
			return false
		}
		if mode != crawler.SearchAll && hit {
			return true
		}
	}
	return mode == crawler.SearchAll
}

// Descriptions returns the stored description for each known url.
func (s *Store) Descriptions(_ context.Context, urls []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(urls))
	for _, url := range urls {
		if desc, ok := s.descriptions[url]; ok {
			out[url] = desc
		}
	}
	return out, nil
}

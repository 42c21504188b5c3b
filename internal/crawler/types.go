package crawler

import (
	"net/http"
	"time"
)

// SearchMode selects how plain terms and phrases are combined.
type SearchMode string

// Supported search modes.
const (
	SearchAny SearchMode = "or"
	SearchAll SearchMode = "and"
)

// ParseSearchMode maps the wire value onto a SearchMode.
func ParseSearchMode(raw string) (SearchMode, bool) {
	switch SearchMode(raw) {
	case SearchAny:
		return SearchAny, true
	case SearchAll:
		return SearchAll, true
	default:
		return "", false
	}
}

// KeywordRank is one keyword selected for a page together with its occurrence count.
type KeywordRank struct {
	Keyword string `json:"keyword"`
	Rank    int    `json:"rank"`
}

// SearchResult is a single ranked hit returned to query callers.
type SearchResult struct {
	URL         string `json:"url"`
	Description string `json:"description"`
	Rank        int    `json:"rank"`
}

// VerifyResult is the outcome of a phrase verification against one page.
type VerifyResult struct {
	URL  string
	Rank int
}

// Readiness is a point-in-time copy of the coordinator's index state.
type Readiness struct {
	Building          bool  `json:"building"`
	IndexedCount      int64 `json:"indexed_count"`
	CompensationQuota int64 `json:"compensation_quota"`
	Position          int64 `json:"position"`
	InFlight          int   `json:"in_flight"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL         string
	UseHeadless bool
	Headers     http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Event topics.
const (
	TopicPageIndexed = "page.indexed"
	TopicIndexReady  = "index.ready"
)

// PageIndexedEvent is published after a worker persisted a page.
type PageIndexedEvent struct {
	URL         string    `json:"url"`
	Position    int64     `json:"position"`
	Keywords    []string  `json:"keywords"`
	Links       int       `json:"links"`
	SnapshotURI string    `json:"snapshot_uri,omitempty"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// IndexReadyEvent is published once when the index-ready gate opens.
type IndexReadyEvent struct {
	IndexedCount      int64     `json:"indexed_count"`
	CompensationQuota int64     `json:"compensation_quota"`
	Positions         int64     `json:"positions_dispatched"`
	OpenedAt          time.Time `json:"opened_at"`
}

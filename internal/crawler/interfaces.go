package crawler

import (
	"context"
	"time"
)

// FrontierStore is the ordered, deduplicated registry of discovered URLs.
type FrontierStore interface {
	// InsertIfAbsent returns the URL's position, assigning the next one on first sighting.
	InsertIfAbsent(ctx context.Context, url string) (int64, error)
	// URLAt returns ErrNotFound when no URL holds the position yet.
	URLAt(ctx context.Context, position int64) (string, error)
	Count(ctx context.Context) (int64, error)
	// PositionsMatching lists positions whose URL contains substr, ascending.
	PositionsMatching(ctx context.Context, substr string) ([]int64, error)
}

// IndexStore holds the keyword and description tables.
type IndexStore interface {
	UpsertKeywords(ctx context.Context, url string, keywords []KeywordRank) error
	UpsertDescription(ctx context.Context, url string, description string) error
	// CountIndexed returns the number of URLs with a persisted description.
	CountIndexed(ctx context.Context) (int64, error)
	SearchKeywords(ctx context.Context, terms []string, mode SearchMode) ([]SearchResult, error)
	Descriptions(ctx context.Context, urls []string) (map[string]string, error)
}

// Store is a backing store serving both the frontier and the index.
type Store interface {
	FrontierStore
	IndexStore
	// Reset creates missing tables and empties them.
	Reset(ctx context.Context) error
	Close()
}

// Dispatcher hands tasks to pull-based workers.
type Dispatcher interface {
	// Next reports the outcome of the previous task and blocks until the next task is assigned.
	// A worker's first call passes success=true since there is no previous task.
	Next(ctx context.Context, workerID int, success bool) (Task, error)
	// Halted reports whether workers must stop persisting results.
	Halted() bool
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes index events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// RetryPolicy decides whether and when a failed fetch is attempted again.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// RateLimiter blocks until a request to url may proceed.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes digests used to name archived snapshots.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Package system provides the wall clock used to timestamp crawl events.
package system

import (
	"time"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
)

// Clock implements crawler.Clock with UTC wall time.
type Clock struct{}

var _ crawler.Clock = Clock{}

// New creates a Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

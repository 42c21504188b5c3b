// Package crawler defines the core types shared across the crawl and search
// subsystems: the task union handed from the coordinator to workers, the
// storage and fetch contracts, the error taxonomy, and the fetch retry policy.
package crawler

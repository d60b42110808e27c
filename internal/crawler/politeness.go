package crawler

import (
	"context"
	"sync"
	"time"
)

// VisitTracker provides thread-safe visited URL tracking to prevent revisits.
type VisitTracker interface {
	MarkIfNew(url string) bool
}

// ConcurrentVisitTracker is a VisitTracker backed by sync.Map.
type ConcurrentVisitTracker struct {
	seen sync.Map
}

// NewVisitTracker returns an empty tracker.
func NewVisitTracker() *ConcurrentVisitTracker {
	return &ConcurrentVisitTracker{}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *ConcurrentVisitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}

// Pauser abstracts how a crawl task waits between requests.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

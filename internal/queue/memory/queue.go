// Package memory provides the in-process collector queue that decouples crawl
// tasks from index writes.
package memory

import (
	"sync"

	"github.com/JakeFAU/sitesearch/internal/crawler"
)

// Queue is an unbounded FIFO of page/lemma units safe for concurrent use.
type Queue struct {
	mu    sync.Mutex
	items []crawler.PageLemmas
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a unit. It never blocks on capacity.
func (q *Queue) Push(unit crawler.PageLemmas) {
	q.mu.Lock()
	q.items = append(q.items, unit)
	q.mu.Unlock()
}

// Drain removes and returns up to max units in FIFO order without blocking.
func (q *Queue) Drain(max int) []crawler.PageLemmas {
	if max <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n := min(max, len(q.items))
	if n == 0 {
		return nil
	}
	out := make([]crawler.PageLemmas, n)
	copy(out, q.items[:n])
	clear(q.items[:n])
	q.items = q.items[n:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return out
}

// Len reports the number of queued units.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

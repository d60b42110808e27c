package memory

import (
	"sync"
	"testing"

	"github.com/JakeFAU/sitesearch/internal/crawler"
)

func unit(id int64) crawler.PageLemmas {
	return crawler.PageLemmas{Page: crawler.Page{ID: id}, Lemmas: map[string]int{"кот": 1}}
}

func TestQueueDrainFIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	for i := int64(1); i <= 5; i++ {
		q.Push(unit(i))
	}
	if got := q.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}
	first := q.Drain(3)
	if len(first) != 3 || first[0].Page.ID != 1 || first[2].Page.ID != 3 {
		t.Fatalf("unexpected first drain: %+v", first)
	}
	rest := q.Drain(10)
	if len(rest) != 2 || rest[0].Page.ID != 4 {
		t.Fatalf("unexpected second drain: %+v", rest)
	}
	if got := q.Drain(10); got != nil {
		t.Fatalf("expected empty drain, got %+v", got)
	}
	if got := q.Drain(0); got != nil {
		t.Fatalf("expected nil for zero max, got %+v", got)
	}
}

func TestQueueConcurrentPush(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Push(unit(int64(w*100 + i)))
			}
		}(w)
	}
	wg.Wait()

	seen := make(map[int64]bool)
	for {
		batch := q.Drain(64)
		if len(batch) == 0 {
			break
		}
		for _, u := range batch {
			if seen[u.Page.ID] {
				t.Fatalf("unit %d drained twice", u.Page.ID)
			}
			seen[u.Page.ID] = true
		}
	}
	if len(seen) != 800 {
		t.Fatalf("drained %d units, want 800", len(seen))
	}
}

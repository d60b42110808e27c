package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata. Failures are
// reported as *FetchError so callers can tell timeouts from other causes.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// LemmaEngine turns raw HTML or plain text into lemma counts.
type LemmaEngine interface {
	Normalize(text string) map[string]int
	LemmaMapHTML(html string) map[string]int
}

// Collector accepts page/lemma units from crawl tasks.
type Collector interface {
	Push(unit PageLemmas)
	Len() int
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl session IDs.
type IDGenerator interface {
	NewID() (string, error)
}

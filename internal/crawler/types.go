// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// SiteStatus represents the lifecycle state of a configured site.
type SiteStatus string

// Site status values persisted in the site store.
const (
	SiteStatusCrawling SiteStatus = "CRAWLING"
	SiteStatusIndexed  SiteStatus = "INDEXED"
	SiteStatusFailed   SiteStatus = "FAILED"
)

// Site is one configured crawl target.
type Site struct {
	ID         int64      `json:"id"`
	URL        string     `json:"url"`
	Name       string     `json:"name"`
	Status     SiteStatus `json:"status"`
	StatusTime time.Time  `json:"status_time"`
	LastError  string     `json:"last_error,omitempty"`
}

// Page is one fetched resource owned by a site.
type Page struct {
	ID      int64  `json:"id"`
	SiteID  int64  `json:"site_id"`
	Path    string `json:"path"`
	Code    int    `json:"code"`
	Content string `json:"-"`
}

// Lemma is a normalized term scoped to a site. Frequency counts the distinct
// pages of that site containing the term.
type Lemma struct {
	ID        int64  `json:"id"`
	SiteID    int64  `json:"site_id"`
	Term      string `json:"lemma"`
	Frequency int    `json:"frequency"`
}

// IndexEntry links a page to a lemma with the lemma's occurrence weight.
type IndexEntry struct {
	PageID  int64   `json:"page_id"`
	LemmaID int64   `json:"lemma_id"`
	Rank    float64 `json:"rank"`
}

// PageLemmas is the unit handed from the crawl to the index writer.
type PageLemmas struct {
	Page   Page
	Lemmas map[string]int
}

// SiteConfig names one site from configuration.
type SiteConfig struct {
	URL  string `mapstructure:"url" json:"url"`
	Name string `mapstructure:"name" json:"name"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
}

// IsSuccess reports whether the response carries a 2xx status.
func (r FetchResponse) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

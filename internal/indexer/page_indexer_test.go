package indexer

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/lemma"
	"github.com/JakeFAU/sitesearch/internal/storage/memory"
	"github.com/JakeFAU/sitesearch/internal/store"
)

type fakeClock struct{ now time.Time }

func (f fakeClock) Now() time.Time { return f.now }

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]crawler.FetchResponse
	errs      map[string]error
	calls     []string
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	if err, ok := f.errs[req.URL]; ok {
		return crawler.FetchResponse{}, err
	}
	resp, ok := f.responses[req.URL]
	if !ok {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	return resp, nil
}

func (f *fakeFetcher) set(url string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = crawler.FetchResponse{URL: url, StatusCode: status, ContentType: "text/html", Body: []byte(body)}
}

func newPageIndexer(t *testing.T) (*PageIndexer, *memory.Store, *fakeFetcher) {
	t.Helper()
	s := memory.NewStore()
	fetcher := &fakeFetcher{responses: map[string]crawler.FetchResponse{}, errs: map[string]error{}}
	configured := []crawler.SiteConfig{{URL: "https://example.org", Name: "Example"}}
	pi := NewPageIndexer(
		s, s,
		NewMaintainer(s, zap.NewNop()),
		fetcher,
		lemma.New(),
		fakeClock{now: time.Unix(100, 0)},
		configured,
		http.Header{"User-Agent": []string{"test"}},
		zap.NewNop(),
	)
	return pi, s, fetcher
}

func TestIndexPageRejectsInput(t *testing.T) {
	t.Parallel()
	pi, _, fetcher := newPageIndexer(t)

	require.ErrorIs(t, pi.IndexPage(context.Background(), "  "), ErrEmptyURL)
	require.ErrorIs(t, pi.IndexPage(context.Background(), "https://other.org/page"), ErrOutsideSites)
	require.Empty(t, fetcher.calls, "rejected URLs are never fetched")
}

func TestIndexPageReindexReplacesEntries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pi, s, fetcher := newPageIndexer(t)
	engine := lemma.New()
	cat, _ := engine.Lemma("котики")
	dog, _ := engine.Lemma("собаки")

	fetcher.set("https://example.org/pets", http.StatusOK, "<p>Котики и котики</p>")
	require.NoError(t, pi.IndexPage(ctx, "https://example.org/pets"))

	site, err := s.GetSiteByURL(ctx, "https://example.org")
	require.NoError(t, err)
	require.Equal(t, crawler.SiteStatusIndexed, site.Status)

	fetcher.set("https://example.org/pets", http.StatusOK, "<p>Собаки</p>")
	require.NoError(t, pi.IndexPage(ctx, "https://example.org/pets"))

	lemmas, err := s.FindLemmasInSites(ctx, []string{cat, dog}, nil)
	require.NoError(t, err)
	require.Len(t, lemmas, 1)
	require.Equal(t, dog, lemmas[0].Term)
	require.Equal(t, 1, lemmas[0].Frequency)

	pages, err := s.CountPages(ctx, site.ID)
	require.NoError(t, err)
	require.Equal(t, 1, pages)
}

func TestIndexPageWwwVariantMatchesSite(t *testing.T) {
	t.Parallel()
	pi, s, fetcher := newPageIndexer(t)
	fetcher.set("https://www.example.org/", http.StatusOK, "<p>Сад</p>")

	require.NoError(t, pi.IndexPage(context.Background(), "https://www.example.org/"))
	site, err := s.GetSiteByURL(context.Background(), "https://example.org")
	require.NoError(t, err)
	page, err := s.GetPage(context.Background(), site.ID, "/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, page.Code)
}

func TestIndexPageErrorStatusKeepsOldPage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	pi, s, fetcher := newPageIndexer(t)
	fetcher.set("https://example.org/a", http.StatusOK, "<p>Сад</p>")
	require.NoError(t, pi.IndexPage(ctx, "https://example.org/a"))

	fetcher.set("https://example.org/a", http.StatusInternalServerError, "oops")
	require.ErrorIs(t, pi.IndexPage(ctx, "https://example.org/a"), ErrBadStatus)

	site, err := s.GetSiteByURL(ctx, "https://example.org")
	require.NoError(t, err)
	_, err = s.GetPage(ctx, site.ID, "/a")
	require.NoError(t, err)
}

func TestIndexPageFetchErrorSurfaces(t *testing.T) {
	t.Parallel()
	pi, _, fetcher := newPageIndexer(t)
	fetcher.errs["https://example.org/down"] = &crawler.FetchError{URL: "https://example.org/down", Class: crawler.ErrTimeout}

	err := pi.IndexPage(context.Background(), "https://example.org/down")
	require.ErrorIs(t, err, crawler.ErrTimeout)
	require.False(t, errors.Is(err, ErrBadStatus))
}

func TestIndexPageLemmaWriteFailureLeavesNoPage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := memory.NewStore()
	fetcher := &fakeFetcher{responses: map[string]crawler.FetchResponse{}, errs: map[string]error{}}
	boom := errors.New("disk full")
	pi := NewPageIndexer(
		s, s,
		NewMaintainer(failingTransactor{inner: s, err: boom}, zap.NewNop()),
		fetcher,
		lemma.New(),
		fakeClock{now: time.Unix(100, 0)},
		[]crawler.SiteConfig{{URL: "https://example.org", Name: "Example"}},
		nil,
		zap.NewNop(),
	)
	fetcher.set("https://example.org/cats", http.StatusOK, "<p>Котики</p>")

	require.ErrorIs(t, pi.IndexPage(ctx, "https://example.org/cats"), boom)

	site, err := s.GetSiteByURL(ctx, "https://example.org")
	require.NoError(t, err)
	_, err = s.GetPage(ctx, site.ID, "/cats")
	require.ErrorIs(t, err, store.ErrNotFound)
	pages, err := s.CountPages(ctx, site.ID)
	require.NoError(t, err)
	require.Zero(t, pages)
}

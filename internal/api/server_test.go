package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/dispatcher"
	"github.com/JakeFAU/sitesearch/internal/indexer"
	"github.com/JakeFAU/sitesearch/internal/search"
	"github.com/JakeFAU/sitesearch/internal/stats"
)

func TestServer_StartIndexing(t *testing.T) {
	t.Parallel()

	indexing := &fakeIndexing{}
	server := newTestServer(indexing, nil, nil, nil)

	rec := do(t, server, http.MethodGet, "/api/startIndexing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"result":true}`, rec.Body.String())

	indexing.startErr = dispatcher.ErrAlreadyRunning
	rec = do(t, server, http.MethodGet, "/api/startIndexing", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.JSONEq(t, `{"result":false,"error":"indexing is already running"}`, rec.Body.String())
	require.Equal(t, 2, indexing.starts)

	indexing.startErr = dispatcher.ErrStopping
	rec = do(t, server, http.MethodGet, "/api/startIndexing", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.JSONEq(t, `{"result":false,"error":"indexing is stopping"}`, rec.Body.String())
}

func TestServer_StopIndexingNotRunning(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeIndexing{stopErr: dispatcher.ErrNotRunning}, nil, nil, nil)

	rec := do(t, server, http.MethodGet, "/api/stopIndexing", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), `"result":false`)
}

func TestServer_IndexPage(t *testing.T) {
	t.Parallel()

	pages := &fakePageIndexer{}
	server := newTestServer(nil, pages, nil, nil)

	form := url.Values{"url": {"https://example.org/news"}}
	rec := do(t, server, http.MethodPost, "/api/indexPage", form)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"https://example.org/news"}, pages.urls)

	rec = do(t, server, http.MethodPost, "/api/indexPage?url=https://example.org/about", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://example.org/about", pages.urls[1])

	rec = do(t, server, http.MethodGet, "/api/indexPage", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_IndexPageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"empty url", indexer.ErrEmptyURL, http.StatusBadRequest},
		{"outside sites", fmt.Errorf("https://other.example: %w", indexer.ErrOutsideSites), http.StatusBadRequest},
		{"bad status", indexer.ErrBadStatus, http.StatusUnprocessableEntity},
		{"timeout", &crawler.FetchError{URL: "https://example.org", Class: crawler.ErrTimeout}, http.StatusBadGateway},
		{"store failure", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := newTestServer(nil, &fakePageIndexer{err: tt.err}, nil, nil)
			rec := do(t, server, http.MethodPost, "/api/indexPage?url=x", nil)
			require.Equal(t, tt.status, rec.Code)

			var body resultResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.False(t, body.Result)
			require.NotEmpty(t, body.Error)
			if tt.status == http.StatusInternalServerError {
				require.NotContains(t, body.Error, "disk full")
			}
		})
	}
}

func TestServer_Search(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{resp: search.Response{
		Count: 3,
		Results: []search.Result{{
			Site:      "https://pets.example",
			SiteName:  "Pets",
			URI:       "/cats",
			Title:     "Кошки",
			Snippet:   "<b>котики</b>",
			Relevance: 1,
		}},
	}}
	server := newTestServer(nil, nil, searcher, nil)

	params := url.Values{"query": {"котики"}, "site": {"https://pets.example"}, "offset": {"2"}, "limit": {"1"}}
	rec := do(t, server, http.MethodGet, "/api/search?"+params.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, search.Query{Text: "котики", Site: "https://pets.example", Offset: 2, Limit: 1}, searcher.last)

	var body searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Result)
	require.Equal(t, 3, body.Count)
	require.Len(t, body.Data, 1)
	require.Equal(t, "/cats", body.Data[0].URI)
	require.Contains(t, rec.Body.String(), `"siteName":"Pets"`)
}

func TestServer_SearchEmptyResultsEncodeArray(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil, nil, &fakeSearcher{}, nil)

	rec := do(t, server, http.MethodGet, "/api/search?"+url.Values{"query": {"попугаи"}}.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"result":true,"count":0,"data":[]}`, rec.Body.String())
}

func TestServer_SearchErrors(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil, nil, &fakeSearcher{err: search.ErrEmptyQuery}, nil)
	rec := do(t, server, http.MethodGet, "/api/search?query=", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	server = newTestServer(nil, nil, &fakeSearcher{err: search.ErrSiteNotFound}, nil)
	rec = do(t, server, http.MethodGet, "/api/search?query=a&site=https://x.example", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, server, http.MethodGet, "/api/search?query=a&offset=-1", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server, http.MethodGet, "/api/search?query=a&limit=abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Statistics(t *testing.T) {
	t.Parallel()

	report := stats.Report{
		Total: stats.Total{Sites: 1, Pages: 10, Lemmas: 100, Indexing: true},
		Detailed: []stats.SiteDetail{{
			URL:        "https://pets.example",
			Name:       "Pets",
			Status:     crawler.SiteStatusIndexed,
			StatusTime: 1700000000000,
			Pages:      10,
			Lemmas:     100,
		}},
	}
	server := newTestServer(nil, nil, nil, &fakeStats{report: report})

	rec := do(t, server, http.MethodGet, "/api/statistics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body statisticsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Result)
	require.Equal(t, report, body.Statistics)
}

func TestServer_Settings(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeIndexing{}, &fakePageIndexer{}, &fakeSearcher{}, &fakeStats{},
		[]crawler.SiteConfig{{URL: "https://pets.example", Name: "Pets"}}, zap.NewNop())

	rec := do(t, server, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"result":true,"sites":[{"url":"https://pets.example","name":"Pets"}]}`, rec.Body.String())
}

func TestServer_HealthzAndMetrics(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil, nil, nil, nil)
	rec := do(t, server, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "crawler_active_sites")
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil, nil, nil, &fakeStats{panic: true})
	rec := do(t, server, http.MethodGet, "/api/statistics", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), `"result":false`)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(nil, nil, nil, nil)
	rec := do(t, server, http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "caller-id", rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func newTestServer(indexing *fakeIndexing, pages *fakePageIndexer, searcher *fakeSearcher, statistics *fakeStats) *Server {
	if indexing == nil {
		indexing = &fakeIndexing{}
	}
	if pages == nil {
		pages = &fakePageIndexer{}
	}
	if searcher == nil {
		searcher = &fakeSearcher{}
	}
	if statistics == nil {
		statistics = &fakeStats{}
	}
	return NewServer(indexing, pages, searcher, statistics, nil, zap.NewNop())
}

func do(t *testing.T, server *Server, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeIndexing struct {
	mu       sync.Mutex
	starts   int
	startErr error
	stopErr  error
}

func (f *fakeIndexing) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.startErr
}

func (f *fakeIndexing) Stop(context.Context) error {
	return f.stopErr
}

type fakePageIndexer struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (f *fakePageIndexer) IndexPage(_ context.Context, rawURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, rawURL)
	return f.err
}

type fakeSearcher struct {
	last search.Query
	resp search.Response
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, q search.Query) (search.Response, error) {
	f.last = q
	return f.resp, f.err
}

type fakeStats struct {
	report stats.Report
	panic  bool
}

func (f *fakeStats) Statistics(context.Context) (stats.Report, error) {
	if f.panic {
		panic("statistics exploded")
	}
	return f.report, nil
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

package api

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/dispatcher"
	"github.com/JakeFAU/sitesearch/internal/indexer"
	"github.com/JakeFAU/sitesearch/internal/search"
	"github.com/JakeFAU/sitesearch/internal/stats"
)

type resultResponse struct {
	Result bool   `json:"result"`
	Error  string `json:"error,omitempty"`
}

type statisticsResponse struct {
	Result     bool         `json:"result"`
	Statistics stats.Report `json:"statistics"`
}

type searchResponse struct {
	Result bool            `json:"result"`
	Count  int             `json:"count"`
	Data   []search.Result `json:"data"`
}

type settingsResponse struct {
	Result bool                 `json:"result"`
	Sites  []crawler.SiteConfig `json:"sites"`
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, resultResponse{Result: true})
}

func writeFailure(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, resultResponse{Result: false, Error: msg})
}

func (s *Server) settings(w http.ResponseWriter, _ *http.Request) {
	sites := s.sites
	if sites == nil {
		sites = []crawler.SiteConfig{}
	}
	writeJSON(w, http.StatusOK, settingsResponse{Result: true, Sites: sites})
}

func (s *Server) startIndexing(w http.ResponseWriter, r *http.Request) {
	if err := s.indexing.Start(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) stopIndexing(w http.ResponseWriter, r *http.Request) {
	if err := s.indexing.Stop(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) indexPage(w http.ResponseWriter, r *http.Request) {
	if err := s.pages.IndexPage(r.Context(), r.FormValue("url")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	report, err := s.stats.Statistics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statisticsResponse{Result: true, Statistics: report})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		writeFailure(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil || limit < 0 {
		writeFailure(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	resp, err := s.searcher.Search(r.Context(), search.Query{
		Text:   q.Get("query"),
		Site:   q.Get("site"),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	data := resp.Results
	if data == nil {
		data = []search.Result{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Result: true, Count: resp.Count, Data: data})
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err //nolint:wrapcheck // mapped to a 400 by the caller
	}
	return v, nil
}

// fail maps domain errors onto HTTP statuses. Unknown errors are logged and
// reported without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeFailure(w, status, "internal error")
		return
	}
	writeFailure(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, dispatcher.ErrAlreadyRunning),
		errors.Is(err, dispatcher.ErrNotRunning),
		errors.Is(err, dispatcher.ErrStopping):
		return http.StatusConflict
	case errors.Is(err, indexer.ErrEmptyURL),
		errors.Is(err, indexer.ErrOutsideSites),
		errors.Is(err, search.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrSiteNotFound):
		return http.StatusNotFound
	case errors.Is(err, indexer.ErrBadStatus),
		errors.Is(err, crawler.ErrUnsupportedContent):
		return http.StatusUnprocessableEntity
	case errors.Is(err, crawler.ErrTimeout),
		errors.Is(err, crawler.ErrNetwork),
		errors.Is(err, crawler.ErrFetch):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

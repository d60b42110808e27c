package worker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
)

// Session is one crawl run. It carries the cooperative run flag checked by
// every task and the registry of live per-site pools so a stop can release
// them all.
type Session struct {
	ID string

	ctx    context.Context
	cancel context.CancelFunc
	active atomic.Bool

	mu    sync.Mutex
	sites map[string]*siteHandle
}

type siteHandle struct {
	pool    *ants.Pool
	pending *atomic.Int64
}

// SiteProgress is a snapshot of one running site crawl.
type SiteProgress struct {
	Site    string
	Pending int64
	Running int
}

// NewSession starts an active session derived from parent.
func NewSession(parent context.Context, id string) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:     id,
		ctx:    ctx,
		cancel: cancel,
		sites:  make(map[string]*siteHandle),
	}
	s.active.Store(true)
	return s
}

// Context is cancelled when the session stops.
func (s *Session) Context() context.Context { return s.ctx }

// Active reports whether the session has not been stopped.
func (s *Session) Active() bool { return s.active.Load() }

// Stop clears the run flag, cancels in-flight fetches and releases every
// registered pool. It reports false if the session was already stopped.
func (s *Session) Stop() bool {
	if !s.active.CompareAndSwap(true, false) {
		return false
	}
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.sites {
		h.pool.Release()
	}
	return true
}

// Close releases the session context once the run has finished.
func (s *Session) Close() { s.cancel() }

func (s *Session) register(site string, pool *ants.Pool, pending *atomic.Int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites[site] = &siteHandle{pool: pool, pending: pending}
}

func (s *Session) unregister(site string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sites, site)
}

// Progress returns per-site task counts ordered by site URL.
func (s *Session) Progress() []SiteProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SiteProgress, 0, len(s.sites))
	for site, h := range s.sites {
		out = append(out, SiteProgress{Site: site, Pending: h.pending.Load(), Running: h.pool.Running()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out
}

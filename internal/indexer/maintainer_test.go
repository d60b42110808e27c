package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/storage/memory"
	"github.com/JakeFAU/sitesearch/internal/store"
)

type fixture struct {
	store *memory.Store
	m     *Maintainer
	site  crawler.Site
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.NewStore()
	site, err := s.CreateSite(context.Background(), crawler.Site{URL: "https://example.org", Name: "Example"})
	require.NoError(t, err)
	return &fixture{store: s, m: NewMaintainer(s, zap.NewNop()), site: site}
}

func (f *fixture) page(t *testing.T, path string) crawler.Page {
	t.Helper()
	page, err := f.store.SavePage(context.Background(), crawler.Page{SiteID: f.site.ID, Path: path, Code: 200})
	require.NoError(t, err)
	return page
}

func (f *fixture) frequencies(t *testing.T, terms ...string) map[string]int {
	t.Helper()
	lemmas, err := f.store.FindLemmasInSites(context.Background(), terms, nil)
	require.NoError(t, err)
	out := make(map[string]int, len(lemmas))
	for _, lemma := range lemmas {
		out[lemma.Term] = lemma.Frequency
	}
	return out
}

// requireConsistent checks that every lemma's frequency equals the number
// of distinct pages that reference it.
func (f *fixture) requireConsistent(t *testing.T, terms ...string) {
	t.Helper()
	ctx := context.Background()
	lemmas, err := f.store.FindLemmasInSites(ctx, terms, nil)
	require.NoError(t, err)
	for _, lemma := range lemmas {
		pages, err := f.store.PageIDsForLemmas(ctx, []int64{lemma.ID})
		require.NoError(t, err)
		require.Equal(t, len(pages), lemma.Frequency, "lemma %q", lemma.Term)
	}
}

func TestSaveBatchCountsDistinctPages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p1, p2 := f.page(t, "/a"), f.page(t, "/b")

	err := f.m.SaveBatch(ctx, []crawler.PageLemmas{
		{Page: p1, Lemmas: map[string]int{"кот": 3, "сад": 1}},
		{Page: p2, Lemmas: map[string]int{"кот": 1}},
		{Page: p1, Lemmas: map[string]int{"кот": 9, "пес": 1}},
	})
	require.NoError(t, err)

	require.Equal(t, map[string]int{"кот": 2, "сад": 1}, f.frequencies(t, "кот", "сад", "пес"))
	f.requireConsistent(t, "кот", "сад")

	lemmas, err := f.store.FindLemmasInSites(ctx, []string{"кот"}, nil)
	require.NoError(t, err)
	entries, err := f.store.FindIndexEntries(ctx, p1.ID, []int64{lemmas[0].ID})
	require.NoError(t, err)
	require.Equal(t, 3.0, entries[0].Rank, "first unit for a page wins")
}

func TestSaveBatchIncrementsExistingLemmas(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p1, p2, p3 := f.page(t, "/1"), f.page(t, "/2"), f.page(t, "/3")

	require.NoError(t, f.m.SavePage(ctx, p1, map[string]int{"кот": 1}))
	require.NoError(t, f.m.SaveBatch(ctx, []crawler.PageLemmas{
		{Page: p2, Lemmas: map[string]int{"кот": 2}},
		{Page: p3, Lemmas: map[string]int{"кот": 1, "дом": 4}},
	}))

	require.Equal(t, map[string]int{"кот": 3, "дом": 1}, f.frequencies(t, "кот", "дом"))
	f.requireConsistent(t, "кот", "дом")
}

func TestSaveBatchSkipsEmptyUnits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.NoError(t, f.m.SaveBatch(context.Background(), []crawler.PageLemmas{{Page: f.page(t, "/")}}))
	n, err := f.store.CountLemmas(context.Background(), 0)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRemovePageDecrementsAndDeletes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p1, p2 := f.page(t, "/1"), f.page(t, "/2")
	require.NoError(t, f.m.SaveBatch(ctx, []crawler.PageLemmas{
		{Page: p1, Lemmas: map[string]int{"кот": 2, "сад": 1}},
		{Page: p2, Lemmas: map[string]int{"кот": 1}},
	}))

	require.NoError(t, f.m.RemovePage(ctx, p1))

	require.Equal(t, map[string]int{"кот": 1}, f.frequencies(t, "кот", "сад"))
	f.requireConsistent(t, "кот")
	_, err := f.store.GetPage(ctx, f.site.ID, "/1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemovePageMissingPageFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	err := f.m.RemovePage(context.Background(), crawler.Page{ID: 404})
	require.ErrorIs(t, err, store.ErrNotFound)
}

type failingTx struct {
	store.IndexTx
	err error
}

func (f failingTx) InsertIndexEntries(context.Context, []crawler.IndexEntry) error { return f.err }

type failingTransactor struct {
	inner store.Transactor
	err   error
}

func (f failingTransactor) InTx(ctx context.Context, fn func(store.IndexTx) error) error {
	return f.inner.InTx(ctx, func(tx store.IndexTx) error {
		return fn(failingTx{IndexTx: tx, err: f.err})
	})
}

func TestSaveBatchIsAtomic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	p1 := f.page(t, "/1")
	require.NoError(t, f.m.SavePage(ctx, p1, map[string]int{"кот": 1}))

	boom := errors.New("disk full")
	broken := NewMaintainer(failingTransactor{inner: f.store, err: boom}, nil)
	err := broken.SavePage(ctx, f.page(t, "/2"), map[string]int{"кот": 1, "дом": 1})
	require.ErrorIs(t, err, boom)

	require.Equal(t, map[string]int{"кот": 1}, f.frequencies(t, "кот", "дом"))
}

func TestSaveBatchSkipsDeletedPages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	kept := f.page(t, "/kept")
	purged := f.page(t, "/purged")
	require.NoError(t, f.m.RemovePage(ctx, purged))

	err := f.m.SaveBatch(ctx, []crawler.PageLemmas{
		{Page: purged, Lemmas: map[string]int{"кот": 1, "дом": 2}},
		{Page: kept, Lemmas: map[string]int{"кот": 3}},
	})
	require.NoError(t, err)

	require.Equal(t, map[string]int{"кот": 1}, f.frequencies(t, "кот", "дом"))
	f.requireConsistent(t, "кот", "дом")
}

func TestSaveBatchOnlyDeletedPagesIsNoop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	gone := f.page(t, "/gone")
	require.NoError(t, f.m.RemovePage(ctx, gone))

	require.NoError(t, f.m.SaveBatch(ctx, []crawler.PageLemmas{{Page: gone, Lemmas: map[string]int{"кот": 1}}}))
	require.Empty(t, f.frequencies(t, "кот"))
}

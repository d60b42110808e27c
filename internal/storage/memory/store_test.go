package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/store"
)

func seedSite(t *testing.T, s *Store, url string) crawler.Site {
	t.Helper()
	site, err := s.CreateSite(context.Background(), crawler.Site{URL: url, Name: url, Status: crawler.SiteStatusCrawling})
	require.NoError(t, err)
	return site
}

func TestStoreSiteLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()

	site := seedSite(t, s, "https://example.org")
	_, err := s.CreateSite(ctx, crawler.Site{URL: "https://example.org"})
	require.ErrorIs(t, err, store.ErrDuplicate)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.UpdateSiteStatus(ctx, site.ID, crawler.SiteStatusFailed, "boom", at))
	got, err := s.GetSiteByURL(ctx, "https://example.org")
	require.NoError(t, err)
	require.Equal(t, crawler.SiteStatusFailed, got.Status)
	require.Equal(t, "boom", got.LastError)
	require.Equal(t, at, got.StatusTime)

	failed, err := s.ListSitesByStatus(ctx, crawler.SiteStatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	_, err = s.GetSiteByURL(ctx, "https://missing.org")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, s.TouchSite(ctx, 99, at), store.ErrNotFound)
}

func TestStorePagesUniquePerSitePath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()
	a := seedSite(t, s, "https://a.org")
	b := seedSite(t, s, "https://b.org")

	p, err := s.SavePage(ctx, crawler.Page{SiteID: a.ID, Path: "/", Code: 200})
	require.NoError(t, err)
	require.NotZero(t, p.ID)
	_, err = s.SavePage(ctx, crawler.Page{SiteID: a.ID, Path: "/", Code: 200})
	require.ErrorIs(t, err, store.ErrDuplicate)
	_, err = s.SavePage(ctx, crawler.Page{SiteID: b.ID, Path: "/", Code: 200})
	require.NoError(t, err)

	total, err := s.CountPages(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	perSite, err := s.CountPages(ctx, a.ID)
	require.NoError(t, err)
	require.Equal(t, 1, perSite)
}

func TestStoreTransactionRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()
	site := seedSite(t, s, "https://example.org")
	page, err := s.SavePage(ctx, crawler.Page{SiteID: site.ID, Path: "/", Code: 200})
	require.NoError(t, err)

	require.NoError(t, s.InTx(ctx, func(tx store.IndexTx) error {
		rows, err := tx.UpsertLemmas(ctx, []store.LemmaUpsert{{SiteID: site.ID, Term: "кот", Delta: 1}})
		if err != nil {
			return err
		}
		return tx.InsertIndexEntries(ctx, []crawler.IndexEntry{{PageID: page.ID, LemmaID: rows[0].ID, Rank: 2}})
	}))

	sentinel := errors.New("abort")
	err = s.InTx(ctx, func(tx store.IndexTx) error {
		if _, err := tx.UpsertLemmas(ctx, []store.LemmaUpsert{
			{SiteID: site.ID, Term: "кот", Delta: 1},
			{SiteID: site.ID, Term: "пес", Delta: 1},
		}); err != nil {
			return err
		}
		if err := tx.DeletePage(ctx, page.ID); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	lemmas, err := s.FindLemmasInSites(ctx, []string{"кот", "пес"}, nil)
	require.NoError(t, err)
	require.Len(t, lemmas, 1)
	require.Equal(t, 1, lemmas[0].Frequency)

	pages, err := s.PageIDsForLemmas(ctx, []int64{lemmas[0].ID})
	require.NoError(t, err)
	require.Equal(t, []int64{page.ID}, pages)
	entries, err := s.FindIndexEntries(ctx, page.ID, []int64{lemmas[0].ID})
	require.NoError(t, err)
	require.Equal(t, []crawler.IndexEntry{{PageID: page.ID, LemmaID: lemmas[0].ID, Rank: 2}}, entries)
}

func TestStoreDeleteSiteCascades(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()
	keep := seedSite(t, s, "https://keep.org")
	drop := seedSite(t, s, "https://drop.org")

	for _, site := range []crawler.Site{keep, drop} {
		page, err := s.SavePage(ctx, crawler.Page{SiteID: site.ID, Path: "/", Code: 200})
		require.NoError(t, err)
		require.NoError(t, s.InTx(ctx, func(tx store.IndexTx) error {
			rows, err := tx.UpsertLemmas(ctx, []store.LemmaUpsert{{SiteID: site.ID, Term: "дом", Delta: 1}})
			if err != nil {
				return err
			}
			return tx.InsertIndexEntries(ctx, []crawler.IndexEntry{{PageID: page.ID, LemmaID: rows[0].ID, Rank: 1}})
		}))
	}

	require.NoError(t, s.DeleteSite(ctx, drop.ID))
	require.ErrorIs(t, s.DeleteSite(ctx, drop.ID), store.ErrNotFound)

	lemmas, err := s.CountLemmas(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, lemmas)
	pages, err := s.CountPages(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 1, pages)
	require.Len(t, s.postings, 1)
	require.Len(t, s.entries, 1)
}

func TestStoreDeleteExhaustedLemmas(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()
	site := seedSite(t, s, "https://example.org")

	require.NoError(t, s.InTx(ctx, func(tx store.IndexTx) error {
		rows, err := tx.UpsertLemmas(ctx, []store.LemmaUpsert{
			{SiteID: site.ID, Term: "один", Delta: 1},
			{SiteID: site.ID, Term: "два", Delta: 2},
		})
		if err != nil {
			return err
		}
		if err := tx.AdjustFrequencies(ctx, map[int64]int{rows[0].ID: -1, rows[1].ID: -1}); err != nil {
			return err
		}
		return tx.DeleteExhaustedLemmas(ctx, []int64{rows[0].ID, rows[1].ID})
	}))

	lemmas, err := s.FindLemmasInSites(ctx, []string{"один", "два"}, []int64{site.ID})
	require.NoError(t, err)
	require.Len(t, lemmas, 1)
	require.Equal(t, "два", lemmas[0].Term)
	require.Equal(t, 1, lemmas[0].Frequency)
}

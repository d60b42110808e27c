package indexer

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/store"
)

// Maintainer keeps lemma frequencies equal to the number of distinct pages
// indexed under each lemma. Every operation runs in a single transaction.
type Maintainer struct {
	tx     store.Transactor
	logger *zap.Logger
}

// NewMaintainer constructs a Maintainer.
func NewMaintainer(tx store.Transactor, logger *zap.Logger) *Maintainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Maintainer{tx: tx, logger: logger}
}

// SaveBatch indexes units atomically. A page appearing more than once in the
// batch is indexed from its first unit only, and units whose page was deleted
// after they were queued are skipped.
func (m *Maintainer) SaveBatch(ctx context.Context, units []crawler.PageLemmas) error {
	groups, order := groupBySite(units)
	if len(order) == 0 {
		return nil
	}
	skipped := 0
	err := m.tx.InTx(ctx, func(tx store.IndexTx) error {
		live, err := livePages(ctx, tx, groups)
		if err != nil {
			return err
		}
		skipped = 0
		for _, siteID := range order {
			kept := make([]crawler.PageLemmas, 0, len(groups[siteID]))
			for _, unit := range groups[siteID] {
				if _, ok := live[unit.Page.ID]; ok {
					kept = append(kept, unit)
				} else {
					skipped++
				}
			}
			if len(kept) == 0 {
				continue
			}
			if err := saveSiteUnits(ctx, tx, siteID, kept); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save batch of %d units: %w", len(units), err)
	}
	if skipped > 0 {
		m.logger.Debug("units for deleted pages skipped", zap.Int("skipped", skipped))
	}
	m.logger.Debug("batch indexed", zap.Int("batch_size", len(units)), zap.Int("sites", len(order)))
	return nil
}

func livePages(ctx context.Context, tx store.IndexTx, groups map[int64][]crawler.PageLemmas) (map[int64]struct{}, error) {
	var ids []int64
	for _, units := range groups {
		for _, unit := range units {
			ids = append(ids, unit.Page.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	found, err := tx.LivePages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("check pages: %w", err)
	}
	live := make(map[int64]struct{}, len(found))
	for _, id := range found {
		live[id] = struct{}{}
	}
	return live, nil
}

// SavePage indexes one page synchronously.
func (m *Maintainer) SavePage(ctx context.Context, page crawler.Page, lemmas map[string]int) error {
	return m.SaveBatch(ctx, []crawler.PageLemmas{{Page: page, Lemmas: lemmas}})
}

// RemovePage deletes the page's index entries, decrements every lemma it
// referenced once, drops lemmas that reach zero and finally deletes the page.
func (m *Maintainer) RemovePage(ctx context.Context, page crawler.Page) error {
	err := m.tx.InTx(ctx, func(tx store.IndexTx) error {
		entries, err := tx.FindIndexEntriesByPage(ctx, page.ID)
		if err != nil {
			return fmt.Errorf("find entries: %w", err)
		}
		if err := tx.DeleteIndexEntriesByPage(ctx, page.ID); err != nil {
			return fmt.Errorf("delete entries: %w", err)
		}
		deltas := make(map[int64]int, len(entries))
		ids := make([]int64, 0, len(entries))
		for _, entry := range entries {
			if _, seen := deltas[entry.LemmaID]; seen {
				continue
			}
			deltas[entry.LemmaID] = -1
			ids = append(ids, entry.LemmaID)
		}
		if len(ids) > 0 {
			if err := tx.AdjustFrequencies(ctx, deltas); err != nil {
				return fmt.Errorf("decrement lemmas: %w", err)
			}
			if err := tx.DeleteExhaustedLemmas(ctx, ids); err != nil {
				return fmt.Errorf("delete exhausted lemmas: %w", err)
			}
		}
		if err := tx.DeletePage(ctx, page.ID); err != nil {
			return fmt.Errorf("delete page: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove page %d: %w", page.ID, err)
	}
	m.logger.Debug("page removed from index", zap.Int64("page_id", page.ID), zap.String("path", page.Path))
	return nil
}

func groupBySite(units []crawler.PageLemmas) (map[int64][]crawler.PageLemmas, []int64) {
	seen := make(map[int64]struct{}, len(units))
	groups := make(map[int64][]crawler.PageLemmas)
	var order []int64
	for _, unit := range units {
		if len(unit.Lemmas) == 0 {
			continue
		}
		if _, dup := seen[unit.Page.ID]; dup {
			continue
		}
		seen[unit.Page.ID] = struct{}{}
		siteID := unit.Page.SiteID
		if _, ok := groups[siteID]; !ok {
			order = append(order, siteID)
		}
		groups[siteID] = append(groups[siteID], unit)
	}
	return groups, order
}

func saveSiteUnits(ctx context.Context, tx store.IndexTx, siteID int64, units []crawler.PageLemmas) error {
	pagesPerTerm := make(map[string]int)
	for _, unit := range units {
		for term := range unit.Lemmas {
			pagesPerTerm[term]++
		}
	}
	terms := make([]string, 0, len(pagesPerTerm))
	for term := range pagesPerTerm {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	existing, err := tx.FindLemmas(ctx, siteID, terms)
	if err != nil {
		return fmt.Errorf("find lemmas for site %d: %w", siteID, err)
	}
	ids := make(map[string]int64, len(terms))
	deltas := make(map[int64]int, len(existing))
	for _, lemma := range existing {
		ids[lemma.Term] = lemma.ID
		deltas[lemma.ID] = pagesPerTerm[lemma.Term]
	}
	var fresh []store.LemmaUpsert
	for _, term := range terms {
		if _, ok := ids[term]; !ok {
			fresh = append(fresh, store.LemmaUpsert{SiteID: siteID, Term: term, Delta: pagesPerTerm[term]})
		}
	}
	if len(deltas) > 0 {
		if err := tx.AdjustFrequencies(ctx, deltas); err != nil {
			return fmt.Errorf("increment lemmas for site %d: %w", siteID, err)
		}
	}
	if len(fresh) > 0 {
		created, err := tx.UpsertLemmas(ctx, fresh)
		if err != nil {
			return fmt.Errorf("insert lemmas for site %d: %w", siteID, err)
		}
		for _, lemma := range created {
			ids[lemma.Term] = lemma.ID
		}
	}

	var entries []crawler.IndexEntry
	for _, unit := range units {
		pageTerms := make([]string, 0, len(unit.Lemmas))
		for term := range unit.Lemmas {
			pageTerms = append(pageTerms, term)
		}
		sort.Strings(pageTerms)
		for _, term := range pageTerms {
			entries = append(entries, crawler.IndexEntry{
				PageID:  unit.Page.ID,
				LemmaID: ids[term],
				Rank:    float64(unit.Lemmas[term]),
			})
		}
	}
	if err := tx.InsertIndexEntries(ctx, entries); err != nil {
		return fmt.Errorf("insert index entries for site %d: %w", siteID, err)
	}
	return nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/store"
)

// InTx runs fn in a transaction and commits when it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(tx store.IndexTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&indexTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type indexTx struct {
	tx pgx.Tx
}

func (t *indexTx) FindLemmas(ctx context.Context, siteID int64, terms []string) ([]crawler.Lemma, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	return queryLemmas(ctx, t.tx,
		`SELECT id, site_id, lemma, frequency FROM lemma WHERE site_id = $1 AND lemma = ANY($2);`,
		siteID, terms)
}

func (t *indexTx) UpsertLemmas(ctx context.Context, rows []store.LemmaUpsert) ([]crawler.Lemma, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	siteIDs := make([]int64, len(rows))
	terms := make([]string, len(rows))
	deltas := make([]int, len(rows))
	for i, row := range rows {
		if row.Term == "" {
			return nil, fmt.Errorf("upsert lemma: empty term")
		}
		siteIDs[i], terms[i], deltas[i] = row.SiteID, row.Term, row.Delta
	}
	const query = `
		INSERT INTO lemma (site_id, lemma, frequency)
		SELECT * FROM unnest($1::bigint[], $2::text[], $3::int[])
		ON CONFLICT (site_id, lemma) DO UPDATE SET frequency = lemma.frequency + EXCLUDED.frequency
		RETURNING id, site_id, lemma, frequency;
	`
	got, err := queryLemmas(ctx, t.tx, query, siteIDs, terms, deltas)
	if err != nil {
		return nil, fmt.Errorf("upsert lemmas: %w", err)
	}
	type key struct {
		siteID int64
		term   string
	}
	byKey := make(map[key]crawler.Lemma, len(got))
	for _, l := range got {
		byKey[key{l.SiteID, l.Term}] = l
	}
	out := make([]crawler.Lemma, 0, len(rows))
	for _, row := range rows {
		l, ok := byKey[key{row.SiteID, row.Term}]
		if !ok {
			return nil, fmt.Errorf("upsert lemma %q: no row returned", row.Term)
		}
		out = append(out, l)
	}
	return out, nil
}

func (t *indexTx) AdjustFrequencies(ctx context.Context, deltas map[int64]int) error {
	if len(deltas) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(deltas))
	for id := range deltas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	values := make([]int, len(ids))
	for i, id := range ids {
		values[i] = deltas[id]
	}
	const query = `
		UPDATE lemma AS l SET frequency = l.frequency + d.delta
		FROM unnest($1::bigint[], $2::int[]) AS d(id, delta)
		WHERE l.id = d.id;
	`
	tag, err := t.tx.Exec(ctx, query, ids, values)
	if err != nil {
		return fmt.Errorf("adjust frequencies: %w", err)
	}
	if tag.RowsAffected() != int64(len(ids)) {
		return fmt.Errorf("adjust frequencies: %d of %d lemmas: %w", tag.RowsAffected(), len(ids), store.ErrNotFound)
	}
	return nil
}

func (t *indexTx) DeleteExhaustedLemmas(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM lemma WHERE id = ANY($1) AND frequency <= 0;`, ids); err != nil {
		return fmt.Errorf("delete exhausted lemmas: %w", err)
	}
	return nil
}

func (t *indexTx) InsertIndexEntries(ctx context.Context, entries []crawler.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}
	pageIDs := make([]int64, len(entries))
	lemmaIDs := make([]int64, len(entries))
	ranks := make([]float64, len(entries))
	for i, e := range entries {
		pageIDs[i], lemmaIDs[i], ranks[i] = e.PageID, e.LemmaID, e.Rank
	}
	const query = `
		INSERT INTO search_index (page_id, lemma_id, rank)
		SELECT * FROM unnest($1::bigint[], $2::bigint[], $3::float8[]);
	`
	if _, err := t.tx.Exec(ctx, query, pageIDs, lemmaIDs, ranks); err != nil {
		return fmt.Errorf("insert index entries: %w", mapError(err))
	}
	return nil
}

func (t *indexTx) FindIndexEntriesByPage(ctx context.Context, pageID int64) ([]crawler.IndexEntry, error) {
	return queryEntries(ctx, t.tx, `SELECT page_id, lemma_id, rank FROM search_index WHERE page_id = $1;`, pageID)
}

func (t *indexTx) DeleteIndexEntriesByPage(ctx context.Context, pageID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM search_index WHERE page_id = $1;`, pageID); err != nil {
		return fmt.Errorf("delete index entries: %w", err)
	}
	return nil
}

func (t *indexTx) LivePages(ctx context.Context, pageIDs []int64) ([]int64, error) {
	if len(pageIDs) == 0 {
		return nil, nil
	}
	rows, err := t.tx.Query(ctx, `SELECT id FROM page WHERE id = ANY($1) ORDER BY id FOR SHARE;`, pageIDs)
	if err != nil {
		return nil, fmt.Errorf("live pages: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan page id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate page ids: %w", err)
	}
	return ids, nil
}

func (t *indexTx) DeletePage(ctx context.Context, pageID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM page WHERE id = $1;`, pageID); err != nil {
		return fmt.Errorf("delete page: %w", err)
	}
	return nil
}

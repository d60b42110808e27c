// Package postgres provides the Postgres-backed site index store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitesearch/internal/crawler"
	"github.com/JakeFAU/sitesearch/internal/store"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store implements store.Store on Postgres.
type Store struct {
	pool Pool
}

var _ store.Store = (*Store)(nil)

// NewStore connects to Postgres using cfg.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a store from an existing pool.
func NewStoreWithPool(pool Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, store.ErrDuplicate)
	}
	return err
}

const siteColumns = `id, url, name, status, status_time, last_error`

func scanSite(row pgx.Row) (crawler.Site, error) {
	var (
		site   crawler.Site
		status string
	)
	if err := row.Scan(&site.ID, &site.URL, &site.Name, &status, &site.StatusTime, &site.LastError); err != nil {
		return crawler.Site{}, err
	}
	site.Status = crawler.SiteStatus(status)
	return site, nil
}

// CreateSite inserts a site.
func (s *Store) CreateSite(ctx context.Context, site crawler.Site) (crawler.Site, error) {
	const query = `
		INSERT INTO site (url, name, status, status_time, last_error)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id;
	`
	err := s.pool.QueryRow(ctx, query, site.URL, site.Name, string(site.Status), site.StatusTime, site.LastError).
		Scan(&site.ID)
	if err != nil {
		return crawler.Site{}, fmt.Errorf("insert site: %w", mapError(err))
	}
	return site, nil
}

// UpdateSiteStatus sets status, status time and last error.
func (s *Store) UpdateSiteStatus(
	ctx context.Context,
	siteID int64,
	status crawler.SiteStatus,
	lastError string,
	at time.Time,
) error {
	const query = `UPDATE site SET status = $1, last_error = $2, status_time = $3 WHERE id = $4;`
	tag, err := s.pool.Exec(ctx, query, string(status), lastError, at, siteID)
	if err != nil {
		return fmt.Errorf("update site status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("site %d: %w", siteID, store.ErrNotFound)
	}
	return nil
}

// TouchSite bumps the status time.
func (s *Store) TouchSite(ctx context.Context, siteID int64, at time.Time) error {
	const query = `UPDATE site SET status_time = $1 WHERE id = $2;`
	if _, err := s.pool.Exec(ctx, query, at, siteID); err != nil {
		return fmt.Errorf("touch site: %w", err)
	}
	return nil
}

// GetSiteByURL loads a site by URL.
func (s *Store) GetSiteByURL(ctx context.Context, url string) (crawler.Site, error) {
	query := `SELECT ` + siteColumns + ` FROM site WHERE url = $1;`
	site, err := scanSite(s.pool.QueryRow(ctx, query, url))
	if err != nil {
		return crawler.Site{}, mapError(err)
	}
	return site, nil
}

// ListSites returns all sites ordered by ID.
func (s *Store) ListSites(ctx context.Context) ([]crawler.Site, error) {
	return s.querySites(ctx, `SELECT `+siteColumns+` FROM site ORDER BY id;`)
}

// ListSitesByStatus returns sites in status ordered by ID.
func (s *Store) ListSitesByStatus(ctx context.Context, status crawler.SiteStatus) ([]crawler.Site, error) {
	return s.querySites(ctx, `SELECT `+siteColumns+` FROM site WHERE status = $1 ORDER BY id;`, string(status))
}

func (s *Store) querySites(ctx context.Context, query string, args ...any) ([]crawler.Site, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []crawler.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return sites, nil
}

// DeleteSite removes a site; foreign keys cascade to pages, lemmas and index entries.
func (s *Store) DeleteSite(ctx context.Context, siteID int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM site WHERE id = $1;`, siteID); err != nil {
		return fmt.Errorf("delete site: %w", err)
	}
	return nil
}

// SavePage inserts a page.
func (s *Store) SavePage(ctx context.Context, page crawler.Page) (crawler.Page, error) {
	const query = `
		INSERT INTO page (site_id, path, code, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id;
	`
	err := s.pool.QueryRow(ctx, query, page.SiteID, page.Path, page.Code, page.Content).Scan(&page.ID)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("insert page %s: %w", page.Path, mapError(err))
	}
	return page, nil
}

// GetPage loads the page at (site, path).
func (s *Store) GetPage(ctx context.Context, siteID int64, path string) (crawler.Page, error) {
	const query = `SELECT id, site_id, path, code, content FROM page WHERE site_id = $1 AND path = $2;`
	var page crawler.Page
	err := s.pool.QueryRow(ctx, query, siteID, path).
		Scan(&page.ID, &page.SiteID, &page.Path, &page.Code, &page.Content)
	if err != nil {
		return crawler.Page{}, mapError(err)
	}
	return page, nil
}

// GetPages loads pages by ID ordered by ID.
func (s *Store) GetPages(ctx context.Context, ids []int64) ([]crawler.Page, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT id, site_id, path, code, content FROM page WHERE id = ANY($1) ORDER BY id;`
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get pages: %w", err)
	}
	defer rows.Close()

	var pages []crawler.Page
	for rows.Next() {
		var page crawler.Page
		if err := rows.Scan(&page.ID, &page.SiteID, &page.Path, &page.Code, &page.Content); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		pages = append(pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return pages, nil
}

// CountPages counts pages of one site, or all pages when siteID is 0.
func (s *Store) CountPages(ctx context.Context, siteID int64) (int, error) {
	return s.count(ctx, `SELECT count(*) FROM page WHERE ($1::bigint = 0 OR site_id = $1);`, siteID)
}

// CountLemmas counts lemmas of one site, or all lemmas when siteID is 0.
func (s *Store) CountLemmas(ctx context.Context, siteID int64) (int, error) {
	return s.count(ctx, `SELECT count(*) FROM lemma WHERE ($1::bigint = 0 OR site_id = $1);`, siteID)
}

func (s *Store) count(ctx context.Context, query string, siteID int64) (int, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, query, siteID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return int(n), nil
}

// FindLemmasInSites returns lemma rows for terms in siteIDs, or in every site when siteIDs is nil.
func (s *Store) FindLemmasInSites(ctx context.Context, terms []string, siteIDs []int64) ([]crawler.Lemma, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if siteIDs == nil {
		return queryLemmas(ctx, s.pool,
			`SELECT id, site_id, lemma, frequency FROM lemma WHERE lemma = ANY($1) ORDER BY id;`, terms)
	}
	return queryLemmas(ctx, s.pool,
		`SELECT id, site_id, lemma, frequency FROM lemma WHERE lemma = ANY($1) AND site_id = ANY($2) ORDER BY id;`,
		terms, siteIDs)
}

// PageIDsForLemmas returns the distinct pages referencing any of lemmaIDs.
func (s *Store) PageIDsForLemmas(ctx context.Context, lemmaIDs []int64) ([]int64, error) {
	if len(lemmaIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT DISTINCT page_id FROM search_index WHERE lemma_id = ANY($1) ORDER BY page_id;`
	rows, err := s.pool.Query(ctx, query, lemmaIDs)
	if err != nil {
		return nil, fmt.Errorf("pages for lemmas: %w", err)
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

// FindIndexEntries returns the entries of pageID restricted to lemmaIDs.
func (s *Store) FindIndexEntries(ctx context.Context, pageID int64, lemmaIDs []int64) ([]crawler.IndexEntry, error) {
	if len(lemmaIDs) == 0 {
		return nil, nil
	}
	return queryEntries(ctx, s.pool,
		`SELECT page_id, lemma_id, rank FROM search_index WHERE page_id = $1 AND lemma_id = ANY($2);`,
		pageID, lemmaIDs)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLemmas(ctx context.Context, q querier, query string, args ...any) ([]crawler.Lemma, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lemmas: %w", err)
	}
	defer rows.Close()

	var out []crawler.Lemma
	for rows.Next() {
		var l crawler.Lemma
		if err := rows.Scan(&l.ID, &l.SiteID, &l.Term, &l.Frequency); err != nil {
			return nil, fmt.Errorf("scan lemma: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lemmas: %w", err)
	}
	return out, nil
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]crawler.IndexEntry, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query index entries: %w", err)
	}
	defer rows.Close()

	var out []crawler.IndexEntry
	for rows.Next() {
		var e crawler.IndexEntry
		if err := rows.Scan(&e.PageID, &e.LemmaID, &e.Rank); err != nil {
			return nil, fmt.Errorf("scan index entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index entries: %w", err)
	}
	return out, nil
}

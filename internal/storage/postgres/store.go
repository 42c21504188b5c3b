// Package postgres provides the Postgres-backed frontier and index store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
	"github.com/JakeFAU/sitesearch-crawler/internal/storage"
)

// frontierLockKey serializes position assignment across connections.
const frontierLockKey int64 = 0x726f626f74

// Config controls the Postgres connection pool.
type Config struct {
	DSN                  string
	MaxConns             int32
	MinConns             int32
	MaxConnLifetime      time.Duration
	DescriptionMaxLength int
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store implements crawler.Store on top of pgx.
type Store struct {
	pool    pgxPool
	descLen int
}

var _ crawler.Store = (*Store)(nil)

// NewStore connects to Postgres using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewStoreWithPool(pool, cfg.DescriptionMaxLength)
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool pgxPool, descriptionMaxLength int) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if descriptionMaxLength <= 0 {
		descriptionMaxLength = 200
	}
	return &Store{pool: pool, descLen: descriptionMaxLength}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Reset creates the tables when missing and truncates them.
func (s *Store) Reset(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS robot_url (
	pos BIGINT PRIMARY KEY,
	url TEXT NOT NULL UNIQUE
)`,
		`CREATE TABLE IF NOT EXISTS url_keyword (
	url TEXT NOT NULL,
	keyword TEXT NOT NULL,
	rank INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (url, keyword)
)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS url_description (
	url TEXT PRIMARY KEY,
	description VARCHAR(%d) NOT NULL
)`, s.descLen),
		`TRUNCATE robot_url, url_keyword, url_description`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return crawler.StorageError("reset schema", err)
		}
	}
	return nil
}

// InsertIfAbsent returns the URL's position, assigning MAX(pos)+1 under an advisory lock
// so positions stay gap-free even when concurrent inserts race.
func (s *Store) InsertIfAbsent(ctx context.Context, url string) (int64, error) {
	pos, err := s.lookup(ctx, s.pool, url)
	if err == nil {
		return pos, nil
	}
	if !errors.Is(err, crawler.ErrNotFound) {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, crawler.StorageError("begin frontier insert", err)
	}
	pos, err = s.insertLocked(ctx, tx, url)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, crawler.StorageError("commit frontier insert", err)
	}
	return pos, nil
}

type queryRower interface {
	QueryRow(context.Context, string, ...any) pgx.Row
}

func (s *Store) lookup(ctx context.Context, q queryRower, url string) (int64, error) {
	var pos int64
	err := q.QueryRow(ctx, `SELECT pos FROM robot_url WHERE url = $1`, url).Scan(&pos)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, crawler.ErrNotFound
	}
	if err != nil {
		return 0, crawler.StorageError("lookup frontier url", err)
	}
	return pos, nil
}

func (s *Store) insertLocked(ctx context.Context, tx pgx.Tx, url string) (int64, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, frontierLockKey); err != nil {
		return 0, crawler.StorageError("lock frontier", err)
	}
	pos, err := s.lookup(ctx, tx, url)
	if err == nil {
		return pos, nil
	}
	if !errors.Is(err, crawler.ErrNotFound) {
		return 0, err
	}
	err = tx.QueryRow(ctx, `
INSERT INTO robot_url (pos, url)
SELECT COALESCE(MAX(pos), 0) + 1, $1 FROM robot_url
RETURNING pos`, url).Scan(&pos)
	if err != nil {
		return 0, crawler.StorageError("insert frontier url", err)
	}
	return pos, nil
}

// URLAt returns the URL stored at position.
func (s *Store) URLAt(ctx context.Context, position int64) (string, error) {
	var url string
	err := s.pool.QueryRow(ctx, `SELECT url FROM robot_url WHERE pos = $1`, position).Scan(&url)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", crawler.ErrNotFound
	}
	if err != nil {
		return "", crawler.StorageError("url at position", err)
	}
	return url, nil
}

// Count returns the number of frontier entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM robot_url`, "count frontier")
}

// CountIndexed returns the number of URLs with a description.
func (s *Store) CountIndexed(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM url_description`, "count indexed")
}

func (s *Store) count(ctx context.Context, query, op string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, crawler.StorageError(op, err)
	}
	return n, nil
}

// PositionsMatching lists positions whose URL contains substr.
func (s *Store) PositionsMatching(ctx context.Context, substr string) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT pos FROM robot_url WHERE url LIKE $1 ESCAPE '\' ORDER BY pos`,
		storage.ContainsPattern(substr))
	if err != nil {
		return nil, crawler.StorageError("positions matching", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var pos int64
		if err := rows.Scan(&pos); err != nil {
			return nil, crawler.StorageError("scan position", err)
		}
		out = append(out, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, crawler.StorageError("positions matching", err)
	}
	return out, nil
}

// UpsertKeywords writes every keyword in one statement, overwriting existing ranks.
func (s *Store) UpsertKeywords(ctx context.Context, url string, keywords []crawler.KeywordRank) error {
	keywords = storage.DedupeKeywords(keywords)
	if len(keywords) == 0 {
		return nil
	}
	values := make([]string, 0, len(keywords))
	args := make([]any, 0, 1+2*len(keywords))
	args = append(args, url)
	for _, kw := range keywords {
		args = append(args, kw.Keyword, kw.Rank)
		values = append(values, fmt.Sprintf("($1, $%d, $%d)", len(args)-1, len(args)))
	}
	query := `INSERT INTO url_keyword (url, keyword, rank) VALUES ` + strings.Join(values, ", ") +
		` ON CONFLICT (url, keyword) DO UPDATE SET rank = EXCLUDED.rank`
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return crawler.StorageError("upsert keywords", err)
	}
	return nil
}

// UpsertDescription stores the description; last write wins.
func (s *Store) UpsertDescription(ctx context.Context, url string, description string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO url_description (url, description) VALUES ($1, $2)
ON CONFLICT (url) DO UPDATE SET description = EXCLUDED.description`, url, description)
	if err != nil {
		return crawler.StorageError("upsert description", err)
	}
	return nil
}

// SearchKeywords sums rank per described URL over keyword rows containing any (or all) terms.
func (s *Store) SearchKeywords(ctx context.Context, terms []string, mode crawler.SearchMode) ([]crawler.SearchResult, error) {
	if len(terms) == 0 {
		return []crawler.SearchResult{}, nil
	}
	args := make([]any, 0, len(terms))
	for _, term := range terms {
		args = append(args, storage.ContainsPattern(term))
	}
	where := storage.KeywordPredicate("k.keyword", len(terms), mode, func(i int) string {
		return "$" + strconv.Itoa(i+1)
	})
	query := `
SELECT k.url, d.description, SUM(k.rank) AS total
FROM url_keyword k
JOIN url_description d ON d.url = k.url
WHERE ` + where + `
GROUP BY k.url, d.description
ORDER BY total DESC, k.url ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, crawler.StorageError("search keywords", err)
	}
	defer rows.Close()
	results := make([]crawler.SearchResult, 0)
	for rows.Next() {
		var (
			res   crawler.SearchResult
			total int64
		)
		if err := rows.Scan(&res.URL, &res.Description, &total); err != nil {
			return nil, crawler.StorageError("scan search result", err)
		}
		res.Rank = int(total)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, crawler.StorageError("search keywords", err)
	}
	return results, nil
}

// Descriptions returns stored descriptions keyed by URL; unknown URLs are absent.
func (s *Store) Descriptions(ctx context.Context, urls []string) (map[string]string, error) {
	out := make(map[string]string, len(urls))
	if len(urls) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT url, description FROM url_description WHERE url = ANY($1)`, urls)
	if err != nil {
		return nil, crawler.StorageError("load descriptions", err)
	}
	defer rows.Close()
	for rows.Next() {
		var url, desc string
		if err := rows.Scan(&url, &desc); err != nil {
			return nil, crawler.StorageError("scan description", err)
		}
		out[url] = desc
	}
	if err := rows.Err(); err != nil {
		return nil, crawler.StorageError("load descriptions", err)
	}
	return out, nil
}

// Package sqlite provides a single-file frontier and index store backed by SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/JakeFAU/sitesearch-crawler/internal/crawler"
	"github.com/JakeFAU/sitesearch-crawler/internal/storage"
)

// Store implements crawler.Store with database/sql and go-sqlite3.
type Store struct {
	db      *sql.DB
	descLen int
}

var _ crawler.Store = (*Store)(nil)

// Open connects to the SQLite database at path (":memory:" for a private in-memory database).
// SQLite allows one writer at a time, so the pool is limited to a single connection.
func Open(ctx context.Context, path string, descriptionMaxLength int) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	// keep LIKE case-sensitive to match the Postgres store.
	if _, err := db.ExecContext(ctx, `PRAGMA case_sensitive_like = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if descriptionMaxLength <= 0 {
		descriptionMaxLength = 200
	}
	s := &Store{db: db, descLen: descriptionMaxLength}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *Store) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS robot_url (
	pos INTEGER PRIMARY KEY,
	url TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS url_keyword (
	url     TEXT NOT NULL,
	keyword TEXT NOT NULL,
	rank    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (url, keyword)
);
CREATE TABLE IF NOT EXISTS url_description (
	url         TEXT PRIMARY KEY,
	description VARCHAR(%d) NOT NULL
);`, s.descLen))
	if err != nil {
		return crawler.StorageError("create tables", err)
	}
	return nil
}

// Reset creates missing tables and deletes every row.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.createTables(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
DELETE FROM robot_url;
DELETE FROM url_keyword;
DELETE FROM url_description;`); err != nil {
		return crawler.StorageError("truncate tables", err)
	}
	return nil
}

// InsertIfAbsent assigns MAX(pos)+1 in a single statement; SQLite's write lock keeps it atomic.
func (s *Store) InsertIfAbsent(ctx context.Context, url string) (int64, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO robot_url (pos, url) SELECT COALESCE(MAX(pos), 0) + 1, ? FROM robot_url`,
		url); err != nil {
		return 0, crawler.StorageError("insert frontier url", err)
	}
	var pos int64
	if err := s.db.QueryRowContext(ctx, `SELECT pos FROM robot_url WHERE url = ?`, url).Scan(&pos); err != nil {
		return 0, crawler.StorageError("lookup frontier url", err)
	}
	return pos, nil
}

// URLAt returns the URL stored at position.
func (s *Store) URLAt(ctx context.Context, position int64) (string, error) {
	var url string
	err := s.db.QueryRowContext(ctx, `SELECT url FROM robot_url WHERE pos = ?`, position).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
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
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, crawler.StorageError(op, err)
	}
	return n, nil
}

// PositionsMatching lists positions whose URL contains substr.
func (s *Store) PositionsMatching(ctx context.Context, substr string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT pos FROM robot_url WHERE url LIKE ? ESCAPE '\' ORDER BY pos`,
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
	args := make([]any, 0, 3*len(keywords))
	for _, kw := range keywords {
		values = append(values, "(?, ?, ?)")
		args = append(args, url, kw.Keyword, kw.Rank)
	}
	query := `INSERT INTO url_keyword (url, keyword, rank) VALUES ` + strings.Join(values, ", ") +
		` ON CONFLICT (url, keyword) DO UPDATE SET rank = excluded.rank`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return crawler.StorageError("upsert keywords", err)
	}
	return nil
}

// UpsertDescription stores the description; last write wins.
func (s *Store) UpsertDescription(ctx context.Context, url string, description string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO url_description (url, description) VALUES (?, ?)
ON CONFLICT (url) DO UPDATE SET description = excluded.description`, url, description)
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
	where := storage.KeywordPredicate("k.keyword", len(terms), mode, func(int) string { return "?" })
	query := `
SELECT k.url, d.description, SUM(k.rank) AS total
FROM url_keyword k
JOIN url_description d ON d.url = k.url
WHERE ` + where + `
GROUP BY k.url, d.description
ORDER BY total DESC, k.url ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, crawler.StorageError("search keywords", err)
	}
	defer rows.Close()
	results := make([]crawler.SearchResult, 0)
	for rows.Next() {
		var res crawler.SearchResult
		if err := rows.Scan(&res.URL, &res.Description, &res.Rank); err != nil {
			return nil, crawler.StorageError("scan search result", err)
		}
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
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(urls)), ", ")
	args := make([]any, 0, len(urls))
	for _, url := range urls {
		args = append(args, url)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, description FROM url_description WHERE url IN (`+placeholders+`)`, args...)
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

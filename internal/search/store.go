// Package search provides a read-only, rebuildable FTS5 index over inbox
// message bodies, reply-needed request topics/responses, and per-member
// design stubs. It is never the system of record: registry.json and the
// on-disk inbox/requests/design directories remain authoritative, and the
// index can always be thrown away and rebuilt from them (§2).
package search

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Document is one piece of indexed content.
type Document struct {
	Path     string // e.g. "inbox/dev-C/unread/from-admin-B/000042.md" or "requests/req-000007/meta.json"
	Title    string
	Content  string
	Category string // "message", "request_topic", "response", "design"
}

// Result is one ranked hit from a Query.
type Result struct {
	Path     string
	Title    string
	Snippet  string
	Category string
	Rank     float64
}

const schema = `
CREATE VIRTUAL TABLE IF NOT EXISTS documents USING fts5(
	path,
	title,
	content,
	category,
	tokenize='porter unicode61'
);

CREATE TABLE IF NOT EXISTS doc_meta (
	path TEXT PRIMARY KEY,
	checksum TEXT,
	indexed_at TEXT
);
`

// Store wraps a SQLite database, separate from the team's JSON state, with
// an FTS5 table for the content and a doc_meta table for incremental
// reindexing by checksum (mirroring the teacher's knowledge store, which
// keeps its FTS5 index clear of any full-replace save pattern).
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (or creates) the search index database at dbPath.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create search db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open search db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init search schema: %w", err)
	}
	return &Store{db: db}, nil
}

// IndexIfChanged (re)indexes doc only if its content checksum changed since
// the last index. Returns whether it wrote anything.
func (s *Store) IndexIfChanged(doc Document) (bool, error) {
	newSum := checksum(doc.Content)

	s.mu.RLock()
	var existing string
	err := s.db.QueryRow(`SELECT checksum FROM doc_meta WHERE path = ?`, doc.Path).Scan(&existing)
	s.mu.RUnlock()
	if err == nil && existing == newSum {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM documents WHERE path = ?`, doc.Path); err != nil {
		return false, fmt.Errorf("delete old doc: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO documents (path, title, content, category) VALUES (?, ?, ?, ?)`,
		doc.Path, doc.Title, doc.Content, doc.Category); err != nil {
		return false, fmt.Errorf("insert doc: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(`INSERT OR REPLACE INTO doc_meta (path, checksum, indexed_at) VALUES (?, ?, ?)`,
		doc.Path, newSum, now); err != nil {
		return false, fmt.Errorf("upsert doc_meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes one document by path.
func (s *Store) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete from fts: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM doc_meta WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete from meta: %w", err)
	}
	return tx.Commit()
}

// IndexedPaths returns every path currently tracked, for detecting deletions
// between scans.
func (s *Store) IndexedPaths() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT path FROM doc_meta`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Query runs an FTS5 MATCH search, optionally restricted to one category,
// returning up to limit results ranked by relevance.
func (s *Store) Query(query, category string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows *sql.Rows
	var err error
	if category != "" {
		rows, err = s.db.Query(`
			SELECT path, title, snippet(documents, 2, '>>>', '<<<', '...', 40), category, rank
			FROM documents
			WHERE documents MATCH ? AND category = ?
			ORDER BY rank
			LIMIT ?`, ftsQuery, category, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT path, title, snippet(documents, 2, '>>>', '<<<', '...', 40), category, rank
			FROM documents
			WHERE documents MATCH ?
			ORDER BY rank
			LIMIT ?`, ftsQuery, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Path, &r.Title, &r.Snippet, &r.Category, &r.Rank); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func checksum(content string) string {
	h := sha256.Sum256([]byte(content))
	return hex.EncodeToString(h[:])
}

// sanitizeFTSQuery strips FTS5 syntax characters from free-text input so a
// search never fails with a query-syntax error.
func sanitizeFTSQuery(q string) string {
	replacer := strings.NewReplacer(`"`, "", "'", "", "(", "", ")", "", "*", "", ":", "", "^", "", "{", "", "}", "")
	cleaned := replacer.Replace(q)
	words := strings.Fields(cleaned)
	var tokens []string
	for _, w := range words {
		if w != "" && w != "AND" && w != "OR" && w != "NOT" && w != "NEAR" {
			tokens = append(tokens, w)
		}
	}
	if len(tokens) == 0 {
		return ""
	}
	return strings.Join(tokens, " ")
}

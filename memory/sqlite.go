package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dialogmesh/dialogmesh/core"
	"github.com/dialogmesh/dialogmesh/logging"
)

// SQLiteStore is a durable MemoryStore backed by a single SQLite database.
// It is intended for the private and public tiers whose entries persist
// across sessions. Scoring happens in Go over a LIKE-prefiltered candidate
// set; expired rows are skipped on read and reaped opportunistically.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewSQLiteStore opens (or creates) the database at path and runs schema
// migration. WAL mode keeps concurrent readers cheap.
func NewSQLiteStore(path string, logger logging.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logging.OrNoOp(logger)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	s.logger.Info("memory store opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			scope TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_scope ON entries(scope)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_expires ON entries(expires_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Add appends an entry to the scope. Metadata key "ttl" (time.Duration)
// sets an expiry.
func (s *SQLiteStore) Add(ctx context.Context, scope core.Scope, content string, metadata map[string]any) (string, error) {
	id := core.NewID()
	now := time.Now().UTC()
	var expires int64
	if ttl, ok := metadata["ttl"].(time.Duration); ok && ttl > 0 {
		expires = now.Add(ttl).Unix()
	}
	md, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (id, scope, content, metadata, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, scope.String(), content, string(md), now.Unix(), expires)
	if err != nil {
		return "", fmt.Errorf("insert entry: %w", err)
	}
	return id, nil
}

// Retrieve selects live scope rows matching any query term and scores them
// by keyword overlap, returning the top limit entries.
func (s *SQLiteStore) Retrieve(ctx context.Context, scope core.Scope, query string, limit int) ([]core.ScoredEntry, error) {
	now := time.Now().UTC()
	args := []any{scope.String(), now.Unix()}
	q := `SELECT id, content, metadata, created_at, expires_at FROM entries
		WHERE scope = ? AND (expires_at = 0 OR expires_at > ?)`

	terms := tokenize(query)
	if len(terms) > 0 {
		q += " AND ("
		for i, t := range terms {
			if i > 0 {
				q += " OR "
			}
			q += "content LIKE ?"
			args = append(args, "%"+t+"%")
		}
		q += ")"
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var results []core.ScoredEntry
	for rows.Next() {
		var (
			entry            core.MemoryEntry
			md               string
			created, expires int64
		)
		if err := rows.Scan(&entry.ID, &entry.Content, &md, &created, &expires); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entry.Scope = scope
		entry.CreatedAt = time.Unix(created, 0).UTC()
		if expires > 0 {
			entry.ExpiresAt = time.Unix(expires, 0).UTC()
		}
		if err := json.Unmarshal([]byte(md), &entry.Metadata); err != nil {
			entry.Metadata = nil
		}
		if score := relevance(query, entry.Content); score > 0 {
			results = append(results, core.ScoredEntry{Entry: entry, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entry.CreatedAt.After(results[j].Entry.CreatedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// DeleteScope removes every entry belonging to scope.
func (s *SQLiteStore) DeleteScope(ctx context.Context, scope core.Scope) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE scope = ?`, scope.String()); err != nil {
		return fmt.Errorf("delete scope: %w", err)
	}
	return nil
}

// Reap deletes expired rows. Called periodically by the owner; safe to run
// concurrently with reads.
func (s *SQLiteStore) Reap(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE expires_at > 0 AND expires_at <= ?`, time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("reap expired: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Debug("memory store reaped expired entries", "count", n)
	}
	return n, nil
}

// Package sqlite implements index.Store on SQLite tables: one row per
// (definition, token, record) and one dependency row per integrating record.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/viant/sqlite-txt/index"
	"github.com/viant/sqlite-txt/token"
	"github.com/viant/sqlite-txt/txterrors"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS txt_index_rows (
    definition_id TEXT NOT NULL,
    token         TEXT NOT NULL,
    record_id     TEXT NOT NULL,
    PRIMARY KEY(definition_id, token, record_id)
) WITHOUT ROWID;
CREATE INDEX IF NOT EXISTS txt_index_rows_record ON txt_index_rows(definition_id, record_id);
CREATE TABLE IF NOT EXISTS txt_index_deps (
    definition_id TEXT NOT NULL,
    record_id     TEXT NOT NULL,
    related_id    TEXT NOT NULL,
    PRIMARY KEY(definition_id, record_id)
);
CREATE INDEX IF NOT EXISTS txt_index_deps_related ON txt_index_deps(definition_id, related_id);
`

// EnsureSchema creates the index tables if they do not already exist.
func EnsureSchema(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("sqlite: db is nil")
	}
	_, err := db.Exec(schemaDDL)
	return err
}

// Store keeps index rows in the txt_index_rows and txt_index_deps tables.
type Store struct {
	db    *sql.DB
	locks *index.KeyLocker
}

// New creates a Store and ensures its schema.
func New(db *sql.DB) (*Store, error) {
	if err := EnsureSchema(db); err != nil {
		return nil, err
	}
	return &Store{db: db, locks: index.NewKeyLocker()}, nil
}

// Put implements index.Store. The diff is computed and applied in a single
// transaction while the (definition, record) key is held.
func (s *Store) Put(ctx context.Context, definition, recordID string, tokens []string) (index.Delta, error) {
	unlock := s.locks.Lock(index.Key(definition, recordID))
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return index.Delta{}, txterrors.Transient("index put", err)
	}
	defer func() { _ = tx.Rollback() }()

	stored, err := queryStrings(ctx, tx, `SELECT token FROM txt_index_rows WHERE definition_id = ? AND record_id = ? ORDER BY token`, definition, recordID)
	if err != nil {
		return index.Delta{}, err
	}
	added, removed := token.NewSet(tokens...).Diff(token.Set(stored))
	if len(added) == 0 && len(removed) == 0 {
		return index.Delta{}, nil
	}
	if err := execEach(ctx, tx, `INSERT OR IGNORE INTO txt_index_rows(definition_id, token, record_id) VALUES(?, ?, ?)`, definition, recordID, added); err != nil {
		return index.Delta{}, err
	}
	if err := execEach(ctx, tx, `DELETE FROM txt_index_rows WHERE definition_id = ? AND token = ? AND record_id = ?`, definition, recordID, removed); err != nil {
		return index.Delta{}, err
	}
	if err := tx.Commit(); err != nil {
		return index.Delta{}, txterrors.Transient("index put", err)
	}
	return index.Delta{Added: added, Removed: removed}, nil
}

// RemoveAll implements index.Store.
func (s *Store) RemoveAll(ctx context.Context, definition, recordID string) ([]string, error) {
	unlock := s.locks.Lock(index.Key(definition, recordID))
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, txterrors.Transient("index remove", err)
	}
	defer func() { _ = tx.Rollback() }()
	removed, err := queryStrings(ctx, tx, `SELECT token FROM txt_index_rows WHERE definition_id = ? AND record_id = ? ORDER BY token`, definition, recordID)
	if err != nil || len(removed) == 0 {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM txt_index_rows WHERE definition_id = ? AND record_id = ?`, definition, recordID); err != nil {
		return nil, txterrors.Transient("index remove", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, txterrors.Transient("index remove", err)
	}
	return removed, nil
}

// Lookup implements index.Store. Prefix lookups scan the token range
// [prefix, upper bound) of the primary key.
func (s *Store) Lookup(ctx context.Context, definition, tok string, prefix bool) ([]index.Match, error) {
	if tok == "" {
		return nil, nil
	}
	if !prefix {
		ids, err := queryStrings(ctx, s.db, `SELECT record_id FROM txt_index_rows WHERE definition_id = ? AND token = ? ORDER BY record_id`, definition, tok)
		if err != nil {
			return nil, err
		}
		out := make([]index.Match, 0, len(ids))
		for _, id := range ids {
			out = append(out, index.Match{RecordID: id, Exact: true})
		}
		return out, nil
	}

	q := `SELECT record_id, token FROM txt_index_rows WHERE definition_id = ? AND token >= ?`
	args := []any{definition, tok}
	if upper := index.PrefixUpperBound([]byte(tok)); upper != nil {
		q += ` AND token < ?`
		args = append(args, string(upper))
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, txterrors.Transient("index lookup", err)
	}
	defer rows.Close()
	type hit struct {
		id    string
		exact bool
	}
	var hits []hit
	for rows.Next() {
		var id, stored string
		if err := rows.Scan(&id, &stored); err != nil {
			return nil, txterrors.Transient("index lookup", err)
		}
		if !strings.HasPrefix(stored, tok) {
			continue
		}
		hits = append(hits, hit{id: id, exact: stored == tok})
	}
	if err := rows.Err(); err != nil {
		return nil, txterrors.Transient("index lookup", err)
	}
	return index.Collect(func(yield func(string, bool) bool) {
		for _, h := range hits {
			if !yield(h.id, h.exact) {
				return
			}
		}
	}), nil
}

// Tokens implements index.Store.
func (s *Store) Tokens(ctx context.Context, definition, recordID string) ([]string, error) {
	return queryStrings(ctx, s.db, `SELECT token FROM txt_index_rows WHERE definition_id = ? AND record_id = ? ORDER BY token`, definition, recordID)
}

// Records implements index.Store.
func (s *Store) Records(ctx context.Context, definition string) ([]string, error) {
	return queryStrings(ctx, s.db, `SELECT DISTINCT record_id FROM txt_index_rows WHERE definition_id = ? ORDER BY record_id`, definition)
}

// SetDependency implements index.Store.
func (s *Store) SetDependency(ctx context.Context, definition, recordID, relatedID string) error {
	var err error
	if relatedID == "" {
		_, err = s.db.ExecContext(ctx, `DELETE FROM txt_index_deps WHERE definition_id = ? AND record_id = ?`, definition, recordID)
	} else {
		_, err = s.db.ExecContext(ctx, `
INSERT INTO txt_index_deps(definition_id, record_id, related_id) VALUES(?, ?, ?)
ON CONFLICT(definition_id, record_id) DO UPDATE SET related_id = excluded.related_id`, definition, recordID, relatedID)
	}
	return txterrors.Transient("index dependency", err)
}

// Dependents implements index.Store.
func (s *Store) Dependents(ctx context.Context, definition, relatedID string) ([]string, error) {
	return queryStrings(ctx, s.db, `SELECT record_id FROM txt_index_deps WHERE definition_id = ? AND related_id = ? ORDER BY record_id`, definition, relatedID)
}

// Close is a no-op; the database handle belongs to the caller.
func (s *Store) Close() error { return nil }

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryStrings(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, txterrors.Transient("index query", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, txterrors.Transient("index query", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, txterrors.Transient("index query", err)
	}
	return out, nil
}

func execEach(ctx context.Context, tx *sql.Tx, stmt, definition, recordID string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	prepared, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		return txterrors.Transient("index put", err)
	}
	defer prepared.Close()
	for _, tok := range tokens {
		if _, err := prepared.ExecContext(ctx, definition, tok, recordID); err != nil {
			return txterrors.Transient("index put", err)
		}
	}
	return nil
}

// Ensure Store satisfies the index.Store interface.
var _ index.Store = (*Store)(nil)

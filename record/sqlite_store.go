package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/viant/sqlite-txt/txterrors"
)

// filterChunk bounds the number of ids bound into one IN (...) list.
const filterChunk = 500

// SQLiteStore keeps records in a single SQLite table, one JSON object of
// fields per (type, id). It is the primary storage used by txtutil and the
// source whose triggers feed txtsync.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed Source. It ensures the records
// schema exists in the provided database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("record: db is nil")
	}
	if err := EnsureSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying database handle.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Save inserts or replaces rec. When rec.ID is empty a random id is assigned
// to rec before writing. It returns the fields stored before the write and
// whether the record existed.
func (s *SQLiteStore) Save(ctx context.Context, rec *Record) (before map[string]any, existed bool, err error) {
	if rec == nil || rec.Type == "" {
		return nil, false, fmt.Errorf("record: Save requires a record type")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	payload, err := encodeFields(rec.Fields)
	if err != nil {
		return nil, false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, txterrors.Transient("record save", err)
	}
	defer func() { _ = tx.Rollback() }()

	before, existed, err = loadFields(ctx, tx, rec.Type, rec.ID)
	if err != nil {
		return nil, false, err
	}
	if existed {
		_, err = tx.ExecContext(ctx, `UPDATE txt_records SET fields = ? WHERE type = ? AND id = ?`, payload, rec.Type, rec.ID)
	} else {
		_, err = tx.ExecContext(ctx, `INSERT INTO txt_records(type, id, fields) VALUES(?, ?, ?)`, rec.Type, rec.ID, payload)
	}
	if err != nil {
		return nil, false, txterrors.Transient("record save", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, txterrors.Transient("record save", err)
	}
	return before, existed, nil
}

// Delete removes a record and returns its last stored fields.
func (s *SQLiteStore) Delete(ctx context.Context, recordType, id string) (before map[string]any, existed bool, err error) {
	if id == "" {
		return nil, false, fmt.Errorf("record: Delete called with empty id")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, txterrors.Transient("record delete", err)
	}
	defer func() { _ = tx.Rollback() }()
	before, existed, err = loadFields(ctx, tx, recordType, id)
	if err != nil || !existed {
		return nil, false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM txt_records WHERE type = ? AND id = ?`, recordType, id); err != nil {
		return nil, false, txterrors.Transient("record delete", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, txterrors.Transient("record delete", err)
	}
	return before, true, nil
}

// Get implements Getter.
func (s *SQLiteStore) Get(ctx context.Context, recordType, id string) (*Record, error) {
	fields, ok, err := loadFields(ctx, s.db, recordType, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("record: %s/%s: %w", recordType, id, txterrors.ErrNotFound)
	}
	return &Record{Type: recordType, ID: id, Fields: fields}, nil
}

// Filter implements Source. Conditions are evaluated in SQL against the
// stored JSON so the result reflects current field values.
func (s *SQLiteStore) Filter(ctx context.Context, recordType string, ids []string, f Filter) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	conds := f.Conditions()
	var where strings.Builder
	var condArgs []any
	for _, c := range conds {
		op := "IS"
		if c.Op == OpNE {
			op = "IS NOT"
		}
		where.WriteString(" AND json_extract(fields, ?) " + op + " ?")
		condArgs = append(condArgs, jsonPath(c.Field), sqlValue(c.Value))
	}

	out := make([]string, 0, len(ids))
	for start := 0; start < len(ids); start += filterChunk {
		end := min(start+filterChunk, len(ids))
		chunk := ids[start:end]
		args := make([]any, 0, 1+len(chunk)+len(condArgs))
		args = append(args, recordType)
		for _, id := range chunk {
			args = append(args, id)
		}
		args = append(args, condArgs...)
		q := fmt.Sprintf("SELECT id FROM txt_records WHERE type = ? AND id IN (%s)%s ORDER BY id",
			placeholders(len(chunk)), where.String())
		matched, err := queryIDs(ctx, s.db, q, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, matched...)
	}
	return out, nil
}

// Scan implements Source.
func (s *SQLiteStore) Scan(ctx context.Context, recordType string) ([]string, error) {
	return queryIDs(ctx, s.db, `SELECT id FROM txt_records WHERE type = ? ORDER BY id`, recordType)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadFields(ctx context.Context, q queryer, recordType, id string) (map[string]any, bool, error) {
	var payload string
	err := q.QueryRowContext(ctx, `SELECT fields FROM txt_records WHERE type = ? AND id = ?`, recordType, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, txterrors.Transient("record get", err)
	}
	fields, err := decodeFields(payload)
	if err != nil {
		return nil, false, err
	}
	return fields, true, nil
}

func queryIDs(ctx context.Context, q queryer, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, txterrors.Transient("record query", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, txterrors.Transient("record query", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, txterrors.Transient("record query", err)
	}
	return ids, nil
}

func encodeFields(fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("record: encode fields: %w", err)
	}
	return string(data), nil
}

func decodeFields(payload string) (map[string]any, error) {
	fields := map[string]any{}
	if payload == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, fmt.Errorf("record: decode fields: %w", err)
	}
	return fields, nil
}

// DecodeFields parses a JSON fields payload as written by SQLiteStore.
func DecodeFields(payload string) (map[string]any, error) { return decodeFields(payload) }

func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// Ensure SQLiteStore satisfies the Source interface.
var _ Source = (*SQLiteStore)(nil)

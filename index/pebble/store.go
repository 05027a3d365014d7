// Package pebble implements index.Store on a Pebble LSM database using
// bounded iterators for prefix scans and one batch per mutation.
package pebble

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/viant/sqlite-txt/index"
	"github.com/viant/sqlite-txt/token"
	"github.com/viant/sqlite-txt/txterrors"
)

// Store keeps rows as empty-valued keys; see index.RowKey for the layout.
type Store struct {
	db    *pebble.DB
	owned bool
	sync  *pebble.WriteOptions
	locks *index.KeyLocker
}

// Option configures a Store.
type Option func(*Store)

// WithNoSync commits batches without waiting for the WAL to reach disk.
func WithNoSync() Option {
	return func(s *Store) { s.sync = pebble.NoSync }
}

// New wraps an open database. The caller keeps ownership of db.
func New(db *pebble.DB, opts ...Option) *Store {
	s := &Store{db: db, sync: pebble.Sync, locks: index.NewKeyLocker()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the database at dirname; Close closes it.
func Open(dirname string, options *pebble.Options, opts ...Option) (*Store, error) {
	db, err := pebble.Open(dirname, options)
	if err != nil {
		return nil, err
	}
	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// Put implements index.Store.
func (s *Store) Put(ctx context.Context, definition, recordID string, tokens []string) (index.Delta, error) {
	if err := ctx.Err(); err != nil {
		return index.Delta{}, err
	}
	unlock := s.locks.Lock(index.Key(definition, recordID))
	defer unlock()

	stored, err := s.recordTokens(definition, recordID)
	if err != nil {
		return index.Delta{}, txterrors.Transient("index put", err)
	}
	added, removed := token.NewSet(tokens...).Diff(stored)
	if len(added) == 0 && len(removed) == 0 {
		return index.Delta{}, nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, tok := range added {
		if err := batch.Set(index.RowKey(definition, tok, recordID), nil, nil); err != nil {
			return index.Delta{}, txterrors.Transient("index put", err)
		}
		if err := batch.Set(index.RecordKey(definition, recordID, tok), nil, nil); err != nil {
			return index.Delta{}, txterrors.Transient("index put", err)
		}
	}
	if err := deleteTokens(batch, definition, recordID, removed); err != nil {
		return index.Delta{}, txterrors.Transient("index put", err)
	}
	if err := batch.Commit(s.sync); err != nil {
		return index.Delta{}, txterrors.Transient("index put", err)
	}
	return index.Delta{Added: added, Removed: removed}, nil
}

// RemoveAll implements index.Store.
func (s *Store) RemoveAll(ctx context.Context, definition, recordID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(index.Key(definition, recordID))
	defer unlock()

	removed, err := s.recordTokens(definition, recordID)
	if err != nil {
		return nil, txterrors.Transient("index remove", err)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := deleteTokens(batch, definition, recordID, removed); err != nil {
		return nil, txterrors.Transient("index remove", err)
	}
	if err := batch.Commit(s.sync); err != nil {
		return nil, txterrors.Transient("index remove", err)
	}
	return removed, nil
}

// Lookup implements index.Store.
func (s *Store) Lookup(ctx context.Context, definition, tok string, prefix bool) ([]index.Match, error) {
	if tok == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var scanErr error
	matches := index.Collect(func(yield func(string, bool) bool) {
		scanErr = s.scan(index.RowTokenPrefix(definition, tok, !prefix), func(key []byte) bool {
			stored, recordID, ok := index.SplitRowKey(definition, key)
			if !ok {
				return true
			}
			return yield(recordID, stored == tok)
		})
	})
	if scanErr != nil {
		return nil, txterrors.Transient("index lookup", scanErr)
	}
	return matches, nil
}

// Tokens implements index.Store.
func (s *Store) Tokens(ctx context.Context, definition, recordID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens, err := s.recordTokens(definition, recordID)
	if err != nil {
		return nil, txterrors.Transient("index tokens", err)
	}
	return tokens, nil
}

// Records implements index.Store.
func (s *Store) Records(ctx context.Context, definition string) ([]string, error) {
	var out []string
	err := s.scan(index.RecordPrefix(definition, ""), func(key []byte) bool {
		recordID, _, ok := index.SplitRecordKey(definition, key)
		if ok && (len(out) == 0 || out[len(out)-1] != recordID) {
			out = append(out, recordID)
		}
		return true
	})
	if err != nil {
		return nil, txterrors.Transient("index records", err)
	}
	return out, nil
}

// SetDependency implements index.Store.
func (s *Store) SetDependency(ctx context.Context, definition, recordID, relatedID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.Lock(index.Key(definition, recordID))
	defer unlock()

	key := index.DependencyKey(definition, recordID)
	previous, closer, err := s.db.Get(key)
	var prev string
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return txterrors.Transient("index dependency", err)
	default:
		prev = string(previous)
		_ = closer.Close()
	}
	if prev == relatedID {
		return nil
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if prev != "" {
		if err := batch.Delete(index.DependentKey(definition, prev, recordID), nil); err != nil {
			return txterrors.Transient("index dependency", err)
		}
	}
	if relatedID == "" {
		err = batch.Delete(key, nil)
	} else if err = batch.Set(key, []byte(relatedID), nil); err == nil {
		err = batch.Set(index.DependentKey(definition, relatedID, recordID), nil, nil)
	}
	if err != nil {
		return txterrors.Transient("index dependency", err)
	}
	return txterrors.Transient("index dependency", batch.Commit(s.sync))
}

// Dependents implements index.Store.
func (s *Store) Dependents(ctx context.Context, definition, relatedID string) ([]string, error) {
	prefix := index.DependentPrefix(definition, relatedID)
	var out []string
	err := s.scan(prefix, func(key []byte) bool {
		out = append(out, string(key[len(prefix):]))
		return true
	})
	if err != nil {
		return nil, txterrors.Transient("index dependents", err)
	}
	return out, nil
}

// Close closes the database when the store opened it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func (s *Store) recordTokens(definition, recordID string) (token.Set, error) {
	var out token.Set
	err := s.scan(index.RecordPrefix(definition, recordID), func(key []byte) bool {
		if _, tok, ok := index.SplitRecordKey(definition, key); ok {
			out = append(out, tok)
		}
		return true
	})
	return out, err
}

// scan visits keys in [prefix, upper bound) in order until fn returns false.
func (s *Store) scan(prefix []byte, fn func(key []byte) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: index.PrefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	for valid := iter.First(); valid; valid = iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		if !fn(key) {
			break
		}
	}
	return iter.Close()
}

func deleteTokens(batch *pebble.Batch, definition, recordID string, tokens []string) error {
	for _, tok := range tokens {
		if err := batch.Delete(index.RowKey(definition, tok, recordID), nil); err != nil {
			return err
		}
		if err := batch.Delete(index.RecordKey(definition, recordID, tok), nil); err != nil {
			return err
		}
	}
	return nil
}

var _ index.Store = (*Store)(nil)

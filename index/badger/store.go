// Package badger implements index.Store on a Badger key-value database.
package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/viant/sqlite-txt/index"
	"github.com/viant/sqlite-txt/token"
	"github.com/viant/sqlite-txt/txterrors"
)

// Store keeps rows as empty-valued keys; see index.RowKey for the layout.
type Store struct {
	db    *badger.DB
	owned bool
	locks *index.KeyLocker
}

// New wraps an open database. The caller keeps ownership of db.
func New(db *badger.DB) *Store {
	return &Store{db: db, locks: index.NewKeyLocker()}
}

// Open opens a database with opts; Close closes it.
func Open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	s := New(db)
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

	var delta index.Delta
	err := s.db.Update(func(txn *badger.Txn) error {
		stored, err := recordTokens(txn, definition, recordID)
		if err != nil {
			return err
		}
		delta.Added, delta.Removed = token.NewSet(tokens...).Diff(stored)
		for _, tok := range delta.Added {
			if err := txn.Set(index.RowKey(definition, tok, recordID), nil); err != nil {
				return err
			}
			if err := txn.Set(index.RecordKey(definition, recordID, tok), nil); err != nil {
				return err
			}
		}
		return deleteTokens(txn, definition, recordID, delta.Removed)
	})
	if err != nil {
		return index.Delta{}, txterrors.Transient("index put", err)
	}
	return delta, nil
}

// RemoveAll implements index.Store.
func (s *Store) RemoveAll(ctx context.Context, definition, recordID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(index.Key(definition, recordID))
	defer unlock()

	var removed token.Set
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		if removed, err = recordTokens(txn, definition, recordID); err != nil {
			return err
		}
		return deleteTokens(txn, definition, recordID, removed)
	})
	if err != nil {
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
	var matches []index.Match
	err := s.db.View(func(txn *badger.Txn) error {
		matches = index.Collect(func(yield func(string, bool) bool) {
			scanKeys(txn, index.RowTokenPrefix(definition, tok, !prefix), func(key []byte) bool {
				stored, recordID, ok := index.SplitRowKey(definition, key)
				if !ok {
					return true
				}
				return yield(recordID, stored == tok)
			})
		})
		return nil
	})
	if err != nil {
		return nil, txterrors.Transient("index lookup", err)
	}
	return matches, nil
}

// Tokens implements index.Store.
func (s *Store) Tokens(ctx context.Context, definition, recordID string) ([]string, error) {
	var out token.Set
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		out, err = recordTokens(txn, definition, recordID)
		return err
	})
	if err != nil {
		return nil, txterrors.Transient("index tokens", err)
	}
	return out, nil
}

// Records implements index.Store.
func (s *Store) Records(ctx context.Context, definition string) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		scanKeys(txn, index.RecordPrefix(definition, ""), func(key []byte) bool {
			recordID, _, ok := index.SplitRecordKey(definition, key)
			if ok && (len(out) == 0 || out[len(out)-1] != recordID) {
				out = append(out, recordID)
			}
			return true
		})
		return nil
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

	err := s.db.Update(func(txn *badger.Txn) error {
		key := index.DependencyKey(definition, recordID)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			previous, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(previous) == relatedID {
				return nil
			}
			if err := txn.Delete(index.DependentKey(definition, string(previous), recordID)); err != nil {
				return err
			}
		}
		if relatedID == "" {
			return txn.Delete(key)
		}
		if err := txn.Set(key, []byte(relatedID)); err != nil {
			return err
		}
		return txn.Set(index.DependentKey(definition, relatedID, recordID), nil)
	})
	return txterrors.Transient("index dependency", err)
}

// Dependents implements index.Store.
func (s *Store) Dependents(ctx context.Context, definition, relatedID string) ([]string, error) {
	prefix := index.DependentPrefix(definition, relatedID)
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		scanKeys(txn, prefix, func(key []byte) bool {
			out = append(out, string(key[len(prefix):]))
			return true
		})
		return nil
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

func recordTokens(txn *badger.Txn, definition, recordID string) (token.Set, error) {
	var out token.Set
	scanKeys(txn, index.RecordPrefix(definition, recordID), func(key []byte) bool {
		if _, tok, ok := index.SplitRecordKey(definition, key); ok {
			out = append(out, tok)
		}
		return true
	})
	return out, nil
}

func deleteTokens(txn *badger.Txn, definition, recordID string, tokens []string) error {
	for _, tok := range tokens {
		if err := txn.Delete(index.RowKey(definition, tok, recordID)); err != nil {
			return err
		}
		if err := txn.Delete(index.RecordKey(definition, recordID, tok)); err != nil {
			return err
		}
	}
	return nil
}

// scanKeys visits keys starting with prefix in order until fn returns false.
func scanKeys(txn *badger.Txn, prefix []byte, fn func(key []byte) bool) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		if !fn(it.Item().KeyCopy(nil)) {
			return
		}
	}
}

var _ index.Store = (*Store)(nil)

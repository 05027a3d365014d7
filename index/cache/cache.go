// Package cache memoizes index lookups in front of another index.Store.
package cache

import (
	"context"
	"slices"
	"sync"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/viant/sqlite-txt/index"
)

// DefaultSize is the number of lookups kept when no size is configured.
const DefaultSize = 4096

var (
	lookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txt",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Index lookups by cache outcome.",
	}, []string{"result"})
	invalidationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "txt",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Cached lookups dropped because their rows changed.",
	})
)

// Collectors returns the package metrics for registration by the host.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{lookupsTotal, invalidationsTotal}
}

type lookupKey struct {
	definition string
	token      string
	prefix     bool
}

// Store wraps an index.Store. Every Put and RemoveAll drops the cached
// lookups its delta can affect: the exact lookup of each changed token and
// the prefix lookup of each of its prefixes.
type Store struct {
	index.Store
	size    int
	mu      sync.Mutex
	entries *lru.Cache[lookupKey, []index.Match]
	gens    map[string]uint64
}

// Option configures a Store.
type Option func(*Store)

// WithSize sets the LRU capacity.
func WithSize(size int) Option {
	return func(s *Store) {
		if size > 0 {
			s.size = size
		}
	}
}

// New wraps inner.
func New(inner index.Store, opts ...Option) (*Store, error) {
	s := &Store{Store: inner, size: DefaultSize, gens: map[string]uint64{}}
	for _, opt := range opts {
		opt(s)
	}
	entries, err := lru.New[lookupKey, []index.Match](s.size)
	if err != nil {
		return nil, err
	}
	s.entries = entries
	return s, nil
}

// Lookup serves from the cache, filling it on a miss unless the definition
// changed while the inner lookup ran.
func (s *Store) Lookup(ctx context.Context, definition, tok string, prefix bool) ([]index.Match, error) {
	key := lookupKey{definition: definition, token: tok, prefix: prefix}
	s.mu.Lock()
	if cached, ok := s.entries.Get(key); ok {
		s.mu.Unlock()
		lookupsTotal.WithLabelValues("hit").Inc()
		return slices.Clone(cached), nil
	}
	gen := s.gens[definition]
	s.mu.Unlock()

	lookupsTotal.WithLabelValues("miss").Inc()
	matches, err := s.Store.Lookup(ctx, definition, tok, prefix)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.gens[definition] == gen {
		s.entries.Add(key, slices.Clone(matches))
	}
	s.mu.Unlock()
	return matches, nil
}

// Put implements index.Store.
func (s *Store) Put(ctx context.Context, definition, recordID string, tokens []string) (index.Delta, error) {
	delta, err := s.Store.Put(ctx, definition, recordID, tokens)
	if err != nil {
		s.purge(definition)
		return delta, err
	}
	if !delta.Empty() {
		s.invalidate(definition, append(slices.Clone(delta.Added), delta.Removed...))
	}
	return delta, nil
}

// RemoveAll implements index.Store.
func (s *Store) RemoveAll(ctx context.Context, definition, recordID string) ([]string, error) {
	removed, err := s.Store.RemoveAll(ctx, definition, recordID)
	if err != nil {
		s.purge(definition)
		return nil, err
	}
	if len(removed) > 0 {
		s.invalidate(definition, removed)
	}
	return removed, nil
}

// Len returns the number of cached lookups.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

func (s *Store) invalidate(definition string, tokens []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[definition]++
	for _, tok := range tokens {
		if s.entries.Remove(lookupKey{definition: definition, token: tok}) {
			invalidationsTotal.Inc()
		}
		for i := len(tok); i > 0; {
			if s.entries.Remove(lookupKey{definition: definition, token: tok[:i], prefix: true}) {
				invalidationsTotal.Inc()
			}
			_, size := utf8.DecodeLastRuneInString(tok[:i])
			i -= size
		}
	}
}

// purge drops every cached lookup of definition; used when a failed write
// leaves the changed tokens unknown.
func (s *Store) purge(definition string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gens[definition]++
	for _, key := range s.entries.Keys() {
		if key.definition == definition {
			s.entries.Remove(key)
			invalidationsTotal.Inc()
		}
	}
}

var _ index.Store = (*Store)(nil)

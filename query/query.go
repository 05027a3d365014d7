// Package query answers text searches against an index definition.
package query

import (
	"context"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/viant/sqlite-txt/index"
	"github.com/viant/sqlite-txt/record"
	"github.com/viant/sqlite-txt/schema"
	"github.com/viant/sqlite-txt/token"
	"github.com/viant/sqlite-txt/txterrors"
)

var (
	searchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txt",
		Subsystem: "query",
		Name:      "searches_total",
		Help:      "Searches by definition and result.",
	}, []string{"definition", "result"})

	searchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "txt",
		Subsystem: "query",
		Name:      "search_duration_seconds",
		Help:      "Search latency by definition.",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
	}, []string{"definition"})
)

// Collectors returns the package metrics for registration by the host.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{searchesTotal, searchDuration}
}

// Result is one matching record. Exact is set when some query token equals
// an indexed token of the record rather than only prefixing one.
type Result struct {
	ID    string
	Exact bool
}

// Engine runs searches.
type Engine struct {
	registry *schema.Registry
	store    index.Store
	source   record.Source
	logger   zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger; the default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an Engine. source is only read when a filter applies.
func New(registry *schema.Registry, store index.Store, source record.Source, opts ...Option) *Engine {
	e := &Engine{registry: registry, store: store, source: source, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search returns records matching any token of q, exact matches first, then
// by id. A query without tokens matches nothing.
func (e *Engine) Search(ctx context.Context, definition, q string) ([]Result, error) {
	return e.SearchFilter(ctx, definition, q, nil)
}

// SearchIDs is Search returning ids only.
func (e *Engine) SearchIDs(ctx context.Context, definition, q string) ([]string, error) {
	results, err := e.Search(ctx, definition, q)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids, nil
}

// SearchFilter is Search additionally narrowed by filter, evaluated against
// the current records together with the definition's own filters. Records
// missing from the source never pass a filter.
func (e *Engine) SearchFilter(ctx context.Context, definition, q string, filter record.Filter) (results []Result, err error) {
	def, err := e.registry.Lookup(definition)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	defer func() {
		searchDuration.WithLabelValues(def.Name).Observe(time.Since(started).Seconds())
		label := "ok"
		switch {
		case err != nil:
			label = "error"
		case len(results) == 0:
			label = "empty"
		}
		searchesTotal.WithLabelValues(def.Name, label).Inc()
	}()

	tokens := token.Tokenize(q)
	if len(tokens) == 0 {
		return nil, nil
	}
	exact := map[string]bool{}
	for _, tok := range tokens {
		matches, err := e.store.Lookup(ctx, def.Name, tok, def.Prefix())
		if err != nil {
			e.logger.Error().Err(err).Str("definition", def.Name).Str("token", tok).Msg("lookup failed")
			return nil, txterrors.Transient("query lookup", err)
		}
		for _, m := range matches {
			exact[m.RecordID] = exact[m.RecordID] || m.Exact
		}
	}
	ids := make([]string, 0, len(exact))
	for id := range exact {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, f := range []record.Filter{def.Filters, filter} {
		if len(f) == 0 || len(ids) == 0 {
			continue
		}
		if ids, err = e.source.Filter(ctx, def.Type, ids, f); err != nil {
			return nil, txterrors.Transient("query filter", err)
		}
	}

	results = make([]Result, 0, len(ids))
	for _, id := range ids {
		results = append(results, Result{ID: id, Exact: exact[id]})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Exact != results[j].Exact {
			return results[i].Exact
		}
		return results[i].ID < results[j].ID
	})
	e.logger.Debug().Str("definition", def.Name).Int("tokens", len(tokens)).Int("results", len(results)).Msg("search")
	return results, nil
}

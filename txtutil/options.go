package txtutil

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/viant/sqlite-txt/coordinator"
	"github.com/viant/sqlite-txt/delivery"
	"github.com/viant/sqlite-txt/index"
	"github.com/viant/sqlite-txt/index/cache"
	"github.com/viant/sqlite-txt/query"
	"github.com/viant/sqlite-txt/txtsync"
)

type options struct {
	store      index.Store
	ownStore   bool
	cacheSize  int
	queued     bool
	queueOpts  []delivery.Option
	coordOpts  []coordinator.Option
	logger     zerolog.Logger
	sqlModules bool
}

// Option configures an Index.
type Option func(*options)

// WithStore indexes into store instead of the SQLite tables of the records
// database. The Index does not close a store it was handed.
func WithStore(store index.Store) Option {
	return func(o *options) { o.store = store }
}

// WithOwnedStore is WithStore for a store that Close should close.
func WithOwnedStore(store index.Store) Option {
	return func(o *options) { o.store, o.ownStore = store, true }
}

// WithCache puts an LRU lookup cache of size entries in front of the store.
func WithCache(size int) Option {
	return func(o *options) { o.cacheSize = size }
}

// WithQueue applies lifecycle events on a sharded background queue instead
// of the caller's goroutine. Call Flush to wait for pending events.
func WithQueue(opts ...delivery.Option) Option {
	return func(o *options) {
		o.queued = true
		o.queueOpts = append(o.queueOpts, opts...)
	}
}

// WithRetry overrides the coordinator retry policy.
func WithRetry(attempts int, initial, max time.Duration) Option {
	return func(o *options) {
		o.coordOpts = append(o.coordOpts, coordinator.WithRetry(attempts, initial, max))
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSQL registers the txt and txt_admin virtual table modules and binds
// them to this Index. Modules only reach connections opened after
// registration, so New should see db before anything else uses it.
func WithSQL() Option {
	return func(o *options) { o.sqlModules = true }
}

// Collectors returns the metrics of every package the Index wires together.
func Collectors() []prometheus.Collector {
	var out []prometheus.Collector
	for _, group := range [][]prometheus.Collector{
		coordinator.Collectors(),
		query.Collectors(),
		delivery.Collectors(),
		cache.Collectors(),
		txtsync.Collectors(),
	} {
		out = append(out, group...)
	}
	return out
}

// Package txtutil wires records, the text index and its maintenance into one
// object: records are written to SQLite, every write is handed to the
// coordinator as a lifecycle event and searches return materialized records.
package txtutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/viant/sqlite-txt/coordinator"
	"github.com/viant/sqlite-txt/delivery"
	"github.com/viant/sqlite-txt/index"
	"github.com/viant/sqlite-txt/index/cache"
	sqliteindex "github.com/viant/sqlite-txt/index/sqlite"
	"github.com/viant/sqlite-txt/query"
	"github.com/viant/sqlite-txt/record"
	"github.com/viant/sqlite-txt/schema"
	"github.com/viant/sqlite-txt/txt"
	"github.com/viant/sqlite-txt/txtadmin"
	"github.com/viant/sqlite-txt/txterrors"
)

// Index is the entry point for applications that keep their records in
// SQLite and search them by text.
type Index struct {
	DB          *sql.DB
	Registry    *schema.Registry
	Records     *record.SQLiteStore
	Store       index.Store
	Coordinator *coordinator.Coordinator
	Engine      *query.Engine

	deliverer delivery.Deliverer
	ownStore  bool
	logger    zerolog.Logger
}

// Match is a search hit with its current record.
type Match struct {
	Record *record.Record
	Exact  bool
}

// New creates the records and index schema in db as needed and wires the
// components described by opts.
func New(db *sql.DB, registry *schema.Registry, opts ...Option) (*Index, error) {
	if db == nil {
		return nil, fmt.Errorf("txtutil: db is nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("txtutil: registry is nil")
	}
	o := &options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.sqlModules {
		if err := txt.RegisterModule(db); err != nil {
			return nil, fmt.Errorf("txtutil: register txt: %w", err)
		}
		if err := txtadmin.RegisterModule(db); err != nil {
			return nil, fmt.Errorf("txtutil: register txt_admin: %w", err)
		}
	}
	records, err := record.NewSQLiteStore(db)
	if err != nil {
		return nil, fmt.Errorf("txtutil: records: %w", err)
	}
	store := o.store
	if store == nil {
		if store, err = sqliteindex.New(db); err != nil {
			return nil, fmt.Errorf("txtutil: index store: %w", err)
		}
		o.ownStore = true
	}
	if o.cacheSize > 0 {
		if store, err = cache.New(store, cache.WithSize(o.cacheSize)); err != nil {
			return nil, fmt.Errorf("txtutil: cache: %w", err)
		}
	}
	coord := coordinator.New(registry, store, records, append(o.coordOpts, coordinator.WithLogger(o.logger))...)
	engine := query.New(registry, store, records, query.WithLogger(o.logger))

	var deliverer delivery.Deliverer = delivery.NewInline(coord)
	if o.queued {
		deliverer = delivery.NewQueue(coord, append([]delivery.Option{delivery.WithLogger(o.logger)}, o.queueOpts...)...)
	}
	idx := &Index{
		DB:          db,
		Registry:    registry,
		Records:     records,
		Store:       store,
		Coordinator: coord,
		Engine:      engine,
		deliverer:   deliverer,
		ownStore:    o.ownStore,
		logger:      o.logger,
	}
	if o.sqlModules {
		txt.Bind(engine)
		if err := txtadmin.Bind(db, coord); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("txtutil: %w", err)
		}
	}
	return idx, nil
}

// Save writes rec, assigning an id when it has none, and indexes it. When
// the write succeeds but indexing fails, rec stays saved and the returned
// error wraps txterrors.ErrIndexing.
func (i *Index) Save(ctx context.Context, rec *record.Record) error {
	before, existed, err := i.Records.Save(ctx, rec)
	if err != nil {
		return err
	}
	ev := coordinator.Event{Kind: coordinator.Created, Type: rec.Type, ID: rec.ID, After: rec.Fields}
	if existed {
		ev.Kind, ev.Before = coordinator.Updated, before
	}
	return i.deliver(ctx, ev)
}

// Delete removes a record and its index rows. Deleting a missing record is a
// no-op.
func (i *Index) Delete(ctx context.Context, recordType, id string) error {
	before, existed, err := i.Records.Delete(ctx, recordType, id)
	if err != nil || !existed {
		return err
	}
	return i.deliver(ctx, coordinator.Event{Kind: coordinator.Deleted, Type: recordType, ID: id, Before: before})
}

func (i *Index) deliver(ctx context.Context, ev coordinator.Event) error {
	if err := i.deliverer.Deliver(ctx, ev); err != nil {
		i.logger.Error().Err(err).Str("record_type", ev.Type).Str("record_id", ev.ID).Msg("indexing failed")
		return fmt.Errorf("txtutil: %s/%s: %w: %w", ev.Type, ev.ID, txterrors.ErrIndexing, err)
	}
	return nil
}

// Search returns the records matching q under definition that also pass
// filter, exact matches first. Records deleted since they were indexed are
// left out.
func (i *Index) Search(ctx context.Context, definition, q string, filter record.Filter) ([]Match, error) {
	def, err := i.Registry.Lookup(definition)
	if err != nil {
		return nil, err
	}
	results, err := i.Engine.SearchFilter(ctx, definition, q, filter)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(results))
	for _, r := range results {
		rec, err := i.Records.Get(ctx, def.Type, r.ID)
		if errors.Is(err, txterrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, Match{Record: rec, Exact: r.Exact})
	}
	return out, nil
}

// SearchIDs is Search returning ids only, without reading the records.
func (i *Index) SearchIDs(ctx context.Context, definition, q string, filter record.Filter) ([]string, error) {
	results, err := i.Engine.SearchFilter(ctx, definition, q, filter)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(results))
	for n, r := range results {
		ids[n] = r.ID
	}
	return ids, nil
}

// Reindex rebuilds definition from the records table.
func (i *Index) Reindex(ctx context.Context, definition string) (int, error) {
	return i.Coordinator.Reindex(ctx, definition)
}

// Flush waits until every accepted write has been indexed. Queued writes
// whose indexing failed since the last Flush are reported wrapping
// txterrors.ErrIndexing; their records stay saved.
func (i *Index) Flush(ctx context.Context) error {
	err := i.deliverer.Flush(ctx)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("txtutil: flush: %w: %w", txterrors.ErrIndexing, err)
}

// Close drains pending events and closes an owned index store. The records
// database stays open.
func (i *Index) Close() error {
	err := i.deliverer.Close()
	if i.ownStore {
		err = errors.Join(err, i.Store.Close())
	}
	return err
}

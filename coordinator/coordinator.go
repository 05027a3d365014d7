// Package coordinator keeps index rows in step with record lifecycle events.
//
// Every event is applied by re-reading the current state of the affected
// records, so redelivered or reordered events for different records converge
// to the same rows. A (definition, record) pair is reconciled under its own
// lock from the read through the write.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/viant/sqlite-txt/derive"
	"github.com/viant/sqlite-txt/index"
	"github.com/viant/sqlite-txt/record"
	"github.com/viant/sqlite-txt/schema"
	"github.com/viant/sqlite-txt/txterrors"
)

// Kind names a record lifecycle transition.
type Kind int

const (
	Created Kind = iota + 1
	Updated
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps created/updated/deleted (or insert/update/delete) to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "created", "insert", "INSERT":
		return Created, nil
	case "updated", "update", "UPDATE":
		return Updated, nil
	case "deleted", "delete", "DELETE":
		return Deleted, nil
	}
	return 0, fmt.Errorf("coordinator: unknown event kind %q", s)
}

// Event reports a change to one record. Before and After are optional field
// snapshots; when both are present they let unaffected definitions be skipped.
type Event struct {
	Kind   Kind
	Type   string
	ID     string
	Before map[string]any
	After  map[string]any
}

// Coordinator applies events to an index.Store.
type Coordinator struct {
	registry *schema.Registry
	store    index.Store
	source   record.Source
	locks    *index.KeyLocker
	policy   RetryPolicy
	logger   zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetry sets the retry policy: at most attempts executions per event,
// sleeping initial between the first two and doubling up to max.
func WithRetry(attempts int, initial, max time.Duration) Option {
	return func(c *Coordinator) {
		c.policy = RetryPolicy{Attempts: attempts, Initial: initial, Max: max}.normalize()
	}
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// New creates a Coordinator.
func New(registry *schema.Registry, store index.Store, source record.Source, opts ...Option) *Coordinator {
	c := &Coordinator{
		registry: registry,
		store:    store,
		source:   source,
		locks:    index.NewKeyLocker(),
		policy:   DefaultRetryPolicy(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle applies ev, retrying the whole event on failure.
func (c *Coordinator) Handle(ctx context.Context, ev Event) error {
	if ev.Type == "" || ev.ID == "" {
		return fmt.Errorf("coordinator: event needs a record type and id")
	}
	if ev.Kind < Created || ev.Kind > Deleted {
		return fmt.Errorf("coordinator: %s/%s: unsupported %v", ev.Type, ev.ID, ev.Kind)
	}
	logger := c.logger.With().Str("record_type", ev.Type).Str("record_id", ev.ID).Stringer("kind", ev.Kind).Logger()
	return c.retry(ctx, logger, ev.Kind.String(), func(ctx context.Context) error {
		return c.apply(ctx, ev)
	})
}

// Reconcile rebuilds the rows of one record under the named definition.
func (c *Coordinator) Reconcile(ctx context.Context, definition, recordID string) error {
	def, err := c.registry.Lookup(definition)
	if err != nil {
		return err
	}
	logger := c.logger.With().Str("definition", definition).Str("record_id", recordID).Logger()
	return c.retry(ctx, logger, "reconcile", func(ctx context.Context) error {
		return c.reconcile(ctx, def, recordID)
	})
}

// Reindex rebuilds every record of the definition's type and drops rows of
// records the source no longer has. It returns the number of records
// reconciled.
func (c *Coordinator) Reindex(ctx context.Context, definition string) (int, error) {
	def, err := c.registry.Lookup(definition)
	if err != nil {
		return 0, err
	}
	logger := c.logger.With().Str("definition", definition).Logger()
	var ids []string
	err = c.retry(ctx, logger, "scan", func(ctx context.Context) error {
		var err error
		ids, err = c.source.Scan(ctx, def.Type)
		return err
	})
	if err != nil {
		return 0, err
	}
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
		if err := c.Reconcile(ctx, definition, id); err != nil {
			return 0, err
		}
	}
	var indexed []string
	err = c.retry(ctx, logger, "scan", func(ctx context.Context) error {
		var err error
		indexed, err = c.store.Records(ctx, def.Name)
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, id := range indexed {
		if live[id] {
			continue
		}
		err := c.retry(ctx, logger, "remove", func(ctx context.Context) error {
			return c.remove(ctx, def, id)
		})
		if err != nil {
			return 0, err
		}
	}
	logger.Info().Int("records", len(ids)).Msg("reindexed")
	return len(ids), nil
}

func (c *Coordinator) apply(ctx context.Context, ev Event) error {
	snapshots := ev.Before != nil && ev.After != nil
	for _, def := range c.registry.ForType(ev.Type) {
		var err error
		switch {
		case ev.Kind == Deleted:
			err = c.remove(ctx, def, ev.ID)
		case ev.Kind == Updated && snapshots && !derive.Affected(def, ev.Before, ev.After):
			continue
		default:
			err = c.reconcile(ctx, def, ev.ID)
		}
		if err != nil {
			return err
		}
	}
	for _, def := range c.registry.Integrating(ev.Type) {
		if ev.Kind == Updated && snapshots && !derive.IntegratedChanged(def, ev.Before, ev.After) {
			continue
		}
		dependents, err := c.store.Dependents(ctx, def.Name, ev.ID)
		if err != nil {
			return err
		}
		for _, id := range dependents {
			if err := c.reconcile(ctx, def, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcile reads the record, derives its entries and writes them, holding
// the pair's lock throughout.
func (c *Coordinator) reconcile(ctx context.Context, def *schema.Definition, recordID string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := c.locks.Lock(index.Key(def.Name, recordID))
	defer unlock()
	started := time.Now()
	defer func() {
		reconcileDuration.WithLabelValues(def.Name).Observe(time.Since(started).Seconds())
		reconcileTotal.WithLabelValues(def.Name, result(err)).Inc()
	}()

	rec, err := c.source.Get(ctx, def.Type, recordID)
	if errors.Is(err, txterrors.ErrNotFound) {
		return c.removeLocked(ctx, def, recordID)
	}
	if err != nil {
		return err
	}
	// Set before the related record is read, so a concurrent change to it
	// finds this record among its dependents. Replaces any old reference.
	if def.Integrate != nil {
		if err := c.store.SetDependency(ctx, def.Name, recordID, derive.RelatedID(def, rec)); err != nil {
			return err
		}
	}
	res, err := derive.Entry(ctx, def, rec, c.source)
	if err != nil {
		return err
	}
	delta, err := c.store.Put(ctx, def.Name, recordID, res.Tokens)
	if err != nil {
		return err
	}
	c.count(def.Name, len(delta.Added), len(delta.Removed))
	c.logger.Debug().
		Str("definition", def.Name).
		Str("record_id", recordID).
		Int("tokens_added", len(delta.Added)).
		Int("tokens_removed", len(delta.Removed)).
		Msg("reconciled")
	return nil
}

func (c *Coordinator) remove(ctx context.Context, def *schema.Definition, recordID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := c.locks.Lock(index.Key(def.Name, recordID))
	defer unlock()
	return c.removeLocked(ctx, def, recordID)
}

func (c *Coordinator) removeLocked(ctx context.Context, def *schema.Definition, recordID string) error {
	removed, err := c.store.RemoveAll(ctx, def.Name, recordID)
	if err != nil {
		return err
	}
	if def.Integrate != nil {
		if err := c.store.SetDependency(ctx, def.Name, recordID, ""); err != nil {
			return err
		}
	}
	c.count(def.Name, 0, len(removed))
	c.logger.Debug().
		Str("definition", def.Name).
		Str("record_id", recordID).
		Int("tokens_removed", len(removed)).
		Msg("removed")
	return nil
}

func (c *Coordinator) count(definition string, added, removed int) {
	if added > 0 {
		rowsChangedTotal.WithLabelValues(definition, "add").Add(float64(added))
	}
	if removed > 0 {
		rowsChangedTotal.WithLabelValues(definition, "remove").Add(float64(removed))
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

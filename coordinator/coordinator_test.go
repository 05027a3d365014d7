package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/sqlite-txt/index"
	badgerstore "github.com/viant/sqlite-txt/index/badger"
	"github.com/viant/sqlite-txt/record"
	"github.com/viant/sqlite-txt/schema"
	"github.com/viant/sqlite-txt/txterrors"
)

func newRegistry() *schema.Registry {
	return schema.NewRegistry(
		schema.RecordType{Name: "Indexed", Fields: []string{"one", "two", "value", "check", "extra_data"}},
		schema.RecordType{Name: "ExtraData", Fields: []string{"name", "description"}},
	).MustRegister(
		schema.Definition{Name: "one_index", Type: "Indexed", Fields: []string{"one"}, Mode: schema.Prefix},
		schema.Definition{Name: "one_two_index", Type: "Indexed", Fields: []string{"one", "two"}},
		schema.Definition{Name: "value_index", Type: "Indexed", Fields: []string{"value"},
			Integrate: &schema.Integration{Reference: "extra_data", Type: "ExtraData", Fields: []string{"name", "description"}}},
	)
}

func newStore(t *testing.T) index.Store {
	store, err := badgerstore.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type fixture struct {
	source *record.Memory
	store  index.Store
	coord  *Coordinator
}

func newFixture(t *testing.T, store index.Store, opts ...Option) *fixture {
	if store == nil {
		store = newStore(t)
	}
	source := record.NewMemory()
	return &fixture{source: source, store: store, coord: New(newRegistry(), store, source, opts...)}
}

func (f *fixture) save(t *testing.T, recordType, id string, fields map[string]any) {
	before, existed := f.source.Put(record.Record{Type: recordType, ID: id, Fields: fields})
	kind := Created
	if existed {
		kind = Updated
	}
	require.NoError(t, f.coord.Handle(context.Background(), Event{Kind: kind, Type: recordType, ID: id, Before: before, After: fields}))
}

func (f *fixture) delete(t *testing.T, recordType, id string) {
	before, _ := f.source.Delete(recordType, id)
	require.NoError(t, f.coord.Handle(context.Background(), Event{Kind: Deleted, Type: recordType, ID: id, Before: before}))
}

func (f *fixture) tokens(t *testing.T, definition, id string) []string {
	tokens, err := f.store.Tokens(context.Background(), definition, id)
	require.NoError(t, err)
	return tokens
}

func TestHandleLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	f.save(t, "Indexed", "r1", map[string]any{"one": "OneOne1", "two": "two1", "value": "value0 test-word"})
	assert.Equal(t, []string{"oneone1"}, f.tokens(t, "one_index", "r1"))
	assert.Equal(t, []string{"oneone1", "two1"}, f.tokens(t, "one_two_index", "r1"))
	assert.Equal(t, []string{"test", "value0", "word"}, f.tokens(t, "value_index", "r1"))

	f.save(t, "Indexed", "r1", map[string]any{"one": "oneoneone", "two": "two1", "value": "value0 test-word"})
	assert.Equal(t, []string{"oneoneone"}, f.tokens(t, "one_index", "r1"))
	assert.Equal(t, []string{"oneoneone", "two1"}, f.tokens(t, "one_two_index", "r1"))

	f.save(t, "Indexed", "r1", map[string]any{"one": nil, "two": "", "value": "value0 test-word"})
	assert.Empty(t, f.tokens(t, "one_index", "r1"))
	assert.Empty(t, f.tokens(t, "one_two_index", "r1"))

	f.delete(t, "Indexed", "r1")
	for _, def := range []string{"one_index", "one_two_index", "value_index"} {
		assert.Empty(t, f.tokens(t, def, "r1"), def)
	}
}

func TestIntegration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	f.save(t, "Indexed", "r1", map[string]any{"value": "value0", "extra_data": "x1"})
	assert.Equal(t, []string{"value0"}, f.tokens(t, "value_index", "r1"), "dangling reference contributes nothing")
	deps, err := f.store.Dependents(ctx, "value_index", "x1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, deps)

	f.save(t, "ExtraData", "x1", map[string]any{"name": "Shidori", "description": "chidori"})
	assert.Equal(t, []string{"chidori", "shidori", "value0"}, f.tokens(t, "value_index", "r1"))

	f.save(t, "ExtraData", "x1", map[string]any{"name": "Rasengan", "description": "chidori"})
	assert.Equal(t, []string{"chidori", "rasengan", "value0"}, f.tokens(t, "value_index", "r1"))

	f.save(t, "Indexed", "r1", map[string]any{"value": "value0", "extra_data": "x2"})
	assert.Equal(t, []string{"value0"}, f.tokens(t, "value_index", "r1"))
	deps, err = f.store.Dependents(ctx, "value_index", "x1")
	require.NoError(t, err)
	assert.Empty(t, deps)

	f.save(t, "Indexed", "r1", map[string]any{"value": "value0", "extra_data": "x1"})
	f.delete(t, "ExtraData", "x1")
	assert.Equal(t, []string{"value0"}, f.tokens(t, "value_index", "r1"), "dependents lose integrated tokens but stay indexed")
}

// gatedSource holds the first read of one record until release is closed.
type gatedSource struct {
	*record.Memory
	recordType, id string
	once           sync.Once
	reached        chan struct{}
	release        chan struct{}
}

func (g *gatedSource) Get(ctx context.Context, recordType, id string) (*record.Record, error) {
	rec, err := g.Memory.Get(ctx, recordType, id)
	if recordType == g.recordType && id == g.id {
		g.once.Do(func() {
			close(g.reached)
			<-g.release
		})
	}
	return rec, err
}

// dependentsStore signals every Dependents call after it returns.
type dependentsStore struct {
	index.Store
	looked chan struct{}
}

func (d *dependentsStore) Dependents(ctx context.Context, definition, relatedID string) ([]string, error) {
	deps, err := d.Store.Dependents(ctx, definition, relatedID)
	select {
	case d.looked <- struct{}{}:
	default:
	}
	return deps, err
}

func TestIntegrationConcurrentRelatedUpdate(t *testing.T) {
	ctx := context.Background()
	source := &gatedSource{Memory: record.NewMemory(), recordType: "ExtraData", id: "x1",
		reached: make(chan struct{}), release: make(chan struct{})}
	store := &dependentsStore{Store: newStore(t), looked: make(chan struct{}, 1)}
	coord := New(newRegistry(), store, source)

	source.Put(record.Record{Type: "ExtraData", ID: "x1", Fields: map[string]any{"name": "old"}})
	source.Put(record.Record{Type: "Indexed", ID: "r1", Fields: map[string]any{"value": "v", "extra_data": "x1"}})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- coord.Handle(ctx, Event{Kind: Created, Type: "Indexed", ID: "r1"})
	}()
	<-source.reached // r1 holds x1 as "old"

	before, _ := source.Put(record.Record{Type: "ExtraData", ID: "x1", Fields: map[string]any{"name": "new"}})
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- coord.Handle(ctx, Event{Kind: Updated, Type: "ExtraData", ID: "x1", Before: before, After: map[string]any{"name": "new"}})
	}()
	<-store.looked
	close(source.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tokens, err := store.Tokens(ctx, "value_index", "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "v"}, tokens)
}

func TestHandleIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.source.Put(record.Record{Type: "Indexed", ID: "r1", Fields: map[string]any{"one": "alpha beta"}})

	ev := Event{Kind: Created, Type: "Indexed", ID: "r1"}
	require.NoError(t, f.coord.Handle(ctx, ev))
	first := f.tokens(t, "one_two_index", "r1")
	require.NoError(t, f.coord.Handle(ctx, ev))
	assert.Equal(t, first, f.tokens(t, "one_two_index", "r1"))

	// a stale created event for a record gone from the source removes its rows
	f.source.Delete("Indexed", "r1")
	require.NoError(t, f.coord.Handle(ctx, ev))
	assert.Empty(t, f.tokens(t, "one_two_index", "r1"))
}

// countingStore counts writes and fails the first failures of them.
type countingStore struct {
	index.Store
	puts     atomic.Int32
	failures atomic.Int32
	err      error
}

func (c *countingStore) Put(ctx context.Context, definition, recordID string, tokens []string) (index.Delta, error) {
	c.puts.Add(1)
	if c.failures.Load() > 0 {
		c.failures.Add(-1)
		return index.Delta{}, c.err
	}
	return c.Store.Put(ctx, definition, recordID, tokens)
}

func TestUnaffectedUpdateSkipped(t *testing.T) {
	store := &countingStore{Store: newStore(t)}
	f := newFixture(t, store)

	f.save(t, "Indexed", "r1", map[string]any{"one": "a", "two": "b", "value": "c", "check": false})
	assert.EqualValues(t, 3, store.puts.Load())

	f.save(t, "Indexed", "r1", map[string]any{"one": "a", "two": "b", "value": "c", "check": true})
	assert.EqualValues(t, 3, store.puts.Load(), "a filter-only change touches no definition")

	f.save(t, "Indexed", "r1", map[string]any{"one": "a", "two": "z", "value": "c", "check": true})
	assert.EqualValues(t, 4, store.puts.Load(), "only one_two_index reads field two")

	f.save(t, "ExtraData", "x1", map[string]any{"name": "n"})
	f.save(t, "ExtraData", "x1", map[string]any{"name": "n", "unrelated": 1})
	assert.EqualValues(t, 4, store.puts.Load())
}

func TestRetry(t *testing.T) {
	ctx := context.Background()
	transient := txterrors.Transient("index put", errors.New("database is locked"))

	store := &countingStore{Store: newStore(t), err: transient}
	store.failures.Store(2)
	f := newFixture(t, store, WithRetry(5, time.Millisecond, 2*time.Millisecond))
	retries := testutil.ToFloat64(retriesTotal.WithLabelValues(Created.String()))

	f.source.Put(record.Record{Type: "Indexed", ID: "r1", Fields: map[string]any{"one": "alpha"}})
	require.NoError(t, f.coord.Handle(ctx, Event{Kind: Created, Type: "Indexed", ID: "r1"}))
	assert.Equal(t, []string{"alpha"}, f.tokens(t, "one_index", "r1"))
	assert.Equal(t, retries+2, testutil.ToFloat64(retriesTotal.WithLabelValues(Created.String())))

	store.failures.Store(100)
	err := f.coord.Handle(ctx, Event{Kind: Created, Type: "Indexed", ID: "r1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, txterrors.ErrRetriesExhausted)
	assert.True(t, txterrors.IsTransient(err))

	store.failures.Store(0)
	err = f.coord.Reconcile(ctx, "missing_index", "r1")
	assert.ErrorIs(t, err, txterrors.ErrUnknownDefinition)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = f.coord.Handle(cancelled, Event{Kind: Created, Type: "Indexed", ID: "r1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	for id, one := range map[string]string{"r1": "one0", "r2": "one1", "r3": "one2"} {
		f.source.Put(record.Record{Type: "Indexed", ID: id, Fields: map[string]any{"one": one}})
	}
	_, err := f.store.Put(ctx, "one_index", "ghost", []string{"one9"})
	require.NoError(t, err)

	n, err := f.coord.Reindex(ctx, "one_index")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	records, err := f.store.Records(ctx, "one_index")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2", "r3"}, records)

	_, err = f.coord.Reindex(ctx, "nope")
	assert.ErrorIs(t, err, txterrors.ErrUnknownDefinition)
}

func TestHandleRejectsIncompleteEvent(t *testing.T) {
	f := newFixture(t, nil)
	assert.Error(t, f.coord.Handle(context.Background(), Event{Kind: Created, Type: "Indexed"}))
	assert.Error(t, f.coord.Handle(context.Background(), Event{Type: "Indexed", ID: "r1"}))
}

func TestParseKind(t *testing.T) {
	for text, expect := range map[string]Kind{"INSERT": Created, "update": Updated, "deleted": Deleted} {
		kind, err := ParseKind(text)
		require.NoError(t, err)
		assert.Equal(t, expect, kind)
	}
	_, err := ParseKind("upsert")
	assert.Error(t, err)
}

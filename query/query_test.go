package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/sqlite-txt/coordinator"
	badgerstore "github.com/viant/sqlite-txt/index/badger"
	"github.com/viant/sqlite-txt/record"
	"github.com/viant/sqlite-txt/schema"
	"github.com/viant/sqlite-txt/txterrors"
)

func newRegistry() *schema.Registry {
	return schema.NewRegistry(
		schema.RecordType{Name: "Indexed", Fields: []string{"one", "two", "value", "check", "extra_data"}},
		schema.RecordType{Name: "ExtraData", Fields: []string{"name", "description"}},
		schema.RecordType{Name: "FiltersIndexed", Fields: []string{"value", "check"}},
	).MustRegister(
		schema.Definition{Name: "one_index", Type: "Indexed", Fields: []string{"one"}, Mode: schema.Prefix},
		schema.Definition{Name: "one_two_index", Type: "Indexed", Fields: []string{"one", "two"}},
		schema.Definition{Name: "value_index", Type: "Indexed", Fields: []string{"value"},
			Integrate: &schema.Integration{Reference: "extra_data", Type: "ExtraData", Fields: []string{"name", "description"}}},
		schema.Definition{Name: "checked_index", Type: "FiltersIndexed", Fields: []string{"value"}, Filters: record.Filter{"check": true}},
	)
}

type fixture struct {
	source *record.Memory
	coord  *coordinator.Coordinator
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	store, err := badgerstore.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	registry := newRegistry()
	source := record.NewMemory()
	return &fixture{
		source: source,
		coord:  coordinator.New(registry, store, source),
		engine: New(registry, store, source),
	}
}

func (f *fixture) save(t *testing.T, recordType, id string, fields map[string]any) {
	before, existed := f.source.Put(record.Record{Type: recordType, ID: id, Fields: fields})
	kind := coordinator.Created
	if existed {
		kind = coordinator.Updated
	}
	require.NoError(t, f.coord.Handle(context.Background(), coordinator.Event{Kind: kind, Type: recordType, ID: id, Before: before, After: fields}))
}

func (f *fixture) populate(t *testing.T) {
	f.save(t, "ExtraData", "x1", map[string]any{"name": "", "description": ""})
	for i := 0; i < 3; i++ {
		f.save(t, "Indexed", fmt.Sprintf("a%d", i), map[string]any{"extra_data": "x1", "one": fmt.Sprintf("OneOne%d", i)})
	}
	for i := 0; i < 3; i++ {
		f.save(t, "Indexed", fmt.Sprintf("b%d", i), map[string]any{"extra_data": "x1", "one": fmt.Sprintf("one%d", i), "two": fmt.Sprintf("two%d", i)})
	}
	ones := []any{nil, "ÜÄÖ-+!#><|", "blub"}
	for i := 0; i < 3; i++ {
		f.save(t, "Indexed", fmt.Sprintf("c%d", i), map[string]any{"extra_data": "x1", "one": ones[i],
			"check": i%2 == 1, "value": fmt.Sprintf("value%d test-word", i)})
	}
	for i := 0; i < 3; i++ {
		f.save(t, "FiltersIndexed", fmt.Sprintf("f%d", i), map[string]any{"check": i%2 == 1, "value": fmt.Sprintf("value%d test-word", i)})
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.populate(t)

	var testCases = []struct {
		description string
		definition  string
		query       string
		filter      record.Filter
		expect      []string
	}{
		{description: "prefix narrower", definition: "one_index", query: "oneo", expect: []string{"a0", "a1", "a2"}},
		{description: "prefix wider", definition: "one_index", query: "one", expect: []string{"a0", "a1", "a2", "b0", "b1", "b2"}},
		{description: "prefix is case folded", definition: "one_index", query: "oNeone1", expect: []string{"a1"}},
		{description: "combined exact", definition: "one_two_index", query: "one2", expect: []string{"b2"}},
		{description: "exact mode ignores prefixes", definition: "one_two_index", query: "two"},
		{description: "combined second field", definition: "one_two_index", query: "two1", expect: []string{"b1"}},
		{description: "single token", definition: "value_index", query: "word", expect: []string{"c0", "c1", "c2"}},
		{description: "punctuation splits", definition: "value_index", query: "test-word", expect: []string{"c0", "c1", "c2"}},
		{description: "caller filter", definition: "value_index", query: "value0", filter: record.Filter{"check": false}, expect: []string{"c0"}},
		{description: "caller filter unicode", definition: "value_index", query: "value1",
			filter: record.Filter{"check": true, "one": "ÜÄÖ-+!#><|"}, expect: []string{"c1"}},
		{description: "exact suffix", definition: "value_index", query: "value2",
			filter: record.Filter{"check__exact": false, "one": "blub"}, expect: []string{"c2"}},
		{description: "negated filter", definition: "value_index", query: "test", filter: record.Filter{"check__ne": true}, expect: []string{"c0", "c2"}},
		{description: "static filter", definition: "checked_index", query: "test-word", expect: []string{"f1"}},
		{description: "static filter wins over caller", definition: "checked_index", query: "test-word", filter: record.Filter{"check": false}},
		{description: "no match", definition: "value_index", query: "foobar"},
		{description: "empty query", definition: "value_index", query: " -+! "},
		{description: "or across tokens", definition: "value_index", query: "value0 value2", expect: []string{"c0", "c2"}},
	}
	for _, testCase := range testCases {
		results, err := f.engine.SearchFilter(ctx, testCase.definition, testCase.query, testCase.filter)
		require.NoError(t, err, testCase.description)
		var ids []string
		for _, r := range results {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, testCase.expect, ids, testCase.description)
	}
}

func TestSearchOrdering(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.save(t, "Indexed", "b", map[string]any{"one": "oneo"})
	f.save(t, "Indexed", "z", map[string]any{"one": "one"})
	f.save(t, "Indexed", "a", map[string]any{"one": "one"})

	results, err := f.engine.Search(ctx, "one_index", "one")
	require.NoError(t, err)
	assert.Equal(t, []Result{{ID: "a", Exact: true}, {ID: "z", Exact: true}, {ID: "b"}}, results)

	ids, err := f.engine.SearchIDs(ctx, "one_index", "one")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "z", "b"}, ids)
}

func TestChangeSequence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.populate(t)

	ids, err := f.engine.SearchIDs(ctx, "one_index", "oNeone1")
	require.NoError(t, err)
	require.Equal(t, []string{"a1"}, ids)
	f.save(t, "Indexed", "a1", map[string]any{"extra_data": "x1", "one": "oneoneone"})
	ids, err = f.engine.SearchIDs(ctx, "one_index", "oneone1")
	require.NoError(t, err)
	assert.Empty(t, ids)

	f.save(t, "Indexed", "c0", map[string]any{"extra_data": "x1", "check": false, "value": "value1 test-word"})
	f.save(t, "Indexed", "c0", map[string]any{"extra_data": "x1", "check": false, "one": "shidori", "value": "value3 rasengan/shidori"})
	for _, q := range []string{"rasengan", "value3"} {
		ids, err = f.engine.SearchIDs(ctx, "value_index", q)
		require.NoError(t, err)
		assert.Equal(t, []string{"c0"}, ids, q)
	}

	before, _ := f.source.Delete("Indexed", "c0")
	require.NoError(t, f.coord.Handle(ctx, coordinator.Event{Kind: coordinator.Deleted, Type: "Indexed", ID: "c0", Before: before}))
	ids, err = f.engine.SearchIDs(ctx, "value_index", "value3")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSearchUnknownDefinition(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Search(context.Background(), "missing", "one")
	assert.ErrorIs(t, err, txterrors.ErrUnknownDefinition)
}

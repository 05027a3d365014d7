// Package indextest holds the conformance checks every index.Store backend
// must pass.
package indextest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/sqlite-txt/index"
)

// Open returns a fresh, empty store; the suite closes it.
type Open func(t *testing.T) index.Store

// Run executes the conformance suite against stores produced by open.
func Run(t *testing.T, open Open) {
	t.Run("put diff", func(t *testing.T) { testPutDiff(t, open(t)) })
	t.Run("remove all", func(t *testing.T) { testRemoveAll(t, open(t)) })
	t.Run("lookup", func(t *testing.T) { testLookup(t, open(t)) })
	t.Run("definitions isolated", func(t *testing.T) { testIsolation(t, open(t)) })
	t.Run("dependencies", func(t *testing.T) { testDependencies(t, open(t)) })
	t.Run("concurrent keys", func(t *testing.T) { testConcurrent(t, open(t)) })
}

func testPutDiff(t *testing.T, store index.Store) {
	defer store.Close()
	ctx := context.Background()

	delta, err := store.Put(ctx, "def", "r1", []string{"beta", "alpha"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, delta.Added)
	assert.Empty(t, delta.Removed)

	delta, err = store.Put(ctx, "def", "r1", []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.True(t, delta.Empty(), "repeating a put must not change anything")

	delta, err = store.Put(ctx, "def", "r1", []string{"beta", "gamma"})
	require.NoError(t, err)
	assert.Equal(t, []string{"gamma"}, delta.Added)
	assert.Equal(t, []string{"alpha"}, delta.Removed)

	tokens, err := store.Tokens(ctx, "def", "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "gamma"}, tokens)

	delta, err = store.Put(ctx, "def", "r1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"beta", "gamma"}, delta.Removed)
	tokens, err = store.Tokens(ctx, "def", "r1")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func testRemoveAll(t *testing.T, store index.Store) {
	defer store.Close()
	ctx := context.Background()

	_, err := store.Put(ctx, "def", "r1", []string{"one", "two"})
	require.NoError(t, err)
	_, err = store.Put(ctx, "def", "r2", []string{"one"})
	require.NoError(t, err)

	removed, err := store.RemoveAll(ctx, "def", "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, removed)

	removed, err = store.RemoveAll(ctx, "def", "r1")
	require.NoError(t, err)
	assert.Empty(t, removed)

	matches, err := store.Lookup(ctx, "def", "one", false)
	require.NoError(t, err)
	assert.Equal(t, []index.Match{{RecordID: "r2", Exact: true}}, matches)

	records, err := store.Records(ctx, "def")
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, records)
}

func testLookup(t *testing.T, store index.Store) {
	defer store.Close()
	ctx := context.Background()

	rows := map[string][]string{
		"a": {"one"},
		"b": {"oneo", "one"},
		"c": {"oneone0"},
		"d": {"two"},
		"e": {"on"},
	}
	for id, tokens := range rows {
		_, err := store.Put(ctx, "def", id, tokens)
		require.NoError(t, err)
	}

	var testCases = []struct {
		description string
		token       string
		prefix      bool
		expect      []index.Match
	}{
		{description: "exact", token: "one", expect: []index.Match{{RecordID: "a", Exact: true}, {RecordID: "b", Exact: true}}},
		{description: "exact miss", token: "onex"},
		{description: "prefix", token: "one", prefix: true, expect: []index.Match{
			{RecordID: "a", Exact: true}, {RecordID: "b", Exact: true}, {RecordID: "c"}}},
		{description: "prefix narrower", token: "oneo", prefix: true, expect: []index.Match{
			{RecordID: "b", Exact: true}, {RecordID: "c"}}},
		{description: "prefix shorter", token: "o", prefix: true, expect: []index.Match{
			{RecordID: "a"}, {RecordID: "b"}, {RecordID: "c"}, {RecordID: "e"}}},
		{description: "prefix miss", token: "three", prefix: true},
		{description: "empty token", token: "", prefix: true},
	}
	for _, testCase := range testCases {
		actual, err := store.Lookup(ctx, "def", testCase.token, testCase.prefix)
		require.NoError(t, err, testCase.description)
		if len(testCase.expect) == 0 {
			assert.Empty(t, actual, testCase.description)
			continue
		}
		assert.Equal(t, testCase.expect, actual, testCase.description)
	}
}

func testIsolation(t *testing.T, store index.Store) {
	defer store.Close()
	ctx := context.Background()

	_, err := store.Put(ctx, "first", "r1", []string{"shared"})
	require.NoError(t, err)
	_, err = store.Put(ctx, "firstx", "r2", []string{"shared"})
	require.NoError(t, err)

	matches, err := store.Lookup(ctx, "first", "sha", true)
	require.NoError(t, err)
	assert.Equal(t, []index.Match{{RecordID: "r1"}}, matches)

	_, err = store.RemoveAll(ctx, "firstx", "r2")
	require.NoError(t, err)
	tokens, err := store.Tokens(ctx, "first", "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"shared"}, tokens)
}

func testDependencies(t *testing.T, store index.Store) {
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.SetDependency(ctx, "def", "r1", "x1"))
	require.NoError(t, store.SetDependency(ctx, "def", "r2", "x1"))
	require.NoError(t, store.SetDependency(ctx, "other", "r3", "x1"))

	deps, err := store.Dependents(ctx, "def", "x1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, deps)

	require.NoError(t, store.SetDependency(ctx, "def", "r1", "x2"))
	deps, err = store.Dependents(ctx, "def", "x1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r2"}, deps)
	deps, err = store.Dependents(ctx, "def", "x2")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, deps)

	require.NoError(t, store.SetDependency(ctx, "def", "r2", ""))
	require.NoError(t, store.SetDependency(ctx, "def", "r9", ""))
	deps, err = store.Dependents(ctx, "def", "x1")
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func testConcurrent(t *testing.T, store index.Store) {
	defer store.Close()
	ctx := context.Background()

	const records = 8
	var wg sync.WaitGroup
	errs := make(chan error, records*2)
	for i := 0; i < records; i++ {
		id := fmt.Sprintf("r%d", i)
		for _, tokens := range [][]string{{"a", "b"}, {"b", "c"}} {
			wg.Add(1)
			go func(tokens []string) {
				defer wg.Done()
				if _, err := store.Put(ctx, "def", id, tokens); err != nil {
					errs <- err
				}
			}(tokens)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	for i := 0; i < records; i++ {
		tokens, err := store.Tokens(ctx, "def", fmt.Sprintf("r%d", i))
		require.NoError(t, err)
		assert.Contains(t, [][]string{{"a", "b"}, {"b", "c"}}, tokens, "last writer wins as a whole set")
	}
	matches, err := store.Lookup(ctx, "def", "b", false)
	require.NoError(t, err)
	assert.Len(t, matches, records)
}

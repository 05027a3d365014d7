package badger

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"github.com/viant/sqlite-txt/index"
	"github.com/viant/sqlite-txt/index/indextest"
)

func TestStore(t *testing.T) {
	indextest.Run(t, func(t *testing.T) index.Store {
		store, err := Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
		require.NoError(t, err)
		return store
	})
}

func TestStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(badger.DefaultOptions(dir).WithLogger(nil))
	require.NoError(t, err)
	_, err = store.Put(t.Context(), "def", "r1", []string{"kept"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(badger.DefaultOptions(dir).WithLogger(nil))
	require.NoError(t, err)
	defer store.Close()
	tokens, err := store.Tokens(t.Context(), "def", "r1")
	require.NoError(t, err)
	require.Equal(t, []string{"kept"}, tokens)
}

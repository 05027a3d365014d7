package index

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("onf"), PrefixUpperBound([]byte("one")))
	assert.Equal(t, []byte{'a', 0x01}, PrefixUpperBound([]byte{'a', 0x00}))
	assert.Equal(t, []byte{'b'}, PrefixUpperBound([]byte{'a', 0xff}))
	assert.Nil(t, PrefixUpperBound([]byte{0xff, 0xff}))
	assert.Nil(t, PrefixUpperBound(nil))
}

func TestCollect(t *testing.T) {
	hits := []struct {
		id    string
		exact bool
	}{{"b", false}, {"a", false}, {"b", true}, {"a", false}}
	out := Collect(func(yield func(string, bool) bool) {
		for _, h := range hits {
			if !yield(h.id, h.exact) {
				return
			}
		}
	})
	assert.Equal(t, []Match{{RecordID: "a"}, {RecordID: "b", Exact: true}}, out)
}

func TestKeyLocker(t *testing.T) {
	locker := NewKeyLocker()
	counter := map[string]*int{Key("d", "a"): new(int), Key("d", "b"): new(int)}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, key := range []string{Key("d", "a"), Key("d", "b")} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				unlock := locker.Lock(key)
				defer unlock()
				v := *counter[key]
				*counter[key] = v + 1
			}(key)
		}
	}
	wg.Wait()
	assert.Equal(t, 50, *counter[Key("d", "a")])
	assert.Equal(t, 50, *counter[Key("d", "b")])
	assert.Equal(t, 0, locker.Len())
}

func TestKeys(t *testing.T) {
	tok, rec, ok := SplitRowKey("def", RowKey("def", "one", "r1"))
	assert.True(t, ok)
	assert.Equal(t, "one", tok)
	assert.Equal(t, "r1", rec)

	_, _, ok = SplitRowKey("de", RowKey("def", "one", "r1"))
	assert.False(t, ok)

	assert.True(t, bytes.HasPrefix(RowKey("def", "oneo", "r1"), RowTokenPrefix("def", "one", false)))
	assert.False(t, bytes.HasPrefix(RowKey("def", "oneo", "r1"), RowTokenPrefix("def", "one", true)))

	rec, tok, ok = SplitRecordKey("def", RecordKey("def", "r1", "one"))
	assert.True(t, ok)
	assert.Equal(t, "r1", rec)
	assert.Equal(t, "one", tok)
	assert.True(t, bytes.HasPrefix(RecordKey("def", "r1", "one"), RecordPrefix("def", "r1")))
	assert.False(t, bytes.HasPrefix(RecordKey("def", "r10", "one"), RecordPrefix("def", "r1")))
	assert.True(t, bytes.HasPrefix(DependentKey("def", "x1", "r1"), DependentPrefix("def", "x1")))
}

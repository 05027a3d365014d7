package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	var testCases = []struct {
		description string
		text        string
		expect      []string
	}{
		{description: "empty", text: "", expect: nil},
		{description: "punctuation only", text: " -+!#><| ", expect: nil},
		{description: "case folded", text: "OneOne0", expect: []string{"oneone0"}},
		{description: "hyphen splits", text: "value1 test-word", expect: []string{"test", "value1", "word"}},
		{description: "slash splits", text: "value3 rasengan/shidori", expect: []string{"rasengan", "shidori", "value3"}},
		{description: "multi-byte kept whole", text: "\u00dc\u00c4\u00d6-+!#><|", expect: []string{"\u00fc\u00e4\u00f6"}},
		{description: "duplicates collapse", text: "Go go GO", expect: []string{"go"}},
		{description: "decomposed equals composed", text: "\u00dcber U\u0308ber", expect: []string{"\u00fcber"}},
		{description: "non-latin", text: "日本語 テスト", expect: []string{"テスト", "日本語"}},
	}
	for _, testCase := range testCases {
		assert.Equal(t, testCase.expect, Tokenize(testCase.text), testCase.description)
	}
}

func TestSet(t *testing.T) {
	s := NewSet("b", "a", "", "b", "c")
	assert.Equal(t, Set{"a", "b", "c"}, s)
	assert.True(t, s.Contains("b"))
	assert.False(t, s.Contains("d"))
	assert.Equal(t, Set{"a", "b", "c", "d"}, s.Union(NewSet("d", "a")))

	added, removed := NewSet("a", "c", "e").Diff(NewSet("b", "c", "d"))
	assert.Equal(t, []string{"a", "e"}, added)
	assert.Equal(t, []string{"b", "d"}, removed)

	added, removed = s.Diff(s)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestHasPrefix(t *testing.T) {
	assert.True(t, HasPrefix("oneone0", "one"))
	assert.True(t, HasPrefix("oneone0", "oneone0"))
	assert.False(t, HasPrefix("two0", "one"))
	assert.False(t, HasPrefix("one", ""))
}

// Package token splits text into the normalized tokens stored in and looked
// up from a text index.
package token

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Tokenize splits text on every rune that is neither a letter nor a number,
// lower-cases each piece and returns the unique tokens in sorted order.
// Composed and decomposed forms of the same character yield the same token.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	text = norm.NFC.String(text)
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(fields) == 0 {
		return nil
	}
	set := make(Set, 0, len(fields))
	for _, f := range fields {
		if f = strings.ToLower(f); f != "" {
			set = append(set, f)
		}
	}
	return set.normalize()
}

// HasPrefix reports whether tok starts with prefix. An empty prefix matches nothing.
func HasPrefix(tok, prefix string) bool {
	return prefix != "" && strings.HasPrefix(tok, prefix)
}

// Set is a sorted slice of unique tokens.
type Set []string

// NewSet builds a Set from arbitrary tokens, dropping empty ones.
func NewSet(tokens ...string) Set {
	out := make(Set, 0, len(tokens))
	for _, t := range tokens {
		if t != "" {
			out = append(out, t)
		}
	}
	return out.normalize()
}

func (s Set) normalize() Set {
	if len(s) == 0 {
		return nil
	}
	sort.Strings(s)
	out := s[:1]
	for _, t := range s[1:] {
		if t != out[len(out)-1] {
			out = append(out, t)
		}
	}
	return out
}

// Contains reports whether tok is in the set.
func (s Set) Contains(tok string) bool {
	i := sort.SearchStrings(s, tok)
	return i < len(s) && s[i] == tok
}

// Union returns the tokens present in either set.
func (s Set) Union(other Set) Set {
	out := make(Set, 0, len(s)+len(other))
	out = append(out, s...)
	out = append(out, other...)
	return out.normalize()
}

// Diff returns the tokens of s missing from old (added) and the tokens of old
// missing from s (removed). Both sets must be sorted.
func (s Set) Diff(old Set) (added, removed []string) {
	i, j := 0, 0
	for i < len(s) && j < len(old) {
		switch {
		case s[i] == old[j]:
			i++
			j++
		case s[i] < old[j]:
			added = append(added, s[i])
			i++
		default:
			removed = append(removed, old[j])
			j++
		}
	}
	added = append(added, s[i:]...)
	removed = append(removed, old[j:]...)
	return added, removed
}

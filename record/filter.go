package record

import (
	"strings"
)

// Op is a filter comparison.
type Op int

const (
	// OpEQ requires the field to equal the value (nil matches an absent field).
	OpEQ Op = iota
	// OpNE requires the field to differ from the value.
	OpNE
)

const (
	suffixExact = "__exact"
	suffixNE    = "__ne"
)

// Condition is a single parsed filter term.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Filter maps a field name to its required value. A key may carry the
// "__exact" (equality) or "__ne" (inequality) suffix.
type Filter map[string]any

// ParseKey splits a filter key into its field name and comparison.
func ParseKey(key string) (string, Op) {
	switch {
	case strings.HasSuffix(key, suffixExact):
		return strings.TrimSuffix(key, suffixExact), OpEQ
	case strings.HasSuffix(key, suffixNE):
		return strings.TrimSuffix(key, suffixNE), OpNE
	}
	return key, OpEQ
}

// Conditions returns the parsed terms ordered by key.
func (f Filter) Conditions() []Condition {
	if len(f) == 0 {
		return nil
	}
	out := make([]Condition, 0, len(f))
	for _, key := range sortedKeys(f) {
		field, op := ParseKey(key)
		out = append(out, Condition{Field: field, Op: op, Value: f[key]})
	}
	return out
}

// Fields returns the field names referenced by the filter.
func (f Filter) Fields() []string {
	conds := f.Conditions()
	out := make([]string, 0, len(conds))
	for _, c := range conds {
		out = append(out, c.Field)
	}
	return out
}

// Merge returns a filter holding the terms of both; other wins on duplicate keys.
func (f Filter) Merge(other Filter) Filter {
	if len(other) == 0 {
		return f
	}
	if len(f) == 0 {
		return other
	}
	out := make(Filter, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Match evaluates the filter against a field snapshot.
func (f Filter) Match(fields map[string]any) bool {
	for _, c := range f.Conditions() {
		eq := Equal(fields[c.Field], c.Value)
		if (c.Op == OpEQ) != eq {
			return false
		}
	}
	return true
}

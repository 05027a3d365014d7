package record

import (
	"context"
	"sort"
)

// Record is a typed record of primary storage. The index only relies on its
// identity and its named field values.
type Record struct {
	Type   string
	ID     string
	Fields map[string]any
}

// Value returns the named field value, or nil when absent.
func (r *Record) Value(field string) any {
	if r == nil || r.Fields == nil {
		return nil
	}
	return r.Fields[field]
}

// Clone returns a copy whose Fields map can be modified independently.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{Type: r.Type, ID: r.ID, Fields: CloneFields(r.Fields)}
}

// CloneFields shallow-copies a field snapshot.
func CloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Getter reads a record by type and id. Implementations return an error
// wrapping txterrors.ErrNotFound when the record does not exist.
type Getter interface {
	Get(ctx context.Context, recordType, id string) (*Record, error)
}

// Source is the primary storage contract consumed by the index.
type Source interface {
	Getter

	// Filter returns the subset of ids whose current field values satisfy
	// every condition of f. Missing records are excluded.
	Filter(ctx context.Context, recordType string, ids []string, f Filter) ([]string, error)

	// Scan lists the ids of every record of the given type.
	Scan(ctx context.Context, recordType string) ([]string, error)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

package index

import "context"

// Match is one record returned by a token lookup.
type Match struct {
	RecordID string
	// Exact is true when the record holds the query token itself rather than
	// only a longer token starting with it.
	Exact bool
}

// Delta lists the rows changed by a Put.
type Delta struct {
	Added   []string
	Removed []string
}

// Empty reports whether the Put was a no-op.
func (d Delta) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// Store persists index rows. Calls for different (definition, record) keys
// never interfere; calls for the same key are serialized.
type Store interface {
	// Put makes the stored token set of (definition, recordID) equal tokens,
	// inserting only new rows and deleting only removed ones. Calling it again
	// with the same tokens is a no-op.
	Put(ctx context.Context, definition, recordID string, tokens []string) (Delta, error)

	// RemoveAll deletes every row of (definition, recordID) and returns the
	// removed tokens.
	RemoveAll(ctx context.Context, definition, recordID string) ([]string, error)

	// Lookup returns the records holding token (exact) or any token starting
	// with it (prefix), one Match per record, ordered by record id.
	Lookup(ctx context.Context, definition, token string, prefix bool) ([]Match, error)

	// Tokens returns the sorted token set stored for (definition, recordID).
	Tokens(ctx context.Context, definition, recordID string) ([]string, error)

	// Records lists every record holding at least one row under definition.
	Records(ctx context.Context, definition string) ([]string, error)

	// SetDependency records that recordID integrates relatedID under
	// definition; an empty relatedID clears the dependency.
	SetDependency(ctx context.Context, definition, recordID, relatedID string) error

	// Dependents lists the records integrating relatedID under definition.
	Dependents(ctx context.Context, definition, relatedID string) ([]string, error)

	// Close releases the backend.
	Close() error
}

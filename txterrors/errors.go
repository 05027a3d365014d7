// Package txterrors defines the error taxonomy shared by the text index
// packages: sentinel errors for permanent conditions and a TransientError
// wrapper for storage failures that callers may retry.
package txterrors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a record that does not exist in primary storage.
	ErrNotFound = errors.New("txt: record not found")

	// ErrMalformedDefinition rejects an index definition at registration time.
	ErrMalformedDefinition = errors.New("txt: malformed index definition")

	// ErrUnknownDefinition reports a lookup of a definition that was never registered.
	ErrUnknownDefinition = errors.New("txt: unknown index definition")

	// ErrRetriesExhausted wraps the last failure once the retry policy gives up.
	ErrRetriesExhausted = errors.New("txt: retries exhausted")

	// ErrIndexing reports that a primary write succeeded but indexing it did not.
	ErrIndexing = errors.New("txt: indexing failed")
)

// TransientError marks an I/O failure of index or primary storage.
// Reconciliation is idempotent, so the failed step can be re-executed.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("txt: transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError; nil stays nil and an error that is
// already transient is returned unchanged.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransientError
	if errors.As(err, &te) {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

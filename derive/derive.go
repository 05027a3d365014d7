// Package derive computes the token set a record contributes to an index
// definition: the union of its source fields plus, for integrating
// definitions, the fields of the related record it references.
package derive

import (
	"context"
	"errors"

	"github.com/viant/sqlite-txt/record"
	"github.com/viant/sqlite-txt/schema"
	"github.com/viant/sqlite-txt/token"
	"github.com/viant/sqlite-txt/txterrors"
)

// Result is the derived state of one (definition, record) pair.
type Result struct {
	// Tokens is the sorted set of tokens that must be stored.
	Tokens []string
	// RelatedID is the related record referenced by an integrating definition,
	// empty when the definition has no integration or the reference is unset.
	RelatedID string
}

// Entry derives the index entries of rec under def. Static filters are not
// applied. A reference to a missing related record contributes no tokens but
// is still reported in RelatedID, so the dependency stays known. Only storage
// failures while reading the related record are returned.
func Entry(ctx context.Context, def *schema.Definition, rec *record.Record, related record.Getter) (Result, error) {
	var tokens token.Set
	for _, field := range def.Fields {
		tokens = tokens.Union(token.Tokenize(record.Text(rec.Value(field))))
	}
	res := Result{Tokens: tokens}
	integ := def.Integrate
	if integ == nil {
		return res, nil
	}
	res.RelatedID = RelatedID(def, rec)
	if res.RelatedID == "" || related == nil {
		return res, nil
	}
	other, err := related.Get(ctx, integ.Type, res.RelatedID)
	if err != nil {
		if errors.Is(err, txterrors.ErrNotFound) {
			return res, nil
		}
		return res, err
	}
	for _, field := range integ.Fields {
		tokens = tokens.Union(token.Tokenize(record.Text(other.Value(field))))
	}
	res.Tokens = tokens
	return res, nil
}

// RelatedID returns the related record rec references under def, empty when
// def does not integrate or the reference is unset.
func RelatedID(def *schema.Definition, rec *record.Record) string {
	if def.Integrate == nil {
		return ""
	}
	return record.Text(rec.Value(def.Integrate.Reference))
}

// Affected reports whether a change from before to after can alter what rec
// derives under def: a source field or the integration reference changed.
// A missing snapshot is treated as a change.
func Affected(def *schema.Definition, before, after map[string]any) bool {
	if before == nil || after == nil {
		return true
	}
	if changed(def.Fields, before, after) {
		return true
	}
	return def.Integrate != nil && changed([]string{def.Integrate.Reference}, before, after)
}

// IntegratedChanged reports whether a related record change touches any
// field integrated by def. A missing snapshot is treated as a change.
func IntegratedChanged(def *schema.Definition, before, after map[string]any) bool {
	if def.Integrate == nil {
		return false
	}
	if before == nil || after == nil {
		return true
	}
	return changed(def.Integrate.Fields, before, after)
}

func changed(fields []string, before, after map[string]any) bool {
	for _, f := range fields {
		if record.Text(before[f]) != record.Text(after[f]) {
			return true
		}
	}
	return false
}

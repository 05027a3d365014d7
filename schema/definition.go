package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/viant/sqlite-txt/record"
	"github.com/viant/sqlite-txt/txterrors"
)

// Mode selects how query tokens are matched against indexed tokens.
type Mode int

const (
	// Exact matches a query token only against an identical indexed token.
	Exact Mode = iota
	// Prefix matches a query token against every indexed token it starts.
	Prefix
)

func (m Mode) String() string {
	if m == Prefix {
		return "prefix"
	}
	return "exact"
}

// Integration folds tokens of a related record into the owning record's entries.
type Integration struct {
	// Reference names the field of the owning record holding the related record id.
	Reference string
	// Type is the related record type.
	Type string
	// Fields are read off the related record.
	Fields []string
}

// Definition declares what to index and how to match it.
type Definition struct {
	Name      string
	Type      string
	Fields    []string
	Mode      Mode
	Integrate *Integration
	// Filters narrows query results; they never affect what is indexed.
	Filters record.Filter
}

// Prefix reports whether lookups use prefix matching.
func (d *Definition) Prefix() bool { return d.Mode == Prefix }

// ParseDefinition builds a Definition from key=value arguments:
//
//	fields=one,two             source fields (required)
//	mode=prefix|exact          matching mode (default exact)
//	integrate=ref:Type:f1,f2   related record integration
//	filter=check:true          static filter term, repeatable
//
// Unknown keys and blank arguments are ignored.
func ParseDefinition(name, recordType string, args []string) (Definition, error) {
	def := Definition{Name: name, Type: recordType}
	for _, raw := range args {
		a := strings.TrimSpace(raw)
		if a == "" {
			continue
		}
		parts := strings.SplitN(a, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		switch key {
		case "fields", "field":
			def.Fields = append(def.Fields, splitList(val)...)
		case "mode", "indexer":
			switch strings.ToLower(val) {
			case "prefix", "startswith":
				def.Mode = Prefix
			case "exact", "":
				def.Mode = Exact
			default:
				return def, fmt.Errorf("schema: %s: unknown mode %q: %w", name, val, txterrors.ErrMalformedDefinition)
			}
		case "integrate":
			segs := strings.SplitN(val, ":", 3)
			if len(segs) != 3 {
				return def, fmt.Errorf("schema: %s: integrate expects ref:Type:fields, got %q: %w", name, val, txterrors.ErrMalformedDefinition)
			}
			def.Integrate = &Integration{
				Reference: strings.TrimSpace(segs[0]),
				Type:      strings.TrimSpace(segs[1]),
				Fields:    splitList(segs[2]),
			}
		case "filter":
			segs := strings.SplitN(val, ":", 2)
			if len(segs) != 2 {
				return def, fmt.Errorf("schema: %s: filter expects field:value, got %q: %w", name, val, txterrors.ErrMalformedDefinition)
			}
			if def.Filters == nil {
				def.Filters = record.Filter{}
			}
			def.Filters[strings.TrimSpace(segs[0])] = parseScalar(strings.TrimSpace(segs[1]))
		}
	}
	return def, nil
}

func splitList(val string) []string {
	var out []string
	for _, f := range strings.Split(val, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

// parseScalar reads a filter literal: true/false, null, integers, floats,
// otherwise the raw (optionally quoted) string.
func parseScalar(val string) any {
	switch strings.ToLower(val) {
	case "true":
		return true
	case "false":
		return false
	case "null", "none":
		return nil
	}
	if n, err := strconv.ParseInt(val, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(val, 64); err == nil {
		return f
	}
	if unq, err := strconv.Unquote(val); err == nil {
		return unq
	}
	return val
}

package schema

import (
	"fmt"
	"slices"
	"sync"

	"github.com/viant/sqlite-txt/txterrors"
)

// RecordType declares the fields a record type carries, so definitions can be
// validated before any record is processed.
type RecordType struct {
	Name   string
	Fields []string
}

func (t RecordType) has(field string) bool { return slices.Contains(t.Fields, field) }

// Registry maps record types to the index definitions registered against
// them. It is built once at startup; lookups are safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	types       map[string]RecordType
	defs        map[string]*Definition
	byType      map[string][]*Definition
	integrating map[string][]*Definition
}

// NewRegistry creates a registry over the declared record types.
func NewRegistry(types ...RecordType) *Registry {
	r := &Registry{
		types:       make(map[string]RecordType, len(types)),
		defs:        make(map[string]*Definition),
		byType:      make(map[string][]*Definition),
		integrating: make(map[string][]*Definition),
	}
	for _, t := range types {
		r.types[t.Name] = t
	}
	return r
}

// Register validates def and adds it. A definition referring to an unknown
// type or field is rejected with txterrors.ErrMalformedDefinition.
func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.validate(&def); err != nil {
		return err
	}
	d := def
	d.Fields = slices.Clone(def.Fields)
	if def.Integrate != nil {
		integ := *def.Integrate
		integ.Fields = slices.Clone(def.Integrate.Fields)
		d.Integrate = &integ
		r.integrating[integ.Type] = append(r.integrating[integ.Type], &d)
	}
	r.defs[d.Name] = &d
	r.byType[d.Type] = append(r.byType[d.Type], &d)
	return nil
}

// MustRegister is Register that panics; meant for static startup tables.
func (r *Registry) MustRegister(defs ...Definition) *Registry {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) validate(def *Definition) error {
	malformed := func(format string, args ...any) error {
		return fmt.Errorf("schema: %s: %s: %w", def.Name, fmt.Sprintf(format, args...), txterrors.ErrMalformedDefinition)
	}
	if def.Name == "" {
		return malformed("name is required")
	}
	if _, ok := r.defs[def.Name]; ok {
		return malformed("already registered")
	}
	typ, ok := r.types[def.Type]
	if !ok {
		return malformed("unknown record type %q", def.Type)
	}
	if len(def.Fields) == 0 {
		return malformed("at least one source field is required")
	}
	for _, f := range def.Fields {
		if !typ.has(f) {
			return malformed("unknown field %q on %s", f, typ.Name)
		}
	}
	if def.Mode != Exact && def.Mode != Prefix {
		return malformed("unknown mode %d", def.Mode)
	}
	if integ := def.Integrate; integ != nil {
		if !typ.has(integ.Reference) {
			return malformed("unknown reference field %q on %s", integ.Reference, typ.Name)
		}
		related, ok := r.types[integ.Type]
		if !ok {
			return malformed("unknown related type %q", integ.Type)
		}
		if len(integ.Fields) == 0 {
			return malformed("integration needs at least one field")
		}
		for _, f := range integ.Fields {
			if !related.has(f) {
				return malformed("unknown integrated field %q on %s", f, related.Name)
			}
		}
	}
	for _, f := range def.Filters.Fields() {
		if !typ.has(f) {
			return malformed("unknown filter field %q on %s", f, typ.Name)
		}
	}
	return nil
}

// Lookup returns the named definition.
func (r *Registry) Lookup(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("schema: %q: %w", name, txterrors.ErrUnknownDefinition)
	}
	return def, nil
}

// Type returns a declared record type.
func (r *Registry) Type(name string) (RecordType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// ForType returns the definitions indexing records of the given type, in
// registration order.
func (r *Registry) ForType(recordType string) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.byType[recordType])
}

// Integrating returns the definitions that integrate records of the given type.
func (r *Registry) Integrating(recordType string) []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.integrating[recordType])
}

// Definitions returns every registered definition.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, t := range sortedTypeNames(r.byType) {
		out = append(out, r.byType[t]...)
	}
	return out
}

func sortedTypeNames(m map[string][]*Definition) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

package record

import (
	"context"
	"fmt"
	"sync"

	"github.com/viant/sqlite-txt/txterrors"
)

// Memory is a map-backed Source, handy for tests and for embedding the index
// next to data that already lives in memory.
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[string]map[string]any
}

// NewMemory creates an empty Memory source.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]map[string]map[string]any)}
}

// Put stores a copy of rec and returns the previous field snapshot, if any.
func (m *Memory) Put(rec Record) (before map[string]any, existed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.records[rec.Type]
	if byID == nil {
		byID = make(map[string]map[string]any)
		m.records[rec.Type] = byID
	}
	before, existed = byID[rec.ID]
	byID[rec.ID] = CloneFields(rec.Fields)
	return before, existed
}

// Delete removes a record and returns its last field snapshot.
func (m *Memory) Delete(recordType, id string) (before map[string]any, existed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	before, existed = m.records[recordType][id]
	delete(m.records[recordType], id)
	return before, existed
}

// Get implements Getter.
func (m *Memory) Get(_ context.Context, recordType, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fields, ok := m.records[recordType][id]
	if !ok {
		return nil, fmt.Errorf("record: %s/%s: %w", recordType, id, txterrors.ErrNotFound)
	}
	return &Record{Type: recordType, ID: id, Fields: CloneFields(fields)}, nil
}

// Filter implements Source.
func (m *Memory) Filter(_ context.Context, recordType string, ids []string, f Filter) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byID := m.records[recordType]
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		fields, ok := byID[id]
		if !ok {
			continue
		}
		if f.Match(fields) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Scan implements Source.
func (m *Memory) Scan(_ context.Context, recordType string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.records[recordType]), nil
}

var _ Source = (*Memory)(nil)

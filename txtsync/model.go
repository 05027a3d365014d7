package txtsync

import (
	"time"

	"github.com/viant/sqlite-txt/coordinator"
	"github.com/viant/sqlite-txt/record"
)

// LogEntry mirrors a single row of the change log.
type LogEntry struct {
	Seq        int64
	RecordType string
	RecordID   string
	Op         string
	Before     []byte
	After      []byte
	CreatedAt  time.Time
}

// Event converts the entry into a lifecycle event with decoded snapshots.
func (e *LogEntry) Event() (coordinator.Event, error) {
	kind, err := coordinator.ParseKind(e.Op)
	if err != nil {
		return coordinator.Event{}, err
	}
	ev := coordinator.Event{Kind: kind, Type: e.RecordType, ID: e.RecordID}
	if ev.Before, err = decode(e.Before); err != nil {
		return coordinator.Event{}, err
	}
	if ev.After, err = decode(e.After); err != nil {
		return coordinator.Event{}, err
	}
	return ev, nil
}

func decode(payload []byte) (map[string]any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	return record.DecodeFields(string(payload))
}

// SyncState is the last sequence number a follower has applied.
type SyncState struct {
	Follower  string
	LastSeq   int64
	UpdatedAt time.Time
}

// Config captures the settings of a Follower.
type Config struct {
	// Name identifies the follower in the state table; defaults to "default".
	Name string

	// LogTable is the change-log table; defaults to DefaultLogTable.
	LogTable string

	// StateTable keeps per-follower progress; defaults to DefaultStateTable.
	StateTable string

	// BatchSize controls how many log entries are applied per poll.
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.LogTable == "" {
		c.LogTable = DefaultLogTable
	}
	if c.StateTable == "" {
		c.StateTable = DefaultStateTable
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

package txtsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/viant/sqlite-txt/delivery"
)

var (
	appliedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "txt",
		Subsystem: "txtsync",
		Name:      "applied_total",
		Help:      "Change-log entries delivered.",
	})
	lastSeq = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "txt",
		Subsystem: "txtsync",
		Name:      "last_seq",
		Help:      "Last applied change-log sequence number.",
	}, []string{"follower"})
)

// Collectors returns the package metrics for registration by the host.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{appliedTotal, lastSeq}
}

// Follower replays the change log into a Deliverer. The persisted sequence
// only advances once the deliverer has flushed without failures, so a queued
// deliverer never loses an entry across a restart or a failed reconcile.
type Follower struct {
	db        *sql.DB
	config    Config
	deliverer delivery.Deliverer
	logger    zerolog.Logger
}

// Option configures a Follower.
type Option func(*Follower)

// WithLogger sets the logger; the default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Follower) { f.logger = logger }
}

// NewFollower creates the log and state tables if needed.
func NewFollower(db *sql.DB, config Config, deliverer delivery.Deliverer, opts ...Option) (*Follower, error) {
	if db == nil {
		return nil, fmt.Errorf("txtsync: db is nil")
	}
	f := &Follower{db: db, config: config.withDefaults(), deliverer: deliverer, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(f)
	}
	for _, ddl := range []string{LogTableDDL(f.config.LogTable), StateTableDDL(f.config.StateTable)} {
		if _, err := db.Exec(ddl); err != nil {
			return nil, fmt.Errorf("txtsync: ensure schema: %w", err)
		}
	}
	return f, nil
}

// InstallTriggers creates the change-log triggers on recordsTable.
func (f *Follower) InstallTriggers(ctx context.Context, recordsTable string) error {
	for _, ddl := range SQLiteChangeLogTriggers(recordsTable, f.config.LogTable) {
		if _, err := f.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("txtsync: install triggers on %s: %w", recordsTable, err)
		}
	}
	return nil
}

// State returns the persisted progress of this follower.
func (f *Follower) State(ctx context.Context) (SyncState, error) {
	state := SyncState{Follower: f.config.Name}
	q := fmt.Sprintf(`SELECT last_seq, updated_at FROM %s WHERE follower = ?`, f.config.StateTable)
	var updated any
	err := f.db.QueryRowContext(ctx, q, f.config.Name).Scan(&state.LastSeq, &updated)
	if err == sql.ErrNoRows {
		return state, nil
	}
	state.UpdatedAt = asTime(updated)
	return state, err
}

// Poll delivers up to BatchSize entries after the persisted sequence and
// returns how many were applied. When Deliver fails the entries before the
// failing one still count as applied. When Flush fails nothing does and the
// whole batch is delivered again by the next Poll.
func (f *Follower) Poll(ctx context.Context) (int, error) {
	state, err := f.State(ctx)
	if err != nil {
		return 0, fmt.Errorf("txtsync: load state: %w", err)
	}
	entries, err := f.fetch(ctx, state.LastSeq)
	if err != nil {
		return 0, err
	}
	applied := 0
	last := state.LastSeq
	var deliverErr error
	for i := range entries {
		entry := &entries[i]
		ev, err := entry.Event()
		if err != nil {
			// undecodable entries are skipped
			f.logger.Error().Err(err).Int64("seq", entry.Seq).Msg("skipping malformed log entry")
			last = entry.Seq
			continue
		}
		if err := f.deliverer.Deliver(ctx, ev); err != nil {
			deliverErr = fmt.Errorf("txtsync: deliver seq %d: %w", entry.Seq, err)
			break
		}
		last = entry.Seq
		applied++
	}
	if err := f.deliverer.Flush(ctx); err != nil {
		f.logger.Warn().Err(err).Int64("last_seq", state.LastSeq).Int("entries", len(entries)).Msg("batch failed, keeping sequence")
		return 0, errors.Join(deliverErr, fmt.Errorf("txtsync: flush: %w", err))
	}
	if last != state.LastSeq {
		if err := f.save(ctx, last); err != nil {
			return applied, err
		}
	}
	appliedTotal.Add(float64(applied))
	lastSeq.WithLabelValues(f.config.Name).Set(float64(last))
	if applied > 0 {
		f.logger.Debug().Int("applied", applied).Int64("last_seq", last).Msg("polled")
	}
	return applied, deliverErr
}

// Run polls until ctx ends, waiting interval whenever a poll comes back short
// of a full batch. Poll failures are logged and retried on the next tick.
func (f *Follower) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := f.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Warn().Err(err).Msg("poll failed")
		}
		if err == nil && n >= f.config.BatchSize {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (f *Follower) fetch(ctx context.Context, after int64) ([]LogEntry, error) {
	q := fmt.Sprintf(`SELECT seq, record_type, record_id, op, before_json, after_json, created_at
FROM %s WHERE seq > ? ORDER BY seq LIMIT ?`, f.config.LogTable)
	rows, err := f.db.QueryContext(ctx, q, after, f.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("txtsync: fetch log: %w", err)
	}
	defer rows.Close()
	var out []LogEntry
	for rows.Next() {
		var e LogEntry
		var before, after sql.NullString
		var created any
		if err := rows.Scan(&e.Seq, &e.RecordType, &e.RecordID, &e.Op, &before, &after, &created); err != nil {
			return nil, fmt.Errorf("txtsync: scan log: %w", err)
		}
		if before.Valid {
			e.Before = []byte(before.String)
		}
		if after.Valid {
			e.After = []byte(after.String)
		}
		e.CreatedAt = asTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (f *Follower) save(ctx context.Context, seq int64) error {
	q := fmt.Sprintf(`INSERT INTO %s(follower, last_seq, updated_at) VALUES(?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(follower) DO UPDATE SET last_seq = excluded.last_seq, updated_at = excluded.updated_at`, f.config.StateTable)
	if _, err := f.db.ExecContext(ctx, q, f.config.Name, seq); err != nil {
		return fmt.Errorf("txtsync: save state: %w", err)
	}
	return nil
}

// asTime accepts the driver's time.Time or SQLite's CURRENT_TIMESTAMP text.
func asTime(v any) time.Time {
	switch actual := v.(type) {
	case time.Time:
		return actual
	case string:
		t, _ := time.Parse(time.DateTime, actual)
		return t
	case []byte:
		t, _ := time.Parse(time.DateTime, string(actual))
		return t
	}
	return time.Time{}
}

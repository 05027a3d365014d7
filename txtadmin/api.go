// Package txtadmin exposes index maintenance through a virtual table.
//
// Usage:
//
//	CREATE VIRTUAL TABLE txt_admin USING txt_admin(op);
//	SELECT op FROM txt_admin WHERE op MATCH 'body_index'; -- rebuild one definition
//
// The query answers a single row op='reindexed:<count>'.
package txtadmin

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/viant/sqlite-txt/coordinator"
	"modernc.org/sqlite/vtab"
)

const locksSchema = `
CREATE TABLE IF NOT EXISTS txt_admin_locks (
    definition TEXT PRIMARY KEY,
    owner      TEXT NOT NULL,
    locked_at  INTEGER NOT NULL
)`

const (
	lockRetryDelay = 50 * time.Millisecond
	lockStaleAfter = 2 * time.Minute
)

// lockOwnerID identifies this process in txt_admin_locks. Goroutines of the
// process queue on localLocks before they reach the table.
var (
	lockOwnerID = uuid.NewString()
	localLocks  = xsync.NewMapOf[string, chan struct{}]()
)

type binding struct {
	db    *sql.DB
	coord *coordinator.Coordinator
}

// Module implements vtab.Module for txt_admin. Like the txt module it serves
// the binding of the latest Bind call.
type Module struct {
	binding atomic.Pointer[binding]
}

// Table is a txt_admin instance.
type Table struct{ module *Module }

// Cursor holds the single result row.
type Cursor struct {
	table *Table
	rows  []string
	pos   int
}

var module = &Module{}

// Register registers txt_admin with db and binds coord to it.
func Register(db *sql.DB, coord *coordinator.Coordinator) error {
	if err := RegisterModule(db); err != nil {
		return err
	}
	return Bind(db, coord)
}

// RegisterModule registers the txt_admin module. Only connections opened
// afterwards see it.
func RegisterModule(db *sql.DB) error {
	if err := vtab.RegisterModule(db, "txt_admin", module); err != nil {
		if !strings.Contains(err.Error(), "already registered") {
			return err
		}
	}
	return nil
}

// Bind creates the lock table in db and routes reindex requests to coord.
func Bind(db *sql.DB, coord *coordinator.Coordinator) error {
	if db == nil || coord == nil {
		return fmt.Errorf("txt_admin: db and coordinator are required")
	}
	if _, err := db.Exec(locksSchema); err != nil {
		return fmt.Errorf("txt_admin: ensure locks: %w", err)
	}
	module.binding.Store(&binding{db: db, coord: coord})
	return nil
}

func (m *Module) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.Connect(ctx, args)
}

func (m *Module) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("txt_admin: need at least 3 args")
	}
	if err := ctx.Declare(fmt.Sprintf("CREATE TABLE %s(op TEXT)", args[2])); err != nil {
		return nil, err
	}
	return &Table{module: m}, nil
}

func (t *Table) BestIndex(info *vtab.IndexInfo) error {
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if c.Usable && c.Column == 0 && c.Op == vtab.OpMATCH {
			c.ArgIndex, c.Omit = 0, true
			info.IdxNum = 1
			info.EstimatedCost = 1
			return nil
		}
	}
	info.EstimatedCost = 1e12
	return nil
}

func (t *Table) Open() (vtab.Cursor, error) { return &Cursor{table: t}, nil }
func (t *Table) Disconnect() error { return nil }
func (t *Table) Destroy() error { return nil }

func (c *Cursor) Filter(idxNum int, idxStr string, vals []vtab.Value) error {
	c.rows, c.pos = nil, 0
	if idxNum != 1 || len(vals) == 0 || vals[0] == nil {
		return nil
	}
	definition, ok := vals[0].(string)
	if !ok {
		return fmt.Errorf("txt_admin: MATCH expects a definition name as TEXT")
	}
	b := c.table.module.binding.Load()
	if b == nil {
		return fmt.Errorf("txt_admin: no coordinator bound")
	}
	n, err := reindex(context.Background(), b, definition)
	if err != nil {
		return err
	}
	c.rows = []string{fmt.Sprintf("reindexed:%d", n)}
	return nil
}

func (c *Cursor) Next() error {
	if c.pos < len(c.rows) {
		c.pos++
	}
	return nil
}

func (c *Cursor) Eof() bool { return c.pos >= len(c.rows) }

func (c *Cursor) Column(col int) (vtab.Value, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil, fmt.Errorf("txt_admin: Column out of range")
	}
	if col == 0 {
		return c.rows[c.pos], nil
	}
	return nil, nil
}

func (c *Cursor) Rowid() (int64, error) { return int64(c.pos + 1), nil }
func (c *Cursor) Close() error { c.rows, c.pos = nil, 0; return nil }

// reindex rebuilds definition while holding its admin lock.
func reindex(ctx context.Context, b *binding, definition string) (int, error) {
	unlock, err := acquireLock(ctx, b.db, definition)
	if err != nil {
		return 0, fmt.Errorf("txt_admin: lock %s: %w", definition, err)
	}
	defer unlock()
	n, err := b.coord.Reindex(ctx, definition)
	if err != nil {
		return 0, fmt.Errorf("txt_admin: reindex %s: %w", definition, err)
	}
	return n, nil
}

// acquireLock takes the in-process lock and then the lock row for
// definition, taking over rows older than lockStaleAfter, and returns the
// release function.
func acquireLock(ctx context.Context, db *sql.DB, definition string) (func(), error) {
	local, _ := localLocks.LoadOrStore(definition, make(chan struct{}, 1))
	select {
	case local <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for {
		if err := ctx.Err(); err != nil {
			<-local
			return nil, err
		}
		owner, err := tryLock(ctx, db, definition)
		if err != nil {
			<-local
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if owner == lockOwnerID {
			return func() {
				_, _ = db.ExecContext(context.Background(), `DELETE FROM txt_admin_locks WHERE definition = ? AND owner = ?`, definition, lockOwnerID)
				<-local
			}, nil
		}
		select {
		case <-ctx.Done():
			<-local
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
}

func tryLock(ctx context.Context, db *sql.DB, definition string) (string, error) {
	now := time.Now().Unix()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO txt_admin_locks(definition, owner, locked_at) VALUES(?, ?, ?)`, definition, lockOwnerID, now); err != nil {
		return "", err
	}
	var owner string
	var lockedAt int64
	if err := tx.QueryRowContext(ctx, `SELECT owner, locked_at FROM txt_admin_locks WHERE definition = ?`, definition).Scan(&owner, &lockedAt); err != nil {
		return "", err
	}
	if owner != lockOwnerID && lockedAt <= time.Now().Add(-lockStaleAfter).Unix() {
		res, err := tx.ExecContext(ctx, `UPDATE txt_admin_locks SET owner = ?, locked_at = ? WHERE definition = ? AND locked_at = ?`, lockOwnerID, now, definition, lockedAt)
		if err != nil {
			return "", err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			owner = lockOwnerID
		}
	}
	return owner, tx.Commit()
}

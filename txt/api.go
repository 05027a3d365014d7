package txt

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/viant/sqlite-txt/query"
	"modernc.org/sqlite/vtab"
)

// Module implements vtab.Module for the txt virtual table. Registration is
// process wide, so searches run through the engine of the latest Bind.
type Module struct {
	engine atomic.Pointer[query.Engine]
}

// Table represents a single txt virtual table instance.
type Table struct {
	module    *Module
	tableName string
	column    string
	index     string // default definition from index=<name>
}

const (
	idxNone = iota
	idxIndexMatch
	idxDefaultMatch
)

// unplannedCost steers SQLite away from scans the table cannot answer.
const unplannedCost = 1e12

type row struct {
	index string
	id    string
	exact bool
}

// Cursor scans search results.
type Cursor struct {
	table *Table
	rows  []row
	pos   int
}

var module = &Module{}

// Register binds engine and registers the module with db.
func Register(db *sql.DB, engine *query.Engine) error {
	if engine == nil {
		return fmt.Errorf("txt: engine is nil")
	}
	Bind(engine)
	return RegisterModule(db)
}

// Bind sets the engine answering searches of every txt table.
func Bind(engine *query.Engine) { module.engine.Store(engine) }

// RegisterModule registers the txt module. Only connections opened afterwards
// see it, so call it before db is first used.
func RegisterModule(db *sql.DB) error {
	if err := vtab.RegisterModule(db, "txt", module); err != nil {
		if !strings.Contains(err.Error(), "already registered") {
			return err
		}
	}
	return nil
}

// Create declares the table schema.
func (m *Module) Create(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, "CREATE", args)
}

// Connect attaches to an existing txt table.
func (m *Module) Connect(ctx vtab.Context, args []string) (vtab.Table, error) {
	return m.connect(ctx, "CONNECT", args)
}

func (m *Module) connect(ctx vtab.Context, op string, args []string) (vtab.Table, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("txt: %s expects at least 3 args, got %d", op, len(args))
	}
	t := &Table{module: m, tableName: args[2], column: "record_id"}
	optStart := 3
	if len(args) > 3 {
		if a := strings.TrimSpace(args[3]); a != "" && !strings.Contains(a, "=") {
			t.column = a
			optStart = 4
		}
	}
	t.index = parseOptions(args[optStart:])
	if err := ctx.Declare(fmt.Sprintf("CREATE TABLE %s(index_name TEXT, %s TEXT, exact INTEGER HIDDEN)", args[2], t.column)); err != nil {
		return nil, err
	}
	return t, nil
}

func parseOptions(args []string) (index string) {
	for _, raw := range args {
		key, val, ok := strings.Cut(strings.TrimSpace(raw), "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "index":
			index = strings.Trim(strings.TrimSpace(val), `'"`)
		}
	}
	return index
}

// BestIndex pushes down index_name = ? and MATCH on the record column.
func (t *Table) BestIndex(info *vtab.IndexInfo) error {
	var indexConstraint, matchConstraint *vtab.Constraint
	for i := range info.Constraints {
		c := &info.Constraints[i]
		if !c.Usable {
			continue
		}
		switch {
		case c.Column == 0 && c.Op == vtab.OpEQ:
			indexConstraint = c
		case c.Column == 1 && c.Op == vtab.OpMATCH:
			matchConstraint = c
		}
	}
	switch {
	case matchConstraint != nil && indexConstraint != nil:
		indexConstraint.ArgIndex, indexConstraint.Omit = 0, true
		matchConstraint.ArgIndex, matchConstraint.Omit = 1, true
		info.IdxNum = idxIndexMatch
	case matchConstraint != nil && t.index != "":
		matchConstraint.ArgIndex, matchConstraint.Omit = 0, true
		info.IdxNum = idxDefaultMatch
	default:
		info.IdxNum = idxNone
		info.EstimatedCost = unplannedCost
		return nil
	}
	info.EstimatedCost = 10
	info.EstimatedRows = 100
	return nil
}

// Open allocates a new cursor.
func (t *Table) Open() (vtab.Cursor, error) { return &Cursor{table: t}, nil }

// Disconnect cleans up per-connection resources.
func (t *Table) Disconnect() error { return nil }

// Destroy has nothing to drop; the index lives in the index store.
func (t *Table) Destroy() error { return nil }

// Filter runs the search selected by BestIndex. Unplanned scans yield no rows.
func (c *Cursor) Filter(idxNum int, idxStr string, vals []vtab.Value) error {
	_ = idxStr
	c.rows, c.pos = nil, 0
	var definition, q string
	var err error
	switch idxNum {
	case idxIndexMatch:
		if len(vals) < 2 {
			return fmt.Errorf("txt: index_name and MATCH arguments are required")
		}
		if definition, err = asString(vals[0], "index_name"); err != nil {
			return err
		}
		if q, err = asString(vals[1], "MATCH"); err != nil {
			return err
		}
	case idxDefaultMatch:
		if len(vals) < 1 {
			return fmt.Errorf("txt: MATCH argument is required")
		}
		definition = c.table.index
		if q, err = asString(vals[0], "MATCH"); err != nil {
			return err
		}
	default:
		return nil
	}
	engine := c.table.module.engine.Load()
	if engine == nil {
		return fmt.Errorf("txt: no engine bound")
	}
	results, err := engine.Search(context.Background(), definition, q)
	if err != nil {
		return fmt.Errorf("txt: search %s: %w", definition, err)
	}
	c.rows = make([]row, len(results))
	for i, r := range results {
		c.rows[i] = row{index: definition, id: r.ID, exact: r.Exact}
	}
	return nil
}

// Next advances the cursor.
func (c *Cursor) Next() error {
	if c.pos < len(c.rows) {
		c.pos++
	}
	return nil
}

// Eof reports end-of-rows.
func (c *Cursor) Eof() bool { return c.pos >= len(c.rows) }

// Column returns the value of a column in the current row.
func (c *Cursor) Column(col int) (vtab.Value, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return nil, fmt.Errorf("txt: Column out of range (pos=%d,len=%d)", c.pos, len(c.rows))
	}
	r := c.rows[c.pos]
	switch col {
	case 0:
		return r.index, nil
	case 1:
		return r.id, nil
	case 2:
		if r.exact {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, fmt.Errorf("txt: unsupported column %d", col)
}

// Rowid returns the result position, starting at 1.
func (c *Cursor) Rowid() (int64, error) {
	if c.pos < 0 || c.pos >= len(c.rows) {
		return 0, fmt.Errorf("txt: Rowid out of range (pos=%d,len=%d)", c.pos, len(c.rows))
	}
	return int64(c.pos + 1), nil
}

// Close releases resources.
func (c *Cursor) Close() error { c.rows, c.pos = nil, 0; return nil }

func asString(v vtab.Value, what string) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case nil:
		return "", fmt.Errorf("txt: %s is nil", what)
	default:
		return "", fmt.Errorf("txt: unsupported %s type %T", what, v)
	}
}

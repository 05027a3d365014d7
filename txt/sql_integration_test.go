package txt

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/viant/sqlite-txt/coordinator"
	"github.com/viant/sqlite-txt/engine"
	badgerstore "github.com/viant/sqlite-txt/index/badger"
	"github.com/viant/sqlite-txt/query"
	"github.com/viant/sqlite-txt/record"
	"github.com/viant/sqlite-txt/schema"
)

type fixture struct {
	db      *sql.DB
	records *record.SQLiteStore
	coord   *coordinator.Coordinator
}

func newFixture(t *testing.T, name string) *fixture {
	t.Helper()
	db, err := engine.Open(engine.FileDSN(filepath.Join(t.TempDir(), name+".sqlite")))
	if err != nil {
		t.Fatalf("engine.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	// Second connection serves queries issued while a cursor is open.
	db.SetMaxOpenConns(2)
	if err := RegisterModule(db); err != nil {
		t.Fatalf("txt.RegisterModule failed: %v", err)
	}

	store, err := badgerstore.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("badger open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	records, err := record.NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	registry := schema.NewRegistry(schema.RecordType{Name: "Note", Fields: []string{"title", "body", "check"}}).MustRegister(
		schema.Definition{Name: "body_index", Type: "Note", Fields: []string{"body"}, Mode: schema.Prefix},
		schema.Definition{Name: "title_index", Type: "Note", Fields: []string{"title"}},
	)
	Bind(query.New(registry, store, records))
	return &fixture{db: db, records: records, coord: coordinator.New(registry, store, records)}
}

func (f *fixture) save(t *testing.T, id string, fields map[string]any) {
	t.Helper()
	ctx := context.Background()
	rec := &record.Record{Type: "Note", ID: id, Fields: fields}
	before, existed, err := f.records.Save(ctx, rec)
	if err != nil {
		t.Fatalf("save %s: %v", id, err)
	}
	kind := coordinator.Created
	if existed {
		kind = coordinator.Updated
	}
	if err := f.coord.Handle(ctx, coordinator.Event{Kind: kind, Type: "Note", ID: id, Before: before, After: fields}); err != nil {
		t.Fatalf("index %s: %v", id, err)
	}
}

func (f *fixture) createTable(t *testing.T, ddl string) {
	t.Helper()
	if _, err := f.db.Exec(ddl); err != nil {
		if strings.Contains(err.Error(), "no such module") {
			t.Skipf("skipping: txt vtab not available (%v)", err)
		}
		t.Fatalf("%s failed: %v", ddl, err)
	}
}

func queryStrings(t *testing.T, db *sql.DB, q string, args ...any) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			t.Skipf("skipping: txt query timed out (%v)", err)
		}
		t.Fatalf("query %q failed: %v", q, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("scan: %v", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return out
}

func TestTxtVirtualTableMatch(t *testing.T) {
	f := newFixture(t, "txt_match")
	f.save(t, "n1", map[string]any{"title": "alpha", "body": "quick brown fox"})
	f.save(t, "n2", map[string]any{"title": "beta", "body": "quicksilver"})
	f.save(t, "n3", map[string]any{"title": "gamma", "body": "slow turtle"})
	f.createTable(t, `CREATE VIRTUAL TABLE search USING txt(record_id)`)

	got := queryStrings(t, f.db, `SELECT record_id FROM search WHERE index_name = ? AND record_id MATCH ?`, "body_index", "quick")
	if strings.Join(got, ",") != "n1,n2" {
		t.Fatalf("unexpected ids: %v", got)
	}

	got = queryStrings(t, f.db, `SELECT record_id || ':' || exact FROM search WHERE index_name = 'body_index' AND record_id MATCH 'quicksilver turtle'`)
	if strings.Join(got, ",") != "n2:1,n3:1" {
		t.Fatalf("unexpected rows: %v", got)
	}

	got = queryStrings(t, f.db, `SELECT record_id FROM search WHERE index_name = 'title_index' AND record_id MATCH 'alp'`)
	if len(got) != 0 {
		t.Fatalf("exact index matched a prefix: %v", got)
	}

	got = queryStrings(t, f.db, `SELECT record_id FROM search`)
	if len(got) != 0 {
		t.Fatalf("unconstrained scan returned rows: %v", got)
	}
}

func TestTxtVirtualTableJoin(t *testing.T) {
	f := newFixture(t, "txt_join")
	f.save(t, "n1", map[string]any{"title": "one", "body": "shared words", "check": true})
	f.save(t, "n2", map[string]any{"title": "two", "body": "shared text", "check": false})
	f.save(t, "n3", map[string]any{"title": "three", "body": "other", "check": true})
	f.createTable(t, `CREATE VIRTUAL TABLE notes_search USING txt(note_id, index=body_index)`)

	got := queryStrings(t, f.db, `SELECT r.id FROM notes_search s
JOIN txt_records r ON r.type = 'Note' AND r.id = s.note_id
WHERE s.note_id MATCH 'share' AND json_extract(r.fields, '$.check') = 1
ORDER BY r.id`)
	if strings.Join(got, ",") != "n1" {
		t.Fatalf("unexpected joined ids: %v", got)
	}

	got = queryStrings(t, f.db, `SELECT index_name FROM notes_search WHERE note_id MATCH 'other'`)
	if strings.Join(got, ",") != "body_index" {
		t.Fatalf("unexpected index_name: %v", got)
	}
}

func TestRegisterRequiresEngine(t *testing.T) {
	if err := Register(nil, nil); err == nil {
		t.Fatalf("expected error for nil engine")
	}
}

func TestParseOptions(t *testing.T) {
	if got := parseOptions([]string{" index = 'body_index' ", "junk"}); got != "body_index" {
		t.Fatalf("unexpected index: %q", got)
	}
	if got := parseOptions(nil); got != "" {
		t.Fatalf("unexpected index: %q", got)
	}
}

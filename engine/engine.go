package engine

import (
	"database/sql"
	"net/url"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

// Open opens a SQLite database using the modernc.org/sqlite driver.
//
// For file-based databases, pass a path like "./db.sqlite". For in-memory
// databases, pass ":memory:".
func Open(dsn string) (*sql.DB, error) { return sql.Open("sqlite", dsn) }

// FileDSN builds a DSN for a database file with WAL journaling and a busy
// timeout applied to every pooled connection. Transactions begin IMMEDIATE so
// a read-then-write transaction waits for the writer lock instead of failing
// on upgrade.
func FileDSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

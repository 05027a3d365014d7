package txtsync

import (
	"fmt"
	"strings"
)

const (
	// DefaultLogTable receives one row per change of the records table.
	DefaultLogTable = "txt_change_log"

	// DefaultStateTable stores the last applied sequence per follower.
	DefaultStateTable = "txt_sync_state"
)

// LogTableDDL returns the DDL of the change-log table.
func LogTableDDL(table string) string {
	if table == "" {
		table = DefaultLogTable
	}
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
    seq         INTEGER PRIMARY KEY AUTOINCREMENT,
    record_type TEXT NOT NULL,
    record_id   TEXT NOT NULL,
    op          TEXT NOT NULL,
    before_json TEXT,
    after_json  TEXT,
    created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
}

// StateTableDDL returns the DDL of the follower state table.
func StateTableDDL(table string) string {
	if table == "" {
		table = DefaultStateTable
	}
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
    follower   TEXT PRIMARY KEY,
    last_seq   INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);`
}

// SQLiteChangeLogTriggers returns the trigger DDL statements that capture
// inserts, updates, and deletes against a records table (type, id, fields)
// into the change log, with the JSON fields before and after the change.
func SQLiteChangeLogTriggers(recordsTable, logTable string) []string {
	if logTable == "" {
		logTable = DefaultLogTable
	}
	base := sanitizeIdentifier(recordsTable)
	trigger := func(suffix, event, op, alias, before, after string) string {
		return fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %s_%s AFTER %s ON %s
BEGIN
    INSERT INTO %s(record_type, record_id, op, before_json, after_json)
    VALUES (%s.type, %s.id, '%s', %s, %s);
END;`, base, suffix, event, recordsTable, logTable, alias, alias, op, before, after)
	}
	return []string{
		trigger("ai", "INSERT", "insert", "NEW", "NULL", "NEW.fields"),
		trigger("au", "UPDATE", "update", "NEW", "OLD.fields", "NEW.fields"),
		trigger("ad", "DELETE", "delete", "OLD", "OLD.fields", "NULL"),
	}
}

func sanitizeIdentifier(name string) string {
	if name == "" {
		return ""
	}
	replacer := strings.NewReplacer(".", "_", "-", "_")
	return replacer.Replace(name)
}

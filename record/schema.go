package record

import (
	"database/sql"
)

// DefaultTable is the records table used by SQLiteStore.
const DefaultTable = "txt_records"

const recordsSchema = `
CREATE TABLE IF NOT EXISTS txt_records (
    type   TEXT NOT NULL,
    id     TEXT NOT NULL,
    fields TEXT NOT NULL DEFAULT '{}',
    PRIMARY KEY(type, id)
);
`

// EnsureSchema creates the records table in the provided database if it
// does not already exist. Fields are kept as a JSON object so filters can be
// evaluated with json_extract.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(recordsSchema)
	return err
}

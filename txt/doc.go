// Package txt implements a SQLite virtual table answering text searches with
// MATCH semantics. Rows come from a query.Engine, so results can be joined
// with the records table and narrowed by ordinary SQL predicates.
//
// Usage:
//
//	CREATE VIRTUAL TABLE search USING txt(record_id);
//	SELECT record_id FROM search WHERE index_name = 'body_index' AND record_id MATCH 'one two';
//
// A default index can be bound at creation time with index=<definition>, in
// which case the index_name constraint may be omitted. The hidden exact
// column is 1 when a query token equals an indexed token of the record.
package txt

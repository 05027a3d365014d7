// Package schema declares index definitions and the static registry that maps
// record types to them. A definition names one or more source fields, a
// matching mode (exact or prefix), an optional integration pulling fields
// from a related record, and optional query-time filters.
package schema

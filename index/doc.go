// Package index defines the store of text index rows: the mapping from
// (definition, token) to the records owning that token, plus the reverse
// dependency rows of integrating definitions. Implementations in this module
// include SQLite, badger and pebble backends and an LRU lookup cache.
package index

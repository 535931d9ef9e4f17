// Package sqlite provides the SQLite-backed item store, search index,
// interaction slots and job ledger.
package sqlite

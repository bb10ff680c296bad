// Package storage is the append-only result store.
//
// Two drivers share the Store interface:
//   - "sqlite": a SQLite database file (default), table speedtests
//   - "jsonl": an append-only JSON Lines file
//
// Rows are never updated or deleted.
package storage

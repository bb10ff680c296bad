package storage

import (
	"context"
	"errors"
	"time"

	"speedwatch/internal/sample"
)

// ErrPersistence wraps every failure to write to or read from the store.
var ErrPersistence = errors.New("persistence failed")

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "jsonl": append-only JSON Lines file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

// Store persists samples.
type Store interface {
	// EnsureSchema creates the backing table/file when missing. Idempotent.
	EnsureSchema(ctx context.Context) error
	// Append writes one sample. It either fully succeeds or writes nothing.
	Append(ctx context.Context, s sample.Sample) error
	// Recent returns up to n samples, newest first.
	Recent(ctx context.Context, n int) ([]sample.Sample, error)
	// Count returns the number of stored samples.
	Count(ctx context.Context) (int, error)
	Close() error
}

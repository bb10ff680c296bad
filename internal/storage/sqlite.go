package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	_ "modernc.org/sqlite"

	"speedwatch/internal/sample"
	"speedwatch/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// Naive UTC text. Existing speedtests databases use this layout.
const timestampLayout = "2006-01-02 15:04:05.000000"

var readLayouts = []string{
	timestampLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.999999999Z07:00",
}

// SQLiteStore is the sqlite-backed Store.
type SQLiteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("%w: create data dir: %w", ErrPersistence, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", ErrPersistence, err)
	}
	// One writer; avoids SQLITE_BUSY between our own connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	if path != ":memory:" {
		_, _ = db.Exec("PRAGMA journal_mode = WAL")
	}
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	return NewSQLite(db, log), nil
}

// NewSQLite wraps an already opened database handle.
func NewSQLite(db *sql.DB, log logx.Logger) *SQLiteStore {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SQLiteStore{db: db, log: log}
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migrations); err != nil {
		return fmt.Errorf("%w: ensure schema: %w", ErrPersistence, err)
	}
	return nil
}

func (s *SQLiteStore) Append(ctx context.Context, smp sample.Sample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO speedtests(timestamp, download, upload, ping) VALUES(?,?,?,?)`,
		smp.Timestamp.UTC().Format(timestampLayout), smp.Download, smp.Upload, smp.Ping,
	)
	if err != nil {
		return fmt.Errorf("%w: insert sample: %w", ErrPersistence, err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]sample.Sample, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT CAST(timestamp AS TEXT), download, upload, ping
		 FROM speedtests ORDER BY timestamp DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("%w: query recent: %w", ErrPersistence, err)
	}
	defer rows.Close()

	out := make([]sample.Sample, 0, n)
	for rows.Next() {
		var (
			ts  string
			smp sample.Sample
		)
		if err := rows.Scan(&ts, &smp.Download, &smp.Upload, &smp.Ping); err != nil {
			return nil, fmt.Errorf("%w: scan row: %w", ErrPersistence, err)
		}
		at, err := parseTimestamp(ts)
		if err != nil {
			s.log.Warn("skipping row with unreadable timestamp", logx.String("timestamp", ts), logx.Err(err))
			continue
		}
		smp.Timestamp = at
		out = append(out, smp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate rows: %w", ErrPersistence, err)
	}
	return out, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM speedtests`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrPersistence, err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// parseTimestamp reads a stored timestamp as UTC. Naive values are UTC.
func parseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range readLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	t, err := dateparse.ParseIn(v, time.UTC)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"speedwatch/internal/sample"
	"speedwatch/pkg/logx"
)

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	name := "speedtest.db"
	if driver == "jsonl" {
		name = "speedtest.jsonl"
	}
	st, err := Open(context.Background(), Config{Driver: driver, Path: filepath.Join(t.TempDir(), "data", name)}, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s): %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreAppendRecent(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "jsonl"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openTestStore(t, driver)

			base := time.Date(2024, 6, 1, 8, 0, 0, 250000000, time.UTC)
			for i := 0; i < 5; i++ {
				s := sample.Sample{
					Timestamp: base.Add(time.Duration(i) * time.Minute),
					Download:  float64(100 + i),
					Upload:    float64(10 + i),
					Ping:      float64(20 - i),
				}
				if err := st.Append(ctx, s); err != nil {
					t.Fatalf("Append #%d: %v", i, err)
				}
			}

			n, err := st.Count(ctx)
			if err != nil || n != 5 {
				t.Fatalf("Count: got %d, %v", n, err)
			}

			got, err := st.Recent(ctx, 3)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("expected 3 rows, got %d", len(got))
			}
			for i, want := range []float64{104, 103, 102} {
				if got[i].Download != want {
					t.Fatalf("row %d: download %v want %v", i, got[i].Download, want)
				}
			}
			if !got[0].Timestamp.Equal(base.Add(4*time.Minute)) || got[0].Timestamp.Location() != time.UTC {
				t.Fatalf("timestamp round-trip: got %v", got[0].Timestamp)
			}

			all, err := st.Recent(ctx, 100)
			if err != nil || len(all) != 5 {
				t.Fatalf("Recent(100): got %d rows, %v", len(all), err)
			}
		})
	}
}

func TestStoreRecentOrdersByTimestamp(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"sqlite", "jsonl"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openTestStore(t, driver)

			base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
			// Appended out of order.
			for _, off := range []int{2, 0, 1} {
				s := sample.Sample{Timestamp: base.Add(time.Duration(off) * time.Hour), Download: float64(off)}
				if err := st.Append(ctx, s); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}
			got, err := st.Recent(ctx, 10)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			for i, want := range []float64{2, 1, 0} {
				if got[i].Download != want {
					t.Fatalf("row %d: got %v want %v", i, got[i].Download, want)
				}
			}
		})
	}
}

func TestJSONLAppendAfterTornLine(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "speedtest.jsonl")
	st, err := Open(ctx, Config{Driver: "jsonl", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	t0 := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	if err := st.Append(ctx, sample.Sample{Timestamp: t0, Download: 1}); err != nil {
		t.Fatal(err)
	}
	// A write cut short by a crash or a full disk.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"v":1,"id":"torn","timestamp":"2024-02-01T10:0`); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	if err := st.Append(ctx, sample.Sample{Timestamp: t0.Add(time.Minute), Download: 2}); err != nil {
		t.Fatal(err)
	}

	rows, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Download != 2 || rows[1].Download != 1 {
		t.Fatalf("rows = %+v", rows)
	}
	if n, err := st.Count(ctx); err != nil || n != 2 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "speedtest.db")
	for i := 0; i < 2; i++ {
		st, err := Open(ctx, Config{Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		if err := st.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema #%d: %v", i, err)
		}
		if err := st.Append(ctx, sample.Sample{Timestamp: time.Now().UTC(), Download: 1}); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
		_ = st.Close()
	}

	st, err := Open(ctx, Config{Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	if n, _ := st.Count(ctx); n != 2 {
		t.Fatalf("rows lost across reopen: got %d want 2", n)
	}
}

func TestSQLiteReadsLegacyRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := openTestStore(t, "sqlite").(*SQLiteStore)

	// Rows as written by older deployments: naive UTC text.
	for _, ts := range []string{"2023-12-31 23:59:59.123456", "2024-01-01 00:00:05"} {
		if _, err := st.db.ExecContext(ctx, `INSERT INTO speedtests(timestamp, download, upload, ping) VALUES(?,?,?,?)`, ts, 50.0, 5.0, 9.0); err != nil {
			t.Fatalf("insert legacy row: %v", err)
		}
	}
	got, err := st.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	want := time.Date(2024, 1, 1, 0, 0, 5, 0, time.UTC)
	if !got[0].Timestamp.Equal(want) {
		t.Fatalf("newest: got %v want %v", got[0].Timestamp, want)
	}
	if got[1].Timestamp.Nanosecond() != 123456000 {
		t.Fatalf("microseconds lost: %v", got[1].Timestamp)
	}
}

func TestSQLiteAppendFailureIsPersistenceError(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	cause := errors.New("disk I/O error")
	mock.ExpectExec("INSERT INTO speedtests").WillReturnError(cause)

	st := NewSQLite(db, logx.Nop())
	err = st.Append(context.Background(), sample.Sample{Timestamp: time.Now(), Download: 1})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not wrapped: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLiteAppendFormatsUTC(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	loc := time.FixedZone("CET", 3600)
	ts := time.Date(2024, 2, 3, 4, 5, 6, 7000, loc)
	mock.ExpectExec("INSERT INTO speedtests").
		WithArgs("2024-02-03 03:05:06.000007", 1.5, 2.5, 3.5).
		WillReturnResult(sqlmock.NewResult(1, 1))

	st := NewSQLite(db, logx.Nop())
	if err := st.Append(context.Background(), sample.Sample{Timestamp: ts, Download: 1.5, Upload: 2.5, Ping: 3.5}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSQLiteRecentQueryFailure(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT (.+) FROM speedtests").WillReturnError(errors.New("database is locked"))

	_, err = NewSQLite(db, logx.Nop()).Recent(context.Background(), 100)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-01-02 03:04:05.000006", time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC)},
		{"2024-01-02 03:04:05", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"2024-01-02T03:04:05+02:00", time.Date(2024, 1, 2, 1, 4, 5, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseTimestamp(tt.in)
		if err != nil {
			t.Fatalf("parseTimestamp(%q): %v", tt.in, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("parseTimestamp(%q): got %v want %v", tt.in, got, tt.want)
		}
	}
	if _, err := parseTimestamp(""); err == nil {
		t.Fatalf("expected error for empty timestamp")
	}
}

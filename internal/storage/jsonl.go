package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"speedwatch/internal/sample"
	"speedwatch/pkg/logx"
)

// JSON Lines record schema version.
const jsonlSchemaVersion = 1

type jsonlRecord struct {
	V  int    `json:"v"`
	ID string `json:"id"`
	sample.Sample
}

// JSONLStore appends one JSON object per sample to a file.
//
// It is safe for concurrent use.
type JSONLStore struct {
	path string
	log  logx.Logger

	mu sync.Mutex
}

func openJSONL(cfg Config, log logx.Logger) (Store, error) {
	return &JSONLStore{path: cfg.Path, log: log}, nil
}

func (s *JSONLStore) EnsureSchema(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create data dir: %w", ErrPersistence, err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrPersistence, s.path, err)
	}
	return f.Close()
}

// Append writes the record in a single write call. A failed write is cut
// back off, and a torn last line from an earlier crash is terminated first
// so it cannot swallow this record.
func (s *JSONLStore) Append(ctx context.Context, smp sample.Sample) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	smp.Timestamp = smp.Timestamp.UTC()
	b, err := json.Marshal(jsonlRecord{V: jsonlSchemaVersion, ID: uuid.NewString(), Sample: smp})
	if err != nil {
		return fmt.Errorf("%w: marshal record: %w", ErrPersistence, err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrPersistence, s.path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", ErrPersistence, s.path, err)
	}
	size := fi.Size()
	if size > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, size-1); err != nil {
			return fmt.Errorf("%w: read %s: %w", ErrPersistence, s.path, err)
		}
		if last[0] != '\n' {
			b = append([]byte{'\n'}, b...)
		}
	}

	if _, err := f.Write(b); err != nil {
		if terr := f.Truncate(size); terr != nil {
			s.log.Error("could not undo partial append", logx.Err(terr))
		}
		return fmt.Errorf("%w: append record: %w", ErrPersistence, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close file: %w", ErrPersistence, err)
	}
	return nil
}

// Recent keeps the last n valid lines in a ring and returns them newest first.
func (s *JSONLStore) Recent(ctx context.Context, n int) ([]sample.Sample, error) {
	_ = ctx
	if n <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]sample.Sample, 0, n)
	idx := 0
	full := false

	err := s.scanLocked(func(rec jsonlRecord) {
		if len(buf) < n {
			buf = append(buf, rec.Sample)
			return
		}
		buf[idx] = rec.Sample
		idx = (idx + 1) % n
		full = true
	})
	if err != nil {
		return nil, err
	}

	ordered := buf
	if full {
		ordered = append([]sample.Sample(nil), buf[idx:]...)
		ordered = append(ordered, buf[:idx]...)
	}
	// File order is append order; reverse it, then sort by timestamp so that
	// out-of-order clocks still come back newest first.
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.After(ordered[j].Timestamp)
	})
	return ordered, nil
}

func (s *JSONLStore) Count(ctx context.Context) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	err := s.scanLocked(func(jsonlRecord) { n++ })
	return n, err
}

func (s *JSONLStore) Close() error { return nil }

func (s *JSONLStore) scanLocked(fn func(jsonlRecord)) error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: open %s: %w", ErrPersistence, s.path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	bad := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec jsonlRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.Timestamp.IsZero() {
			bad++
			continue
		}
		rec.Timestamp = rec.Timestamp.UTC()
		fn(rec)
	}
	if bad > 0 {
		s.log.Warn("skipped unreadable lines", logx.Int("count", bad))
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrPersistence, s.path, err)
	}
	return nil
}

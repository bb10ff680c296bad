package storage

import (
	"context"
	"fmt"
	"strings"

	"speedwatch/pkg/logx"
)

const DefaultPath = "./data/speedtest.db"

// Open initializes the configured store and ensures its schema.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = DefaultPath
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	var (
		st  Store
		err error
	)
	switch driver {
	case "sqlite", "sqlite3":
		st, err = openSQLite(cfg, log)
	case "jsonl", "file":
		st, err = openJSONL(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	log.Debug("store opened", logx.String("path", cfg.Path))
	return st, nil
}

package config

import (
	"errors"
	"fmt"
	"strings"

	"speedwatch/internal/task/scheduler"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

const (
	DefaultStoragePath = "./data/speedtest.db"
	DefaultPort        = 5006
	DefaultBufferSize  = 100
	DefaultTableRows   = 10
)

// Default returns the settings used when no file and no env are present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Storage.Driver) == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		cfg.Storage.Path = DefaultStoragePath
	}

	if cfg.Dashboard.Port == 0 {
		cfg.Dashboard.Port = DefaultPort
	}
	if cfg.Dashboard.BufferSize == 0 {
		cfg.Dashboard.BufferSize = DefaultBufferSize
	}
	if cfg.Dashboard.TableRows == 0 {
		cfg.Dashboard.TableRows = DefaultTableRows
	}
	if cfg.Dashboard.ChartWidth == 0 {
		cfg.Dashboard.ChartWidth = 800
	}
	if cfg.Dashboard.ChartHeight == 0 {
		cfg.Dashboard.ChartHeight = 400
	}

	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = scheduler.DefaultInterval
	}

	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "INFO"
	}

	if cfg.Alerts.AfterFailures == 0 {
		cfg.Alerts.AfterFailures = 3
	}
}

var logLevels = map[string]struct{}{
	"TRACE": {}, "DEBUG": {}, "INFO": {}, "WARN": {}, "WARNING": {}, "ERROR": {},
}

// Validate reports every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil config", ErrInvalid)
	}
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3", "jsonl", "file":
	default:
		bad("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	if p := cfg.Dashboard.Port; p < 1 || p > 65535 {
		bad("dashboard.port: %d out of range", p)
	}
	if cfg.Dashboard.BufferSize < 1 {
		bad("dashboard.buffer_size must be >= 1")
	}
	if cfg.Dashboard.TableRows < 1 {
		bad("dashboard.table_rows must be >= 1")
	}
	if cfg.Dashboard.ChartWidth < 100 || cfg.Dashboard.ChartHeight < 100 {
		bad("dashboard.chart_width and chart_height must be >= 100")
	}
	if _, err := ParseDurationField("dashboard.trigger_every", cfg.Dashboard.TriggerEvery); err != nil {
		errs = append(errs, err)
	}

	if err := scheduler.ValidateInterval(cfg.Scheduler.Interval); err != nil {
		bad("scheduler.interval: %w", err)
	}

	if cfg.Speedtest.ServerCount < 0 || cfg.Speedtest.MaxConnections < 0 || cfg.Speedtest.PingConcurrency < 0 {
		bad("speedtest counts must be >= 0")
	}
	if _, err := ParseDurationField("speedtest.timeout", cfg.Speedtest.Timeout); err != nil {
		errs = append(errs, err)
	}

	if _, ok := logLevels[strings.ToUpper(strings.TrimSpace(cfg.Logging.Level))]; !ok {
		bad("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.MaxSizeMB < 0 || cfg.Logging.File.MaxBackups < 0 || cfg.Logging.File.MaxAgeDays < 0 {
		bad("logging.file limits must be >= 0")
	}

	for _, f := range []struct{ path, raw string }{
		{"observability.read_timeout", cfg.Observability.ReadTimeout},
		{"observability.write_timeout", cfg.Observability.WriteTimeout},
		{"observability.idle_timeout", cfg.Observability.IdleTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.Alerts.AfterFailures < 1 {
		bad("alerts.after_failures must be >= 1")
	}
	if _, err := ParseDurationField("alerts.min_gap", cfg.Alerts.MinGap); err != nil {
		errs = append(errs, err)
	}
	if cfg.Alerts.Enabled {
		if strings.TrimSpace(cfg.Alerts.Telegram.Token) == "" {
			bad("alerts.telegram.token is required when alerts are enabled")
		}
		if cfg.Alerts.Telegram.ChatID == 0 {
			bad("alerts.telegram.chat_id is required when alerts are enabled")
		}
	}

	return errors.Join(errs...)
}

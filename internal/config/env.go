package config

import (
	"fmt"
	"strings"

	"github.com/spf13/cast"
)

// Environment variables that override file values.
const (
	EnvDB            = "SPEEDWATCH_DB"
	EnvPort          = "SPEEDWATCH_PORT"
	EnvInterval      = "SPEEDWATCH_INTERVAL"
	EnvLogLevel      = "SPEEDWATCH_LOG_LEVEL"
	EnvTelegramToken = "SPEEDWATCH_TELEGRAM_TOKEN"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvDB); ok {
		cfg.Storage.Path = v
	}
	if v, ok := get(EnvPort); ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalid, EnvPort, v, err)
		}
		cfg.Dashboard.Port = n
	}
	if v, ok := get(EnvInterval); ok {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalid, EnvInterval, v, err)
		}
		cfg.Scheduler.Interval = n
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get(EnvTelegramToken); ok {
		cfg.Alerts.Telegram.Token = v
	}
	return nil
}

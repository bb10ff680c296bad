package app

import (
	"net"
	"strconv"
	"strings"
	"time"

	"speedwatch/internal/alert"
	"speedwatch/internal/config"
	"speedwatch/internal/dashboard"
	obsserver "speedwatch/internal/observability/server"
	"speedwatch/internal/storage"
	"speedwatch/internal/task/scheduler"
	"speedwatch/pkg/logx"
	"speedwatch/pkg/speedtest"
)

// Config has been validated by the time these run, so duration parse errors
// are still returned but not expected.

func StorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: busy,
	}, nil
}

func LogConfig(cfg *config.Config) logx.Config {
	f := cfg.Logging.File
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    f.Enabled,
			Path:       f.Path,
			MaxSizeMB:  f.MaxSizeMB,
			MaxBackups: f.MaxBackups,
			MaxAgeDays: f.MaxAgeDays,
			Compress:   f.Compress,
		},
	}
}

// RunConfig maps the speedtest section. A non-zero timeout also bounds one
// measurement; empty or zero leaves it to the client.
func RunConfig(cfg *config.Config) (speedtest.RunConfig, time.Duration, error) {
	st := cfg.Speedtest
	timeout, err := config.ParseDurationField("speedtest.timeout", st.Timeout)
	if err != nil {
		return speedtest.RunConfig{}, 0, err
	}
	return speedtest.RunConfig{
		ServerCount:         st.ServerCount,
		SavingMode:          st.SavingMode,
		MaxConnections:      st.MaxConnections,
		PostRunFreeOSMemory: st.FreeOSMemory,
		OperationTimeout:    timeout,
		PingConcurrency:     st.PingConcurrency,
		DisableHTTP2:        st.DisableHTTP2,
	}, timeout, nil
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Interval:   cfg.Scheduler.Interval,
		RunOnStart: cfg.Scheduler.RunOnStartEnabled(),
	}
}

func dashboardConfig(cfg *config.Config) (dashboard.Config, error) {
	every, err := config.ParseDurationField("dashboard.trigger_every", cfg.Dashboard.TriggerEvery)
	if err != nil {
		return dashboard.Config{}, err
	}
	d := cfg.Dashboard
	return dashboard.Config{
		Addr:         net.JoinHostPort(strings.TrimSpace(d.Host), strconv.Itoa(d.Port)),
		TableRows:    d.TableRows,
		ChartWidth:   d.ChartWidth,
		ChartHeight:  d.ChartHeight,
		TriggerEvery: every,
	}, nil
}

func observabilityConfig(cfg *config.Config) (obsserver.Config, error) {
	o := cfg.Observability
	read, err := config.ParseDurationOrDefault("observability.read_timeout", o.ReadTimeout, 10*time.Second)
	if err != nil {
		return obsserver.Config{}, err
	}
	// Zero keeps /profile (30s+) working.
	write, err := config.ParseDurationField("observability.write_timeout", o.WriteTimeout)
	if err != nil {
		return obsserver.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("observability.idle_timeout", o.IdleTimeout, 60*time.Second)
	if err != nil {
		return obsserver.Config{}, err
	}
	return obsserver.Config{
		Enabled:              o.Enabled,
		Addr:                 strings.TrimSpace(o.Addr),
		PprofPrefix:          o.PprofPrefix,
		Token:                strings.TrimSpace(o.Token),
		AllowInsecure:        o.AllowInsecure,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
		MutexProfileFraction: o.MutexProfileFraction,
		BlockProfileRate:     o.BlockProfileRate,
	}, nil
}

func alertConfig(cfg *config.Config) (alert.Config, error) {
	a := cfg.Alerts
	gap, err := config.ParseDurationField("alerts.min_gap", a.MinGap)
	if err != nil {
		return alert.Config{}, err
	}
	return alert.Config{
		Enabled:       a.Enabled,
		AfterFailures: a.AfterFailures,
		Recovery:      a.Recovery,
		MinGap:        gap,
		Telegram: alert.TelegramConfig{
			Token:    strings.TrimSpace(a.Telegram.Token),
			ChatID:   a.Telegram.ChatID,
			ThreadID: a.Telegram.ThreadID,
		},
	}, nil
}

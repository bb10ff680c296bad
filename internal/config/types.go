// Package config loads speedwatch settings from an optional JSON or YAML file
// plus environment overrides, and watches the file for changes.
package config

// Config is the full settings tree. Durations are Go duration strings
// ("500ms", "2m"); empty means the component default.
type Config struct {
	Storage       StorageConfig       `json:"storage"`
	Dashboard     DashboardConfig     `json:"dashboard"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Speedtest     SpeedtestConfig     `json:"speedtest"`
	Logging       LoggingConfig       `json:"logging"`
	Observability ObservabilityConfig `json:"observability"`
	Alerts        AlertsConfig        `json:"alerts"`
}

// StorageConfig selects where samples are appended.
//
//	"storage": { "driver": "sqlite", "path": "./data/speedtest.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"` // sqlite (default) or jsonl
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type DashboardConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// BufferSize is how many recent samples are kept in memory and drawn.
	BufferSize  int `json:"buffer_size,omitempty"`
	TableRows   int `json:"table_rows,omitempty"`
	ChartWidth  int `json:"chart_width,omitempty"`
	ChartHeight int `json:"chart_height,omitempty"`

	// TriggerEvery is the minimum gap between manual runs from the page.
	TriggerEvery string `json:"trigger_every,omitempty"`
}

type SchedulerConfig struct {
	// Interval is in seconds, within [10, 3600].
	Interval int `json:"interval,omitempty"`
	// RunOnStart defaults to true when omitted.
	RunOnStart *bool `json:"run_on_start,omitempty"`
}

type SpeedtestConfig struct {
	ServerCount     int    `json:"server_count,omitempty"`
	MaxConnections  int    `json:"max_connections,omitempty"`
	PingConcurrency int    `json:"ping_concurrency,omitempty"`
	SavingMode      bool   `json:"saving_mode,omitempty"`
	Timeout         string `json:"timeout,omitempty"`
	DisableHTTP2    bool   `json:"disable_http2,omitempty"`
	FreeOSMemory    bool   `json:"free_os_memory,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// ObservabilityConfig controls the metrics and pprof listener.
//
// Bind to loopback, or set a token, or explicitly allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	PprofPrefix   string `json:"pprof_prefix,omitempty"`
	Token         string `json:"token,omitempty"` // do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

type AlertsConfig struct {
	Enabled       bool           `json:"enabled"`
	AfterFailures int            `json:"after_failures,omitempty"`
	Recovery      bool           `json:"recovery,omitempty"`
	MinGap        string         `json:"min_gap,omitempty"`
	Telegram      TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"` // do not log
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// RunOnStartEnabled resolves the optional flag.
func (s SchedulerConfig) RunOnStartEnabled() bool {
	return s.RunOnStart == nil || *s.RunOnStart
}

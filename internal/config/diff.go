package config

import (
	"reflect"
	"sort"
	"strings"

	"speedwatch/pkg/logx"
)

// SummarizeChange lists the changed top-level sections and safe fields to
// log with them. Tokens are never included, only whether one is set.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dashboard, newCfg.Dashboard) {
		changed = append(changed, "dashboard")
		attrs = append(attrs,
			logx.Int("dashboard.port", newCfg.Dashboard.Port),
			logx.Int("dashboard.table_rows", newCfg.Dashboard.TableRows),
		)
	}
	if oldCfg.Scheduler.Interval != newCfg.Scheduler.Interval ||
		oldCfg.Scheduler.RunOnStartEnabled() != newCfg.Scheduler.RunOnStartEnabled() {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Int("scheduler.interval", newCfg.Scheduler.Interval),
			logx.Bool("scheduler.run_on_start", newCfg.Scheduler.RunOnStartEnabled()),
		)
	}
	if !reflect.DeepEqual(oldCfg.Speedtest, newCfg.Speedtest) {
		changed = append(changed, "speedtest")
		attrs = append(attrs,
			logx.Int("speedtest.server_count", newCfg.Speedtest.ServerCount),
			logx.String("speedtest.timeout", newCfg.Speedtest.Timeout),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Observability, newCfg.Observability) {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", newCfg.Observability.Enabled),
			logx.String("observability.addr", newCfg.Observability.Addr),
			logx.Bool("observability.token_set", strings.TrimSpace(newCfg.Observability.Token) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.enabled", newCfg.Alerts.Enabled),
			logx.Int("alerts.after_failures", newCfg.Alerts.AfterFailures),
			logx.Bool("alerts.token_set", strings.TrimSpace(newCfg.Alerts.Telegram.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports sections that only take effect on restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "storage", "dashboard", "speedtest", "observability", "alerts":
			out = append(out, s)
		}
	}
	return out
}

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestDefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := NewManager("", WithLookup(noEnv)).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != "./data/speedtest.db" {
		t.Fatalf("storage defaults: %+v", cfg.Storage)
	}
	if cfg.Dashboard.Port != 5006 || cfg.Dashboard.BufferSize != 100 || cfg.Dashboard.TableRows != 10 {
		t.Fatalf("dashboard defaults: %+v", cfg.Dashboard)
	}
	if cfg.Scheduler.Interval != 60 || !cfg.Scheduler.RunOnStartEnabled() {
		t.Fatalf("scheduler defaults: %+v", cfg.Scheduler)
	}
}

func TestMissingFileIsDefaults(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "absent.json")
	cfg, err := NewManager(p, WithLookup(noEnv)).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.Interval != 60 {
		t.Fatalf("interval %d", cfg.Scheduler.Interval)
	}
}

func TestParseFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "json",
			file: "c.json",
			body: `{"scheduler":{"interval":120,"run_on_start":false},"dashboard":{"port":8080},"storage":{"driver":"jsonl","path":"x.jsonl"}}`,
		},
		{
			name: "yaml",
			file: "c.yaml",
			body: "scheduler:\n  interval: 120\n  run_on_start: false\ndashboard:\n  port: 8080\nstorage:\n  driver: jsonl\n  path: x.jsonl\n",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := writeFile(t, t.TempDir(), tt.file, tt.body)
			cfg, err := NewManager(p, WithLookup(noEnv)).Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Scheduler.Interval != 120 || cfg.Scheduler.RunOnStartEnabled() {
				t.Fatalf("scheduler: %+v", cfg.Scheduler)
			}
			if cfg.Dashboard.Port != 8080 || cfg.Storage.Driver != "jsonl" || cfg.Storage.Path != "x.jsonl" {
				t.Fatalf("cfg: %+v", cfg)
			}
		})
	}
}

func TestStrictDecoding(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for name, body := range map[string]string{
		"unknown.json":  `{"scheduler":{"interval":60,"cron":"* * * * *"}}`,
		"trailing.json": `{"scheduler":{"interval":60}}{"x":1}`,
		"unknown.yaml":  "speedtest:\n  threads: 4\n",
		"broken.json":   `{"scheduler":`,
		"dup.yaml":      "scheduler:\n  interval: 60\n  interval: 90\n",
	} {
		p := writeFile(t, dir, name, body)
		_, err := NewManager(p, WithLookup(noEnv)).Load()
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "30", want: 30 * time.Second},
		{raw: "1.5", want: 1500 * time.Millisecond},
		{raw: " 2m ", want: 2 * time.Minute},
		{raw: "-1s", wantErr: true},
		{raw: "-5", wantErr: true},
		{raw: "soon", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("x", tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("%q: expected ErrInvalid, got %v", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("%q: got %v, %v; want %v", tt.raw, got, err, tt.want)
		}
	}

	if d, _ := ParseDurationOrDefault("x", "0", time.Minute); d != time.Minute {
		t.Fatalf("zero should fall back to default, got %v", d)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()

	p := writeFile(t, t.TempDir(), "c.json", `{"scheduler":{"interval":120},"dashboard":{"port":8080},"storage":{"path":"file.db"}}`)
	m := NewManager(p, WithLookup(envMap(map[string]string{
		EnvDB:       "/var/lib/speedwatch/env.db",
		EnvPort:     " 9090 ",
		EnvInterval: "30",
		EnvLogLevel: "debug",
	})))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Path != "/var/lib/speedwatch/env.db" || cfg.Dashboard.Port != 9090 || cfg.Scheduler.Interval != 30 || cfg.Logging.Level != "debug" {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestEnvRejectsGarbage(t *testing.T) {
	t.Parallel()

	for key, val := range map[string]string{
		EnvPort:     "http",
		EnvInterval: "soon",
	} {
		_, err := NewManager("", WithLookup(envMap(map[string]string{key: val}))).Load()
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s=%s: expected ErrInvalid, got %v", key, val, err)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "interval low", mutate: func(c *Config) { c.Scheduler.Interval = 9 }},
		{name: "interval high", mutate: func(c *Config) { c.Scheduler.Interval = 3601 }},
		{name: "interval bounds", mutate: func(c *Config) { c.Scheduler.Interval = 3600 }, ok: true},
		{name: "port", mutate: func(c *Config) { c.Dashboard.Port = 70000 }},
		{name: "driver", mutate: func(c *Config) { c.Storage.Driver = "postgres" }},
		{name: "level", mutate: func(c *Config) { c.Logging.Level = "LOUD" }},
		{name: "duration", mutate: func(c *Config) { c.Speedtest.Timeout = "forever" }},
		{name: "alerts need token", mutate: func(c *Config) { c.Alerts.Enabled = true; c.Alerts.Telegram.ChatID = 1 }},
		{name: "alerts complete", mutate: func(c *Config) {
			c.Alerts.Enabled = true
			c.Alerts.Telegram = TelegramConfig{Token: "t", ChatID: 1}
		}, ok: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	a := Default()
	b := Default()
	b.Scheduler.Interval = 300
	b.Logging.Level = "DEBUG"
	b.Alerts.Telegram.Token = "secret"

	sections, attrs := SummarizeChange(a, b)
	if want := []string{"alerts", "logging", "scheduler"}; !slices.Equal(sections, want) {
		t.Fatalf("sections: got %v want %v", sections, want)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(sections); !slices.Equal(got, []string{"alerts"}) {
		t.Fatalf("restart required: %v", got)
	}

	if s, _ := SummarizeChange(a, Default()); len(s) != 0 {
		t.Fatalf("identical configs reported %v", s)
	}
}

func TestReloadSkipsUnchangedAndInvalid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeFile(t, dir, "c.json", `{"scheduler":{"interval":60}}`)
	m := NewManager(p, WithLookup(noEnv))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(1)

	if published, err := m.Reload(); err != nil || published {
		t.Fatalf("unchanged reload: published=%v err=%v", published, err)
	}

	writeFile(t, dir, "c.json", `{"scheduler":{"interval":5}}`)
	if _, err := m.Reload(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if m.Get().Scheduler.Interval != 60 {
		t.Fatal("invalid config was committed")
	}

	writeFile(t, dir, "c.json", `{"scheduler":{"interval":90}}`)
	if published, err := m.Reload(); err != nil || !published {
		t.Fatalf("changed reload: published=%v err=%v", published, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Scheduler.Interval != 90 {
			t.Fatalf("published interval %d", cfg.Scheduler.Interval)
		}
	default:
		t.Fatal("nothing published")
	}
	m.Unsubscribe(sub)
}

func TestWatchPublishesFileChange(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := writeFile(t, dir, "c.yaml", "scheduler:\n  interval: 60\n")
	m := NewManager(p, WithLookup(noEnv), WithDebounce(20*time.Millisecond))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and sees it.
		writeFile(t, dir, "c.yaml", "scheduler:\n  interval: 45\n")
		select {
		case cfg := <-sub:
			if cfg.Scheduler.Interval != 45 {
				t.Fatalf("interval %d", cfg.Scheduler.Interval)
			}
			return
		case <-deadline:
			t.Fatal("no reload observed")
		case <-tick.C:
		}
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validYAML = `
telegram:
  token: "123:abc"
logging:
  level: info
  console: true
upstream:
  base_url: "https://interruptions.energy.cn.ua"
  timeout: "15s"
poller:
  enabled: true
  base_tick: "600s"
  cache_ttl: "300s"
  hourly_budget: 5
daily:
  enabled: true
  cutoff_hour: 21
storage:
  driver: sqlite
  path: "/tmp/svitlo.db"
`

func TestParseYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Poller.HourlyBudget != 5 || !cfg.Poller.Enabled {
		t.Errorf("poller = %+v", cfg.Poller)
	}
	if cfg.Daily.CutoffHour != 21 {
		t.Errorf("daily = %+v", cfg.Daily)
	}
	if got := m.Get(); got != cfg {
		t.Error("Get did not return committed config")
	}
}

func TestParseJSON(t *testing.T) {
	m := NewManager(writeConfig(t, "config.json",
		`{"telegram":{"token":"t"},"storage":{"path":"/tmp/x.db"}}`))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "t" || cfg.Storage.Path != "/tmp/x.db" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	m := NewManager(writeConfig(t, "config.yaml", validYAML+"\nsurprise: 1\n"))
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Fatalf("err = %v, want unknown field rejection", err)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t"},
			Storage:  StorageConfig{Driver: "sqlite", Path: "/tmp/x.db"},
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing token", func(c *Config) { c.Telegram.Token = " " }, "telegram.token"},
		{"missing storage path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"bad duration", func(c *Config) { c.Poller.BaseTick = "ten minutes" }, "poller.base_tick"},
		{"negative budget", func(c *Config) { c.Poller.HourlyBudget = -1 }, "hourly_budget"},
		{"interval out of range", func(c *Config) { c.Poller.DefaultIntervalMinutes = 5 }, "default_interval_minutes"},
		{"cutoff out of range", func(c *Config) { c.Daily.CutoffHour = 24 }, "cutoff_hour"},
		{"bad timezone", func(c *Config) { c.Poller.Timezone = "Mars/Olympus" }, "poller.timezone"},
		{"telegram log without admin chat", func(c *Config) { c.Logging.Telegram.Enabled = true }, "admin_chat"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestLocationDefault(t *testing.T) {
	cfg := &Config{}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.String() != "Europe/Kyiv" {
		t.Fatalf("location = %s", loc)
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 42)
	if err != nil || d != 42 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "90s", 42)
	if err != nil || d.Seconds() != 90 {
		t.Fatalf("explicit = %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("x", "-5s", 42); err == nil {
		t.Fatal("negative duration accepted")
	}
}

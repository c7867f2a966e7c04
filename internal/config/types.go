package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Upstream UpstreamConfig `json:"upstream"`
	Poller   PollerConfig   `json:"poller"`
	Daily    DailyConfig    `json:"daily"`
	Storage  StorageConfig  `json:"storage"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminChat receives forwarded warn+ log lines when logging.telegram is
	// enabled. Empty disables forwarding.
	AdminChat string `json:"admin_chat,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// UpstreamConfig points at the utility's interruption API.
type UpstreamConfig struct {
	BaseURL string `json:"base_url"`
	// Timeout bounds every upstream call (Go duration string, default "15s").
	Timeout string `json:"timeout,omitempty"`
}

// PollerConfig controls the background interval scheduler and the shared
// request budget.
//
// Defaults (when fields are omitted/zero):
//   - base_tick: "600s"
//   - cache_ttl: "300s" (interactive path)
//   - hourly_budget: 5
//   - default_interval_minutes: 30 (clamped to [10, 1440])
//   - max_subscriptions: 5 (per user)
type PollerConfig struct {
	Enabled  bool   `json:"enabled"`
	BaseTick string `json:"base_tick,omitempty"`
	CacheTTL string `json:"cache_ttl,omitempty"`

	HourlyBudget           int `json:"hourly_budget,omitempty"`
	DefaultIntervalMinutes int `json:"default_interval_minutes,omitempty"`
	MaxSubscriptions       int `json:"max_subscriptions,omitempty"`

	Timezone string `json:"timezone,omitempty"`
}

// DailyConfig controls the day-schedule broadcaster. It runs on wall-clock
// day boundaries instead of per-subscription intervals: after CutoffHour
// (local time) the broadcaster targets tomorrow's schedule.
type DailyConfig struct {
	Enabled    bool `json:"enabled"`
	CutoffHour int  `json:"cutoff_hour,omitempty"` // default 21
	// CheckEvery is how often queue snapshots are re-compared
	// (Go duration string, default "1h").
	CheckEvery string `json:"check_every,omitempty"`
}

// StorageConfig selects the durable store.
//
// Driver values: "sqlite" (default) or "bolt".
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

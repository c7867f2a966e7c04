package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks a parsed config for internal consistency. It is the hook
// the Manager runs before committing a hot reload, so a bad edit never
// replaces a working config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if strings.TrimSpace(cfg.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "bolt", "bbolt":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}

	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"upstream.timeout", cfg.Upstream.Timeout},
		{"poller.base_tick", cfg.Poller.BaseTick},
		{"poller.cache_ttl", cfg.Poller.CacheTTL},
		{"daily.check_every", cfg.Daily.CheckEvery},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if cfg.Poller.HourlyBudget < 0 {
		return errors.New("poller.hourly_budget must be >= 0")
	}
	if cfg.Poller.MaxSubscriptions < 0 {
		return errors.New("poller.max_subscriptions must be >= 0")
	}
	if m := cfg.Poller.DefaultIntervalMinutes; m != 0 && (m < 10 || m > 1440) {
		return errors.New("poller.default_interval_minutes must be within [10, 1440]")
	}
	if h := cfg.Daily.CutoffHour; h < 0 || h > 23 {
		return errors.New("daily.cutoff_hour must be within [0, 23]")
	}
	if _, err := cfg.Location(); err != nil {
		return err
	}

	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.AdminChat) == "" {
		return errors.New("logging.telegram.enabled requires telegram.admin_chat")
	}
	return nil
}

// Location resolves the configured timezone, defaulting to Europe/Kyiv.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Poller.Timezone)
	if tz == "" {
		tz = "Europe/Kyiv"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("poller.timezone: %w", err)
	}
	return loc, nil
}

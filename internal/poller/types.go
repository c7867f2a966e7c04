// Package poller drives the polling, rate-limiting and change-notification
// engine: it decides when a tracked account is due for a refresh, spends the
// hourly request budget, detects changes and fans notifications out.
package poller

import (
	"context"
	"time"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/notifier"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/svitlo"
)

// Fetcher is the upstream client surface the poller needs.
type Fetcher interface {
	FetchStatus(ctx context.Context, account string) (*svitlo.StatusPayload, error)
	FetchDailySchedule(ctx context.Context, queueCode, date string) (*svitlo.DaySchedule, error)
}

// Broadcaster delivers computed messages to recipients.
type Broadcaster interface {
	Broadcast(ctx context.Context, chatIDs []int64, text string) notifier.Result
	Send(ctx context.Context, chatID int64, text string) error
}

// Config tunes the polling engine.
type Config struct {
	// BaseTick is the scheduler wake-up period. All interval decisions are
	// evaluated at this cadence, so effective refresh latency is the
	// configured interval rounded up to the next tick.
	BaseTick time.Duration
	// CacheTTL bounds how long a cached payload satisfies the interactive
	// check-now path without an upstream call.
	CacheTTL time.Duration
	// HourlyBudget is the admission ceiling per (chat, account) per hour.
	HourlyBudget int
	// Location is the local zone for user-facing clock times and the daily
	// schedule's day-rollover cutoff.
	Location *time.Location
}

const (
	defaultBaseTick = 600 * time.Second
	defaultCacheTTL = 300 * time.Second
	defaultBudget   = 5
)

func (c Config) withDefaults() Config {
	if c.BaseTick <= 0 {
		c.BaseTick = defaultBaseTick
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.HourlyBudget <= 0 {
		c.HourlyBudget = defaultBudget
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

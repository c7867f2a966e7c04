package storage

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrExists   = errors.New("storage: already exists")
)

const (
	MinPollIntervalMinutes     = 10
	MaxPollIntervalMinutes     = 1440
	DefaultPollIntervalMinutes = 30
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file
//   - "bolt": bbolt database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// User is a Telegram chat known to the bot.
type User struct {
	ChatID           int64
	Username         string
	FirstName        string
	LastName         string
	LangCode         string
	IsBot            bool
	MaxSubscriptions int
}

// Subscription tracks one (chat, personal account) pair.
//
// PollIntervalMinutes is always within [MinPollIntervalMinutes,
// MaxPollIntervalMinutes]; writes clamp it. LastPayload is the raw upstream
// JSON this subscription was last notified about (nil until the first
// fetch+notify cycle).
type Subscription struct {
	ID                  int64
	ChatID              int64
	Account             string
	Street              string
	QueueCode           string
	Enabled             bool
	PollIntervalMinutes int
	LastPayload         []byte
	UpdatedAt           time.Time
}

// BudgetDecision is the outcome of one ConsumeBudget call.
type BudgetDecision struct {
	Allowed         bool
	ResetAt         time.Time
	AlreadyNotified bool
}

// CacheEntry is the shared freshness cache record for one account.
type CacheEntry struct {
	Payload   []byte
	UpdatedAt time.Time
}

// ClampInterval forces minutes into the allowed polling range.
func ClampInterval(minutes int) int {
	if minutes < MinPollIntervalMinutes {
		return MinPollIntervalMinutes
	}
	if minutes > MaxPollIntervalMinutes {
		return MaxPollIntervalMinutes
	}
	return minutes
}

package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/logx"
)

// Store is the persistence API used by the poller and the command layer.
//
// Implementations must make ConsumeBudget and MarkLimitNotified atomic per
// (chatID, account) key: concurrent callers racing on the same key must not
// both be admitted past the ceiling.
type Store interface {
	// users
	UpsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, chatID int64) (*User, error)
	SetUserMaxSubscriptions(ctx context.Context, chatID int64, limit int) (bool, error)
	CountSubscriptions(ctx context.Context, chatID int64) (int, error)

	// subscriptions
	AddSubscription(ctx context.Context, s Subscription) (int64, error)
	RemoveSubscription(ctx context.Context, chatID, subID int64) (bool, error)
	ListSubscriptions(ctx context.Context, chatID int64) ([]Subscription, error)
	ListEnabledSubscriptions(ctx context.Context) ([]Subscription, error)
	GetSubscription(ctx context.Context, subID int64) (*Subscription, error)
	SetSubscriptionEnabled(ctx context.Context, chatID, subID int64, enabled bool) (bool, error)
	SetSubscriptionInterval(ctx context.Context, chatID, subID int64, minutes int) (bool, error)
	SetLastPayload(ctx context.Context, subID int64, payload []byte, at time.Time) error

	// hourly request budget
	ConsumeBudget(ctx context.Context, chatID int64, account string, now time.Time, ceiling int) (BudgetDecision, error)
	MarkLimitNotified(ctx context.Context, chatID int64, account string) error

	// shared freshness cache
	GetCached(ctx context.Context, account string) (*CacheEntry, error)
	PutCached(ctx context.Context, account string, payload []byte, at time.Time) error

	// daily queue snapshots
	ListQueues(ctx context.Context) ([]string, error)
	GetQueueSnapshot(ctx context.Context, queueCode, date string) ([]byte, error)
	PutQueueSnapshot(ctx context.Context, queueCode, date string, payload []byte, at time.Time) error
	ListChatIDsByQueue(ctx context.Context, queueCode string) ([]int64, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "bolt", "bbolt":
		return openBolt(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/logx"
)

var (
	usersBucket  = []byte("users")
	subsBucket   = []byte("subscriptions")
	limitsBucket = []byte("request_limits")
	cacheBucket  = []byte("account_cache")
	queueBucket  = []byte("queue_schedule")
)

// boltStore keeps each table as a bucket of JSON records. bbolt's
// single-writer Update transactions give the budget read-modify-write its
// per-key atomicity for free.
type boltStore struct {
	db  *bolt.DB
	log logx.Logger
}

type boltUser struct {
	ChatID           int64  `json:"chat_id"`
	Username         string `json:"username,omitempty"`
	FirstName        string `json:"first_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	LangCode         string `json:"language_code,omitempty"`
	IsBot            bool   `json:"is_bot,omitempty"`
	MaxSubscriptions int    `json:"max_subscriptions"`
	UpdatedAt        string `json:"updated_at,omitempty"`
}

type boltSub struct {
	ID                  int64  `json:"id"`
	ChatID              int64  `json:"chat_id"`
	Account             string `json:"person_accnt"`
	Street              string `json:"street,omitempty"`
	QueueCode           string `json:"queue_code,omitempty"`
	Enabled             bool   `json:"enabled"`
	PollIntervalMinutes int    `json:"poll_interval_minutes"`
	LastPayload         string `json:"last_payload,omitempty"`
	UpdatedAt           string `json:"updated_at,omitempty"`
}

type boltLimit struct {
	HourCount    int    `json:"hour_count"`
	HourResetAt  string `json:"hour_reset_at,omitempty"`
	HourNotified bool   `json:"hour_notified,omitempty"`
}

type boltCacheEntry struct {
	Payload   string `json:"payload"`
	UpdatedAt string `json:"updated_at"`
}

type boltSnapshot struct {
	Payload   string `json:"payload"`
	UpdatedAt string `json:"updated_at"`
}

func openBolt(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("bolt path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{usersBucket, subsBucket, limitsBucket, cacheBucket, queueBucket} {
			if _, createErr := tx.CreateBucketIfNotExists(b); createErr != nil {
				return createErr
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &boltStore{db: db, log: log}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

// ---- users ----

func (s *boltStore) UpsertUser(ctx context.Context, u User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		key := i64Key(u.ChatID)
		rec := boltUser{
			ChatID: u.ChatID, Username: u.Username, FirstName: u.FirstName,
			LastName: u.LastName, LangCode: u.LangCode, IsBot: u.IsBot,
			MaxSubscriptions: 5, UpdatedAt: timeStr(time.Now()),
		}
		if prev := b.Get(key); prev != nil {
			var old boltUser
			if err := json.Unmarshal(prev, &old); err == nil && old.MaxSubscriptions > 0 {
				rec.MaxSubscriptions = old.MaxSubscriptions
			}
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *boltStore) GetUser(ctx context.Context, chatID int64) (*User, error) {
	var u *User
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(usersBucket).Get(i64Key(chatID))
		if data == nil {
			return ErrNotFound
		}
		var rec boltUser
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		u = &User{
			ChatID: rec.ChatID, Username: rec.Username, FirstName: rec.FirstName,
			LastName: rec.LastName, LangCode: rec.LangCode, IsBot: rec.IsBot,
			MaxSubscriptions: rec.MaxSubscriptions,
		}
		return nil
	})
	return u, err
}

func (s *boltStore) SetUserMaxSubscriptions(ctx context.Context, chatID int64, limit int) (bool, error) {
	updated := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(usersBucket)
		key := i64Key(chatID)
		data := b.Get(key)
		if data == nil {
			return nil
		}
		var rec boltUser
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.MaxSubscriptions = limit
		rec.UpdatedAt = timeStr(time.Now())
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		updated = true
		return b.Put(key, out)
	})
	return updated, err
}

func (s *boltStore) CountSubscriptions(ctx context.Context, chatID int64) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(subsBucket).ForEach(func(_, v []byte) error {
			var rec boltSub
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.ChatID == chatID {
				n++
			}
			return nil
		})
	})
	return n, err
}

// ---- subscriptions ----

func (s *boltStore) AddSubscription(ctx context.Context, sub Subscription) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(subsBucket)
		// uniqueness on (chat_id, person_accnt)
		dup := false
		_ = b.ForEach(func(_, v []byte) error {
			var rec boltSub
			if err := json.Unmarshal(v, &rec); err == nil &&
				rec.ChatID == sub.ChatID && rec.Account == sub.Account {
				dup = true
			}
			return nil
		})
		if dup {
			return ErrExists
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		rec := boltSub{
			ID: id, ChatID: sub.ChatID, Account: sub.Account, Street: sub.Street,
			QueueCode: sub.QueueCode, Enabled: sub.Enabled,
			PollIntervalMinutes: ClampInterval(sub.PollIntervalMinutes),
			UpdatedAt:           timeStr(time.Now()),
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(i64Key(id), data)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *boltStore) RemoveSubscription(ctx context.Context, chatID, subID int64) (bool, error) {
	removed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(subsBucket)
		data := b.Get(i64Key(subID))
		if data == nil {
			return nil
		}
		var rec boltSub
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if rec.ChatID != chatID {
			return nil
		}
		removed = true
		return b.Delete(i64Key(subID))
	})
	return removed, err
}

func (s *boltStore) ListSubscriptions(ctx context.Context, chatID int64) ([]Subscription, error) {
	return s.filterSubs(func(rec *boltSub) bool { return rec.ChatID == chatID })
}

func (s *boltStore) ListEnabledSubscriptions(ctx context.Context) ([]Subscription, error) {
	subs, err := s.filterSubs(func(rec *boltSub) bool { return rec.Enabled })
	if err != nil {
		return nil, err
	}
	sort.Slice(subs, func(i, j int) bool {
		if subs[i].Account != subs[j].Account {
			return subs[i].Account < subs[j].Account
		}
		return subs[i].ChatID < subs[j].ChatID
	})
	return subs, nil
}

func (s *boltStore) GetSubscription(ctx context.Context, subID int64) (*Subscription, error) {
	var sub *Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(subsBucket).Get(i64Key(subID))
		if data == nil {
			return ErrNotFound
		}
		rec := new(boltSub)
		if err := json.Unmarshal(data, rec); err != nil {
			return err
		}
		sub = rec.domain()
		return nil
	})
	return sub, err
}

func (s *boltStore) SetSubscriptionEnabled(ctx context.Context, chatID, subID int64, enabled bool) (bool, error) {
	return s.updateSub(chatID, subID, func(rec *boltSub) { rec.Enabled = enabled })
}

func (s *boltStore) SetSubscriptionInterval(ctx context.Context, chatID, subID int64, minutes int) (bool, error) {
	return s.updateSub(chatID, subID, func(rec *boltSub) {
		rec.PollIntervalMinutes = ClampInterval(minutes)
	})
}

func (s *boltStore) SetLastPayload(ctx context.Context, subID int64, payload []byte, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(subsBucket)
		data := b.Get(i64Key(subID))
		if data == nil {
			return ErrNotFound
		}
		var rec boltSub
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		rec.LastPayload = string(payload)
		rec.UpdatedAt = timeStr(at)
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(i64Key(subID), out)
	})
}

// ---- hourly request budget ----

func (s *boltStore) ConsumeBudget(ctx context.Context, chatID int64, account string, now time.Time, ceiling int) (BudgetDecision, error) {
	var dec BudgetDecision
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(limitsBucket)
		key := limitKey(chatID, account)

		var rec boltLimit
		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &rec); err != nil {
				rec = boltLimit{}
			}
		}

		resetAt, _ := parseTime(rec.HourResetAt)
		if resetAt.IsZero() || !now.Before(resetAt) {
			rec.HourCount = 0
			rec.HourNotified = false
			resetAt = now.Add(time.Hour)
			rec.HourResetAt = timeStr(resetAt)
		}

		if rec.HourCount >= ceiling {
			dec = BudgetDecision{Allowed: false, ResetAt: resetAt, AlreadyNotified: rec.HourNotified}
			// persist a window reset that may have just happened
			data, err := json.Marshal(rec)
			if err != nil {
				return err
			}
			return b.Put(key, data)
		}

		rec.HourCount++
		dec = BudgetDecision{Allowed: true, ResetAt: resetAt, AlreadyNotified: rec.HourNotified}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	if err != nil {
		return BudgetDecision{}, err
	}
	return dec, nil
}

func (s *boltStore) MarkLimitNotified(ctx context.Context, chatID int64, account string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(limitsBucket)
		key := limitKey(chatID, account)
		var rec boltLimit
		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &rec); err != nil {
				rec = boltLimit{}
			}
		}
		rec.HourNotified = true
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// ---- shared freshness cache ----

func (s *boltStore) GetCached(ctx context.Context, account string) (*CacheEntry, error) {
	var entry *CacheEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(cacheBucket).Get([]byte(account))
		if data == nil {
			return ErrNotFound
		}
		var rec boltCacheEntry
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		at, err := parseTime(rec.UpdatedAt)
		if err != nil || rec.Payload == "" {
			return ErrNotFound
		}
		entry = &CacheEntry{Payload: []byte(rec.Payload), UpdatedAt: at}
		return nil
	})
	return entry, err
}

func (s *boltStore) PutCached(ctx context.Context, account string, payload []byte, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(boltCacheEntry{Payload: string(payload), UpdatedAt: timeStr(at)})
		if err != nil {
			return err
		}
		return tx.Bucket(cacheBucket).Put([]byte(account), data)
	})
}

// ---- daily queue snapshots ----

func (s *boltStore) ListQueues(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(subsBucket).ForEach(func(_, v []byte) error {
			var rec boltSub
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Enabled && rec.QueueCode != "" {
				seen[rec.QueueCode] = true
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for q := range seen {
		out = append(out, q)
	}
	sort.Strings(out)
	return out, nil
}

func (s *boltStore) GetQueueSnapshot(ctx context.Context, queueCode, date string) ([]byte, error) {
	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(queueBucket).Get(snapshotKey(queueCode, date))
		if data == nil {
			return ErrNotFound
		}
		var rec boltSnapshot
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		payload = []byte(rec.Payload)
		return nil
	})
	return payload, err
}

func (s *boltStore) PutQueueSnapshot(ctx context.Context, queueCode, date string, payload []byte, at time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(boltSnapshot{Payload: string(payload), UpdatedAt: timeStr(at)})
		if err != nil {
			return err
		}
		return tx.Bucket(queueBucket).Put(snapshotKey(queueCode, date), data)
	})
}

func (s *boltStore) ListChatIDsByQueue(ctx context.Context, queueCode string) ([]int64, error) {
	seen := map[int64]bool{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(subsBucket).ForEach(func(_, v []byte) error {
			var rec boltSub
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.Enabled && rec.QueueCode == queueCode {
				seen[rec.ChatID] = true
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ---- helpers ----

func (s *boltStore) filterSubs(keep func(*boltSub) bool) ([]Subscription, error) {
	var out []Subscription
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(subsBucket).ForEach(func(_, v []byte) error {
			rec := new(boltSub)
			if err := json.Unmarshal(v, rec); err != nil {
				return err
			}
			if keep(rec) {
				out = append(out, *rec.domain())
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *boltStore) updateSub(chatID, subID int64, mutate func(*boltSub)) (bool, error) {
	updated := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(subsBucket)
		data := b.Get(i64Key(subID))
		if data == nil {
			return nil
		}
		var rec boltSub
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if rec.ChatID != chatID {
			return nil
		}
		mutate(&rec)
		rec.UpdatedAt = timeStr(time.Now())
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		updated = true
		return b.Put(i64Key(subID), out)
	})
	return updated, err
}

func (r *boltSub) domain() *Subscription {
	sub := &Subscription{
		ID: r.ID, ChatID: r.ChatID, Account: r.Account, Street: r.Street,
		QueueCode: r.QueueCode, Enabled: r.Enabled,
		PollIntervalMinutes: r.PollIntervalMinutes,
	}
	if r.LastPayload != "" {
		sub.LastPayload = []byte(r.LastPayload)
	}
	if r.UpdatedAt != "" {
		sub.UpdatedAt, _ = parseTime(r.UpdatedAt)
	}
	return sub
}

func i64Key(v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b[:]
}

func limitKey(chatID int64, account string) []byte {
	return []byte(fmt.Sprintf("%d|%s", chatID, account))
}

func snapshotKey(queueCode, date string) []byte {
	return []byte(queueCode + "|" + date)
}

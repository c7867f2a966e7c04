package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection also serializes the
	// budget read-modify-write without SELECT ... FOR UPDATE gymnastics.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- users ----

func (s *sqliteStore) UpsertUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(chat_id, username, first_name, last_name, language_code, is_bot, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   username=excluded.username,
		   first_name=excluded.first_name,
		   last_name=excluded.last_name,
		   language_code=excluded.language_code,
		   is_bot=excluded.is_bot,
		   updated_at=excluded.updated_at`,
		u.ChatID, nullStr(u.Username), nullStr(u.FirstName), nullStr(u.LastName),
		nullStr(u.LangCode), boolInt(u.IsBot), timeStr(time.Now()),
	)
	return err
}

func (s *sqliteStore) GetUser(ctx context.Context, chatID int64) (*User, error) {
	var (
		u                           User
		username, first, last, lang sql.NullString
		isBot                       int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, username, first_name, last_name, language_code, is_bot, max_subscriptions
		 FROM users WHERE chat_id = ?`, chatID,
	).Scan(&u.ChatID, &username, &first, &last, &lang, &isBot, &u.MaxSubscriptions)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Username, u.FirstName, u.LastName, u.LangCode = username.String, first.String, last.String, lang.String
	u.IsBot = isBot != 0
	return &u, nil
}

func (s *sqliteStore) SetUserMaxSubscriptions(ctx context.Context, chatID int64, limit int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET max_subscriptions = ?, updated_at = ? WHERE chat_id = ?`,
		limit, timeStr(time.Now()), chatID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) CountSubscriptions(ctx context.Context, chatID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE chat_id = ?`, chatID).Scan(&n)
	return n, err
}

// ---- subscriptions ----

func (s *sqliteStore) AddSubscription(ctx context.Context, sub Subscription) (int64, error) {
	interval := ClampInterval(sub.PollIntervalMinutes)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(chat_id, person_accnt, street, queue_code, enabled, poll_interval_minutes, updated_at)
		 VALUES(?,?,?,?,?,?,?)`,
		sub.ChatID, sub.Account, sub.Street, sub.QueueCode, boolInt(sub.Enabled), interval, timeStr(time.Now()),
	)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "unique") {
			return 0, ErrExists
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (s *sqliteStore) RemoveSubscription(ctx context.Context, chatID, subID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE chat_id = ? AND id = ?`, chatID, subID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

const subColumns = `id, chat_id, person_accnt, street, queue_code, enabled, poll_interval_minutes, last_payload, updated_at`

func (s *sqliteStore) ListSubscriptions(ctx context.Context, chatID int64) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subColumns+` FROM subscriptions WHERE chat_id = ? ORDER BY id`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubs(rows)
}

func (s *sqliteStore) ListEnabledSubscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subColumns+` FROM subscriptions WHERE enabled = 1 ORDER BY person_accnt, chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSubs(rows)
}

func (s *sqliteStore) GetSubscription(ctx context.Context, subID int64) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subColumns+` FROM subscriptions WHERE id = ?`, subID)
	sub, err := scanSub(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *sqliteStore) SetSubscriptionEnabled(ctx context.Context, chatID, subID int64, enabled bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET enabled = ?, updated_at = ? WHERE id = ? AND chat_id = ?`,
		boolInt(enabled), timeStr(time.Now()), subID, chatID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) SetSubscriptionInterval(ctx context.Context, chatID, subID int64, minutes int) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET poll_interval_minutes = ?, updated_at = ? WHERE id = ? AND chat_id = ?`,
		ClampInterval(minutes), timeStr(time.Now()), subID, chatID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) SetLastPayload(ctx context.Context, subID int64, payload []byte, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_payload = ?, updated_at = ? WHERE id = ?`,
		nullBytes(payload), timeStr(at), subID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- hourly request budget ----

func (s *sqliteStore) ConsumeBudget(ctx context.Context, chatID int64, account string, now time.Time, ceiling int) (BudgetDecision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return BudgetDecision{}, err
	}
	defer tx.Rollback()

	var (
		count    int
		resetRaw sql.NullString
		notified int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT hour_count, hour_reset_at, hour_notified FROM request_limits WHERE chat_id = ? AND person_accnt = ?`,
		chatID, account,
	).Scan(&count, &resetRaw, &notified)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		count, notified = 0, 0
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO request_limits(chat_id, person_accnt) VALUES(?,?)`, chatID, account); err != nil {
			return BudgetDecision{}, err
		}
	case err != nil:
		return BudgetDecision{}, err
	}

	resetAt, _ := parseTime(resetRaw.String)
	if resetAt.IsZero() || !now.Before(resetAt) {
		count, notified = 0, 0
		resetAt = now.Add(time.Hour)
	}

	if count >= ceiling {
		if err := tx.Commit(); err != nil {
			return BudgetDecision{}, err
		}
		return BudgetDecision{Allowed: false, ResetAt: resetAt, AlreadyNotified: notified != 0}, nil
	}

	count++
	if _, err := tx.ExecContext(ctx,
		`UPDATE request_limits SET hour_count = ?, hour_reset_at = ?, hour_notified = ? WHERE chat_id = ? AND person_accnt = ?`,
		count, timeStr(resetAt), notified, chatID, account); err != nil {
		return BudgetDecision{}, err
	}
	if err := tx.Commit(); err != nil {
		return BudgetDecision{}, err
	}
	return BudgetDecision{Allowed: true, ResetAt: resetAt, AlreadyNotified: notified != 0}, nil
}

func (s *sqliteStore) MarkLimitNotified(ctx context.Context, chatID int64, account string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE request_limits SET hour_notified = 1 WHERE chat_id = ? AND person_accnt = ?`,
		chatID, account)
	return err
}

// ---- shared freshness cache ----

func (s *sqliteStore) GetCached(ctx context.Context, account string) (*CacheEntry, error) {
	var (
		payload sql.NullString
		raw     sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, updated_at FROM account_cache WHERE person_accnt = ?`, account,
	).Scan(&payload, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !payload.Valid || payload.String == "" {
		return nil, ErrNotFound
	}
	at, err := parseTime(raw.String)
	if err != nil {
		return nil, ErrNotFound
	}
	return &CacheEntry{Payload: []byte(payload.String), UpdatedAt: at}, nil
}

func (s *sqliteStore) PutCached(ctx context.Context, account string, payload []byte, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account_cache(person_accnt, payload, updated_at) VALUES(?,?,?)
		 ON CONFLICT(person_accnt) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		account, string(payload), timeStr(at))
	return err
}

// ---- daily queue snapshots ----

func (s *sqliteStore) ListQueues(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT queue_code FROM subscriptions
		 WHERE enabled = 1 AND queue_code <> '' ORDER BY queue_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetQueueSnapshot(ctx context.Context, queueCode, date string) ([]byte, error) {
	var payload sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM queue_schedule WHERE queue_code = ? AND sched_date = ?`,
		queueCode, date).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !payload.Valid {
		return nil, ErrNotFound
	}
	return []byte(payload.String), nil
}

func (s *sqliteStore) PutQueueSnapshot(ctx context.Context, queueCode, date string, payload []byte, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_schedule(queue_code, sched_date, payload, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(queue_code, sched_date) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		queueCode, date, string(payload), timeStr(at))
	return err
}

func (s *sqliteStore) ListChatIDsByQueue(ctx context.Context, queueCode string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT chat_id FROM subscriptions WHERE enabled = 1 AND queue_code = ? ORDER BY chat_id`,
		queueCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ---- scan helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSub(r rowScanner) (*Subscription, error) {
	var (
		sub     Subscription
		enabled int
		payload sql.NullString
		raw     sql.NullString
	)
	if err := r.Scan(&sub.ID, &sub.ChatID, &sub.Account, &sub.Street, &sub.QueueCode,
		&enabled, &sub.PollIntervalMinutes, &payload, &raw); err != nil {
		return nil, err
	}
	sub.Enabled = enabled != 0
	if payload.Valid && payload.String != "" {
		sub.LastPayload = []byte(payload.String)
	}
	if raw.Valid {
		sub.UpdatedAt, _ = parseTime(raw.String)
	}
	return &sub, nil
}

func scanSubs(rows *sql.Rows) ([]Subscription, error) {
	var out []Subscription
	for rows.Next() {
		sub, err := scanSub(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeStr(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, errors.New("empty time")
	}
	return time.Parse(time.RFC3339Nano, s)
}

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/logx"
)

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	st, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "data.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open %s store: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func forEachDriver(t *testing.T, run func(t *testing.T, st Store)) {
	for _, driver := range []string{"sqlite", "bolt"} {
		t.Run(driver, func(t *testing.T) {
			run(t, openTestStore(t, driver))
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop())
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestUserRoundTrip(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		if _, err := st.GetUser(ctx, 100); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetUser on empty store: got %v, want ErrNotFound", err)
		}

		u := User{ChatID: 100, Username: "olena", FirstName: "Олена", LangCode: "uk"}
		if err := st.UpsertUser(ctx, u); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}

		got, err := st.GetUser(ctx, 100)
		if err != nil {
			t.Fatalf("GetUser: %v", err)
		}
		if got.Username != "olena" || got.FirstName != "Олена" {
			t.Fatalf("unexpected user: %+v", got)
		}
		if got.MaxSubscriptions != 5 {
			t.Fatalf("MaxSubscriptions = %d, want default 5", got.MaxSubscriptions)
		}

		// re-upsert must not wipe the subscription allowance
		u.Username = "olena_v2"
		if err := st.UpsertUser(ctx, u); err != nil {
			t.Fatalf("second UpsertUser: %v", err)
		}
		got, err = st.GetUser(ctx, 100)
		if err != nil {
			t.Fatalf("GetUser after update: %v", err)
		}
		if got.Username != "olena_v2" || got.MaxSubscriptions != 5 {
			t.Fatalf("update lost fields: %+v", got)
		}

		// explicit allowance override sticks across re-upserts
		ok, err := st.SetUserMaxSubscriptions(ctx, 100, 2)
		if err != nil || !ok {
			t.Fatalf("SetUserMaxSubscriptions = %v, %v", ok, err)
		}
		if err := st.UpsertUser(ctx, u); err != nil {
			t.Fatalf("UpsertUser after override: %v", err)
		}
		got, err = st.GetUser(ctx, 100)
		if err != nil || got.MaxSubscriptions != 2 {
			t.Fatalf("MaxSubscriptions = %+v, %v; want override 2", got, err)
		}

		// unknown chat reports no row
		ok, err = st.SetUserMaxSubscriptions(ctx, 999, 2)
		if err != nil || ok {
			t.Fatalf("SetUserMaxSubscriptions unknown chat = %v, %v", ok, err)
		}
	})
}

func TestSubscriptionLifecycle(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		id, err := st.AddSubscription(ctx, Subscription{
			ChatID: 1, Account: "45000123", Street: "вул. Шевченка, 10",
			QueueCode: "3.1", Enabled: true, PollIntervalMinutes: 30,
		})
		if err != nil {
			t.Fatalf("AddSubscription: %v", err)
		}
		if id == 0 {
			t.Fatal("AddSubscription returned zero id")
		}

		// duplicate (chat, account) pair rejected
		if _, err := st.AddSubscription(ctx, Subscription{ChatID: 1, Account: "45000123", Enabled: true}); !errors.Is(err, ErrExists) {
			t.Fatalf("duplicate AddSubscription: got %v, want ErrExists", err)
		}

		// same account for a different chat is fine
		if _, err := st.AddSubscription(ctx, Subscription{ChatID: 2, Account: "45000123", Enabled: true, PollIntervalMinutes: 20}); err != nil {
			t.Fatalf("AddSubscription other chat: %v", err)
		}

		n, err := st.CountSubscriptions(ctx, 1)
		if err != nil || n != 1 {
			t.Fatalf("CountSubscriptions = %d, %v; want 1, nil", n, err)
		}

		subs, err := st.ListSubscriptions(ctx, 1)
		if err != nil || len(subs) != 1 {
			t.Fatalf("ListSubscriptions = %v, %v", subs, err)
		}
		if subs[0].QueueCode != "3.1" || !subs[0].Enabled {
			t.Fatalf("unexpected subscription: %+v", subs[0])
		}

		ok, err := st.SetSubscriptionEnabled(ctx, 1, id, false)
		if err != nil || !ok {
			t.Fatalf("SetSubscriptionEnabled = %v, %v", ok, err)
		}
		enabled, err := st.ListEnabledSubscriptions(ctx)
		if err != nil {
			t.Fatalf("ListEnabledSubscriptions: %v", err)
		}
		for _, s := range enabled {
			if s.ID == id {
				t.Fatal("disabled subscription still listed as enabled")
			}
		}

		// removal scoped to the owning chat
		removed, err := st.RemoveSubscription(ctx, 99, id)
		if err != nil || removed {
			t.Fatalf("RemoveSubscription wrong chat = %v, %v; want false, nil", removed, err)
		}
		removed, err = st.RemoveSubscription(ctx, 1, id)
		if err != nil || !removed {
			t.Fatalf("RemoveSubscription = %v, %v; want true, nil", removed, err)
		}
		if _, err := st.GetSubscription(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetSubscription after remove: got %v, want ErrNotFound", err)
		}
	})
}

func TestIntervalClamped(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		id, err := st.AddSubscription(ctx, Subscription{ChatID: 7, Account: "A", Enabled: true, PollIntervalMinutes: 3})
		if err != nil {
			t.Fatalf("AddSubscription: %v", err)
		}
		sub, err := st.GetSubscription(ctx, id)
		if err != nil {
			t.Fatalf("GetSubscription: %v", err)
		}
		if sub.PollIntervalMinutes != MinPollIntervalMinutes {
			t.Fatalf("interval = %d, want clamped to %d", sub.PollIntervalMinutes, MinPollIntervalMinutes)
		}

		if _, err := st.SetSubscriptionInterval(ctx, 7, id, 5000); err != nil {
			t.Fatalf("SetSubscriptionInterval: %v", err)
		}
		sub, _ = st.GetSubscription(ctx, id)
		if sub.PollIntervalMinutes != MaxPollIntervalMinutes {
			t.Fatalf("interval = %d, want clamped to %d", sub.PollIntervalMinutes, MaxPollIntervalMinutes)
		}
	})
}

func TestLastPayloadPersisted(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		id, err := st.AddSubscription(ctx, Subscription{ChatID: 3, Account: "B", Enabled: true, PollIntervalMinutes: 30})
		if err != nil {
			t.Fatalf("AddSubscription: %v", err)
		}

		payload := []byte(`{"status":"ok","data":{"1":"є світло"}}`)
		if err := st.SetLastPayload(ctx, id, payload, time.Now()); err != nil {
			t.Fatalf("SetLastPayload: %v", err)
		}
		sub, err := st.GetSubscription(ctx, id)
		if err != nil {
			t.Fatalf("GetSubscription: %v", err)
		}
		if string(sub.LastPayload) != string(payload) {
			t.Fatalf("LastPayload = %q, want %q", sub.LastPayload, payload)
		}

		if err := st.SetLastPayload(ctx, 424242, payload, time.Now()); !errors.Is(err, ErrNotFound) {
			t.Fatalf("SetLastPayload missing sub: got %v, want ErrNotFound", err)
		}
	})
}

func TestConsumeBudgetCeiling(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

		for i := 0; i < 5; i++ {
			dec, err := st.ConsumeBudget(ctx, 10, "ACC", now, 5)
			if err != nil {
				t.Fatalf("ConsumeBudget %d: %v", i, err)
			}
			if !dec.Allowed {
				t.Fatalf("admission %d denied under ceiling", i)
			}
			if !dec.ResetAt.Equal(now.Add(time.Hour)) {
				t.Fatalf("ResetAt = %v, want %v", dec.ResetAt, now.Add(time.Hour))
			}
		}

		dec, err := st.ConsumeBudget(ctx, 10, "ACC", now.Add(time.Minute), 5)
		if err != nil {
			t.Fatalf("ConsumeBudget over ceiling: %v", err)
		}
		if dec.Allowed {
			t.Fatal("sixth admission allowed past ceiling")
		}
		if dec.AlreadyNotified {
			t.Fatal("AlreadyNotified set before MarkLimitNotified")
		}

		if err := st.MarkLimitNotified(ctx, 10, "ACC"); err != nil {
			t.Fatalf("MarkLimitNotified: %v", err)
		}
		dec, err = st.ConsumeBudget(ctx, 10, "ACC", now.Add(2*time.Minute), 5)
		if err != nil {
			t.Fatalf("ConsumeBudget after mark: %v", err)
		}
		if dec.Allowed || !dec.AlreadyNotified {
			t.Fatalf("after mark: %+v, want denied with AlreadyNotified", dec)
		}

		// the window rolls over and the flag resets with it
		later := now.Add(time.Hour + time.Second)
		dec, err = st.ConsumeBudget(ctx, 10, "ACC", later, 5)
		if err != nil {
			t.Fatalf("ConsumeBudget next window: %v", err)
		}
		if !dec.Allowed || dec.AlreadyNotified {
			t.Fatalf("next window: %+v, want allowed with flag cleared", dec)
		}
		if !dec.ResetAt.Equal(later.Add(time.Hour)) {
			t.Fatalf("next window ResetAt = %v, want %v", dec.ResetAt, later.Add(time.Hour))
		}
	})
}

func TestBudgetKeysIndependent(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := time.Now()

		for i := 0; i < 3; i++ {
			if _, err := st.ConsumeBudget(ctx, 1, "A", now, 3); err != nil {
				t.Fatalf("ConsumeBudget: %v", err)
			}
		}
		if dec, _ := st.ConsumeBudget(ctx, 1, "A", now, 3); dec.Allowed {
			t.Fatal("exhausted key still admits")
		}

		// a different account under the same chat has its own budget
		if dec, err := st.ConsumeBudget(ctx, 1, "B", now, 3); err != nil || !dec.Allowed {
			t.Fatalf("ConsumeBudget other account = %+v, %v", dec, err)
		}
		// and so does another chat on the same account
		if dec, err := st.ConsumeBudget(ctx, 2, "A", now, 3); err != nil || !dec.Allowed {
			t.Fatalf("ConsumeBudget other chat = %+v, %v", dec, err)
		}
	})
}

func TestCacheRoundTrip(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		if _, err := st.GetCached(ctx, "NONE"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetCached empty: got %v, want ErrNotFound", err)
		}

		at := time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC)
		if err := st.PutCached(ctx, "ACC", []byte(`{"v":1}`), at); err != nil {
			t.Fatalf("PutCached: %v", err)
		}
		entry, err := st.GetCached(ctx, "ACC")
		if err != nil {
			t.Fatalf("GetCached: %v", err)
		}
		if string(entry.Payload) != `{"v":1}` || !entry.UpdatedAt.Equal(at) {
			t.Fatalf("unexpected entry: %+v", entry)
		}

		// newer payload replaces the old one
		at2 := at.Add(10 * time.Minute)
		if err := st.PutCached(ctx, "ACC", []byte(`{"v":2}`), at2); err != nil {
			t.Fatalf("PutCached update: %v", err)
		}
		entry, _ = st.GetCached(ctx, "ACC")
		if string(entry.Payload) != `{"v":2}` || !entry.UpdatedAt.Equal(at2) {
			t.Fatalf("stale entry after update: %+v", entry)
		}
	})
}

func TestQueueSnapshots(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		if _, err := st.GetQueueSnapshot(ctx, "3.1", "2026-02-01"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("GetQueueSnapshot empty: got %v, want ErrNotFound", err)
		}

		if err := st.PutQueueSnapshot(ctx, "3.1", "2026-02-01", []byte(`["07:00-11:00"]`), time.Now()); err != nil {
			t.Fatalf("PutQueueSnapshot: %v", err)
		}
		got, err := st.GetQueueSnapshot(ctx, "3.1", "2026-02-01")
		if err != nil {
			t.Fatalf("GetQueueSnapshot: %v", err)
		}
		if string(got) != `["07:00-11:00"]` {
			t.Fatalf("snapshot = %q", got)
		}

		// keyed by (queue, date); other dates stay separate
		if _, err := st.GetQueueSnapshot(ctx, "3.1", "2026-02-02"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("other date: got %v, want ErrNotFound", err)
		}
	})
}

func TestQueueFanOut(t *testing.T) {
	forEachDriver(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		mustAdd := func(chat int64, account, queue string, enabled bool) {
			t.Helper()
			if _, err := st.AddSubscription(ctx, Subscription{
				ChatID: chat, Account: account, QueueCode: queue,
				Enabled: enabled, PollIntervalMinutes: 30,
			}); err != nil {
				t.Fatalf("AddSubscription: %v", err)
			}
		}
		mustAdd(1, "A1", "3.1", true)
		mustAdd(2, "A2", "3.1", true)
		mustAdd(2, "A3", "3.1", true) // same chat twice, must dedupe
		mustAdd(3, "A4", "5.2", true)
		mustAdd(4, "A5", "3.1", false) // disabled, excluded
		mustAdd(5, "A6", "", true)     // no queue, excluded from ListQueues

		queues, err := st.ListQueues(ctx)
		if err != nil {
			t.Fatalf("ListQueues: %v", err)
		}
		if len(queues) != 2 || queues[0] != "3.1" || queues[1] != "5.2" {
			t.Fatalf("ListQueues = %v", queues)
		}

		chats, err := st.ListChatIDsByQueue(ctx, "3.1")
		if err != nil {
			t.Fatalf("ListChatIDsByQueue: %v", err)
		}
		if len(chats) != 2 || chats[0] != 1 || chats[1] != 2 {
			t.Fatalf("ListChatIDsByQueue = %v", chats)
		}
	})
}

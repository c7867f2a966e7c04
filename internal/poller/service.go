package poller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/schedule"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/storage"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/svitlo"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/logx"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/tgui"
)

// Service is the background interval scheduler. One instance runs per
// process; the interactive check-now path shares its limiter and cache
// through the same store.
type Service struct {
	store  storage.Store
	fetch  Fetcher
	notify Broadcaster
	cfg    Config
	log    logx.Logger

	now func() time.Time
}

func New(store storage.Store, fetch Fetcher, notify Broadcaster, cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:  store,
		fetch:  fetch,
		notify: notify,
		cfg:    cfg.withDefaults(),
		log:    log,
		now:    time.Now,
	}
}

// Run drives the tick loop until ctx is cancelled. Cancellation is
// tick-granular: the current tick finishes, then the loop stops before the
// next sleep.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("poller: started",
		logx.Duration("base_tick", s.cfg.BaseTick),
		logx.Int("hourly_budget", s.cfg.HourlyBudget))

	ticker := time.NewTicker(s.cfg.BaseTick)
	defer ticker.Stop()

	for {
		s.safeTick(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("poller: stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// safeTick isolates one tick; a panic or error must never kill the loop.
func (s *Service) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("poller: tick panicked", logx.Any("panic", r))
		}
	}()
	if err := s.tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("poller: tick failed", logx.Err(err))
	}
}

// accountGroup is every enabled subscription sharing one personal account.
type accountGroup struct {
	account string
	subs    []storage.Subscription
}

func (s *Service) tick(ctx context.Context) error {
	subs, err := s.store.ListEnabledSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	for _, group := range groupByAccount(subs) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.pollGroup(ctx, group)
	}
	return nil
}

func groupByAccount(subs []storage.Subscription) []accountGroup {
	byAccount := map[string][]storage.Subscription{}
	for _, sub := range subs {
		byAccount[sub.Account] = append(byAccount[sub.Account], sub)
	}
	accounts := make([]string, 0, len(byAccount))
	for a := range byAccount {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)

	out := make([]accountGroup, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountGroup{account: a, subs: byAccount[a]})
	}
	return out
}

// effectiveInterval is the minimum requested interval across the group,
// clamped to the allowed range. The fastest subscriber sets the pace.
func effectiveInterval(subs []storage.Subscription) time.Duration {
	min := storage.MaxPollIntervalMinutes
	for _, sub := range subs {
		m := sub.PollIntervalMinutes
		if m <= 0 {
			m = storage.DefaultPollIntervalMinutes
		}
		if m < min {
			min = m
		}
	}
	return time.Duration(storage.ClampInterval(min)) * time.Minute
}

// budgetOwner is the chat whose budget a shared-account poll spends:
// deterministically the smallest chat ID among the group's subscriptions.
func budgetOwner(subs []storage.Subscription) int64 {
	owner := subs[0].ChatID
	for _, sub := range subs[1:] {
		if sub.ChatID < owner {
			owner = sub.ChatID
		}
	}
	return owner
}

func groupChatIDs(subs []storage.Subscription) []int64 {
	seen := make(map[int64]bool, len(subs))
	var out []int64
	for _, sub := range subs {
		if !seen[sub.ChatID] {
			seen[sub.ChatID] = true
			out = append(out, sub.ChatID)
		}
	}
	return out
}

func (s *Service) pollGroup(ctx context.Context, group accountGroup) {
	now := s.now()

	cached, err := s.store.GetCached(ctx, group.account)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("poller: cache read failed",
			logx.String("account", group.account), logx.Err(err))
		return
	}
	if cached != nil && now.Sub(cached.UpdatedAt) < effectiveInterval(group.subs) {
		return // not due yet
	}

	owner := budgetOwner(group.subs)
	dec, err := s.store.ConsumeBudget(ctx, owner, group.account, now, s.cfg.HourlyBudget)
	if err != nil {
		s.log.Warn("poller: budget check failed",
			logx.String("account", group.account), logx.Err(err))
		return
	}
	if !dec.Allowed {
		if dec.AlreadyNotified {
			return
		}
		if err := s.store.MarkLimitNotified(ctx, owner, group.account); err != nil {
			s.log.Warn("poller: marking limit notified failed",
				logx.String("account", group.account), logx.Err(err))
		}
		msg := schedule.LimitMessage(group.account, dec.ResetAt, s.cfg.Location)
		s.notify.Broadcast(ctx, groupChatIDs(group.subs), msg)
		return
	}

	payload, err := s.fetch.FetchStatus(ctx, group.account)
	if err != nil {
		// transient upstream failure: skip silently, next tick retries
		s.log.Debug("poller: fetch failed",
			logx.String("account", group.account), logx.Err(err))
		return
	}

	if err := s.store.PutCached(ctx, group.account, payload.Raw, s.now()); err != nil {
		s.log.Warn("poller: cache write failed",
			logx.String("account", group.account), logx.Err(err))
	}

	s.notifyGroup(ctx, group, payload)
}

// notifyGroup compares the fresh payload against each subscription's stored
// one and messages the changed subscribers. Every subscription in the group
// gets its stored payload advanced, changed or not, so the whole group
// converges on the same baseline after one fetch.
func (s *Service) notifyGroup(ctx context.Context, group accountGroup, payload *svitlo.StatusPayload) {
	now := s.now()
	for _, sub := range group.subs {
		if schedule.Changed(sub.LastPayload, payload.Raw) {
			text := s.changeMessage(sub, payload)
			if err := s.notify.Send(ctx, sub.ChatID, text); err != nil {
				s.log.Warn("poller: notify failed",
					logx.Int64("chat_id", sub.ChatID),
					logx.String("account", group.account),
					logx.Err(err))
			}
		}
		if err := s.store.SetLastPayload(ctx, sub.ID, payload.Raw, now); err != nil {
			s.log.Warn("poller: persisting payload failed",
				logx.Int64("sub_id", sub.ID), logx.Err(err))
		}
	}
}

func (s *Service) changeMessage(sub storage.Subscription, payload *svitlo.StatusPayload) string {
	header := schedule.SubscriptionHeader(sub.Account, sub.Street)
	var body string
	if len(payload.Entries) > 0 {
		body = schedule.FormatEntries(payload.Entries)
	} else {
		body = schedule.DiffEntries(svitlo.RawEntries(sub.LastPayload), svitlo.RawEntries(payload.Raw))
	}
	if body == "" {
		return tgui.TruncRunes(header, tgui.MaxMessageRunes)
	}
	return tgui.TruncRunes(header+"\n\n"+body, tgui.MaxMessageRunes)
}

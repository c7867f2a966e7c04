// Package app wires the bot together: transport, storage, the polling
// engine and the command layer, supervised as one unit.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/config"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/notifier"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/poller"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/storage"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/svitlo"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/transport"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/transport/telegram"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/logx"
)

const updateQueueSize = 128

// App is the assembled bot.
type App struct {
	mgr    *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	adapter transport.Adapter
	store   storage.Store
	client  *svitlo.Client
	notify  *notifier.Service
	poll    *poller.Service
	daily   *poller.Daily

	pending     *pendingInput
	maxSubs     int
	defaultIval int
	loc         *time.Location

	pollerEnabled bool
	dailyEnabled  bool

	sup     *Supervisor
	updates chan transport.Update
}

// New builds the app from the manager's committed config. The config must
// already be validated.
func New(mgr *config.Manager) (*App, error) {
	cfg := mgr.Get()
	if cfg == nil {
		return nil, fmt.Errorf("no config loaded")
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	boot := logx.NewConsole(cfg.Logging.Level)

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, boot)
	if err != nil {
		return nil, fmt.Errorf("creating telegram adapter: %w", err)
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, adapter)
	if chatID := parseChatID(cfg.Telegram.AdminChat); chatID != 0 {
		logSvc.SetTelegramTarget(chatID)
	}
	mgr.SetLogger(log.With(logx.String("component", "config")))

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("component", "storage")))
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	upstreamTimeout, err := config.ParseDurationField("upstream.timeout", cfg.Upstream.Timeout)
	if err != nil {
		return nil, err
	}
	client := svitlo.New(svitlo.Config{
		BaseURL: cfg.Upstream.BaseURL,
		Timeout: upstreamTimeout,
	}, log.With(logx.String("component", "svitlo")))

	notify := notifier.New(adapter, 0, log.With(logx.String("component", "notifier")))

	baseTick, err := config.ParseDurationField("poller.base_tick", cfg.Poller.BaseTick)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := config.ParseDurationField("poller.cache_ttl", cfg.Poller.CacheTTL)
	if err != nil {
		return nil, err
	}
	poll := poller.New(store, client, notify, poller.Config{
		BaseTick:     baseTick,
		CacheTTL:     cacheTTL,
		HourlyBudget: cfg.Poller.HourlyBudget,
		Location:     loc,
	}, log.With(logx.String("component", "poller")))

	checkEvery, err := config.ParseDurationOrDefault("daily.check_every", cfg.Daily.CheckEvery, time.Hour)
	if err != nil {
		return nil, err
	}
	daily := poller.NewDaily(store, client, notify, poller.DailyConfig{
		CutoffHour: cfg.Daily.CutoffHour,
		CronSpec:   cronEvery(checkEvery),
		Location:   loc,
	}, log.With(logx.String("component", "daily")))

	maxSubs := cfg.Poller.MaxSubscriptions
	if maxSubs <= 0 {
		maxSubs = 5
	}
	defaultIval := cfg.Poller.DefaultIntervalMinutes
	if defaultIval <= 0 {
		defaultIval = storage.DefaultPollIntervalMinutes
	}

	return &App{
		mgr:           mgr,
		logSvc:        logSvc,
		log:           log,
		adapter:       adapter,
		store:         store,
		client:        client,
		notify:        notify,
		poll:          poll,
		daily:         daily,
		pending:       newPendingInput(),
		maxSubs:       maxSubs,
		defaultIval:   defaultIval,
		loc:           loc,
		pollerEnabled: cfg.Poller.Enabled,
		dailyEnabled:  cfg.Daily.Enabled,
		updates:       make(chan transport.Update, updateQueueSize),
	}, nil
}

// Start launches the supervised goroutines: update dispatch, the interval
// poller, the daily broadcaster and the config watcher.
func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx,
		WithLogger(a.log.With(logx.String("component", "supervisor"))),
		WithCancelOnError(true),
	)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		a.sup.Cancel()
		return fmt.Errorf("starting telegram adapter: %w", err)
	}
	if mu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		if err := mu.UpdateMenuCommands(ctx, []transport.BotCommand{
			{Command: "start", Description: "Головне меню"},
		}); err != nil {
			a.log.Warn("updating command menu failed", logx.Err(err))
		}
	}

	a.sup.Go("dispatch", a.dispatchLoop)
	if a.pollerEnabled {
		a.sup.Go("poller", a.poll.Run)
	}
	if a.dailyEnabled {
		a.sup.Go("daily", a.daily.Run)
	}
	a.sup.Go("config-watch", a.mgr.Watch)
	a.sup.Go("config-reload", a.reloadLoop)

	a.log.Info("app started",
		logx.Bool("poller", a.pollerEnabled),
		logx.Bool("daily", a.dailyEnabled))
	return nil
}

// Stop shuts everything down, bounding each step by ctx.
func (a *App) Stop(ctx context.Context) error {
	var firstErr error

	if err := a.adapter.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	_ = a.logSvc.Close()

	a.log.Info("app stopped")
	return firstErr
}

// dispatchLoop feeds incoming updates to the command layer. Handlers run
// inline: the bot's workload is light enough that ordering per chat matters
// more than throughput.
func (a *App) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up := <-a.updates:
			a.handleUpdate(ctx, up)
		}
	}
}

// reloadLoop applies hot config changes. Only logging settings take effect
// live; everything else needs a restart and is logged as such.
func (a *App) reloadLoop(ctx context.Context) error {
	ch := a.mgr.Subscribe(1)
	defer a.mgr.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg, ok := <-ch:
			if !ok {
				return nil
			}
			a.logSvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
				Telegram: logx.TelegramConfig{
					Enabled:    cfg.Logging.Telegram.Enabled,
					MinLevel:   cfg.Logging.Telegram.MinLevel,
					RatePerSec: cfg.Logging.Telegram.RatePerSec,
				},
			})
			a.logSvc.SetTelegramTarget(parseChatID(cfg.Telegram.AdminChat))
			a.log.Info("logging config applied; other sections apply on restart")
		}
	}
}

func parseChatID(raw string) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// cronEvery renders a duration as a robfig/cron @every spec.
func cronEvery(d time.Duration) string {
	return "@every " + d.String()
}

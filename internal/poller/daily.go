package poller

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/schedule"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/storage"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/logx"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/tgui"
)

// DailyConfig tunes the queue-schedule broadcaster.
type DailyConfig struct {
	// CutoffHour is the local hour after which checks target tomorrow's
	// schedule instead of today's.
	CutoffHour int
	// CronSpec is how often queues are re-checked. Defaults to hourly.
	CronSpec string
	// Location is the wall-clock zone for day boundaries.
	Location *time.Location
}

const defaultCutoffHour = 21

func (c DailyConfig) withDefaults() DailyConfig {
	if c.CutoffHour <= 0 || c.CutoffHour > 23 {
		c.CutoffHour = defaultCutoffHour
	}
	if c.CronSpec == "" {
		c.CronSpec = "@hourly"
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

// Daily is the second scheduling mode: instead of per-subscription
// intervals it walks wall-clock day boundaries, fetching each queue's full
// day schedule once per check and broadcasting a merged-interval summary
// when the stored snapshot for that (queue, date) differs.
type Daily struct {
	store  storage.Store
	fetch  Fetcher
	notify Broadcaster
	cfg    DailyConfig
	log    logx.Logger

	now func() time.Time
}

func NewDaily(store storage.Store, fetch Fetcher, notify Broadcaster, cfg DailyConfig, log logx.Logger) *Daily {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Daily{
		store:  store,
		fetch:  fetch,
		notify: notify,
		cfg:    cfg.withDefaults(),
		log:    log,
		now:    time.Now,
	}
}

// Run schedules queue checks on the configured cron spec until ctx is
// cancelled. The in-flight check finishes before Run returns.
func (d *Daily) Run(ctx context.Context) error {
	c := cron.New(cron.WithLocation(d.cfg.Location))
	_, err := c.AddFunc(d.cfg.CronSpec, func() { d.CheckQueues(ctx) })
	if err != nil {
		return err
	}

	d.log.Info("daily: started",
		logx.String("cron", d.cfg.CronSpec),
		logx.Int("cutoff_hour", d.cfg.CutoffHour))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	d.log.Info("daily: stopped")
	return ctx.Err()
}

// TargetDate is the schedule date a check performed at now should look at:
// today until the cutoff hour, tomorrow after it.
func (d *Daily) TargetDate(now time.Time) string {
	local := now.In(d.cfg.Location)
	if local.Hour() >= d.cfg.CutoffHour {
		local = local.AddDate(0, 0, 1)
	}
	return local.Format("2006-01-02")
}

// CheckQueues runs one pass over every queue with enabled subscribers.
func (d *Daily) CheckQueues(ctx context.Context) {
	date := d.TargetDate(d.now())

	queues, err := d.store.ListQueues(ctx)
	if err != nil {
		d.log.Warn("daily: listing queues failed", logx.Err(err))
		return
	}

	for _, queue := range queues {
		if ctx.Err() != nil {
			return
		}
		d.checkQueue(ctx, queue, date)
	}
}

func (d *Daily) checkQueue(ctx context.Context, queue, date string) {
	sched, err := d.fetch.FetchDailySchedule(ctx, queue, date)
	if err != nil {
		d.log.Debug("daily: fetch failed",
			logx.String("queue", queue), logx.String("date", date), logx.Err(err))
		return
	}

	old, err := d.store.GetQueueSnapshot(ctx, queue, date)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		d.log.Warn("daily: snapshot read failed", logx.String("queue", queue), logx.Err(err))
		return
	}
	if !schedule.Changed(old, sched.Raw) {
		return
	}

	if err := d.store.PutQueueSnapshot(ctx, queue, date, sched.Raw, d.now()); err != nil {
		d.log.Warn("daily: snapshot write failed", logx.String("queue", queue), logx.Err(err))
		return
	}

	chats, err := d.store.ListChatIDsByQueue(ctx, queue)
	if err != nil {
		d.log.Warn("daily: listing recipients failed", logx.String("queue", queue), logx.Err(err))
		return
	}
	if len(chats) == 0 {
		return
	}

	text := tgui.TruncRunes(
		schedule.FormatDailySummary(queue, date, schedule.MergeOutages(sched.Slots)),
		tgui.MaxMessageRunes)
	res := d.notify.Broadcast(ctx, chats, text)
	d.log.Info("daily: schedule change broadcast",
		logx.String("queue", queue),
		logx.String("date", date),
		logx.Int("sent", res.Sent),
		logx.Int("failed", res.Failed))
}

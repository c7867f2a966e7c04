package poller

import (
	"context"
	"errors"
	"fmt"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/schedule"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/storage"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/svitlo"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/logx"
)

// CheckNow is the interactive fetch path. It shares the freshness cache and
// the hourly budget with the background loop, so a user mashing the button
// cannot bypass either.
//
// Returns (payload, "", nil) on success, (nil, limitText, nil) when the
// hourly budget is exhausted, and (nil, "", err) on upstream failure.
func (s *Service) CheckNow(ctx context.Context, chatID int64, account string) (*svitlo.StatusPayload, string, error) {
	now := s.now()

	cached, err := s.store.GetCached(ctx, account)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, "", fmt.Errorf("reading cache: %w", err)
	}
	if cached != nil && now.Sub(cached.UpdatedAt) < s.cfg.CacheTTL {
		return &svitlo.StatusPayload{
			Raw:     cached.Payload,
			Entries: svitlo.ExtractEntries(cached.Payload),
		}, "", nil
	}

	dec, err := s.store.ConsumeBudget(ctx, chatID, account, now, s.cfg.HourlyBudget)
	if err != nil {
		return nil, "", fmt.Errorf("consuming budget: %w", err)
	}
	if !dec.Allowed {
		return nil, schedule.LimitMessage(account, dec.ResetAt, s.cfg.Location), nil
	}

	payload, err := s.fetch.FetchStatus(ctx, account)
	if err != nil {
		return nil, "", err
	}
	if err := s.store.PutCached(ctx, account, payload.Raw, s.now()); err != nil {
		s.log.Warn("check-now: cache write failed",
			logx.String("account", account), logx.Err(err))
	}
	return payload, "", nil
}

// Package notifier fans a computed message out to subscriber chats.
package notifier

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/transport"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/logx"
)

// Sender is the outbound half of the transport adapter.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Result counts one broadcast's per-recipient outcomes.
type Result struct {
	Sent   int
	Failed int
}

// Service paces outbound sends so a large fan-out stays inside Telegram's
// global send limits. One failed recipient never blocks the rest, and
// failures are not retried.
type Service struct {
	sender  Sender
	limiter *rate.Limiter
	log     logx.Logger
}

// New builds a notifier sending at most perSecond messages per second.
// Values <= 0 fall back to Telegram's documented bulk ceiling of 25.
func New(sender Sender, perSecond float64, log logx.Logger) *Service {
	if perSecond <= 0 {
		perSecond = 25
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		log:     log,
	}
}

// Broadcast sends text to every chat in chatIDs. It returns early only when
// the context is cancelled; delivery errors are logged and counted.
func (s *Service) Broadcast(ctx context.Context, chatIDs []int64, text string) Result {
	var res Result
	for _, chatID := range chatIDs {
		if err := s.limiter.Wait(ctx); err != nil {
			return res
		}
		_, err := s.sender.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, nil)
		if err != nil {
			res.Failed++
			s.log.Warn("notifier: send failed",
				logx.Int64("chat_id", chatID),
				logx.Err(err))
			continue
		}
		res.Sent++
	}
	if res.Failed > 0 || res.Sent > 1 {
		s.log.Debug("notifier: broadcast done",
			logx.Int("sent", res.Sent),
			logx.Int("failed", res.Failed))
	}
	return res
}

// Send delivers one message to one chat through the same pacing gate.
func (s *Service) Send(ctx context.Context, chatID int64, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.sender.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, nil)
	return err
}

package app

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/schedule"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/storage"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/transport"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/logx"
	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/pkg/tgui"
)

const greeting = "Привіт! Цей бот надсилатиме сповіщення про зміни в графіку відключення електроенергії.\n\n" +
	"Користуйтеся кнопками нижче для керування."

func (a *App) handleUpdate(ctx context.Context, up transport.Update) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("update handler panicked", logx.Any("panic", r))
		}
	}()

	switch up.Kind {
	case transport.UpdateMessage:
		if up.Message != nil {
			a.handleMessage(ctx, up.Message)
		}
	case transport.UpdateCallback:
		if up.Callback != nil {
			a.handleCallback(ctx, up.Callback)
		}
	}
}

func (a *App) handleMessage(ctx context.Context, m *transport.Message) {
	text := strings.TrimSpace(m.Text)

	switch {
	case text == "/start":
		a.upsertUser(ctx, m)
		a.pending.clear(m.ChatID)
		a.send(ctx, m.ChatID, greeting, tgui.MainMenu())

	case text == tgui.BtnCancel:
		a.pending.clear(m.ChatID)
		a.send(ctx, m.ChatID, "Скасовано.", tgui.MainMenu())

	case a.pending.active(m.ChatID):
		a.handleAccountInput(ctx, m, text)

	case text == tgui.BtnAddAddress:
		a.pending.set(m.ChatID)
		a.send(ctx, m.ChatID, "Введіть особовий рахунок:", tgui.CancelMenu())

	case text == tgui.BtnMyData:
		subs, err := a.store.ListSubscriptions(ctx, m.ChatID)
		if err != nil {
			a.log.Warn("listing subscriptions failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
			return
		}
		a.send(ctx, m.ChatID, "Оберіть запис:", tgui.SubsList(subViews(subs)))

	case text == tgui.BtnCheckNow:
		a.checkAllNow(ctx, m.ChatID)

	default:
		a.send(ctx, m.ChatID, "Невідома команда. Використовуйте меню.", tgui.MainMenu())
	}
}

// handleAccountInput finishes the add-address dialog: validate the account
// number, probe it upstream, resolve its queue and store the subscription.
func (a *App) handleAccountInput(ctx context.Context, m *transport.Message, account string) {
	if account == "" || !isDigits(account) {
		a.send(ctx, m.ChatID, "Особовий рахунок має бути числом, спробуйте ще раз.", tgui.CancelMenu())
		return
	}

	a.upsertUser(ctx, m)

	count, err := a.store.CountSubscriptions(ctx, m.ChatID)
	if err != nil {
		a.log.Warn("counting subscriptions failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		return
	}
	if count >= a.subscriptionCeiling(ctx, m.ChatID) {
		a.pending.clear(m.ChatID)
		a.send(ctx, m.ChatID,
			"Досягнуто ліміту кількості підписок.\nВидаліть деякі у розділі «Підписки», щоб додати нові.",
			tgui.MainMenu())
		return
	}

	// probe fetch: verifies the account exists and seeds the cache
	_, limitMsg, err := a.poll.CheckNow(ctx, m.ChatID, account)
	if limitMsg != "" {
		a.send(ctx, m.ChatID, limitMsg, tgui.CancelMenu())
		return
	}
	if err != nil {
		a.send(ctx, m.ChatID, "Не вдалося отримати дані за цим рахунком. Спробуйте ще раз.", tgui.CancelMenu())
		return
	}

	info, err := a.client.FetchQueue(ctx, account)
	if err != nil {
		a.send(ctx, m.ChatID, "Не вдалося отримати інформацію про чергу. Спробуйте ще раз.", tgui.CancelMenu())
		return
	}

	_, err = a.store.AddSubscription(ctx, storage.Subscription{
		ChatID:              m.ChatID,
		Account:             account,
		Street:              info.Street,
		QueueCode:           info.Queues,
		Enabled:             true,
		PollIntervalMinutes: a.defaultIval,
	})
	a.pending.clear(m.ChatID)
	if err != nil {
		if !errors.Is(err, storage.ErrExists) {
			a.log.Warn("adding subscription failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
		}
		a.send(ctx, m.ChatID, "Такий запис вже існує або не вдалося зберегти.", tgui.MainMenu())
		return
	}
	a.send(ctx, m.ChatID, "Збережено та сповіщення увімкнено.", tgui.MainMenu())
}

// subscriptionCeiling is how many subscriptions this chat may hold. The
// stored per-user allowance wins over the config default, so individual
// users can be granted more (or fewer) slots without a restart.
func (a *App) subscriptionCeiling(ctx context.Context, chatID int64) int {
	u, err := a.store.GetUser(ctx, chatID)
	if err != nil || u.MaxSubscriptions <= 0 {
		return a.maxSubs
	}
	return u.MaxSubscriptions
}

// checkAllNow runs the interactive path for every subscription the chat has.
func (a *App) checkAllNow(ctx context.Context, chatID int64) {
	subs, err := a.store.ListSubscriptions(ctx, chatID)
	if err != nil {
		a.log.Warn("listing subscriptions failed", logx.Int64("chat_id", chatID), logx.Err(err))
		return
	}
	if len(subs) == 0 {
		a.send(ctx, chatID, "Немає записів. Натисніть 'Додати адресу'.", nil)
		return
	}

	for _, sub := range subs {
		header := schedule.SubscriptionHeader(sub.Account, sub.Street)

		payload, limitMsg, err := a.poll.CheckNow(ctx, chatID, sub.Account)
		switch {
		case limitMsg != "":
			a.send(ctx, chatID, header+": "+limitMsg, nil)
		case err != nil:
			a.send(ctx, chatID, header+": не вдалося отримати дані", nil)
		default:
			body := schedule.FormatEntries(payload.Entries)
			if body == "" {
				body = "Відключень не знайдено."
			}
			a.send(ctx, chatID, tgui.TruncRunes(header+"\n\n"+body, tgui.MaxMessageRunes), nil)
		}
	}
}

func (a *App) handleCallback(ctx context.Context, cb *transport.Callback) {
	action, payload := tgui.Split(cb.Data)

	switch action {
	case "noop":
		a.answer(ctx, cb, "", false)

	case "menu":
		a.send(ctx, cb.ChatID, "Головне меню:", tgui.MainMenu())
		a.answer(ctx, cb, "", false)

	case "back_subs":
		a.showSubsList(ctx, cb)
		a.answer(ctx, cb, "", false)

	case "sub", "toggle", "check", "del", "interval":
		_, id, ok := tgui.SplitID(cb.Data)
		if !ok {
			a.answer(ctx, cb, "Не знайдено", false)
			return
		}
		a.handleSubAction(ctx, cb, action, id)

	case "setint":
		a.setInterval(ctx, cb, payload)

	default:
		a.answer(ctx, cb, "", false)
	}
}

func (a *App) handleSubAction(ctx context.Context, cb *transport.Callback, action string, id int64) {
	switch action {
	case "sub":
		a.showSubCard(ctx, cb, id)

	case "toggle":
		a.toggleSub(ctx, cb, id)

	case "check":
		a.checkSub(ctx, cb, id)

	case "del":
		a.deleteSub(ctx, cb, id)

	case "interval":
		sub, ok := a.ownSub(ctx, cb, id)
		if !ok {
			return
		}
		a.edit(ctx, cb, "Оберіть інтервал опитування:", tgui.IntervalChoices(sub.ID))
		a.answer(ctx, cb, "", false)
	}
}

// ownSub resolves a callback id to a subscription owned by the chat.
func (a *App) ownSub(ctx context.Context, cb *transport.Callback, id int64) (*storage.Subscription, bool) {
	sub, err := a.store.GetSubscription(ctx, id)
	if err != nil || sub.ChatID != cb.ChatID {
		a.answer(ctx, cb, "Не знайдено", false)
		return nil, false
	}
	return sub, true
}

func (a *App) showSubsList(ctx context.Context, cb *transport.Callback) {
	subs, err := a.store.ListSubscriptions(ctx, cb.ChatID)
	if err != nil {
		a.log.Warn("listing subscriptions failed", logx.Int64("chat_id", cb.ChatID), logx.Err(err))
		return
	}
	a.edit(ctx, cb, "Підписки:", tgui.SubsList(subViews(subs)))
}

func (a *App) showSubCard(ctx context.Context, cb *transport.Callback, id int64) {
	sub, ok := a.ownSub(ctx, cb, id)
	if !ok {
		return
	}
	header := "Налаштування:\n\n" + schedule.SubscriptionHeader(sub.Account, sub.Street)
	a.edit(ctx, cb, header, tgui.SubActions(subView(*sub)))
	a.answer(ctx, cb, "", false)
}

func (a *App) toggleSub(ctx context.Context, cb *transport.Callback, id int64) {
	sub, ok := a.ownSub(ctx, cb, id)
	if !ok {
		return
	}
	newState := !sub.Enabled
	updated, err := a.store.SetSubscriptionEnabled(ctx, cb.ChatID, sub.ID, newState)
	if err != nil || !updated {
		a.answer(ctx, cb, "Не знайдено", false)
		return
	}
	if newState {
		a.answer(ctx, cb, "Увімкнено", false)
	} else {
		a.answer(ctx, cb, "Вимкнено", false)
	}
	sub.Enabled = newState
	header := "Налаштування:\n\n" + schedule.SubscriptionHeader(sub.Account, sub.Street)
	a.edit(ctx, cb, header, tgui.SubActions(subView(*sub)))
}

func (a *App) checkSub(ctx context.Context, cb *transport.Callback, id int64) {
	sub, ok := a.ownSub(ctx, cb, id)
	if !ok {
		return
	}

	data, limitMsg, err := a.poll.CheckNow(ctx, cb.ChatID, sub.Account)
	if limitMsg != "" {
		a.answer(ctx, cb, "Ліміт вичерпано", true)
		a.send(ctx, cb.ChatID, limitMsg, nil)
		return
	}
	if err != nil {
		a.answer(ctx, cb, "Немає даних", true)
		return
	}

	header := schedule.SubscriptionHeader(sub.Account, sub.Street)
	body := schedule.FormatEntries(data.Entries)
	if body == "" {
		body = "Відключень не знайдено."
	}
	a.edit(ctx, cb, tgui.TruncRunes(header+"\n\n"+body, tgui.MaxMessageRunes), tgui.BackTo(sub.ID))
	a.answer(ctx, cb, "", false)
}

func (a *App) deleteSub(ctx context.Context, cb *transport.Callback, id int64) {
	removed, err := a.store.RemoveSubscription(ctx, cb.ChatID, id)
	if err != nil || !removed {
		a.answer(ctx, cb, "Не вдалося видалити", false)
		return
	}
	a.showSubsList(ctx, cb)
	a.answer(ctx, cb, "Видалено", false)
}

func (a *App) setInterval(ctx context.Context, cb *transport.Callback, payload string) {
	idRaw, minRaw, found := strings.Cut(payload, ":")
	if !found {
		a.answer(ctx, cb, "Не знайдено", false)
		return
	}
	id, err := strconv.ParseInt(idRaw, 10, 64)
	if err != nil {
		a.answer(ctx, cb, "Не знайдено", false)
		return
	}
	minutes, err := strconv.Atoi(minRaw)
	if err != nil {
		a.answer(ctx, cb, "Не знайдено", false)
		return
	}
	sub, ok := a.ownSub(ctx, cb, id)
	if !ok {
		return
	}
	if _, err := a.store.SetSubscriptionInterval(ctx, cb.ChatID, sub.ID, minutes); err != nil {
		a.log.Warn("setting interval failed", logx.Int64("sub_id", sub.ID), logx.Err(err))
		a.answer(ctx, cb, "Не вдалося зберегти", false)
		return
	}
	a.answer(ctx, cb, "Інтервал збережено", false)
	header := "Налаштування:\n\n" + schedule.SubscriptionHeader(sub.Account, sub.Street)
	a.edit(ctx, cb, header, tgui.SubActions(subView(*sub)))
}

// ---- small helpers ----

func (a *App) upsertUser(ctx context.Context, m *transport.Message) {
	err := a.store.UpsertUser(ctx, storage.User{
		ChatID:    m.ChatID,
		Username:  m.FromUsername,
		FirstName: m.FromFirst,
		LastName:  m.FromLast,
		LangCode:  m.LangCode,
		IsBot:     m.IsBot,
	})
	if err != nil {
		a.log.Warn("upserting user failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

func (a *App) send(ctx context.Context, chatID int64, text string, markup any) {
	opt := &transport.SendOptions{}
	if markup != nil {
		opt.ReplyMarkupAdapter = markup
	}
	if _, err := a.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		a.log.Warn("send failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// edit updates the callback's message in place; when Telegram refuses the
// edit (message too old, unchanged content) it falls back to delete + send.
func (a *App) edit(ctx context.Context, cb *transport.Callback, text string, markup any) {
	opt := &transport.SendOptions{}
	if markup != nil {
		opt.ReplyMarkupAdapter = markup
	}
	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := a.adapter.EditText(ctx, ref, text, opt); err != nil {
		_ = a.adapter.DeleteMessage(ctx, ref)
		if _, err := a.adapter.SendText(ctx, transport.ChatTarget{ChatID: cb.ChatID}, text, opt); err != nil {
			a.log.Warn("edit fallback send failed", logx.Int64("chat_id", cb.ChatID), logx.Err(err))
		}
	}
}

func (a *App) answer(ctx context.Context, cb *transport.Callback, text string, alert bool) {
	if err := a.adapter.AnswerCallback(ctx, cb.ID, text, alert); err != nil {
		a.log.Debug("answering callback failed", logx.Err(err))
	}
}

func subView(s storage.Subscription) tgui.SubView {
	return tgui.SubView{ID: s.ID, Account: s.Account, Street: s.Street, Enabled: s.Enabled}
}

func subViews(subs []storage.Subscription) []tgui.SubView {
	out := make([]tgui.SubView, 0, len(subs))
	for _, s := range subs {
		out = append(out, subView(s))
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

package tgui

import (
	"fmt"

	tele "gopkg.in/telebot.v4"
)

// Reply-menu button labels. The command layer matches incoming text against
// these, so they live here next to the keyboards that render them.
const (
	BtnAddAddress = "Додати адресу"
	BtnMyData     = "Мої дані"
	BtnCheckNow   = "Перевірити зараз"
	BtnCancel     = "Скасувати"
)

// SubView is the subscription slice the keyboards need to render.
type SubView struct {
	ID      int64
	Account string
	Street  string
	Enabled bool
}

// MainMenu is the persistent reply keyboard shown after /start.
func MainMenu() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	rm.Reply(
		rm.Row(rm.Text(BtnAddAddress), rm.Text(BtnMyData)),
		rm.Row(rm.Text(BtnCheckNow)),
	)
	return rm
}

// CancelMenu is the single-button keyboard shown during a pending dialog.
func CancelMenu() *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	rm.Reply(rm.Row(rm.Text(BtnCancel)))
	return rm
}

// SubsList renders one button per subscription plus a menu escape hatch.
func SubsList(subs []SubView) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	var rows []tele.Row
	for _, s := range subs {
		status := "🔕"
		if s.Enabled {
			status = "🔔"
		}
		label := fmt.Sprintf("%s %s | %s", status, s.Account, s.Street)
		rows = append(rows, rm.Row(Btn(label, DataID("sub", s.ID))))
	}
	if len(rows) == 0 {
		rows = append(rows, rm.Row(Btn("Немає записів", "noop")))
	}
	rows = append(rows, rm.Row(Btn("🏠 Меню", "menu")))
	rm.Inline(rows...)
	return rm
}

// SubActions renders the per-subscription action keyboard.
func SubActions(s SubView) *tele.ReplyMarkup {
	toggleLabel := "🔔 Увімкнути сповіщення"
	if s.Enabled {
		toggleLabel = "🔕 Вимкнути сповіщення"
	}
	rm := &tele.ReplyMarkup{}
	rm.Inline(
		rm.Row(Btn(toggleLabel, DataID("toggle", s.ID))),
		rm.Row(Btn("🔎 Перевірити графік", DataID("check", s.ID))),
		rm.Row(Btn("⏱ Інтервал опитування", DataID("interval", s.ID))),
		rm.Row(
			Btn("🗑️ Видалити", DataID("del", s.ID)),
			Btn("⬅ Назад", "back_subs"),
		),
	)
	return rm
}

// IntervalChoices renders the poll-interval picker for one subscription.
func IntervalChoices(subID int64) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	choice := func(label string, minutes int) tele.Btn {
		return Btn(label, Data("setint", fmt.Sprintf("%d:%d", subID, minutes)))
	}
	rm.Inline(
		rm.Row(choice("10 хв", 10), choice("30 хв", 30), choice("60 хв", 60)),
		rm.Row(choice("3 год", 180), choice("12 год", 720), choice("доба", 1440)),
		rm.Row(Btn("⬅ Назад", DataID("sub", subID))),
	)
	return rm
}

// BackTo renders a lone back button pointing at a subscription card.
func BackTo(subID int64) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Row(Btn("⬅️ Назад", DataID("sub", subID))))
	return rm
}

// Btn creates a callback button with raw callback_data. Data over
// Telegram's 64-byte limit would fail the whole send, so such a button
// degrades to a noop instead.
func Btn(text, data string) tele.Btn {
	if CheckDataLen(data) != nil {
		data = "noop"
	}
	return tele.Btn{Text: text, Data: data}
}

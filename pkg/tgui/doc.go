// Package tgui provides small Telegram UI helpers:
//   - reply and inline keyboards for the subscription menus
//   - callback data helpers ("action:payload") with the 64-byte guard
//   - rune-aware message truncation
package tgui

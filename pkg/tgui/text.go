package tgui

// MaxMessageRunes is the outbound message cap applied at assembly time.
// Telegram allows 4096; the margin leaves room for the client's own chrome.
const MaxMessageRunes = 4000

// TruncRunes returns s truncated to at most n runes, with an ellipsis
// appended when something was cut.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}

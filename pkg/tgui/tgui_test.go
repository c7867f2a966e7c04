package tgui

import (
	"strings"
	"testing"
)

func TestTruncRunes(t *testing.T) {
	cases := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"shorter than limit", "привіт", 10, "привіт"},
		{"exact limit", "привіт", 6, "привіт"},
		{"truncated", "привіт", 3, "пр…"},
		{"single rune budget", "привіт", 1, "…"},
		{"zero", "привіт", 0, ""},
		{"empty", "", 5, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TruncRunes(tc.in, tc.n); got != tc.want {
				t.Fatalf("TruncRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
			}
		})
	}
}

func TestCallbackDataRoundTrip(t *testing.T) {
	data := DataID("toggle", 42)
	if data != "toggle:42" {
		t.Fatalf("DataID = %q", data)
	}
	action, id, ok := SplitID(data)
	if !ok || action != "toggle" || id != 42 {
		t.Fatalf("SplitID = %q, %d, %v", action, id, ok)
	}

	action, payload := Split("menu")
	if action != "menu" || payload != "" {
		t.Fatalf("Split bare action = %q, %q", action, payload)
	}

	if _, _, ok := SplitID("check:abc"); ok {
		t.Fatal("SplitID accepted non-numeric payload")
	}
}

func TestCheckDataLen(t *testing.T) {
	if err := CheckDataLen("sub:1"); err != nil {
		t.Fatalf("short data: %v", err)
	}
	if err := CheckDataLen(strings.Repeat("x", MaxCallbackDataLen+1)); err == nil {
		t.Fatal("expected ErrCallbackDataTooLong")
	}
}

func TestBtnOversizedData(t *testing.T) {
	if b := Btn("ok", "sub:1"); b.Data != "sub:1" {
		t.Fatalf("valid data rewritten: %q", b.Data)
	}
	long := strings.Repeat("x", MaxCallbackDataLen+1)
	if b := Btn("ok", long); b.Data != "noop" {
		t.Fatalf("oversized data = %q, want noop fallback", b.Data)
	}
}

func TestSubsListEmpty(t *testing.T) {
	rm := SubsList(nil)
	if len(rm.InlineKeyboard) != 2 {
		t.Fatalf("rows = %d, want placeholder + menu", len(rm.InlineKeyboard))
	}
}

func TestSubActionsToggleLabel(t *testing.T) {
	on := SubActions(SubView{ID: 1, Enabled: true})
	if !strings.Contains(on.InlineKeyboard[0][0].Text, "Вимкнути") {
		t.Fatalf("enabled sub label = %q", on.InlineKeyboard[0][0].Text)
	}
	off := SubActions(SubView{ID: 1, Enabled: false})
	if !strings.Contains(off.InlineKeyboard[0][0].Text, "Увімкнути") {
		t.Fatalf("disabled sub label = %q", off.InlineKeyboard[0][0].Text)
	}
}

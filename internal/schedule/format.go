package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/svitlo"
)

const entrySeparator = "~~~~~~~~~~~~~~~~~~~~~"

// FormatEntries renders interruption entries the way subscribers see them.
func FormatEntries(entries []svitlo.Entry) string {
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, fmt.Sprintf("%s\nПочаток: %s\nЗакінчення: %s\n%s",
			strings.TrimSpace(e.Cause),
			strings.TrimSpace(e.Begin),
			strings.TrimSpace(e.EndPlan),
			entrySeparator))
	}
	return strings.Join(parts, "\n")
}

// FormatDailySummary renders a queue's merged outage windows for one day.
func FormatDailySummary(queueCode, date string, intervals []Interval) string {
	header := fmt.Sprintf("Графік відключень на %s, черга %s:", date, queueCode)
	if len(intervals) == 0 {
		return header + "\nВідключень не заплановано."
	}
	lines := make([]string, 0, len(intervals)+1)
	lines = append(lines, header)
	for _, iv := range intervals {
		lines = append(lines, fmt.Sprintf("• %s – %s", iv.From, iv.To))
	}
	return strings.Join(lines, "\n")
}

// LimitMessage tells a subscriber the hourly budget for an account ran out,
// with the reset moment rendered in local wall-clock time.
func LimitMessage(account string, resetAt time.Time, loc *time.Location) string {
	msg := fmt.Sprintf("Ліміт запитів перевищено для %s.", account)
	if resetAt.IsZero() {
		return msg
	}
	if loc == nil {
		loc = time.UTC
	}
	return fmt.Sprintf("%s Годинний ліміт оновиться о %s.", msg, resetAt.In(loc).Format("15:04"))
}

// SubscriptionHeader is the first block of every per-subscription message.
func SubscriptionHeader(account, street string) string {
	return fmt.Sprintf("О/р %s,\n%s", account, street)
}

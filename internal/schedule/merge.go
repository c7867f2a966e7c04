package schedule

import (
	"sort"

	"github.com/zenki-deve/Chernihiv-Svitlo-Bot/internal/svitlo"
)

// Upstream state codes for a queue slot. Scheduled and confirmed outages are
// equivalent for reporting purposes and merge into one interval.
const (
	StatePowered         = "1"
	StateScheduledOutage = "2"
	StateConfirmedOutage = "3"
)

// Interval is one merged outage window within a day, half-open in spirit:
// the queue is off from From up to To.
type Interval struct {
	From string
	To   string
}

func isOutage(state string) bool {
	return state == StateScheduledOutage || state == StateConfirmedOutage
}

// MergeOutages collapses a day's slot list into reported outage intervals.
//
// Slots are sorted by start time, then walked once: an outage slot either
// extends the open window (when its start equals the window's end) or
// flushes it and opens a new one. A non-outage slot closes the open window
// without opening another. Times are HH:MM strings, so lexicographic order
// is chronological order.
func MergeOutages(slots []svitlo.DaySlot) []Interval {
	if len(slots) == 0 {
		return nil
	}
	sorted := make([]svitlo.DaySlot, len(slots))
	copy(sorted, slots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimeFrom < sorted[j].TimeFrom
	})

	var (
		out  []Interval
		open *Interval
	)
	for _, slot := range sorted {
		if !isOutage(slot.State) {
			if open != nil {
				out = append(out, *open)
				open = nil
			}
			continue
		}
		if open != nil && open.To == slot.TimeFrom {
			open.To = slot.TimeTo
			continue
		}
		if open != nil {
			out = append(out, *open)
		}
		open = &Interval{From: slot.TimeFrom, To: slot.TimeTo}
	}
	if open != nil {
		out = append(out, *open)
	}
	return out
}

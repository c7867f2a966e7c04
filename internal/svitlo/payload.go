package svitlo

import (
	"encoding/json"
)

// StatusPayload is the upstream response for one personal account. Raw keeps
// the exact bytes for change detection; Entries is the normalized aData list.
type StatusPayload struct {
	Raw     []byte
	Entries []Entry
}

// Entry is one interruption record from the upstream aData list.
type Entry struct {
	Cause    string `json:"cause"`
	Begin    string `json:"acc_begin"`
	EndPlan  string `json:"accend_plan"`
	Street   string `json:"street,omitempty"`
	Building string `json:"build_num,omitempty"`
}

// QueueInfo is the subscribe-time lookup result for an account.
type QueueInfo struct {
	Street string `json:"street"`
	Queues string `json:"queues"`
}

// DaySlot is one time slot of a queue's daily schedule.
type DaySlot struct {
	TimeFrom string `json:"time_from"`
	TimeTo   string `json:"time_to"`
	State    string `json:"queue_state"`
}

// DaySchedule is the full daily schedule for one queue: the slot list plus
// the state-code to label map the upstream ships alongside it.
type DaySchedule struct {
	Raw    []byte
	Slots  []DaySlot
	States map[string]string
}

// ExtractEntries pulls the aData list out of a raw status payload, dropping
// anything that is not an object. Unparseable payloads yield an empty list.
func ExtractEntries(raw []byte) []Entry {
	var body struct {
		AData []json.RawMessage `json:"aData"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}
	out := make([]Entry, 0, len(body.AData))
	for _, item := range body.AData {
		var e Entry
		if err := json.Unmarshal(item, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

// RawEntries returns the aData list as raw JSON objects, for callers that
// diff entries structurally rather than through the typed view.
func RawEntries(raw []byte) []json.RawMessage {
	var body struct {
		AData []json.RawMessage `json:"aData"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil
	}
	out := make([]json.RawMessage, 0, len(body.AData))
	for _, item := range body.AData {
		trimmed := string(item)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			out = append(out, item)
		}
	}
	return out
}

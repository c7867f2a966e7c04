// Package schedule detects meaningful changes between outage payloads and
// renders them as user-facing text. It is pure: no I/O, no clocks.
package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// diffRenderCap bounds how many raw entries a diff message lists per category.
const diffRenderCap = 5

// Changed reports whether two payloads differ after canonicalization, so
// that key order and whitespace variations do not count as changes.
func Changed(old, new []byte) bool {
	if len(old) == 0 {
		return len(new) > 0
	}
	return canonicalize(old) != canonicalize(new)
}

// DiffEntries renders a set difference between two entry lists as text.
//
// A first-ever payload (nothing stored, entries present) is reported as a
// fresh schedule instead of a wall of additions. Identical sets yield a
// "no changes" line so the caller never sends an empty message.
func DiffEntries(old, new []json.RawMessage) string {
	if len(old) == 0 && len(new) > 0 {
		return fmt.Sprintf("Отримано новий розклад (%d записів).", len(new))
	}

	oldSet := canonicalSet(old)
	newSet := canonicalSet(new)

	added := subtract(newSet, oldSet)
	removed := subtract(oldSet, newSet)

	var lines []string
	if len(added) > 0 {
		lines = append(lines, fmt.Sprintf("Додано записів: %d", len(added)))
		for _, a := range capped(added) {
			lines = append(lines, "+ "+a)
		}
	}
	if len(removed) > 0 {
		lines = append(lines, fmt.Sprintf("Видалено записів: %d", len(removed)))
		for _, r := range capped(removed) {
			lines = append(lines, "- "+r)
		}
	}
	if len(lines) == 0 {
		lines = append(lines, "Змін не виявлено.")
	}
	return strings.Join(lines, "\n")
}

// canonicalize re-encodes JSON so object keys come out sorted. Bytes that do
// not parse are returned as-is; comparing them raw is the best we can do.
func canonicalize(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func canonicalSet(entries []json.RawMessage) map[string]bool {
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		set[canonicalize(e)] = true
	}
	return set
}

// subtract returns a\b, sorted for deterministic output.
func subtract(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func capped(items []string) []string {
	if len(items) > diffRenderCap {
		return items[:diffRenderCap]
	}
	return items
}

package selector

import (
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// These predicates inform product decisions; the generation pipeline does not consult them.

const minClearLength = 10

var (
	clarificationIndicators = []string{
		"what do you mean", "can you clarify", "i don't understand", "unclear", "ambiguous", "?",
	}
	searchIndicators = []string{
		"current", "latest", "recent", "news", "today", "this year", "what happened",
		"stock price", "weather", "real-time",
	}
)

// NeedsClarification reports whether text is too short or asks for clarification.
func NeedsClarification(text string) bool {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < minClearLength {
		return true
	}
	lower := strings.ToLower(text)
	_, ok := firstMatch(lower, clarificationIndicators)
	return ok
}

// NeedsSearch reports whether text asks for fresh information.
func NeedsSearch(text string) bool {
	return NeedsSearchAt(text, time.Now())
}

// NeedsSearchAt is NeedsSearch with an explicit clock. The current and previous year count as
// freshness markers.
func NeedsSearchAt(text string, now time.Time) bool {
	lower := strings.ToLower(text)
	if _, ok := firstMatch(lower, searchIndicators); ok {
		return true
	}
	year := now.Year()
	return strings.Contains(lower, strconv.Itoa(year)) || strings.Contains(lower, strconv.Itoa(year-1))
}

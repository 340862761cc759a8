// Package temporal parses time expressions, filters and boosts results by
// recency, and stores versioned temporal facts with validity intervals.
package temporal

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hyper-light/recall/core/domain"
)

// TimeContext is the temporal interpretation of a query. Explicit is true
// when the query contains a recognizable time expression; the engine weights
// recency heavily for explicit temporal queries and lightly otherwise.
type TimeContext struct {
	Explicit bool
	Range    domain.TimeRange
}

var (
	// -30d, -2w, -6m, -1y
	relativeRe = regexp.MustCompile(`(^|\s)-(\d+)([dwmy])(\s|$)`)
	// 2026-01-15 or full RFC3339
	absoluteRe = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
)

// ParseTimeExpression scans text for a time expression and returns the UTC
// range it denotes. Recognized forms, checked in order: explicit offsets
// like "-30d", absolute dates like "2026-01-15", and the named phrases
// "yesterday", "today", "last week", "last month", "last year", "recent".
// Returns Explicit=false and a zero range when nothing matches.
func ParseTimeExpression(text string, now time.Time) TimeContext {
	now = now.UTC()
	lower := strings.ToLower(text)

	if m := relativeRe.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[2])
		if err == nil && n > 0 {
			var d time.Duration
			switch m[3] {
			case "d":
				d = time.Duration(n) * 24 * time.Hour
			case "w":
				d = time.Duration(n) * 7 * 24 * time.Hour
			case "m":
				d = time.Duration(n) * 30 * 24 * time.Hour
			case "y":
				d = time.Duration(n) * 365 * 24 * time.Hour
			}
			return TimeContext{Explicit: true, Range: domain.TimeRange{Start: now.Add(-d), End: now}}
		}
	}

	if m := absoluteRe.FindStringSubmatch(lower); m != nil {
		if day, err := time.Parse("2006-01-02", m[0]); err == nil {
			return TimeContext{Explicit: true, Range: domain.TimeRange{
				Start: day,
				End:   day.Add(24 * time.Hour),
			}}
		}
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch {
	case strings.Contains(lower, "yesterday"):
		return TimeContext{Explicit: true, Range: domain.TimeRange{
			Start: today.Add(-24 * time.Hour),
			End:   today,
		}}
	case strings.Contains(lower, "today"):
		return TimeContext{Explicit: true, Range: domain.TimeRange{Start: today, End: now}}
	case strings.Contains(lower, "last week"):
		return TimeContext{Explicit: true, Range: domain.TimeRange{Start: now.Add(-7 * 24 * time.Hour), End: now}}
	case strings.Contains(lower, "last month"):
		return TimeContext{Explicit: true, Range: domain.TimeRange{Start: now.Add(-30 * 24 * time.Hour), End: now}}
	case strings.Contains(lower, "last year"):
		return TimeContext{Explicit: true, Range: domain.TimeRange{Start: now.Add(-365 * 24 * time.Hour), End: now}}
	case strings.Contains(lower, "recent"):
		return TimeContext{Explicit: true, Range: domain.TimeRange{Start: now.Add(-7 * 24 * time.Hour), End: now}}
	}

	return TimeContext{}
}

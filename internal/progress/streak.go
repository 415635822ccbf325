package progress

import "time"

type civilDate struct {
	year  int
	month time.Month
	day   int
}

func dateOf(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{y, m, d}
}

// prev returns the calendar day before d. Noon avoids daylight-saving edges.
func (d civilDate) prev() civilDate {
	return dateOf(time.Date(d.year, d.month, d.day-1, 12, 0, 0, 0, time.UTC))
}

// ComputeStreak counts consecutive practice days ending today, or ending
// yesterday when today has no practice yet. Any other gap yields 0. Dates are
// compared as calendar days in their own location; now decides "today".
func ComputeStreak(dates []time.Time, now time.Time) int {
	if len(dates) == 0 {
		return 0
	}
	practised := make(map[civilDate]bool, len(dates))
	for _, t := range dates {
		practised[dateOf(t)] = true
	}

	cursor := dateOf(now)
	if !practised[cursor] {
		cursor = cursor.prev()
		if !practised[cursor] {
			return 0
		}
	}

	streak := 0
	for practised[cursor] {
		streak++
		cursor = cursor.prev()
	}
	return streak
}

package inbox

import (
	"time"
)

// FormatMessageTime renders a timestamp as the inbox label for it:
// today as a bare clock time, yesterday as "Yesterday, <time>", within
// the last week as the weekday plus time, anything older as a full date.
func FormatMessageTime(ts time.Time) string {
	return formatMessageTimeAt(ts, time.Now())
}

func formatMessageTimeAt(ts, now time.Time) string {
	ts = ts.In(now.Location())

	today := startOfDay(now)
	day := startOfDay(ts)

	switch {
	case day.Equal(today):
		return ts.Format("3:04 PM")
	case day.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday, " + ts.Format("3:04 PM")
	case day.After(today.AddDate(0, 0, -7)):
		return ts.Format("Monday, 3:04 PM")
	default:
		return ts.Format("Jan 2, 2006")
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

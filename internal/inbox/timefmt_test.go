package inbox

import (
	"testing"
	"time"
)

func TestFormatMessageTime(t *testing.T) {
	now := time.Date(2025, time.March, 14, 15, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		ts   time.Time
		want string
	}{
		{
			name: "today renders bare time",
			ts:   time.Date(2025, time.March, 14, 9, 5, 0, 0, time.UTC),
			want: "9:05 AM",
		},
		{
			name: "today just after midnight",
			ts:   time.Date(2025, time.March, 14, 0, 1, 0, 0, time.UTC),
			want: "12:01 AM",
		},
		{
			name: "yesterday is labeled",
			ts:   time.Date(2025, time.March, 13, 22, 45, 0, 0, time.UTC),
			want: "Yesterday, 10:45 PM",
		},
		{
			name: "three days ago uses weekday",
			ts:   time.Date(2025, time.March, 11, 8, 0, 0, 0, time.UTC),
			want: "Tuesday, 8:00 AM",
		},
		{
			name: "nine days ago uses full date",
			ts:   time.Date(2025, time.March, 5, 12, 0, 0, 0, time.UTC),
			want: "Mar 5, 2025",
		},
		{
			name: "last year uses full date",
			ts:   time.Date(2024, time.December, 25, 12, 0, 0, 0, time.UTC),
			want: "Dec 25, 2024",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatMessageTimeAt(tt.ts, now); got != tt.want {
				t.Errorf("formatMessageTimeAt(%v) = %q, want %q", tt.ts, got, tt.want)
			}
		})
	}
}

func TestFormatMessageTimeWeekBoundary(t *testing.T) {
	now := time.Date(2025, time.March, 14, 15, 30, 0, 0, time.UTC)

	// Six days back still gets a weekday, seven days back gets a date.
	sixDays := time.Date(2025, time.March, 8, 10, 0, 0, 0, time.UTC)
	if got := formatMessageTimeAt(sixDays, now); got != "Saturday, 10:00 AM" {
		t.Errorf("six days back = %q, want weekday label", got)
	}

	sevenDays := time.Date(2025, time.March, 7, 10, 0, 0, 0, time.UTC)
	if got := formatMessageTimeAt(sevenDays, now); got != "Mar 7, 2025" {
		t.Errorf("seven days back = %q, want full date", got)
	}
}

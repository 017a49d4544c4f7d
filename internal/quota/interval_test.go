package quota

import (
	"errors"
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	cases := map[string]Interval{
		"1 hour":     {1, Hour},
		"2 months":   {2, Month},
		"30 Seconds": {30, Second},
		" 1  day ":   {1, Day},
		"3 weeks":    {3, Week},
		"1 year":     {1, Year},
		"5 minutes":  {5, Minute},
	}
	for input, want := range cases {
		got, err := ParseInterval(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("parse %q = %+v, want %+v", input, got, want)
		}
	}
}

func TestParseIntervalRejects(t *testing.T) {
	for _, input := range []string{"", "hour", "1", "x hours", "0 hours", "-1 day", "1 fortnight", "1 hour ago"} {
		if _, err := ParseInterval(input); !errors.Is(err, ErrInvalidInterval) {
			t.Fatalf("parse %q: expected ErrInvalidInterval, got %v", input, err)
		}
	}
}

func TestIntervalString(t *testing.T) {
	if got := MustInterval("1 hour").String(); got != "1 hour" {
		t.Fatalf("string = %q", got)
	}
	if got := MustInterval("2 month").String(); got != "2 months" {
		t.Fatalf("string = %q", got)
	}
}

func TestIntervalBefore(t *testing.T) {
	at := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		interval string
		want     time.Time
	}{
		{"90 seconds", at.Add(-90 * time.Second)},
		{"1 minute", at.Add(-time.Minute)},
		{"2 hours", at.Add(-2 * time.Hour)},
		{"1 day", time.Date(2024, 3, 30, 12, 0, 0, 0, time.UTC)},
		{"1 week", time.Date(2024, 3, 24, 12, 0, 0, 0, time.UTC)},
		{"1 month", time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)},
		{"1 year", time.Date(2023, 3, 31, 12, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := MustInterval(tc.interval).Before(at); !got.Equal(tc.want) {
			t.Fatalf("%s before %s = %s, want %s", tc.interval, at, got, tc.want)
		}
	}
}

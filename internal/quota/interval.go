package quota

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidInterval reports an interval that cannot be parsed.
var ErrInvalidInterval = errors.New("invalid interval")

// Unit is a calendar or clock unit of an Interval.
type Unit string

const (
	Second Unit = "second"
	Minute Unit = "minute"
	Hour   Unit = "hour"
	Day    Unit = "day"
	Week   Unit = "week"
	Month  Unit = "month"
	Year   Unit = "year"
)

var units = map[string]Unit{
	"second": Second, "seconds": Second, "sec": Second, "secs": Second, "s": Second,
	"minute": Minute, "minutes": Minute, "min": Minute, "mins": Minute,
	"hour": Hour, "hours": Hour, "h": Hour,
	"day": Day, "days": Day, "d": Day,
	"week": Week, "weeks": Week,
	"month": Month, "months": Month,
	"year": Year, "years": Year,
}

// Interval is a window length such as "1 hour" or "2 months". Day and longer
// units follow the calendar, so "1 month" before 31 March 2023 is 3 March.
type Interval struct {
	Count int
	Unit  Unit
}

// NewInterval builds an interval from a count and a unit name.
func NewInterval(count int, unit string) (Interval, error) {
	u, ok := units[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		return Interval{}, fmt.Errorf("%w: unknown unit %q", ErrInvalidInterval, unit)
	}
	if count <= 0 {
		return Interval{}, fmt.Errorf("%w: count must be positive, got %d", ErrInvalidInterval, count)
	}
	return Interval{Count: count, Unit: u}, nil
}

// ParseInterval parses "<count> <unit>", for example "1 hour" or "30 days".
func ParseInterval(s string) (Interval, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	count, err := strconv.Atoi(fields[0])
	if err != nil {
		return Interval{}, fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	return NewInterval(count, fields[1])
}

// MustInterval is ParseInterval for literals known to be valid.
func MustInterval(s string) Interval {
	i, err := ParseInterval(s)
	if err != nil {
		panic(err)
	}
	return i
}

// String renders the interval the way ParseInterval reads it.
func (i Interval) String() string {
	if i.Count == 1 {
		return "1 " + string(i.Unit)
	}
	return strconv.Itoa(i.Count) + " " + string(i.Unit) + "s"
}

// Before returns the start of the window of this length ending at t.
func (i Interval) Before(t time.Time) time.Time {
	n := i.Count
	switch i.Unit {
	case Second:
		return t.Add(-time.Duration(n) * time.Second)
	case Minute:
		return t.Add(-time.Duration(n) * time.Minute)
	case Hour:
		return t.Add(-time.Duration(n) * time.Hour)
	case Day:
		return t.AddDate(0, 0, -n)
	case Week:
		return t.AddDate(0, 0, -7*n)
	case Month:
		return t.AddDate(0, -n, 0)
	case Year:
		return t.AddDate(-n, 0, 0)
	default:
		return t
	}
}

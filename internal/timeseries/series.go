// Package timeseries holds the ordered unix-second timestamps a quota
// tracker counts against, plus the text codec used to persist them.
package timeseries

import (
	"strconv"
	"strings"
)

// Series is a chronologically ordered list of unix-second timestamps.
type Series []int64

// Parse decodes the comma-joined form written by Format. Empty input yields
// an empty series and malformed tokens are dropped.
func Parse(data string) Series {
	out := Series{}
	for _, part := range strings.Split(data, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		value, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, value)
	}
	return out
}

// Format encodes the series as comma-joined decimal seconds.
func (s Series) Format() string {
	if len(s) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s) * 11)
	for i, point := range s {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(point, 10))
	}
	return b.String()
}

// Append adds a point at the tail. Callers append in time order.
func (s *Series) Append(point int64) {
	*s = append(*s, point)
}

// Since returns the suffix starting at the first point at or after cutoff.
// Points are assumed to be in time order, so an out-of-order older point
// after that position is kept. The result shares no storage with s.
func (s Series) Since(cutoff int64) Series {
	return s[s.index(cutoff):].Clone()
}

// CountSince reports the length of Since(cutoff) without copying.
func (s Series) CountSince(cutoff int64) int {
	return len(s) - s.index(cutoff)
}

func (s Series) index(cutoff int64) int {
	for i, point := range s {
		if point >= cutoff {
			return i
		}
	}
	return len(s)
}

// Clone returns an independent copy.
func (s Series) Clone() Series {
	out := make(Series, len(s))
	copy(out, s)
	return out
}

// First returns the oldest point.
func (s Series) First() (int64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[0], true
}

// Last returns the newest point.
func (s Series) Last() (int64, bool) {
	if len(s) == 0 {
		return 0, false
	}
	return s[len(s)-1], true
}

// Merge returns s followed by the points of other that s does not already
// hold. Points older than the last point of s are skipped. Points at that
// last second are matched by count, so only the occurrences beyond those s
// already holds are appended.
func (s Series) Merge(other Series) Series {
	out := s.Clone()
	last, ok := s.Last()
	held := 0
	for i := len(s) - 1; i >= 0 && s[i] == last; i-- {
		held++
	}
	for _, point := range other {
		switch {
		case !ok:
			out = append(out, point)
		case point < last:
		case point == last && held > 0:
			held--
		default:
			out = append(out, point)
		}
	}
	return out
}

// Package period defines the reset and rollup periods shared by quotas and
// metric aggregation.
package period

import (
	"fmt"
	"time"
)

// Period is a named time span.
type Period string

const (
	Hour  Period = "hour"
	Day   Period = "day"
	Week  Period = "week"
	Month Period = "month"
)

// Parse returns the Period named by s.
func Parse(s string) (Period, error) {
	p := Period(s)
	if !p.Valid() {
		return "", fmt.Errorf("invalid period %q: must be hour, day, week, or month", s)
	}
	return p, nil
}

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case Hour, Day, Week, Month:
		return true
	}
	return false
}

// Duration returns the fixed length of p. A month is always 30 days.
func (p Period) Duration() time.Duration {
	switch p {
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	case Week:
		return 7 * 24 * time.Hour
	case Month:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Advance returns t moved forward by exactly one fixed-length period.
func (p Period) Advance(t time.Time) time.Time {
	return t.Add(p.Duration())
}

// BucketStart aligns t (in UTC) to the start of its rollup bucket. Weeks
// start on Monday; months start on the first calendar day.
func (p Period) BucketStart(t time.Time) time.Time {
	t = t.UTC()
	switch p {
	case Hour:
		return t.Truncate(time.Hour)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Week:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// BucketEnd returns the exclusive end of the bucket starting at start.
func (p Period) BucketEnd(start time.Time) time.Time {
	if p == Month {
		return start.AddDate(0, 1, 0)
	}
	return start.Add(p.Duration())
}

// Buckets splits [start, end) along aligned bucket boundaries. Interior
// buckets are whole; the first and last are clipped to the window, so the
// union is exactly [start, end).
func (p Period) Buckets(start, end time.Time) [][2]time.Time {
	start, end = start.UTC(), end.UTC()
	var out [][2]time.Time
	for b := start; b.Before(end); {
		e := p.BucketEnd(p.BucketStart(b))
		if !e.After(b) {
			return nil
		}
		if e.After(end) {
			e = end
		}
		out = append(out, [2]time.Time{b, e})
		b = e
	}
	return out
}

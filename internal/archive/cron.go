package archive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField matches one field of a 5-field cron expression.
type cronField struct {
	wildcard bool
	values   map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.wildcard || f.values[v]
}

// parseCronField accepts "*", "*/step", "a", "a-b", "a-b/step" and comma
// separated lists of those, bounded by [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{wildcard: true}, nil
	}

	values := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		step := 1
		if base, s, ok := strings.Cut(part, "/"); ok {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step %q", s)
			}
			step = n
			part = base
		}

		start, end := lo, hi
		switch {
		case part == "*":
		case strings.Contains(part, "-"):
			a, b, _ := strings.Cut(part, "-")
			var err error
			if start, err = strconv.Atoi(a); err != nil {
				return cronField{}, fmt.Errorf("invalid range start %q", a)
			}
			if end, err = strconv.Atoi(b); err != nil {
				return cronField{}, fmt.Errorf("invalid range end %q", b)
			}
		default:
			n, err := strconv.Atoi(part)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid value %q", part)
			}
			start, end = n, n
		}
		if start < lo || end > hi || start > end {
			return cronField{}, fmt.Errorf("value %q out of range %d-%d", part, lo, hi)
		}
		for v := start; v <= end; v += step {
			values[v] = true
		}
	}
	return cronField{values: values}, nil
}

// Schedule is a parsed "minute hour day-of-month month day-of-week" cron
// expression evaluated in UTC.
type Schedule struct {
	minute     cronField
	hour       cronField
	dayOfMonth cronField
	month      cronField
	dayOfWeek  cronField
}

// ParseCron parses a 5-field cron expression.
func ParseCron(expr string) (Schedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(fields))
	}

	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return Schedule{}, fmt.Errorf("cron %q: %s field: %w", expr, names[i], err)
		}
		parsed[i] = cf
	}
	return Schedule{
		minute:     parsed[0],
		hour:       parsed[1],
		dayOfMonth: parsed[2],
		month:      parsed[3],
		dayOfWeek:  parsed[4],
	}, nil
}

func (s Schedule) matches(t time.Time) bool {
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dayOfMonth.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dayOfWeek.matches(int(t.Weekday()))
}

// Next returns the first minute strictly after the given time that matches,
// searching up to a year ahead.
func (s Schedule) Next(after time.Time) (time.Time, error) {
	after = after.UTC()
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("cron: no match within a year after %s", after.Format(time.RFC3339))
}

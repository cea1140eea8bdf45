package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cronField matches one field of a cron expression. A nil set matches
// everything.
type cronField struct {
	set map[int]bool
}

func (f cronField) matches(v int) bool {
	return f.set == nil || f.set[v]
}

// parseCronField accepts "*", "*/n", "a-b", "a-b/n", single values and
// comma-separated lists of those, bounded by [lo, hi].
func parseCronField(field string, lo, hi int) (cronField, error) {
	if field == "*" {
		return cronField{}, nil
	}
	set := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		rng, step := part, 1
		if i := strings.IndexByte(part, '/'); i >= 0 {
			n, err := strconv.Atoi(part[i+1:])
			if err != nil || n <= 0 {
				return cronField{}, fmt.Errorf("invalid step in %q", part)
			}
			rng, step = part[:i], n
		}

		start, end := lo, hi
		switch {
		case rng == "*":
		case strings.Contains(rng, "-"):
			a, b, _ := strings.Cut(rng, "-")
			var errA, errB error
			start, errA = strconv.Atoi(a)
			end, errB = strconv.Atoi(b)
			if errA != nil || errB != nil {
				return cronField{}, fmt.Errorf("invalid range %q", rng)
			}
		default:
			v, err := strconv.Atoi(rng)
			if err != nil {
				return cronField{}, fmt.Errorf("invalid cron field value %q: %w", rng, err)
			}
			start, end = v, v
		}
		if start < lo || end > hi || start > end {
			return cronField{}, fmt.Errorf("value %q out of range [%d,%d]", part, lo, hi)
		}
		for v := start; v <= end; v += step {
			set[v] = true
		}
	}
	return cronField{set: set}, nil
}

type cronSchedule struct {
	minute, hour, dom, month, dow cronField
}

func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

	var parsed [5]cronField
	for i, f := range fields {
		cf, err := parseCronField(f, bounds[i][0], bounds[i][1])
		if err != nil {
			return cronSchedule{}, fmt.Errorf("parsing %s field: %w", names[i], err)
		}
		parsed[i] = cf
	}
	return cronSchedule{
		minute: parsed[0],
		hour:   parsed[1],
		dom:    parsed[2],
		month:  parsed[3],
		dow:    parsed[4],
	}, nil
}

func (c cronSchedule) matches(t time.Time) bool {
	return c.minute.matches(t.Minute()) &&
		c.hour.matches(t.Hour()) &&
		c.dom.matches(t.Day()) &&
		c.month.matches(int(t.Month())) &&
		c.dow.matches(int(t.Weekday()))
}

// next returns the first minute strictly after t matching the schedule,
// searching at most one year ahead.
func (c cronSchedule) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if c.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching cron time within one year after %s", after.Format(time.RFC3339))
}

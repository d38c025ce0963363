package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// field is one of the five cron fields, expanded to the set of values it
// matches.
type field map[int]struct{}

// schedule is a parsed five-field cron expression: minute hour
// day-of-month month day-of-week. Supports "*", comma lists, "a-b" ranges,
// and "*/n" / "a-b/n" steps — sufficient for the daily/weekly schedules
// real zone-ingestion jobs use; full calendar arithmetic (L, W, timezone
// DST edges) is out of scope.
type schedule struct {
	minute field
	hour   field
	dom    field
	month  field
	dow    field
}

// ParseCron parses a five-field cron expression.
func ParseCron(expr string) (*schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron expression %q: want 5 fields, got %d", expr, len(parts))
	}
	minute, err := parseField(parts[0], 0, 59)
	if err != nil {
		return nil, fmt.Errorf("minute field: %w", err)
	}
	hour, err := parseField(parts[1], 0, 23)
	if err != nil {
		return nil, fmt.Errorf("hour field: %w", err)
	}
	dom, err := parseField(parts[2], 1, 31)
	if err != nil {
		return nil, fmt.Errorf("day-of-month field: %w", err)
	}
	month, err := parseField(parts[3], 1, 12)
	if err != nil {
		return nil, fmt.Errorf("month field: %w", err)
	}
	dow, err := parseField(parts[4], 0, 6)
	if err != nil {
		return nil, fmt.Errorf("day-of-week field: %w", err)
	}
	return &schedule{minute: minute, hour: hour, dom: dom, month: month, dow: dow}, nil
}

func parseField(raw string, min, max int) (field, error) {
	f := field{}
	for _, part := range strings.Split(raw, ",") {
		if err := parseRange(part, min, max, f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func parseRange(part string, min, max int, out field) error {
	step := 1
	base := part
	if idx := strings.Index(part, "/"); idx >= 0 {
		base = part[:idx]
		s, err := strconv.Atoi(part[idx+1:])
		if err != nil || s <= 0 {
			return fmt.Errorf("invalid step in %q", part)
		}
		step = s
	}

	lo, hi := min, max
	switch {
	case base == "*":
		// lo/hi already span the full range
	case strings.Contains(base, "-"):
		bounds := strings.SplitN(base, "-", 2)
		a, err1 := strconv.Atoi(bounds[0])
		b, err2 := strconv.Atoi(bounds[1])
		if err1 != nil || err2 != nil || a > b {
			return fmt.Errorf("invalid range %q", base)
		}
		lo, hi = a, b
	default:
		v, err := strconv.Atoi(base)
		if err != nil {
			return fmt.Errorf("invalid value %q", base)
		}
		lo, hi = v, v
	}
	if lo < min || hi > max {
		return fmt.Errorf("value out of range [%d,%d] in %q", min, max, part)
	}
	for v := lo; v <= hi; v += step {
		out[v] = struct{}{}
	}
	return nil
}

// Matches reports whether t falls on a tick of the schedule.
func (s *schedule) Matches(t time.Time) bool {
	if _, ok := s.minute[t.Minute()]; !ok {
		return false
	}
	if _, ok := s.hour[t.Hour()]; !ok {
		return false
	}
	if _, ok := s.month[int(t.Month())]; !ok {
		return false
	}
	_, domOK := s.dom[t.Day()]
	_, dowOK := s.dow[int(t.Weekday())]
	return domOK && dowOK
}

// NextAfter returns the earliest tick strictly after t, scanning forward
// minute by minute. Bounded by a two-year horizon to guarantee termination
// on unsatisfiable expressions (e.g. Feb 30).
func (s *schedule) NextAfter(t time.Time) (time.Time, bool) {
	cursor := t.Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(2, 0, 0)
	for cursor.Before(limit) {
		if s.Matches(cursor) {
			return cursor, true
		}
		cursor = cursor.Add(time.Minute)
	}
	return time.Time{}, false
}

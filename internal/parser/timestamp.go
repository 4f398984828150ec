package parser

import (
	"strconv"
	"time"
)

// timeParts collects the timestamp components captured by the fields
// expression. A nil pointer means the component was not captured.
type timeParts struct {
	year, month, day, hour, minute, second, ms *int
}

// set records value when name is a timestamp component and reports whether
// it was one. Components that are not numeric are dropped.
func (p *timeParts) set(name, value string) bool {
	var slot **int
	switch name {
	case "year":
		slot = &p.year
	case "month":
		slot = &p.month
	case "day":
		slot = &p.day
	case "hour", "hours":
		slot = &p.hour
	case "minute", "minutes":
		slot = &p.minute
	case "second", "seconds":
		slot = &p.second
	case "ms", "millisecond", "milliseconds":
		slot = &p.ms
	default:
		return false
	}
	if *slot == nil {
		if n, err := strconv.Atoi(value); err == nil {
			*slot = &n
		}
	}
	return true
}

// assemble starts from now in UTC and overrides every captured component.
// Milliseconds default to zero.
func (p *timeParts) assemble(now time.Time) time.Time {
	now = now.UTC()
	pick := func(v *int, def int) int {
		if v == nil {
			return def
		}
		return *v
	}
	month := time.Month(pick(p.month, int(now.Month())))
	return time.Date(
		pick(p.year, now.Year()),
		month,
		pick(p.day, now.Day()),
		pick(p.hour, now.Hour()),
		pick(p.minute, now.Minute()),
		pick(p.second, now.Second()),
		pick(p.ms, 0)*int(time.Millisecond),
		time.UTC,
	)
}

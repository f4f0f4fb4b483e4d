// Package cronparse parses the POSIX subset of 5-field cron expressions
// consumed by the scheduler: numeric literals, a-b ranges, comma-separated
// lists, and *. The "/" step syntax is not part of this grammar and is
// rejected, since the scheduler's minimum-interval admission check assumes
// every field value came from an explicit literal, range, or list.
package cronparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Field identifies one of the five cron fields.
type Field int

const (
	Minute Field = iota
	Hour
	DayOfMonth
	Month
	DayOfWeek
)

var fieldBounds = map[Field][2]int{
	Minute:     {0, 59},
	Hour:       {0, 23},
	DayOfMonth: {1, 31},
	Month:      {1, 12},
	DayOfWeek:  {0, 6},
}

// Expression is an immutable, parsed 5-field cron expression.
type Expression struct {
	text   string
	minute [60]bool
	hour   [24]bool
	dom    [31]bool // index i holds day i+1
	month  [12]bool // index i holds month i+1
	dow    [7]bool
}

// String returns the original textual form of the expression.
func (e Expression) String() string {
	return e.text
}

// Parse parses a 5-field POSIX cron expression.
func Parse(text string) (Expression, error) {
	fields := strings.Fields(text)
	if len(fields) != 5 {
		return Expression{}, fmt.Errorf("cronparse: expected 5 fields, got %d in %q", len(fields), text)
	}

	expr := Expression{text: text}

	minuteVals, err := parseField(fields[0], Minute)
	if err != nil {
		return Expression{}, fmt.Errorf("cronparse: minute field: %w", err)
	}
	hourVals, err := parseField(fields[1], Hour)
	if err != nil {
		return Expression{}, fmt.Errorf("cronparse: hour field: %w", err)
	}
	domVals, err := parseField(fields[2], DayOfMonth)
	if err != nil {
		return Expression{}, fmt.Errorf("cronparse: day-of-month field: %w", err)
	}
	monthVals, err := parseField(fields[3], Month)
	if err != nil {
		return Expression{}, fmt.Errorf("cronparse: month field: %w", err)
	}
	dowVals, err := parseField(fields[4], DayOfWeek)
	if err != nil {
		return Expression{}, fmt.Errorf("cronparse: day-of-week field: %w", err)
	}

	for _, v := range minuteVals {
		expr.minute[v] = true
	}
	for _, v := range hourVals {
		expr.hour[v] = true
	}
	for _, v := range domVals {
		expr.dom[v-1] = true
	}
	for _, v := range monthVals {
		expr.month[v-1] = true
	}
	for _, v := range dowVals {
		expr.dow[v] = true
	}

	return expr, nil
}

// parseField parses a single cron field: a comma-separated list of either
// "*", a single integer, or an "a-b" range (a <= b, no wrap-around). The "/"
// step syntax is explicitly rejected.
func parseField(field string, kind Field) ([]int, error) {
	if strings.Contains(field, "/") {
		return nil, fmt.Errorf("step syntax is not supported: %q", field)
	}

	bounds := fieldBounds[kind]
	min, max := bounds[0], bounds[1]

	var out []int
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty list item in %q", field)
		}

		if part == "*" {
			for i := min; i <= max; i++ {
				out = append(out, i)
			}
			continue
		}

		if idx := strings.Index(part, "-"); idx >= 0 {
			lo, err := strconv.Atoi(part[:idx])
			if err != nil {
				return nil, fmt.Errorf("invalid range start in %q", part)
			}
			hi, err := strconv.Atoi(part[idx+1:])
			if err != nil {
				return nil, fmt.Errorf("invalid range end in %q", part)
			}
			if lo > hi {
				return nil, fmt.Errorf("wrap-around ranges are not supported: %q", part)
			}
			if lo < min || hi > max {
				return nil, fmt.Errorf("range %q out of bounds [%d,%d]", part, min, max)
			}
			for i := lo; i <= hi; i++ {
				out = append(out, i)
			}
			continue
		}

		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", part)
		}
		if v < min || v > max {
			return nil, fmt.Errorf("value %d out of bounds [%d,%d]", v, min, max)
		}
		out = append(out, v)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("field %q has no values", field)
	}
	return out, nil
}

// IsUnrestricted reports whether every valid value of the given field is
// set, i.e. the field is equivalent to "*".
func (e Expression) IsUnrestricted(f Field) bool {
	switch f {
	case Minute:
		return countTrue(e.minute[:]) == len(e.minute)
	case Hour:
		return countTrue(e.hour[:]) == len(e.hour)
	case DayOfMonth:
		return countTrue(e.dom[:]) == len(e.dom)
	case Month:
		return countTrue(e.month[:]) == len(e.month)
	case DayOfWeek:
		return countTrue(e.dow[:]) == len(e.dow)
	default:
		return false
	}
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

// Matches reports whether t (interpreted in UTC) matches the expression,
// applying the POSIX day-of-month/day-of-week OR-rule: if both fields are
// restricted, a minute matches when either matches; otherwise the
// restricted field (or both, if neither is restricted) must match.
func (e Expression) Matches(t time.Time) bool {
	t = t.UTC()

	if !e.minute[t.Minute()] {
		return false
	}
	if !e.hour[t.Hour()] {
		return false
	}
	if !e.month[int(t.Month())-1] {
		return false
	}

	domMatch := e.dom[t.Day()-1]
	dowMatch := e.dow[int(t.Weekday())]

	domRestricted := !e.IsUnrestricted(DayOfMonth)
	dowRestricted := !e.IsUnrestricted(DayOfWeek)

	if domRestricted && dowRestricted {
		return domMatch || dowMatch
	}
	return domMatch && dowMatch
}

package cronparse

import "time"

// MonthAllowed reports whether the given calendar month (1-12) is set in
// the month mask. Exposed so the firing calculator can prune its forward
// search by whole months without reconstructing a probe instant.
func (e Expression) MonthAllowed(month int) bool {
	return e.month[month-1]
}

// HourAllowed reports whether the given hour (0-23) is set in the hour
// mask.
func (e Expression) HourAllowed(hour int) bool {
	return e.hour[hour]
}

// DayAllowed reports whether the given calendar day could match, applying
// the same POSIX day-of-month/day-of-week OR-rule as Matches, but without
// needing the hour/minute of a concrete instant.
func (e Expression) DayAllowed(day int, weekday time.Weekday) bool {
	domMatch := e.dom[day-1]
	dowMatch := e.dow[int(weekday)]

	domRestricted := !e.IsUnrestricted(DayOfMonth)
	dowRestricted := !e.IsUnrestricted(DayOfWeek)

	if domRestricted && dowRestricted {
		return domMatch || dowMatch
	}
	return domMatch && dowMatch
}

// Package firing computes, for a parsed cron expression, the next matching
// instant after a point in time, the most recent matching instant at or
// before a point in time, and the minimum positive interval between two
// consecutive firings. All three are advisory-cached but never rely on the
// cache for correctness: a cache hit only records the last answer seen, it
// is never consulted to short-circuit a computation.
package firing

import (
	"sync"
	"time"

	"github.com/ottojung/volodyslav-sub000/internal/cronparse"
)

// searchHorizon bounds how far into the future NextFiring will scan before
// giving up. 4 calendar years comfortably covers every practical cron
// expression, including "Feb 29 on a leap year".
const searchHorizon = 4 * 365 * 24 * time.Hour

// cacheTTL is how long a cache entry remains valid once computed.
const cacheTTL = 60 * time.Second

// conservativeMinInterval is returned by MinInterval when no firing could be
// found from any probe instant. It is deliberately large (one calendar
// year) so the admission check in the scheduler façade never falsely
// rejects a legitimate, merely-hard-to-probe expression.
const conservativeMinInterval = 365 * 24 * time.Hour

type cacheEntry struct {
	computedAt          time.Time
	lastKnownNextFiring time.Time
	hasNextFiring       bool
}

// Calculator evaluates cron expressions against the wall clock, backed by a
// small advisory cache keyed by the expression's mask fingerprint.
type Calculator struct {
	mu    sync.Mutex
	cache map[cronparse.Fingerprint]cacheEntry
}

// New returns a ready-to-use Calculator.
func New() *Calculator {
	return &Calculator{cache: make(map[cronparse.Fingerprint]cacheEntry)}
}

// NextFiring returns the least instant strictly greater than after, aligned
// to a minute boundary, that matches expr. ok is false if no such instant
// exists within the search horizon.
func (c *Calculator) NextFiring(expr cronparse.Expression, after time.Time) (next time.Time, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.evict(expr)
			next, ok = time.Time{}, false
		}
	}()

	candidate := after.UTC().Add(time.Minute).Truncate(time.Minute)
	limit := after.UTC().Add(searchHorizon)

	for candidate.Before(limit) {
		if !expr.MonthAllowed(int(candidate.Month())) {
			candidate = firstOfMonth(candidate).AddDate(0, 1, 0)
			continue
		}
		if !expr.DayAllowed(candidate.Day(), candidate.Weekday()) {
			candidate = firstOfDay(candidate).AddDate(0, 0, 1)
			continue
		}
		if !expr.HourAllowed(candidate.Hour()) {
			candidate = firstOfHour(candidate).Add(time.Hour)
			continue
		}
		if expr.Matches(candidate) {
			c.remember(expr, candidate, true)
			return candidate, true
		}
		candidate = candidate.Add(time.Minute)
	}

	c.remember(expr, time.Time{}, false)
	return time.Time{}, false
}

func firstOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func firstOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func firstOfHour(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, t.Hour(), 0, 0, 0, time.UTC)
}

// MostRecentFiring returns the greatest instant at or before atOrBefore that
// matches expr, or ok=false if none exists.
func (c *Calculator) MostRecentFiring(expr cronparse.Expression, atOrBefore time.Time) (last time.Time, ok bool) {
	rounded := atOrBefore.UTC().Truncate(time.Minute)
	if expr.Matches(rounded) {
		return rounded, true
	}

	next, hasNext := c.NextFiring(expr, atOrBefore)
	if !hasNext {
		return time.Time{}, false
	}

	for _, k := range []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, 30 * time.Minute, time.Hour, 24 * time.Hour} {
		candidate := next.Add(-k)
		if !candidate.After(atOrBefore) && expr.Matches(candidate) {
			return candidate, true
		}
	}

	backScanMinutes := int64(next.Sub(rounded) / time.Minute)
	if backScanMinutes > 1440 {
		backScanMinutes = 1440
	}
	for i := int64(0); i < backScanMinutes; i++ {
		candidate := rounded.Add(-time.Duration(i) * time.Minute)
		if expr.Matches(candidate) {
			return candidate, true
		}
	}

	return time.Time{}, false
}

// MinInterval estimates the minimum positive interval between two
// consecutive firings of expr. It probes from a handful of instants and
// scans forward up to 10 firings from each, short-circuiting once it has
// observed an interval below one minute (the tightest interval cron's
// minute resolution can express). If no firing is observed from any probe,
// the conservative one-year fallback is returned.
func (c *Calculator) MinInterval(expr cronparse.Expression, now time.Time) time.Duration {
	probes := []time.Time{
		now,
		now.Add(time.Minute),
		now.Add(time.Hour),
		now.Add(24 * time.Hour),
	}

	min := time.Duration(0)
	found := false

	for _, probe := range probes {
		prev, ok := c.NextFiring(expr, probe)
		if !ok {
			continue
		}
		for i := 0; i < 10; i++ {
			next, ok := c.NextFiring(expr, prev)
			if !ok {
				break
			}
			delta := next.Sub(prev)
			if delta > 0 && (!found || delta < min) {
				min = delta
				found = true
			}
			if found && min < time.Minute {
				return min
			}
			prev = next
		}
	}

	if !found {
		return conservativeMinInterval
	}
	return min
}

func (c *Calculator) remember(expr cronparse.Expression, next time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[expr.Fingerprint()] = cacheEntry{
		computedAt:          time.Now().UTC(),
		lastKnownNextFiring: next,
		hasNextFiring:       ok,
	}
}

func (c *Calculator) evict(expr cronparse.Expression) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, expr.Fingerprint())
}

// Cached returns the cache entry for expr if it is still within its 60s
// TTL. It is advisory only: no code path in Calculator depends on a hit for
// correctness; this accessor exists for diagnostics/tests.
func (c *Calculator) Cached(expr cronparse.Expression, asOf time.Time) (computedAt time.Time, nextFiring time.Time, hasNextFiring bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.cache[expr.Fingerprint()]
	if !found || asOf.Sub(e.computedAt) > cacheTTL {
		return time.Time{}, time.Time{}, false, false
	}
	return e.computedAt, e.lastKnownNextFiring, e.hasNextFiring, true
}

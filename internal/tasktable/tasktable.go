// Package tasktable holds the in-memory, process-wide mapping from task
// name to task record. The table is the only mutable shared structure the
// polling engine and the scheduler façade touch directly; every mutation
// goes through one of its exported operations.
package tasktable

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ottojung/volodyslav-sub000/internal/cronparse"
)

// Callback is the zero-argument action a task runs. It returns an error on
// failure; a nil error is a success. The context carries the per-run
// correlation id and is cancelled only if the caller cancels the poll's own
// context (the scheduler itself never times out a running callback).
type Callback func(ctx context.Context) error

// Record is one task's full state. Optional fields use the zero time.Time
// plus an explicit "set" flag rather than a sentinel instant, since a
// sentinel would alias with a legitimate timestamp.
type Record struct {
	Name           string
	CronExpression string
	ParsedCron     cronparse.Expression
	Callback       Callback // nil means "absent": loaded from persistence, not yet re-registered
	RetryDelay     time.Duration

	LastSuccessTime    time.Time
	HasLastSuccessTime bool
	LastFailureTime    time.Time
	HasLastFailureTime bool
	LastAttemptTime    time.Time
	HasLastAttemptTime bool

	PendingRetryUntil    time.Time
	HasPendingRetryUntil bool

	Running bool
}

// HasCallback reports whether this record has a bound callback and can be
// dispatched.
func (r *Record) HasCallback() bool {
	return r.Callback != nil
}

// Table is a concurrency-safe map from task name to *Record.
type Table struct {
	mu      sync.Mutex
	records map[string]*Record
}

// New returns an empty table.
func New() *Table {
	return &Table{records: make(map[string]*Record)}
}

// ErrAlreadyBound is returned by Insert when a record with the same name
// already exists and already has a bound callback.
type ErrAlreadyBound struct{ Name string }

func (e ErrAlreadyBound) Error() string {
	return fmt.Sprintf("tasktable: task %q already has a bound callback", e.Name)
}

// Insert adds rec to the table. It fails if a record with the same name is
// already present and that existing record has a bound callback; if the
// existing record has no callback (loaded from persistence), Insert returns
// it unchanged and the caller should use Update to bind the callback and
// refresh the schedule fields instead.
func (t *Table) Insert(rec *Record) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.records[rec.Name]; ok {
		if existing.HasCallback() {
			return nil, ErrAlreadyBound{Name: rec.Name}
		}
		return existing, nil
	}

	t.records[rec.Name] = rec
	return rec, nil
}

// Get returns the record for name, if present.
func (t *Table) Get(name string) (*Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[name]
	return r, ok
}

// Update applies mutator to the record named name while holding the table
// lock, so concurrent pollers and façade calls never observe a partially
// mutated record. It is a no-op if name is not present.
func (t *Table) Update(name string, mutator func(*Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[name]; ok {
		mutator(r)
	}
}

// Remove deletes the record named name. It reports whether a record existed.
func (t *Table) Remove(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[name]; !ok {
		return false
	}
	delete(t.records, name)
	return true
}

// RemoveAll clears the table and returns how many records it held.
func (t *Table) RemoveAll() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.records)
	t.records = make(map[string]*Record)
	return n
}

// Len returns the number of records currently in the table.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Snapshot returns a point-in-time copy of every record, safe for the
// polling engine to iterate without holding the table lock. Each returned
// *Record is a distinct copy; mutating it does not affect the live table.
func (t *Table) Snapshot() []*Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Record, 0, len(t.records))
	for _, r := range t.records {
		cp := *r
		out = append(out, &cp)
	}
	return out
}

package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ottojung/volodyslav-sub000/internal/clock"
	"github.com/ottojung/volodyslav-sub000/internal/cronparse"
	"github.com/ottojung/volodyslav-sub000/internal/scheduler"
	"github.com/ottojung/volodyslav-sub000/internal/state"
	"github.com/ottojung/volodyslav-sub000/internal/state/filestore"
)

func noop(context.Context) error { return nil }

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse time %q: %v", s, err)
	}
	return parsed
}

// newTestScheduler builds a Scheduler against a temp-dir file store. Tests
// call Stop() (or CancelAll) as soon as their Schedule calls are done, so
// the background ticker does not drive the test; PollNow drives polls
// deterministically instead.
func newTestScheduler(t *testing.T, now time.Time, pollInterval time.Duration, maxConcurrent int64) (*scheduler.Scheduler, *clock.FakeClock, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	store := filestore.New(path, slog.Default())
	clk := clock.NewFake(now)
	return scheduler.New(store, clk, slog.Default(), pollInterval, maxConcurrent), clk, path
}

// S1 — basic fire-after-load: one poll invokes a newly scheduled wildcard
// task exactly once (catch-up for the current minute's firing).
func TestS1_FireAfterLoad(t *testing.T) {
	sched, _, _ := newTestScheduler(t, mustParseTime(t, "2021-01-01T00:00:30Z"), 10*time.Millisecond, 10)

	var count int32
	_, err := sched.Schedule(context.Background(), "t", "* * * * *", func(context.Context) error {
		atomic.AddInt32(&count, 1)
		return nil
	}, time.Second)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	sched.Stop()

	if err := sched.PollNow(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected exactly one invocation, got %d", got)
	}

	views := sched.List()
	if len(views) != 1 {
		t.Fatalf("expected one task, got %d", len(views))
	}
	if views[0].ModeHint != "idle" {
		t.Fatalf("expected modeHint idle after success, got %s", views[0].ModeHint)
	}
	if views[0].LastSuccessTime == nil {
		t.Fatal("expected lastSuccessTime to be set")
	}
}

// S2 — retry on failure: a task that always fails is retried exactly once
// more, only once its retry deadline has arrived.
func TestS2_RetryOnFailure(t *testing.T) {
	t0 := mustParseTime(t, "2021-01-01T12:00:00Z")
	sched, clk, _ := newTestScheduler(t, t0, 10*time.Millisecond, 10)

	var count int32
	_, err := sched.Schedule(context.Background(), "t", "* * * * *", func(context.Context) error {
		atomic.AddInt32(&count, 1)
		return errors.New("always fails")
	}, 1500*time.Millisecond)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	sched.Stop()
	ctx := context.Background()

	if err := sched.PollNow(ctx); err != nil {
		t.Fatalf("poll1: %v", err)
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected 1 invocation after first poll, got %d", got)
	}

	views := sched.List()
	wantRetryAt := t0.Add(1500 * time.Millisecond)
	if views[0].PendingRetryUntil == nil || !views[0].PendingRetryUntil.Equal(wantRetryAt) {
		t.Fatalf("expected pendingRetryUntil %v, got %v", wantRetryAt, views[0].PendingRetryUntil)
	}

	clk.Set(t0.Add(500 * time.Millisecond))
	if err := sched.PollNow(ctx); err != nil {
		t.Fatalf("poll2: %v", err)
	}
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("expected still 1 invocation (retry not due), got %d", got)
	}

	clk.Set(t0.Add(1600 * time.Millisecond))
	if err := sched.PollNow(ctx); err != nil {
		t.Fatalf("poll3: %v", err)
	}
	if got := atomic.LoadInt32(&count); got != 2 {
		t.Fatalf("expected exactly 2 invocations, got %d", got)
	}
}

// S3 — admission reject: a cron expression firing faster than the poll
// interval is rejected with FrequencyError; the step-syntax grammar is
// rejected by the parser regardless.
func TestS3_AdmissionCheck(t *testing.T) {
	sched, _, _ := newTestScheduler(t, mustParseTime(t, "2021-01-01T00:00:00Z"), 10*time.Minute, 10)

	if _, err := sched.Schedule(context.Background(), "ok", "0,15,45 * * * *", noop, time.Second); err != nil {
		t.Fatalf("expected 15-minute cadence to be accepted, got %v", err)
	}
	sched.Stop()

	_, err := sched.Schedule(context.Background(), "bad", "0,5 * * * *", noop, time.Second)
	var freq scheduler.FrequencyError
	if !errors.As(err, &freq) {
		t.Fatalf("expected FrequencyError, got %v", err)
	}

	if _, err := cronparse.Parse("*/5 * * * *"); err == nil {
		t.Fatal("expected */5 step syntax to be rejected by the parser")
	}
}

// S4 — migration: a v1 document on disk loads as empty, and the next
// mutation writes a v2 document with a populated task list.
func TestS4_MigrationFromV1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"version":1,"startTime":"2025-01-01T10:00:00Z"}`), 0o600); err != nil {
		t.Fatalf("seed v1 file: %v", err)
	}

	store := filestore.New(path, slog.Default())
	clk := clock.NewFake(mustParseTime(t, "2025-06-01T00:00:00Z"))
	sched := scheduler.New(store, clk, slog.Default(), time.Minute, 10)

	if _, err := sched.Schedule(context.Background(), "a", "* * * * *", noop, time.Second); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	sched.Stop()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	doc, err := state.Decode(raw, slog.Default())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Version != state.CurrentVersion {
		t.Fatalf("expected version %d, got %d", state.CurrentVersion, doc.Version)
	}
	if len(doc.Tasks) != 1 || doc.Tasks[0].Name != "a" {
		t.Fatalf("expected one persisted task named a, got %+v", doc.Tasks)
	}
}

// S5 — duplicate in persisted list: loading two entries named "d" and one
// named "u" keeps exactly one "d" and skips its duplicate.
func TestS5_DuplicateInPersistedList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	seed := state.Document{
		Version:   state.CurrentVersion,
		StartTime: mustParseTime(t, "2025-01-01T00:00:00Z"),
		Tasks: []state.PersistedTask{
			{Name: "d", CronExpression: "* * * * *"},
			{Name: "d", CronExpression: "0 * * * *"},
			{Name: "u", CronExpression: "* * * * *"},
		},
	}
	raw, err := state.Encode(seed)
	if err != nil {
		t.Fatalf("encode seed: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	store := filestore.New(path, slog.Default())
	clk := clock.NewFake(mustParseTime(t, "2025-06-01T00:00:00Z"))
	sched := scheduler.New(store, clk, slog.Default(), time.Minute, 10)

	if _, err := sched.Schedule(context.Background(), "zzz", "* * * * *", noop, time.Second); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	sched.Stop()

	views := sched.List()
	if len(views) != 3 {
		t.Fatalf("expected 3 tasks (d, u, zzz), got %d: %+v", len(views), views)
	}
}

// S6 — concurrency skip metric: five tasks due in one poll with a
// concurrency cap of 2 still all eventually run, since Poll blocks on the
// full dispatched set before returning.
func TestS6_ConcurrencyCapAllEventuallyRun(t *testing.T) {
	sched, _, _ := newTestScheduler(t, mustParseTime(t, "2021-01-01T00:00:00Z"), time.Minute, 2)

	var mu sync.Mutex
	ran := make(map[string]bool)
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("task-%d", i)
		_, err := sched.Schedule(context.Background(), name, "* * * * *", func(context.Context) error {
			mu.Lock()
			ran[name] = true
			mu.Unlock()
			return nil
		}, time.Second)
		if err != nil {
			t.Fatalf("schedule %s: %v", name, err)
		}
	}
	sched.Stop()

	if err := sched.PollNow(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 5 {
		t.Fatalf("expected all 5 tasks to run, got %d: %v", len(ran), ran)
	}
}

// Invariant 8: re-scheduling a persistence-loaded record (callback absent)
// preserves its timing history and binds the callback.
func TestInvariant8_IdempotentRescheduleOfLoadedTask(t *testing.T) {
	success := mustParseTime(t, "2025-01-01T00:00:00Z")
	path := filepath.Join(t.TempDir(), "state.json")
	seed := state.Document{
		Version:   state.CurrentVersion,
		StartTime: success,
		Tasks: []state.PersistedTask{
			{Name: "a", CronExpression: "0 * * * *", RetryDelayMs: 1000, LastSuccessTime: &success},
		},
	}
	raw, err := state.Encode(seed)
	if err != nil {
		t.Fatalf("encode seed: %v", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	store := filestore.New(path, slog.Default())
	clk := clock.NewFake(mustParseTime(t, "2025-06-01T00:00:00Z"))
	sched := scheduler.New(store, clk, slog.Default(), time.Hour, 10)

	name, err := sched.Schedule(context.Background(), "a", "0 * * * *", noop, 2*time.Second)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	sched.Stop()
	if name != "a" {
		t.Fatalf("expected name a, got %s", name)
	}

	views := sched.List()
	if len(views) != 1 {
		t.Fatalf("expected 1 task, got %d", len(views))
	}
	if views[0].LastSuccessTime == nil || !views[0].LastSuccessTime.Equal(success) {
		t.Fatalf("expected lastSuccessTime preserved as %v, got %v", success, views[0].LastSuccessTime)
	}
}

// ErrDuplicateTask is returned for a second Schedule call naming a task
// that already has a bound callback.
func TestSchedule_DuplicateBoundCallback(t *testing.T) {
	sched, _, _ := newTestScheduler(t, mustParseTime(t, "2025-06-01T00:00:00Z"), time.Minute, 10)

	if _, err := sched.Schedule(context.Background(), "a", "* * * * *", noop, time.Second); err != nil {
		t.Fatalf("first schedule: %v", err)
	}
	_, err := sched.Schedule(context.Background(), "a", "* * * * *", noop, time.Second)
	if !errors.Is(err, scheduler.ErrDuplicateTask) {
		t.Fatalf("expected ErrDuplicateTask, got %v", err)
	}
	sched.Stop()
}

// ErrInvalidName is returned for an empty or whitespace-only name.
func TestSchedule_InvalidName(t *testing.T) {
	sched, _, _ := newTestScheduler(t, mustParseTime(t, "2025-06-01T00:00:00Z"), time.Hour, 10)

	_, err := sched.Schedule(context.Background(), "   ", "* * * * *", noop, time.Second)
	if !errors.Is(err, scheduler.ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

// Cancel removes a task and CancelAll clears the whole table.
func TestCancelAndCancelAll(t *testing.T) {
	sched, _, _ := newTestScheduler(t, mustParseTime(t, "2025-06-01T00:00:00Z"), time.Minute, 10)

	if _, err := sched.Schedule(context.Background(), "a", "* * * * *", noop, time.Second); err != nil {
		t.Fatalf("schedule a: %v", err)
	}
	if _, err := sched.Schedule(context.Background(), "b", "* * * * *", noop, time.Second); err != nil {
		t.Fatalf("schedule b: %v", err)
	}

	if !sched.Cancel(context.Background(), "a") {
		t.Fatal("expected Cancel to report the task existed")
	}
	if sched.Cancel(context.Background(), "a") {
		t.Fatal("expected second Cancel to report false")
	}
	if len(sched.List()) != 1 {
		t.Fatalf("expected 1 remaining task, got %d", len(sched.List()))
	}

	if n := sched.CancelAll(context.Background()); n != 1 {
		t.Fatalf("expected CancelAll to report 1, got %d", n)
	}
	if len(sched.List()) != 0 {
		t.Fatal("expected empty table after CancelAll")
	}
}

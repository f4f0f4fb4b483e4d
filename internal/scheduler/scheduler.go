// Package scheduler implements the public façade: Schedule, Cancel,
// CancelAll, List, Start, Stop. It owns the task table, the firing
// calculator, the persistence store, and the polling engine, and wires them
// together into one coherent collaborator a caller constructs once and
// drives through its exported methods.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ottojung/volodyslav-sub000/internal/clock"
	"github.com/ottojung/volodyslav-sub000/internal/cronparse"
	"github.com/ottojung/volodyslav-sub000/internal/firing"
	"github.com/ottojung/volodyslav-sub000/internal/metrics"
	"github.com/ottojung/volodyslav-sub000/internal/poller"
	"github.com/ottojung/volodyslav-sub000/internal/state"
	"github.com/ottojung/volodyslav-sub000/internal/tasktable"
)

// TaskView is the projection List returns for one task.
type TaskView struct {
	Name           string
	CronExpression string
	Running        bool

	LastSuccessTime   *time.Time
	LastFailureTime   *time.Time
	LastAttemptTime   *time.Time
	PendingRetryUntil *time.Time

	// ModeHint is "cron", "retry", or "idle", computed with the same
	// classification rule the poller uses, without dispatching.
	ModeHint string
}

// Scheduler is the durable polling cron scheduler façade.
type Scheduler struct {
	table  *tasktable.Table
	calc   *firing.Calculator
	store  state.Store
	clock  clock.Clock
	logger *slog.Logger

	pollInterval       time.Duration
	maxConcurrentTasks int64

	engine *poller.Engine

	startTime time.Time

	loadOnce sync.Once
	loadErr  error
}

// New builds a Scheduler bound to store, using clk for all wall-clock
// reads. pollInterval and maxConcurrentTasks come from the process Config.
func New(store state.Store, clk clock.Clock, logger *slog.Logger, pollInterval time.Duration, maxConcurrentTasks int64) *Scheduler {
	s := &Scheduler{
		table:              tasktable.New(),
		calc:               firing.New(),
		store:              store,
		clock:              clk,
		logger:             logger.With("component", "scheduler"),
		pollInterval:       pollInterval,
		maxConcurrentTasks: maxConcurrentTasks,
		startTime:          clk.NowUTC(),
	}
	s.engine = poller.NewEngine(s.table, s.calc, s.clock, s.logger, s.persist, pollInterval, maxConcurrentTasks)
	metrics.SchedulerStartTime.Set(float64(s.startTime.Unix()))
	return s
}

// Schedule registers name to run callback on cronExpression, retrying
// after retryDelay on failure. If name was previously loaded from
// persistence but never re-bound in this process, Schedule rebinds its
// callback and refreshes its schedule fields while preserving its timing
// history.
func (s *Scheduler) Schedule(ctx context.Context, name, cronExpression string, callback tasktable.Callback, retryDelay time.Duration) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", ErrInvalidName
	}

	parsed, err := cronparse.Parse(cronExpression)
	if err != nil {
		return "", err
	}

	pollIntervalMs := s.pollInterval.Milliseconds()
	taskIntervalMs := s.calc.MinInterval(parsed, s.clock.NowUTC()).Milliseconds()
	if taskIntervalMs < pollIntervalMs {
		return "", FrequencyError{TaskMs: taskIntervalMs, PollMs: pollIntervalMs}
	}

	s.ensureLoaded(ctx)

	newRec := &tasktable.Record{
		Name:           trimmed,
		CronExpression: cronExpression,
		ParsedCron:     parsed,
		Callback:       callback,
		RetryDelay:     retryDelay,
	}
	existing, err := s.table.Insert(newRec)
	if err != nil {
		return "", ErrDuplicateTask
	}
	if existing != newRec {
		// A record loaded from persistence already occupies this name with
		// no bound callback: rebind it in place, preserving its timing
		// history.
		s.table.Update(trimmed, func(r *tasktable.Record) {
			r.CronExpression = cronExpression
			r.ParsedCron = parsed
			r.RetryDelay = retryDelay
			r.Callback = callback
		})
	}

	if err := s.persist(ctx); err != nil {
		s.logger.Error("StateWriteFailed", "error", err)
		metrics.StateWriteFailuresTotal.Inc()
	}

	metrics.TasksRegistered.Set(float64(s.table.Len()))
	s.engine.Start(ctx)

	return trimmed, nil
}

// Cancel removes name from the table, persists the removal if it existed,
// and stops the engine if the table is now empty.
func (s *Scheduler) Cancel(ctx context.Context, name string) bool {
	existed := s.table.Remove(name)
	if existed {
		if err := s.persist(ctx); err != nil {
			s.logger.Error("StateWriteFailed", "error", err)
			metrics.StateWriteFailuresTotal.Inc()
		}
		metrics.TasksRegistered.Set(float64(s.table.Len()))
	}
	if s.table.Len() == 0 {
		s.engine.Stop()
	}
	return existed
}

// CancelAll clears the table, persists if it was non-empty, and stops the
// engine.
func (s *Scheduler) CancelAll(ctx context.Context) int {
	n := s.table.RemoveAll()
	if n > 0 {
		if err := s.persist(ctx); err != nil {
			s.logger.Error("StateWriteFailed", "error", err)
			metrics.StateWriteFailuresTotal.Inc()
		} else {
			s.logger.Info("CancelAllPersisted", "count", n)
		}
	}
	metrics.TasksRegistered.Set(0)
	s.engine.Stop()
	return n
}

// List returns a projection of every task, including a modeHint computed
// with the same classification rule the poller uses, without dispatching.
func (s *Scheduler) List() []TaskView {
	now := s.clock.NowUTC()
	snapshot := s.table.Snapshot()
	views := make([]TaskView, 0, len(snapshot))
	for _, rec := range snapshot {
		views = append(views, s.toView(rec, now))
	}
	return views
}

func (s *Scheduler) toView(rec *tasktable.Record, now time.Time) TaskView {
	v := TaskView{
		Name:           rec.Name,
		CronExpression: rec.CronExpression,
		Running:        rec.Running,
		ModeHint:       "idle",
	}
	if rec.HasLastSuccessTime {
		t := rec.LastSuccessTime
		v.LastSuccessTime = &t
	}
	if rec.HasLastFailureTime {
		t := rec.LastFailureTime
		v.LastFailureTime = &t
	}
	if rec.HasLastAttemptTime {
		t := rec.LastAttemptTime
		v.LastAttemptTime = &t
	}
	if rec.HasPendingRetryUntil {
		t := rec.PendingRetryUntil
		v.PendingRetryUntil = &t
	}

	if rec.Running {
		return v
	}

	lastFire, hasLastFire := s.calc.MostRecentFiring(rec.ParsedCron, now)
	shouldRunCron := hasLastFire && (!rec.HasLastAttemptTime ||
		(rec.HasLastSuccessTime && rec.LastSuccessTime.Before(lastFire)))
	shouldRunRetry := rec.HasPendingRetryUntil && !now.Before(rec.PendingRetryUntil)

	switch {
	case shouldRunCron && shouldRunRetry:
		if !rec.PendingRetryUntil.After(lastFire) {
			v.ModeHint = "retry"
		} else {
			v.ModeHint = "cron"
		}
	case shouldRunCron:
		v.ModeHint = "cron"
	case shouldRunRetry:
		v.ModeHint = "retry"
	}
	return v
}

// Start arms the polling engine. Schedule already starts it on first
// registration; Start is exposed for callers that reconstruct a Scheduler
// around a non-empty persisted table before calling Schedule.
func (s *Scheduler) Start(ctx context.Context) {
	s.engine.Start(ctx)
}

// Stop disarms the polling engine without touching the task table.
func (s *Scheduler) Stop() {
	s.engine.Stop()
}

// PollNow runs one polling tick synchronously, bypassing the ticker. Tests
// use this for deterministic control over when a poll happens; production
// callers should rely on Start's ticker instead.
func (s *Scheduler) PollNow(ctx context.Context) error {
	return s.engine.Poll(ctx)
}

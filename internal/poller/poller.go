// Package poller implements the timer-driven polling loop: each tick it
// snapshots the task table, classifies which tasks are due (by cron firing
// or by a pending retry deadline), dispatches the due set under a
// bounded-concurrency semaphore, and persists outcomes as each task
// finishes.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ottojung/volodyslav-sub000/internal/clock"
	"github.com/ottojung/volodyslav-sub000/internal/firing"
	"github.com/ottojung/volodyslav-sub000/internal/metrics"
	"github.com/ottojung/volodyslav-sub000/internal/runid"
	"github.com/ottojung/volodyslav-sub000/internal/tasktable"
)

// Mode classifies why a task was found due.
type Mode string

const (
	ModeCron  Mode = "cron"
	ModeRetry Mode = "retry"
)

// PersistFunc persists the current task table. It is supplied by the
// owning scheduler façade, which is the component that actually holds the
// state.Store; the poller only knows it needs to call it after each run.
type PersistFunc func(ctx context.Context) error

// Engine is the ticker-driven polling loop.
type Engine struct {
	table   *tasktable.Table
	calc    *firing.Calculator
	clock   clock.Clock
	logger  *slog.Logger
	persist PersistFunc

	pollInterval time.Duration
	sem          *semaphore.Weighted

	polling atomic.Bool

	mu      sync.Mutex
	running bool
	ticker  *time.Ticker
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewEngine builds an Engine. maxConcurrentTasks sizes the dispatch
// semaphore.
func NewEngine(table *tasktable.Table, calc *firing.Calculator, clk clock.Clock, logger *slog.Logger, persist PersistFunc, pollInterval time.Duration, maxConcurrentTasks int64) *Engine {
	return &Engine{
		table:        table,
		calc:         calc,
		clock:        clk,
		logger:       logger.With("component", "poller"),
		persist:      persist,
		pollInterval: pollInterval,
		sem:          semaphore.NewWeighted(maxConcurrentTasks),
	}
}

// Start arms the repeating timer. It is a no-op if already running.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true
	e.ticker = time.NewTicker(e.pollInterval)
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})

	go e.loop(ctx)
}

// Stop disarms the timer. It lets any in-flight poll and its dispatched
// tasks finish; it does not cancel them.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	<-e.doneCh
}

// Running reports whether the timer is currently armed.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.doneCh)
	for {
		select {
		case <-e.stopCh:
			e.ticker.Stop()
			return
		case <-e.ticker.C:
			e.tick(ctx)
		}
	}
}

// tick guards poll() with the re-entrancy flag and recovers from any
// unexpected error so the timer keeps running.
func (e *Engine) tick(ctx context.Context) {
	if !e.polling.CompareAndSwap(false, true) {
		metrics.PollSkippedTotal.WithLabelValues("pollInProgress").Inc()
		e.logger.Info("PollSkipped", "reason", "pollInProgress")
		return
	}
	defer e.polling.Store(false)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("UnexpectedPollError", "error", fmt.Sprintf("%v", r))
		}
	}()

	if err := e.Poll(ctx); err != nil {
		e.logger.Error("UnexpectedPollError", "error", err)
	}
}

type duePair struct {
	record *tasktable.Record
	mode   Mode
}

// Poll runs one polling tick synchronously: snapshot, classify, dispatch,
// wait. Exported so tests can drive a deterministic poll without waiting
// on the ticker.
func (e *Engine) Poll(ctx context.Context) error {
	start := e.clock.NowUTC()
	now := start

	snapshot := e.table.Snapshot()

	var due []duePair
	var dueCron, dueRetry, skippedRunning, skippedRetryFuture, skippedNotDue int

	for _, rec := range snapshot {
		if !rec.HasCallback() {
			e.logger.Debug("TaskSkippedNoCallback", "name", rec.Name)
			continue
		}
		if rec.Running {
			skippedRunning++
			metrics.TasksSkippedTotal.WithLabelValues("running").Inc()
			e.logger.Debug("TaskSkip", "name", rec.Name, "reason", "running")
			continue
		}

		lastFire, hasLastFire := e.calc.MostRecentFiring(rec.ParsedCron, now)

		shouldRunCron := hasLastFire && (!rec.HasLastAttemptTime ||
			(rec.HasLastSuccessTime && rec.LastSuccessTime.Before(lastFire)))
		shouldRunRetry := rec.HasPendingRetryUntil && !now.Before(rec.PendingRetryUntil)

		switch {
		case shouldRunCron && shouldRunRetry:
			mode := ModeCron
			if !rec.PendingRetryUntil.After(lastFire) {
				mode = ModeRetry
			}
			due = append(due, duePair{rec, mode})
			if mode == ModeCron {
				dueCron++
			} else {
				dueRetry++
			}
		case shouldRunCron:
			due = append(due, duePair{rec, ModeCron})
			dueCron++
		case shouldRunRetry:
			due = append(due, duePair{rec, ModeRetry})
			dueRetry++
		default:
			if rec.HasPendingRetryUntil {
				skippedRetryFuture++
				metrics.TasksSkippedTotal.WithLabelValues("retryNotDue").Inc()
				e.logger.Debug("TaskSkip", "name", rec.Name, "reason", "retryNotDue")
			} else {
				skippedNotDue++
				metrics.TasksSkippedTotal.WithLabelValues("notDue").Inc()
				e.logger.Debug("TaskSkip", "name", rec.Name, "reason", "notDue")
			}
		}
	}

	var wg sync.WaitGroup
	var skippedConcurrency int64

	for _, d := range due {
		d := d
		if !e.sem.TryAcquire(1) {
			atomic.AddInt64(&skippedConcurrency, 1)
			if err := e.sem.Acquire(ctx, 1); err != nil {
				e.logger.Warn("TaskSkip", "name", d.record.Name, "reason", "contextCancelled", "error", err)
				continue
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.sem.Release(1)
			e.runTask(ctx, d.record.Name, d.mode)
		}()
	}
	wg.Wait()

	metrics.PollsTotal.Inc()
	metrics.PollDuration.Observe(e.clock.NowUTC().Sub(start).Seconds())
	if dueCron > 0 {
		metrics.TasksDueTotal.WithLabelValues("cron").Add(float64(dueCron))
	}
	if dueRetry > 0 {
		metrics.TasksDueTotal.WithLabelValues("retry").Add(float64(dueRetry))
	}

	e.logger.Info("PollSummary",
		"total", len(snapshot),
		"dueCron", dueCron,
		"dueRetry", dueRetry,
		"skippedRunning", skippedRunning,
		"skippedRetryFuture", skippedRetryFuture,
		"skippedNotDue", skippedNotDue,
		"skippedConcurrency", skippedConcurrency,
	)

	return nil
}

// runTask executes one task's callback, with a guaranteed release of the
// running flag even if the callback panics. Every log line it emits carries
// runCtx, so internal/log's ContextHandler can stamp a run id onto them.
func (e *Engine) runTask(ctx context.Context, name string, mode Mode) {
	runCtx := runid.WithRunID(ctx, runid.New())

	now := e.clock.NowUTC()
	e.table.Update(name, func(r *tasktable.Record) {
		r.Running = true
		r.LastAttemptTime = now
		r.HasLastAttemptTime = true
	})
	defer e.table.Update(name, func(r *tasktable.Record) {
		r.Running = false
	})

	e.logger.InfoContext(runCtx, "TaskRunStarted", "name", name, "mode", string(mode))
	metrics.TasksRunningGauge.Inc()
	defer metrics.TasksRunningGauge.Dec()

	rec, ok := e.table.Get(name)
	if !ok || !rec.HasCallback() {
		return
	}
	retryDelay := rec.RetryDelay
	callback := rec.Callback

	started := e.clock.NowUTC()
	runErr := invokeCallback(runCtx, callback)
	completion := e.clock.NowUTC()
	duration := completion.Sub(started)

	metrics.TaskRunDuration.WithLabelValues(name, string(mode)).Observe(duration.Seconds())

	if runErr != nil {
		retryAt := completion.Add(retryDelay)
		e.table.Update(name, func(r *tasktable.Record) {
			r.LastFailureTime = completion
			r.HasLastFailureTime = true
			r.PendingRetryUntil = retryAt
			r.HasPendingRetryUntil = true
		})
		e.logger.ErrorContext(runCtx, "TaskRunFailure", "name", name, "mode", string(mode),
			"error", runErr.Error(), "retryAt", retryAt.Format(time.RFC3339))
		metrics.TaskRunsTotal.WithLabelValues(name, "failure").Inc()
	} else {
		e.table.Update(name, func(r *tasktable.Record) {
			r.LastSuccessTime = completion
			r.HasLastSuccessTime = true
			r.HasLastFailureTime = false
			r.HasPendingRetryUntil = false
		})
		e.logger.InfoContext(runCtx, "TaskRunSuccess", "name", name, "mode", string(mode), "durationMs", duration.Milliseconds())
		metrics.TaskRunsTotal.WithLabelValues(name, "success").Inc()
	}

	if e.persist == nil {
		return
	}
	if perr := e.persist(ctx); perr != nil {
		metrics.StateWriteFailuresTotal.Inc()
		if runErr != nil {
			e.logger.ErrorContext(runCtx, "StateWriteFailedAfterFailure", "name", name, "error", perr)
		} else {
			e.logger.ErrorContext(runCtx, "StateWriteFailedAfterSuccess", "name", name, "error", perr)
		}
	}
}

// invokeCallback runs cb, converting a panic into an error so runTask's
// guaranteed-release semantics hold even for misbehaving callbacks.
func invokeCallback(ctx context.Context, cb tasktable.Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task callback panicked: %v", r)
		}
	}()
	return cb(ctx)
}

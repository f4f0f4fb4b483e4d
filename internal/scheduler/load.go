package scheduler

import (
	"context"
	"time"

	"github.com/ottojung/volodyslav-sub000/internal/cronparse"
	"github.com/ottojung/volodyslav-sub000/internal/state"
	"github.com/ottojung/volodyslav-sub000/internal/tasktable"
)

// ensureLoaded lazily loads persisted state into the task table, at most
// once per Scheduler instance. Schedule calls it once the name, the cron
// expression and the admission check have passed, so a scheduler that never
// accepts a Schedule call never touches the store.
func (s *Scheduler) ensureLoaded(ctx context.Context) {
	s.loadOnce.Do(func() {
		s.loadErr = s.load(ctx)
	})
}

func (s *Scheduler) load(ctx context.Context) error {
	seen := make(map[string]bool)
	loaded := 0

	err := s.store.Transaction(ctx, func(tx state.Txn) error {
		existing, ok := tx.ExistingState()
		if !ok {
			return nil
		}

		for _, pt := range existing.Tasks {
			if seen[pt.Name] {
				s.logger.Warn("DuplicateTaskSkipped", "name", pt.Name)
				continue
			}

			parsed, err := cronparse.Parse(pt.CronExpression)
			if err != nil {
				s.logger.Warn("SkippedInvalidTask", "name", pt.Name, "reason", err.Error())
				continue
			}

			rec := &tasktable.Record{
				Name:           pt.Name,
				CronExpression: pt.CronExpression,
				ParsedCron:     parsed,
				RetryDelay:     time.Duration(pt.RetryDelayMs) * time.Millisecond,
			}
			if pt.LastSuccessTime != nil {
				rec.LastSuccessTime = *pt.LastSuccessTime
				rec.HasLastSuccessTime = true
			}
			if pt.LastFailureTime != nil {
				rec.LastFailureTime = *pt.LastFailureTime
				rec.HasLastFailureTime = true
			}
			if pt.LastAttemptTime != nil {
				rec.LastAttemptTime = *pt.LastAttemptTime
				rec.HasLastAttemptTime = true
			}
			if pt.PendingRetryUntil != nil {
				rec.PendingRetryUntil = *pt.PendingRetryUntil
				rec.HasPendingRetryUntil = true
			}

			if _, err := s.table.Insert(rec); err != nil {
				s.logger.Warn("SkippedInvalidTask", "name", pt.Name, "reason", err.Error())
				continue
			}
			seen[pt.Name] = true
			loaded++
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("SchedulerStateLoaded", "taskCount", loaded)
	return nil
}

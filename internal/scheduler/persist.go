package scheduler

import (
	"context"

	"github.com/ottojung/volodyslav-sub000/internal/state"
	"github.com/ottojung/volodyslav-sub000/internal/tasktable"
)

// persist writes the current task table as a new state.Document, reusing
// the document's original startTime if one was already durably stored.
// Write failures are surfaced to the caller, who treats them as non-fatal
// and logs them, rather than swallowed here.
func (s *Scheduler) persist(ctx context.Context) error {
	return s.store.Transaction(ctx, func(tx state.Txn) error {
		startTime := s.startTime
		if existing, ok := tx.ExistingState(); ok {
			startTime = existing.StartTime
		}

		snapshot := s.table.Snapshot()
		tasks := make([]state.PersistedTask, 0, len(snapshot))
		for _, rec := range snapshot {
			tasks = append(tasks, toPersistedTask(rec))
		}

		tx.SetState(state.Document{
			Version:   state.CurrentVersion,
			StartTime: startTime,
			Tasks:     tasks,
		})
		return nil
	})
}

func toPersistedTask(r *tasktable.Record) state.PersistedTask {
	pt := state.PersistedTask{
		Name:           r.Name,
		CronExpression: r.CronExpression,
		RetryDelayMs:   r.RetryDelay.Milliseconds(),
	}
	if r.HasLastSuccessTime {
		t := r.LastSuccessTime
		pt.LastSuccessTime = &t
	}
	if r.HasLastFailureTime {
		t := r.LastFailureTime
		pt.LastFailureTime = &t
	}
	if r.HasLastAttemptTime {
		t := r.LastAttemptTime
		pt.LastAttemptTime = &t
	}
	if r.HasPendingRetryUntil {
		t := r.PendingRetryUntil
		pt.PendingRetryUntil = &t
	}
	return pt
}

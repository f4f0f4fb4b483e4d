package tasktable_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ottojung/volodyslav-sub000/internal/tasktable"
)

func noopCallback(context.Context) error { return nil }

func TestInsert_FreshRecord(t *testing.T) {
	table := tasktable.New()
	rec, err := table.Insert(&tasktable.Record{Name: "a", Callback: noopCallback})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rec.Name != "a" {
		t.Fatalf("expected name a, got %s", rec.Name)
	}
	if table.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", table.Len())
	}
}

func TestInsert_DuplicateBoundCallbackFails(t *testing.T) {
	table := tasktable.New()
	if _, err := table.Insert(&tasktable.Record{Name: "a", Callback: noopCallback}); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	_, err := table.Insert(&tasktable.Record{Name: "a", Callback: noopCallback})
	var already tasktable.ErrAlreadyBound
	if !errors.As(err, &already) {
		t.Fatalf("expected ErrAlreadyBound, got %v", err)
	}
}

func TestInsert_AbsentCallbackReturnsExisting(t *testing.T) {
	table := tasktable.New()
	loaded, err := table.Insert(&tasktable.Record{Name: "a"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if loaded.HasCallback() {
		t.Fatal("expected loaded record to have no callback")
	}

	rebind := &tasktable.Record{Name: "a", Callback: noopCallback}
	existing, err := table.Insert(rebind)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if existing == rebind {
		t.Fatal("expected Insert to return the existing absent-callback record, not the new one")
	}
	if existing.HasCallback() {
		t.Fatal("expected returned record still to have no callback until Update binds it")
	}
}

func TestUpdate_NoOpWhenMissing(t *testing.T) {
	table := tasktable.New()
	table.Update("missing", func(r *tasktable.Record) {
		t.Fatal("mutator should not run for a missing record")
	})
}

func TestUpdate_MutatesInPlace(t *testing.T) {
	table := tasktable.New()
	table.Insert(&tasktable.Record{Name: "a"})
	table.Update("a", func(r *tasktable.Record) {
		r.Running = true
	})
	rec, ok := table.Get("a")
	if !ok {
		t.Fatal("expected record to exist")
	}
	if !rec.Running {
		t.Fatal("expected running=true after update")
	}
}

func TestRemove(t *testing.T) {
	table := tasktable.New()
	table.Insert(&tasktable.Record{Name: "a"})
	if !table.Remove("a") {
		t.Fatal("expected Remove to report the record existed")
	}
	if table.Remove("a") {
		t.Fatal("expected second Remove to report false")
	}
}

func TestRemoveAll(t *testing.T) {
	table := tasktable.New()
	table.Insert(&tasktable.Record{Name: "a"})
	table.Insert(&tasktable.Record{Name: "b"})
	if n := table.RemoveAll(); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if table.Len() != 0 {
		t.Fatal("expected empty table after RemoveAll")
	}
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	table := tasktable.New()
	table.Insert(&tasktable.Record{Name: "a"})

	snap := table.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 record in snapshot, got %d", len(snap))
	}
	snap[0].Running = true

	live, _ := table.Get("a")
	if live.Running {
		t.Fatal("mutating a snapshot record must not affect the live table")
	}
}

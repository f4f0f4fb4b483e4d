// Package filestore implements state.Store by keeping the whole document as
// one JSON file on disk, written atomically via a temp-file-then-rename and
// wrapped in a transaction: the file is only replaced after body returns
// successfully, and a panic or error from body leaves the file untouched.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ottojung/volodyslav-sub000/internal/state"
)

// Store persists state.Document to a single JSON file.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// New returns a Store backed by the file at path. The containing directory
// is created lazily on first write.
func New(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger.With("component", "state.filestore")}
}

// Transaction loads the current document (if any), runs body against an
// in-memory copy, and on success atomically replaces the file. Read
// failures are logged as StateReadFailed and treated as "no existing
// state" so the scheduler can continue with an empty table rather than
// failing to start. Write failures are logged as StateWriteFailed and
// returned to the caller, who must treat them as non-fatal.
func (s *Store) Transaction(_ context.Context, body func(state.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, hasExisting := s.read()

	tx := state.NewTxn(existing, hasExisting)
	if err := body(tx); err != nil {
		return err
	}

	if err := s.write(tx.CurrentState()); err != nil {
		s.logger.Error("StateWriteFailed", "error", err, "path", s.path)
		return fmt.Errorf("filestore: write state: %w", err)
	}

	s.logger.Info("StatePersisted", "path", s.path, "taskCount", len(tx.CurrentState().Tasks))
	return nil
}

// Ping reports whether the state directory exists and is writable, by
// creating and removing a throwaway probe file. Used by internal/health to
// back the "storage" readiness check.
func (s *Store) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("filestore: create state dir: %w", err)
	}

	probe, err := os.CreateTemp(dir, ".ping-*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: probe write: %w", err)
	}
	probePath := probe.Name()
	probe.Close()
	return os.Remove(probePath)
}

func (s *Store) read() (state.Document, bool) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("StateReadFailed", "error", err, "path", s.path)
		}
		return state.Document{}, false
	}

	doc, err := state.Decode(raw, s.logger)
	if err != nil {
		s.logger.Warn("StateReadFailed", "error", err, "path", s.path)
		return state.Document{}, false
	}
	return doc, true
}

func (s *Store) write(doc state.Document) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	raw, err := state.Encode(doc)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".state-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("rename temp state file: %w", err)
	}
	return nil
}

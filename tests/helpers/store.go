// Package helpers provides shared test fixtures.
package helpers

import (
	"testing"

	"github.com/agentplane/agentplane/internal/eventlog"
	"github.com/agentplane/agentplane/internal/repository"
)

// NewTestStore creates an in-memory entity store for a test.
func NewTestStore(t *testing.T) *repository.SQLiteStore {
	t.Helper()

	s, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

// NewTestStores creates an in-memory entity store plus an event log
// sharing the same database.
func NewTestStores(t *testing.T) (*repository.SQLiteStore, *eventlog.Store) {
	t.Helper()

	s := NewTestStore(t)
	events, err := eventlog.New(s.DB())
	if err != nil {
		t.Fatalf("failed to create event log: %v", err)
	}
	return s, events
}

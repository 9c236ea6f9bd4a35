// Package testutil provides shared fixtures for tests that exercise the
// launch journal.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/vintner-app/vintner/internal/journal"
)

// OpenJournal creates a throwaway launch journal and closes it when the
// test ends.
func OpenJournal(t *testing.T) *journal.Journal {
	t.Helper()
	jnl, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { jnl.Close() })
	return jnl
}

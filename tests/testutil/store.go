package testutil

import (
	"testing"

	"github.com/nhle/chatsync/internal/store"
)

// NewTestKV creates an in-memory SQLiteKV with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestKV(t *testing.T) *store.SQLiteKV {
	t.Helper()

	s, err := store.NewSQLiteKV(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

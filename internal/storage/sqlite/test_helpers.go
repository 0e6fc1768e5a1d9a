package sqlite

import "testing"

// NewStoreTest returns an in-memory store for tests, failing the test if
// the schema cannot be applied.
func NewStoreTest(t *testing.T) *Store {
	t.Helper()
	st, err := NewInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	return st
}

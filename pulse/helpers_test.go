package pulse

import (
	"database/sql"
	"testing"
	"time"

	pulsedtest "github.com/teranos/pulsed/internal/testing"
)

// testPolicy is the retry policy used across package tests
var testPolicy = Policy{BaseInterval: 60 * time.Second, MaxInterval: 3600 * time.Second}

// newTestStore creates a store over an in-memory migrated database
func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(pulsedtest.CreateTestDB(t), testPolicy)
}

// newTestStoreWithDB also exposes the raw database for direct assertions
func newTestStoreWithDB(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	database := pulsedtest.CreateTestDB(t)
	return NewStore(database, testPolicy), database
}

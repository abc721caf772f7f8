// Package testing provides shared test helpers.
package testing

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/hirewire/hirewire/db"
)

// CreateTestDB creates a migrated in-memory SQLite test database.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// A uniquely named memory database keeps parallel tests isolated
	// from one another.
	dsn := fmt.Sprintf("file:testdb_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := db.Open(dsn, nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	if err := db.Migrate(conn, nil); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

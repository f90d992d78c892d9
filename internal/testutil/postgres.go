package testutil

import (
	"os"
	"testing"

	"kassa/internal/database"
)

// PostgresDSNEnv names the variable holding the test database URL
const PostgresDSNEnv = "TEST_DATABASE_URL"

// Postgres connects to the database from TEST_DATABASE_URL and runs the
// migrations. The test is skipped when the variable is unset or the server
// cannot be reached.
func Postgres(t *testing.T) *database.DB {
	t.Helper()

	dsn := os.Getenv(PostgresDSNEnv)
	if dsn == "" {
		t.Skipf("%s is not set", PostgresDSNEnv)
	}

	db, err := database.Open(dsn)
	if err != nil {
		t.Skipf("postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.RunMigrations(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"tlds", "drops", "watchlists", "watchlist_matches", "jobs", "job_runs", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	err := CheckDBMigrationStatus(db)
	if err == nil {
		t.Error("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}
	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`
		INSERT INTO drops (label, tld, drop_date, length, charset_type, created_at)
		VALUES ('widget', 'nonexistent-tld', '2026-08-01', 6, 'letters', datetime('now'))
	`)
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_DropsUniqueOnLabelTldDate(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	seedTLD(t, db, "com")

	insert := `INSERT INTO drops (label, tld, drop_date, length, charset_type, created_at)
		VALUES ('widget', 'com', '2026-08-01', 6, 'letters', datetime('now'))`
	if _, err := db.Exec(insert); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if _, err := db.Exec(insert); err == nil {
		t.Error("expected unique constraint violation for duplicate (label, tld, drop_date), got nil")
	}
}

func TestSchema_JobRunsSingleFlight(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	seedTLD(t, db, "com")
	jobID := seedJob(t, db, "com")

	insert := `INSERT INTO job_runs (job_id, tld, kind, target_date, started_at, outcome)
		VALUES (?, 'com', 'ingest', '2026-08-01', datetime('now'), ?)`

	if _, err := db.Exec(insert, jobID, "running"); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if _, err := db.Exec(insert, jobID, "pending"); err == nil {
		t.Error("expected single-flight unique constraint violation for second non-failed run, got nil")
	}
	// A failed run for the same key is allowed, since failed runs don't hold the slot.
	if _, err := db.Exec(insert, jobID, "failed"); err != nil {
		t.Errorf("insert of a failed run should not violate single-flight constraint: %v", err)
	}
}

func seedTLD(t *testing.T, db *sql.DB, name string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO tlds (name, created_at, updated_at) VALUES (?, datetime('now'), datetime('now'))`, name)
	if err != nil {
		t.Fatalf("seeding tld %s: %v", name, err)
	}
}

func seedJob(t *testing.T, db *sql.DB, tld string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO jobs (tld, kind, schedule) VALUES (?, 'ingest', '0 6 * * *')`, tld)
	if err != nil {
		t.Fatalf("seeding job for %s: %v", tld, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("LastInsertId(): %v", err)
	}
	return id
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	return db
}

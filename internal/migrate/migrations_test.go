package migrate

import (
	"testing"

	"taxline/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := Migrate(conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	var version int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version == 0 {
		t.Fatal("no migrations applied")
	}

	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	var again int
	if err := conn.QueryRow(`SELECT version FROM schema_version`).Scan(&again); err != nil {
		t.Fatalf("re-read version: %v", err)
	}
	if again != version {
		t.Fatalf("version moved from %d to %d on a no-op run", version, again)
	}
}

func TestLoadMigrationsOrderedAndUnique(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("no embedded migrations")
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			t.Fatalf("migrations out of order: %s then %s", migrations[i-1].Name, migrations[i].Name)
		}
	}
}

package repository

import (
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func TestMigrateDBUnreachableDatabase(t *testing.T) {
	// Nothing listens on this address; the driver setup must surface
	// the failure as an error to the caller, not terminate the process.
	raw, err := sql.Open("postgres", "postgres://guardbot@127.0.0.1:1/guardbot?sslmode=disable&connect_timeout=1")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db := sqlx.NewDb(raw, "postgres")
	defer db.Close()

	if err := MigrateDB(db, zap.NewNop()); err == nil {
		t.Fatal("expected error migrating against an unreachable database")
	}
}

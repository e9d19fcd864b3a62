package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/rollupscan/batch-indexer/internal/db"
	"github.com/rollupscan/batch-indexer/internal/logger"
)

//go:embed 001_headers.sql
var mig001 string

//go:embed 002_batches.sql
var mig002 string

func all() []db.Migration {
	return []db.Migration{
		{ID: "001_headers.sql", SQL: mig001},
		{ID: "002_batches.sql", SQL: mig002},
	}
}

// RunMigrations runs all store migrations against the database at dbPath.
func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, all())
}

// RunMigrationsDB runs all store migrations on an open database.
func RunMigrationsDB(log *logger.Logger, database *sql.DB) error {
	return db.RunMigrationsDB(log, database, all())
}

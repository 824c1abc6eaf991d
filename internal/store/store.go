// Package store opens the SQL database behind DATABASE_URL. SQLite is the
// default engine; a postgres:// URL switches to Postgres. All SQL in this
// repo is written to run unchanged on both (epoch-second integer timestamps,
// $n placeholders).
package store

import (
	"database/sql"
	"fmt"
	"strings"

	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	KindSQLite   = "sqlite"
	KindPostgres = "postgres"

	// DefaultURL is used when DATABASE_URL is unset.
	DefaultURL = "sqlite:commitcast.db?_pragma=busy_timeout(5000)"
)

// Resolve maps a DATABASE_URL to a database/sql driver name and DSN.
func Resolve(databaseURL string) (driver, dsn string) {
	s := strings.TrimSpace(databaseURL)
	if s == "" {
		s = DefaultURL
	}
	switch {
	case strings.HasPrefix(s, "postgres://"), strings.HasPrefix(s, "postgresql://"):
		return KindPostgres, s
	case strings.HasPrefix(s, "sqlite://"):
		return KindSQLite, "file:" + strings.TrimPrefix(s, "sqlite://")
	case strings.HasPrefix(s, "sqlite:"):
		return KindSQLite, "file:" + strings.TrimPrefix(s, "sqlite:")
	default:
		return KindSQLite, s
	}
}

// Open opens the database behind databaseURL and returns it together with
// the resolved driver name.
func Open(databaseURL string) (*sql.DB, string, error) {
	driver, dsn := Resolve(databaseURL)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, driver, fmt.Errorf("open %s database: %w", driver, err)
	}
	if driver == KindSQLite {
		// modernc sqlite allows one writer; serializing through a single
		// conn avoids SQLITE_BUSY under concurrent handlers.
		db.SetMaxOpenConns(1)
	}
	return db, driver, nil
}

// MigrationDriver builds the golang-migrate database driver matching the
// engine, plus the database name migrate expects for it.
func MigrationDriver(db *sql.DB, driver string) (migratedb.Driver, string, error) {
	switch driver {
	case KindPostgres:
		d, err := migratepostgres.WithInstance(db, &migratepostgres.Config{})
		return d, "postgres", err
	default:
		d, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		return d, "sqlite", err
	}
}

// MigrationsSource returns the file source URL for the engine's migration
// directory. Auto-increment DDL differs between the engines, so each keeps
// its own copy of the schema.
func MigrationsSource(driver string) string {
	if driver == KindPostgres {
		return "file://db/migrations/postgres"
	}
	return "file://db/migrations/sqlite"
}

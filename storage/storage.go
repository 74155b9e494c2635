package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Storage implements domain.Store on top of a SQL database.
type Storage struct {
	db      *sqlx.DB
	dialect dialect
}

type dialect struct {
	driver string
}

// forUpdate returns the row-locking clause appended to SELECTs that feed a
// reindex. SQLite serializes writers through a single connection instead.
func (d dialect) forUpdate() string {
	if d.driver != DriverPostgres {
		return ""
	}
	return " FOR UPDATE"
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, driver, dsn string) (*Storage, error) {
	switch driver {
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One connection serializes transactions and keeps :memory: databases alive.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s db: %w", driver, err)
	}

	s := &Storage{db: db, dialect: dialect{driver: driver}}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// sqliteDSN enables foreign keys, a busy timeout and a sortable time format on
// every connection.
func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "kanban.db"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/guttosm/quoteflow/config"
	"github.com/guttosm/quoteflow/db"

	_ "github.com/lib/pq" // PostgreSQL driver for database/sql
)

const pingTimeout = 5 * time.Second

// sqlOpener is an indirection for unit testing; defaults to sql.Open
var sqlOpener = sql.Open

// InitPostgres initializes a PostgreSQL connection using the provided configuration.
//
// Behavior:
//   - Uses cfg.Postgres.URL when set, otherwise renders the DSN from the individual fields.
//   - Opens a database handle with sql.Open.
//   - Immediately pings the database to validate connectivity.
//
// Returns:
//   - *sql.DB: an open database connection pool (safe for concurrent use).
//   - error: if opening or pinging the database fails. The handle is closed on ping failure.
func InitPostgres(cfg *config.Config) (*sql.DB, error) {
	dsn := cfg.Postgres.URL
	if dsn == "" {
		dsn = cfg.Postgres.DSN()
	}

	// Initialize database handle (does not establish a real connection yet)
	sqlDB, err := sqlOpener("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return sqlDB, nil
}

// postgresOpener is an indirection used by InitializeApp and InitConsumer; overridden in tests to avoid real connections.
var postgresOpener = InitPostgres

// migrator applies the embedded schema; overridden in tests.
var migrator = db.Migrate

// RunMigrations connects to Postgres, applies every pending migration and closes the pool.
func RunMigrations(cfg *config.Config) error {
	sqlDB, err := postgresOpener(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize postgres: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	if err := migrator(sqlDB); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

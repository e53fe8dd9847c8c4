// Package db ships the PostgreSQL schema as goose migrations embedded in the binary.
package db

import (
	"database/sql"
	"embed"
	"fmt"

	goose "github.com/pressly/goose/v3"
)

// MigrationsDir is the directory inside Migrations that goose reads from.
const MigrationsDir = "migrations"

//go:embed migrations/*.sql
var Migrations embed.FS

// Migrate applies every pending migration to the database behind sqlDB.
func Migrate(sqlDB *sql.DB) error {
	goose.SetBaseFS(Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.Up(sqlDB, MigrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

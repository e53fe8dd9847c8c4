package app

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/guttosm/quoteflow/config"
)

func TestInitPostgres_OpenError(t *testing.T) {
	old := sqlOpener
	sqlOpener = func(driverName, dataSourceName string) (*sql.DB, error) {
		return nil, errors.New("open failed")
	}
	t.Cleanup(func() { sqlOpener = old })

	_, err := InitPostgres(testConfig())
	if err == nil {
		t.Fatalf("expected error from InitPostgres when open fails")
	}
}

func TestInitPostgres_PingError(t *testing.T) {
	var mock sqlmock.Sqlmock
	old := sqlOpener
	sqlOpener = func(driverName, dataSourceName string) (*sql.DB, error) {
		db, m, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("sqlmock new: %v", err)
		}
		m.ExpectPing().WillReturnError(errors.New("ping failed"))
		m.ExpectClose()
		mock = m
		return db, nil
	}
	t.Cleanup(func() { sqlOpener = old })

	_, err := InitPostgres(testConfig())
	if err == nil {
		t.Fatalf("expected ping error from InitPostgres")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("handle should be closed after a failed ping: %v", err)
	}
}

func TestInitPostgres_DSN(t *testing.T) {
	cases := []struct {
		name string
		url  string
		want string
	}{
		{name: "explicit url wins", url: "postgres://a:b@db:5432/q?sslmode=disable", want: "postgres://a:b@db:5432/q?sslmode=disable"},
		{name: "rendered from fields", want: "postgres://x:y@127.0.0.1:54329/z?sslmode=disable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			old := sqlOpener
			sqlOpener = func(_, dsn string) (*sql.DB, error) {
				got = dsn
				db, _, err := sqlmock.New()
				return db, err
			}
			t.Cleanup(func() { sqlOpener = old })

			cfg := testConfig()
			cfg.Postgres.URL = tc.url
			db, err := InitPostgres(cfg)
			if err != nil {
				t.Fatalf("InitPostgres: %v", err)
			}
			_ = db.Close()
			if got != tc.want {
				t.Fatalf("dsn = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRunMigrations(t *testing.T) {
	cases := []struct {
		name    string
		openErr error
		migErr  error
		wantErr bool
	}{
		{name: "applied"},
		{name: "open fails", openErr: errors.New("refused"), wantErr: true},
		{name: "migration fails", migErr: errors.New("syntax error"), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock new: %v", err)
			}
			oldPG, oldMig := postgresOpener, migrator
			postgresOpener = func(*config.Config) (*sql.DB, error) {
				if tc.openErr != nil {
					return nil, tc.openErr
				}
				return db, nil
			}
			var migrated bool
			migrator = func(*sql.DB) error { migrated = true; return tc.migErr }
			t.Cleanup(func() { postgresOpener, migrator = oldPG, oldMig })

			if tc.openErr == nil {
				mock.ExpectClose()
			}
			err = RunMigrations(testConfig())
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tc.wantErr)
			}
			if migrated != (tc.openErr == nil) {
				t.Fatalf("migrator called = %v", migrated)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("pool not closed: %v", err)
			}
		})
	}
}

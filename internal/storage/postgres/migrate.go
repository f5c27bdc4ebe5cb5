package postgres

import (
	"database/sql"

	"github.com/go-faster/errors"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq" // database/sql driver for golang-migrate
	"go.uber.org/zap"

	"github.com/xenking/storefront/db"
)

// Migrate applies all pending migrations embedded in package db.
func Migrate(databaseURL string, lg *zap.Logger) error {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return errors.Wrap(err, "open db for migrations")
	}
	defer func() { _ = conn.Close() }()

	source, err := iofs.New(db.Migrations, "migrations")
	if err != nil {
		return errors.Wrap(err, "create migration source")
	}
	driver, err := migratepg.WithInstance(conn, &migratepg.Config{})
	if err != nil {
		return errors.Wrap(err, "create migration driver")
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return errors.Wrap(err, "create migrate instance")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "run migrations")
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return errors.Wrap(err, "read migration version")
	}
	lg.Info("Migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

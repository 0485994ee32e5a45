package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // registers pgx5://
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/wb-go/wbf/logger"

	"prayerflow/internal/config"
	"prayerflow/migrations"
)

type MigrateDirection string

const (
	MigrateUp   MigrateDirection = "up"
	MigrateDown MigrateDirection = "down"
)

// Migrate applies the embedded schema. Down rolls back a single step.
func Migrate(cfg *config.Database, log logger.Logger, dir MigrateDirection) error {
	const op = "app.Migrate"

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("%s: source: %w", op, err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, migrateURL(cfg.DSN))
	if err != nil {
		return fmt.Errorf("%s: init: %w", op, err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			log.Warn("migrate close failed", "source_error", srcErr, "db_error", dbErr)
		}
	}()

	switch dir {
	case MigrateUp:
		err = m.Up()
	case MigrateDown:
		err = m.Steps(-1)
	default:
		return fmt.Errorf("%s: unknown direction %q", op, dir)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		log.Info("schema already up to date")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s: %s: %w", op, dir, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("%s: version: %w", op, err)
	}
	log.Info("migration applied", "direction", string(dir), "version", version, "dirty", dirty)
	return nil
}

// migrateURL swaps the scheme of a libpq-style DSN for the pgx5 driver.
func migrateURL(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}

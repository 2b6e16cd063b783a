package database

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"syncplayer/internal/config"
)

//go:embed migrations
var migrationFS embed.FS

// ErrNoChange is returned when the schema is already at the target version.
var ErrNoChange = migrate.ErrNoChange

// Migrate applies the embedded migrations for the configured driver.
// direction must be "up" or "down". Being at the target version already is
// not an error.
func Migrate(cfg *config.DatabaseConfig, direction string) error {
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	dir, url, err := migrationTarget(cfg)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationFS, dir)
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if direction == "up" {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}
	return nil
}

// migrationTarget maps the configured driver to its migration directory and
// golang-migrate database URL.
func migrationTarget(cfg *config.DatabaseConfig) (string, string, error) {
	if cfg == nil || cfg.DSN == "" {
		return "", "", ErrMissingDSN
	}
	switch cfg.Driver {
	case DriverSQLite:
		return "migrations/sqlite3", "sqlite3://" + strings.TrimPrefix(cfg.DSN, "file:"), nil
	case DriverPostgres:
		rest, ok := cutScheme(cfg.DSN, "postgres://", "postgresql://")
		if !ok {
			return "", "", fmt.Errorf("pgx dsn must be a postgres:// url")
		}
		return "migrations/postgres", "pgx5://" + rest, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

func cutScheme(dsn string, schemes ...string) (string, bool) {
	for _, s := range schemes {
		if rest, ok := strings.CutPrefix(dsn, s); ok {
			return rest, true
		}
	}
	return "", false
}

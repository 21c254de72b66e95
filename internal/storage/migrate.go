package storage

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations
var embeddedMigrations embed.FS

// Migrate applies the embedded schema for the handle's dialect.
func Migrate(db *DB, logger *zap.Logger) error {
	if db == nil || db.DB == nil {
		return errors.New("migration database handle is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sub, err := fs.Sub(embeddedMigrations, "migrations/"+string(db.Dialect))
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	var driver database.Driver
	switch db.Dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(db.DB, &postgres.Config{})
	case DialectSQLite:
		driver, err = sqlite.WithInstance(db.DB, &sqlite.Config{})
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedDriver, db.Dialect)
	}
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, string(db.Dialect), driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	version, dirty, _ := migrator.Version()
	logger.Info("storage: migrations applied",
		zap.String("dialect", string(db.Dialect)),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	// migrator.Close would close the shared *sql.DB.
	return nil
}

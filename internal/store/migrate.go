package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// migrateUp applies every pending migration for the given dialect.
func migrateUp(ctx context.Context, db *sql.DB, d dialect) error {
	if d == dialectPostgres {
		return migratePostgres(ctx, db)
	}
	return migrateSQLite(ctx, db)
}

func migratePostgres(ctx context.Context, db *sql.DB) error {
	// A dedicated connection can be released without closing db.
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire migration connection: %w", err)
	}
	driver, err := migratepostgres.WithConnection(ctx, conn, &migratepostgres.Config{})
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	defer driver.Close()

	src, err := iofs.New(migrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// migrateSQLite walks the embedded migration source and applies each newer
// version on the ncruces connection. Versions are recorded in the same
// schema_migrations layout golang-migrate uses.
func migrateSQLite(ctx context.Context, db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	defer src.Close()

	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version uint64, dirty bool)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	current, dirty, err := sqliteVersion(ctx, db)
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("failed to apply migrations: database is dirty at version %d", current)
	}

	version, err := src.First()
	for err == nil {
		if int64(version) > current {
			if err := applySQLiteMigration(ctx, db, src, version); err != nil {
				return err
			}
		}
		version, err = src.Next(version)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	return nil
}

// sqliteVersion returns the applied version, or -1 when none is recorded.
func sqliteVersion(ctx context.Context, db *sql.DB) (int64, bool, error) {
	var (
		version int64
		dirty   bool
	)
	err := db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

func applySQLiteMigration(ctx context.Context, db *sql.DB, src source.Driver, version uint) error {
	r, _, err := src.ReadUp(version)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read migration %d: %w", version, err)
	}
	body, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		return fmt.Errorf("failed to read migration %d: %w", version, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("failed to apply migration %d: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, dirty) VALUES (?, ?)`, int64(version), false); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", version, err)
	}
	return tx.Commit()
}

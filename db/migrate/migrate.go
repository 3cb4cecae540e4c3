// Package migrate provides automatic database migration with version tracking.
//
// Migrations are embedded in the binary at compile time, so the server always
// carries the schema it needs. Call Run() after connecting but before starting
// any services:
//
//	pool, _ := pgxpool.New(ctx, databaseURL)
//	if err := migrate.Run(ctx, pool, logger); err != nil {
//	    log.Fatal("migration failed:", err)
//	}
//
// Migration files live in db/migrate/migrations as NNN_descriptive_name.sql
// where NNN is a zero-padded version number. They are applied in version
// order, each in its own transaction, and recorded in the schema_migrations
// table so they only ever run once.
package migrate

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Record represents a completed migration in the database.
type Record struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}

// Run executes all pending database migrations.
func Run(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	logger.Info("checking database migrations")

	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return fmt.Errorf("getting applied migrations: %w", err)
	}
	appliedSet := make(map[int]bool)
	for _, m := range applied {
		appliedSet[m.Version] = true
	}

	available, err := availableMigrations()
	if err != nil {
		return fmt.Errorf("reading migration files: %w", err)
	}

	pending := 0
	for _, mig := range available {
		if appliedSet[mig.version] {
			continue
		}

		logger.Info("applying migration", "version", mig.version, "name", mig.name)

		if err := applyMigration(ctx, pool, mig); err != nil {
			return fmt.Errorf("applying migration %03d_%s: %w", mig.version, mig.name, err)
		}
		pending++
	}

	if pending == 0 {
		logger.Info("database schema is up to date", "version", len(applied))
	} else {
		logger.Info("migrations complete", "applied", pending, "total", len(applied)+pending)
	}

	return nil
}

// ensureMigrationsTable creates the schema_migrations table if it doesn't exist.
func ensureMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// appliedMigrations returns all migrations that have been applied.
func appliedMigrations(ctx context.Context, pool *pgxpool.Pool) ([]Record, error) {
	rows, err := pool.Query(ctx, `
		SELECT version, name, applied_at
		FROM schema_migrations
		ORDER BY version
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Version, &r.Name, &r.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// migration represents a migration file to be applied.
type migration struct {
	version int
	name    string
	sql     string
}

// availableMigrations reads all migration files from the embedded filesystem.
func availableMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, err := parseMigrationFilename(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("parsing migration filename %s: %w", entry.Name(), err)
		}

		content, err := fs.ReadFile(migrationsFS, "migrations/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, migration{
			version: version,
			name:    name,
			sql:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}

// parseMigrationFilename extracts version and name from a migration filename.
// Expected format: NNN_name.sql (e.g., "001_initial_schema.sql")
func parseMigrationFilename(filename string) (int, string, error) {
	base := strings.TrimSuffix(filename, ".sql")

	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("invalid migration filename format: %s (expected NNN_name.sql)", filename)
	}

	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", fmt.Errorf("invalid version number in %s: %w", filename, err)
	}

	return version, parts[1], nil
}

// applyMigration executes a single migration within a transaction.
func applyMigration(ctx context.Context, pool *pgxpool.Pool, mig migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback(ctx) // No-op if committed

	if _, err := tx.Exec(ctx, mig.sql); err != nil {
		return fmt.Errorf("executing migration: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO schema_migrations (version, name) VALUES ($1, $2)
	`, mig.version, mig.name); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}

	return tx.Commit(ctx)
}

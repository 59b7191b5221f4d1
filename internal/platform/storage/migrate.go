package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// MigrationRecord is one row of schema_migrations: a migration this
// database has already applied.
type MigrationRecord struct {
	Version   int
	Name      string
	AppliedAt time.Time
}

type migrationFile struct {
	version int
	name    string
	upSQL   string
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, in version order, each inside its own transaction.
func (db *DB) Migrate(ctx context.Context) error {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}

	files, err := loadMigrationFiles()
	if err != nil {
		return fmt.Errorf("load migration files: %w", err)
	}

	for _, f := range files {
		if applied[f.version] {
			continue
		}
		if err := db.applyMigration(ctx, f); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.name, err)
		}
	}
	return nil
}

// MigrateDown rolls back up to the most recent `steps` applied
// migrations, newest first.
func (db *DB) MigrateDown(ctx context.Context, steps int) error {
	records, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("load applied migrations: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Version > records[j].Version })

	if steps > len(records) {
		steps = len(records)
	}

	for _, r := range records[:steps] {
		if err := db.rollbackMigration(ctx, r); err != nil {
			return fmt.Errorf("rollback migration %s: %w", r.Name, err)
		}
	}
	return nil
}

func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func (db *DB) getAppliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.pool.Query(ctx, `SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var r MigrationRecord
		if err := rows.Scan(&r.Version, &r.Name, &r.AppliedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (db *DB) appliedVersions(ctx context.Context) (map[int]bool, error) {
	records, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	versions := make(map[int]bool, len(records))
	for _, r := range records {
		versions[r.Version] = true
	}
	return versions, nil
}

// loadMigrationFiles walks the embedded migrations directory for every
// "<version>_<name>.up.sql" file and returns them sorted by version.
func loadMigrationFiles() ([]migrationFile, error) {
	var files []migrationFile

	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".up.sql") {
			return nil
		}

		base := filepath.Base(path)
		version, name, ok := parseMigrationFilename(base)
		if !ok {
			return nil
		}

		content, err := fs.ReadFile(migrationsFS, path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		files = append(files, migrationFile{version: version, name: name, upSQL: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// parseMigrationFilename reads the numeric version prefix of
// "0001_create_orders.up.sql" and returns it with the name
// "0001_create_orders" (the file name without ".up.sql").
func parseMigrationFilename(base string) (version int, name string, ok bool) {
	parts := strings.SplitN(base, "_", 2)
	if len(parts) < 2 {
		return 0, "", false
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return v, strings.TrimSuffix(base, ".up.sql"), true
}

func (db *DB) applyMigration(ctx context.Context, f migrationFile) error {
	return db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, f.upSQL); err != nil {
			return fmt.Errorf("execute up sql: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, f.version, f.name,
		); err != nil {
			return fmt.Errorf("record migration: %w", err)
		}
		return nil
	})
}

func (db *DB) rollbackMigration(ctx context.Context, r MigrationRecord) error {
	downPath := fmt.Sprintf("migrations/%s.down.sql", r.Name)
	content, err := fs.ReadFile(migrationsFS, downPath)
	if err != nil {
		return fmt.Errorf("read down migration: %w", err)
	}

	return db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("execute down sql: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, r.Version); err != nil {
			return fmt.Errorf("delete migration record: %w", err)
		}
		return nil
	})
}

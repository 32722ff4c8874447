package db

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration is one NNN_name.sql file of the migration set.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationStatus pairs a migration with the time it was applied, if it was.
type MigrationStatus struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
}

// Migrator applies versioned SQL files to a facility schema and records them
// in <schema>._migrations.
type Migrator struct {
	pool *pgxpool.Pool
	fsys fs.FS
}

// NewMigrator reads migrations from the root of fsys, usually the embedded
// migrations package.
func NewMigrator(pool *pgxpool.Pool, fsys fs.FS) *Migrator {
	return &Migrator{pool: pool, fsys: fsys}
}

// migrationVersion extracts the numeric prefix of NNN_name.sql.
func migrationVersion(name string) (int, bool) {
	if path.Ext(name) != ".sql" {
		return 0, false
	}
	prefix, _, found := strings.Cut(name, "_")
	if !found {
		return 0, false
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// LoadMigrations returns the migration set sorted by version. Files that do
// not look like NNN_name.sql are ignored; two files sharing a version are an
// error.
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		v, ok := migrationVersion(entry.Name())
		if !ok {
			continue
		}
		body, err := fs.ReadFile(m.fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		out = append(out, Migration{Version: v, Name: entry.Name(), SQL: string(body)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d (%s, %s)",
				out[i].Version, out[i-1].Name, out[i].Name)
		}
	}
	return out, nil
}

// applied returns the recorded versions of schema with their apply times,
// creating the schema and tracking table on first use.
func (m *Migrator) applied(ctx context.Context, schema string) (map[int]time.Time, error) {
	ddl := fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %[1]s;
CREATE TABLE IF NOT EXISTS %[1]s._migrations (
    version    INTEGER PRIMARY KEY,
    name       VARCHAR(255) NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, schema)
	if _, err := m.pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("prepare %s._migrations: %w", schema, err)
	}

	rows, err := m.pool.Query(ctx, fmt.Sprintf(`SELECT version, applied_at FROM %s._migrations`, schema))
	if err != nil {
		return nil, fmt.Errorf("read %s._migrations: %w", schema, err)
	}
	defer rows.Close()

	done := map[int]time.Time{}
	for rows.Next() {
		var v int
		var at time.Time
		if err := rows.Scan(&v, &at); err != nil {
			return nil, err
		}
		done[v] = at
	}
	return done, rows.Err()
}

// Up applies every pending migration in version order, one transaction per
// file, and returns how many it applied.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return 0, err
	}
	done, err := m.applied(ctx, schema)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, mig := range migrations {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		if err := m.apply(ctx, schema, mig); err != nil {
			return n, fmt.Errorf("apply %s: %w", mig.Name, err)
		}
		n++
	}
	return n, nil
}

// apply runs one migration with search_path pinned to schema. Two runners
// racing on the same schema serialize on an advisory lock, and the loser
// skips a version the winner already recorded.
func (m *Migrator) apply(ctx context.Context, schema string, mig Migration) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, schema); err != nil {
		return fmt.Errorf("lock schema: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path TO %s, public", schema)); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM _migrations WHERE version = $1)`, mig.Version).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return nil
	}

	if _, err := tx.Exec(ctx, mig.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO _migrations (version, name) VALUES ($1, $2)`, mig.Version, mig.Name); err != nil {
		return fmt.Errorf("record: %w", err)
	}
	return tx.Commit(ctx)
}

// Status lists every known migration of schema, applied or pending.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, schema)
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		st := MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := done[mig.Version]; ok {
			st.Applied = true
			st.AppliedAt = &at
		}
		out = append(out, st)
	}
	return out, nil
}

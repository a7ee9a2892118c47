package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATIONS
// Several watchers may share one database and start at the same moment, so
// all pending migrations run in a single transaction that first takes a
// transaction-scoped advisory lock.
// ══════════════════════════════════════════════════════════════════════════════

// migrationLockKey is the pg_advisory_xact_lock key held while migrating.
const migrationLockKey int64 = 0x6573_6368_6f6f_6c // "eschool"

// Migration is one schema change.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies the embedded migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
}

// NewMigrator creates a migrator for the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn, migrations: GetMigrations()}
}

// Migrate applies every pending migration.
func (m *Migrator) Migrate(ctx context.Context) error {
	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
			return fmt.Errorf("%w: acquire lock: %v", ErrMigrationFailed, err)
		}

		if _, err := tx.Exec(ctx, `
			CREATE TABLE IF NOT EXISTS schema_migrations (
				version    INTEGER PRIMARY KEY,
				name       TEXT NOT NULL,
				applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`); err != nil {
			return fmt.Errorf("%w: create schema_migrations: %v", ErrMigrationFailed, err)
		}

		applied, err := appliedVersions(ctx, tx)
		if err != nil {
			return err
		}

		for _, mig := range pending(m.migrations, applied) {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, mig.Version, mig.Name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				mig.Version, mig.Name,
			); err != nil {
				return fmt.Errorf("%w: record version %d: %v", ErrMigrationFailed, mig.Version, err)
			}
		}
		return nil
	})
}

// Status reports which embedded migrations have been applied.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	applied, err := appliedVersions(ctx, m.conn)
	if err != nil {
		return nil, err
	}

	out := make([]Migration, len(m.migrations))
	copy(out, m.migrations)
	for i := range out {
		if at, ok := applied[out[i].Version]; ok {
			out[i].IsApplied = true
			out[i].AppliedAt = at
		}
	}
	return out, nil
}

func appliedVersions(ctx context.Context, q Querier) (map[int]time.Time, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT to_regclass('schema_migrations') IS NOT NULL`).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check schema_migrations: %w", err)
	}
	applied := make(map[int]time.Time)
	if !exists {
		return applied, nil
	}

	rows, err := q.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// pending returns the migrations not in applied, in version order.
func pending(all []Migration, applied map[int]time.Time) []Migration {
	var out []Migration
	for _, mig := range all {
		if _, ok := applied[mig.Version]; !ok {
			out = append(out, mig)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// GetMigrations returns the embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_eschool_snapshots",
			UpSQL: `
CREATE TABLE IF NOT EXISTS eschool_snapshots (
    account  TEXT PRIMARY KEY,
    payload  BYTEA NOT NULL,
    saved_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
		},
		{
			Version: 2,
			Name:    "add_eschool_snapshots_sealed",
			UpSQL: `
ALTER TABLE eschool_snapshots
    ADD COLUMN IF NOT EXISTS sealed BOOLEAN NOT NULL DEFAULT FALSE;`,
		},
	}
}

package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresMigrator applies each migration and its record in one transaction.
type postgresMigrator struct {
	pool *pgxpool.Pool
}

func (p *postgresMigrator) EnsureSchemaMigrations(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			checksum   TEXT,
			applied_by TEXT
		)`)
	return err
}

func (p *postgresMigrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT version, name, applied_at, COALESCE(checksum, ''), COALESCE(applied_by, '')
		FROM schema_migrations
		ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AppliedMigration, error) {
		var am AppliedMigration
		err := row.Scan(&am.Version, &am.Name, &am.AppliedAt, &am.Checksum, &am.AppliedBy)
		return am, err
	})
}

func (p *postgresMigrator) Apply(ctx context.Context, m Migration, appliedBy string) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, m.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO schema_migrations (version, name, checksum, applied_by)
			VALUES ($1, $2, $3, $4)`,
			m.Version, m.Name, m.Checksum, appliedBy)
		if err != nil {
			return fmt.Errorf("recording migration: %w", err)
		}
		return nil
	})
}

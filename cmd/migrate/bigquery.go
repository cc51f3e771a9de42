package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// bigQueryMigrator applies migrations to a BigQuery dataset. BigQuery has no
// multi-statement transactions here, so a migration is executed and then recorded.
type bigQueryMigrator struct {
	client  *bigquery.Client
	project string
	dataset string
}

func (b *bigQueryMigrator) table() string {
	return fmt.Sprintf("`%s.%s.schema_migrations`", b.project, b.dataset)
}

// EnsureSchemaMigrations creates the schema_migrations table if it doesn't exist
func (b *bigQueryMigrator) EnsureSchemaMigrations(ctx context.Context) error {
	return b.run(ctx, b.client.Query(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`, b.table())))
}

// Applied retrieves the list of already applied migrations
func (b *bigQueryMigrator) Applied(ctx context.Context) ([]AppliedMigration, error) {
	query := b.client.Query(fmt.Sprintf(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM %s
		ORDER BY version ASC
	`, b.table()))
	it, err := query.Read(ctx)
	if err != nil {
		// If table doesn't exist yet, return empty list
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return []AppliedMigration{}, nil
		}
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64
			Name      string
			AppliedAt time.Time
			Checksum  bigquery.NullString
			AppliedBy bigquery.NullString
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}
	return applied, nil
}

func (b *bigQueryMigrator) Apply(ctx context.Context, m Migration, appliedBy string) error {
	if err := b.run(ctx, b.client.Query(m.SQL)); err != nil {
		return err
	}

	record := b.client.Query(fmt.Sprintf(`
		INSERT INTO %s
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`, b.table()))
	record.Parameters = []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	if err := b.run(ctx, record); err != nil {
		return fmt.Errorf("recording migration: %w", err)
	}
	return nil
}

// run executes a query job and waits for it to finish.
func (b *bigQueryMigrator) run(ctx context.Context, query *bigquery.Query) error {
	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}

	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

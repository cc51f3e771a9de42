package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dvloznov/finance-scheduler/internal/config"
	"github.com/dvloznov/finance-scheduler/internal/logger"
)

const (
	targetPostgres = "postgres"
	targetBigQuery = "bigquery"
)

var (
	target        = flag.String("target", targetPostgres, "Database to migrate: postgres or bigquery")
	configPath    = flag.String("config", os.Getenv("CONFIG_FILE"), "Path to a YAML config file")
	databaseURL   = flag.String("database-url", "", "Postgres URL (defaults to the configured database.url)")
	projectID     = flag.String("project", "", "GCP project ID (defaults to the configured archive.bigquery.project)")
	datasetID     = flag.String("dataset", "", "BigQuery dataset ID (defaults to the configured archive.bigquery.dataset)")
	appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
	migrationsDir = flag.String("migrations", "", "Path to migrations directory (defaults to migrations/<target>)")
)

func main() {
	flag.Parse()
	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	dir := *migrationsDir
	if dir == "" {
		dir = filepath.Join("migrations", *target)
	}

	var (
		migrator     Migrator
		placeholders map[string]string
	)
	switch *target {
	case targetPostgres:
		url := firstNonEmpty(*databaseURL, cfg.Database.URL)
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Postgres pool")
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Postgres")
		}
		migrator = &postgresMigrator{pool: pool}

	case targetBigQuery:
		project := firstNonEmpty(*projectID, cfg.Archive.BigQuery.Project)
		dataset := firstNonEmpty(*datasetID, cfg.Archive.BigQuery.Dataset)
		if project == "" {
			log.Fatal().Msg("Error: -project flag or BIGQUERY_PROJECT is required")
		}

		client, err := bigquery.NewClient(ctx, project)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create BigQuery client")
		}
		defer client.Close()

		log.Info().Str("project", project).Str("dataset", dataset).Msg("Connected to BigQuery")
		migrator = &bigQueryMigrator{client: client, project: project, dataset: dataset}
		placeholders = map[string]string{"PROJECT_ID": project, "DATASET_ID": dataset}

	default:
		log.Fatal().Str("target", *target).Msg("Unknown migration target")
	}

	migrations, err := readMigrations(dir, placeholders, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}

	count, err := migrate(ctx, migrator, migrations, *appliedBy, log)
	if err != nil {
		log.Fatal().Err(err).Int("applied", count).Msg("Migration failed")
	}

	if count == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", count).Msg("Successfully applied migrations")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

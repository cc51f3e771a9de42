package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Migrator applies migrations to one database and records them in its
// schema_migrations table.
type Migrator interface {
	EnsureSchemaMigrations(ctx context.Context) error
	Applied(ctx context.Context) ([]AppliedMigration, error)
	// Apply executes the migration and records it.
	Apply(ctx context.Context, m Migration, appliedBy string) error
}

// Pattern to match migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

// parseFilename returns the version and name encoded in a migration filename.
func parseFilename(filename string) (version int, name string, ok bool) {
	matches := migrationPattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

func checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// readMigrations reads all migration files from dir, sorted by version.
// Placeholders such as {{PROJECT_ID}} are replaced after the checksum is taken,
// so the same file applied to different datasets keeps one checksum.
func readMigrations(dir string, placeholders map[string]string, log zerolog.Logger) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		version, name, ok := parseFilename(file.Name())
		if !ok {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid format")
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, file.Name())
		}
		seen[version] = file.Name()

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		sql := string(content)
		for key, value := range placeholders {
			sql = strings.ReplaceAll(sql, "{{"+key+"}}", value)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: file.Name(),
			SQL:      sql,
			Checksum: checksum(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// migrate applies every migration not yet recorded. An applied migration
// whose file changed since is an error.
func migrate(ctx context.Context, m Migrator, migrations []Migration, appliedBy string, log zerolog.Logger) (int, error) {
	if err := m.EnsureSchemaMigrations(ctx); err != nil {
		return 0, fmt.Errorf("ensuring schema_migrations: %w", err)
	}

	applied, err := m.Applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting applied migrations: %w", err)
	}
	log.Info().Int("applied", len(applied)).Int("found", len(migrations)).Msg("Loaded migrations")

	appliedByVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		appliedByVersion[am.Version] = am
	}

	count := 0
	for _, migration := range migrations {
		mlog := log.With().Str("migration", fmt.Sprintf("%04d_%s", migration.Version, migration.Name)).Logger()

		if am, ok := appliedByVersion[migration.Version]; ok {
			if am.Checksum != "" && am.Checksum != migration.Checksum {
				return count, fmt.Errorf("migration %s changed after it was applied", migration.Filename)
			}
			mlog.Debug().Msg("Already applied")
			continue
		}

		mlog.Info().Msg("Applying migration")
		if err := m.Apply(ctx, migration, appliedBy); err != nil {
			return count, fmt.Errorf("applying %s: %w", migration.Filename, err)
		}
		count++
	}
	return count, nil
}

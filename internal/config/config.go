// Package config loads the scheduler configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config is the top-level scheduler configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Email     EmailConfig     `yaml:"email"`
	Insights  InsightsConfig  `yaml:"insights"`
	Archive   ArchiveConfig   `yaml:"archive"`
	HTTP      HTTPConfig      `yaml:"http"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DatabaseConfig selects and configures the store.
type DatabaseConfig struct {
	Store    string `yaml:"store"` // "postgres" or "memory"
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

// SchedulerConfig holds the cron expressions and the event bus tuning.
type SchedulerConfig struct {
	Timezone        string `yaml:"timezone"`
	RecurringCron   string `yaml:"recurring_cron"`
	BudgetAlertCron string `yaml:"budget_alert_cron"`
	MonthlyCron     string `yaml:"monthly_report_cron"`

	// BudgetThreshold is the percentage of the budget at which an alert fires.
	BudgetThreshold int `yaml:"budget_threshold"`

	Workers            int           `yaml:"workers"`
	QueueSize          int           `yaml:"queue_size"`
	MaxAttempts        int           `yaml:"max_attempts"`
	RetryBase          time.Duration `yaml:"retry_base"`
	PerUserConcurrency int64         `yaml:"per_user_concurrency"`
	PerUserRate        int           `yaml:"per_user_rate"` // events per minute, 0 disables
}

type EmailConfig struct {
	From         string `yaml:"from"`
	ResendAPIKey string `yaml:"resend_api_key"`
}

type InsightsConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	Model        string `yaml:"model"`
}

// ArchiveConfig enables the report sinks. A sink with an empty key field is off.
type ArchiveConfig struct {
	BigQuery BigQueryConfig `yaml:"bigquery"`
	GCS      GCSConfig      `yaml:"gcs"`
	Notion   NotionConfig   `yaml:"notion"`
}

type BigQueryConfig struct {
	Project string `yaml:"project"`
	Dataset string `yaml:"dataset"`
	Table   string `yaml:"table"`
}

type GCSConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type NotionConfig struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config with the production schedule and a local Postgres.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info"},
		Database: DatabaseConfig{
			Store:    StorePostgres,
			URL:      "postgres://localhost:5432/finance?sslmode=disable",
			MaxConns: 10,
		},
		Scheduler: SchedulerConfig{
			Timezone:           "UTC",
			RecurringCron:      "0 0 * * *",
			BudgetAlertCron:    "0 */6 * * *",
			MonthlyCron:        "0 0 1 * *",
			BudgetThreshold:    80,
			Workers:            5,
			QueueSize:          100,
			MaxAttempts:        2,
			RetryBase:          time.Second,
			PerUserConcurrency: 1,
			PerUserRate:        10,
		},
		Email:    EmailConfig{From: "Finance App <onboarding@resend.dev>"},
		Insights: InsightsConfig{Model: "gemini-2.5-flash"},
		Archive: ArchiveConfig{
			BigQuery: BigQueryConfig{Dataset: "finance", Table: "monthly_reports"},
			GCS:      GCSConfig{Prefix: "reports"},
		},
		HTTP: HTTPConfig{Addr: ":8080"},
	}
}

// Load reads an optional YAML file over the defaults, then applies .env and the
// process environment. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from environment variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DATABASE_URL":       &c.Database.URL,
		"STORE":              &c.Database.Store,
		"RESEND_API_KEY":     &c.Email.ResendAPIKey,
		"EMAIL_FROM":         &c.Email.From,
		"GEMINI_API_KEY":     &c.Insights.GeminiAPIKey,
		"GCS_BUCKET":         &c.Archive.GCS.Bucket,
		"BIGQUERY_PROJECT":   &c.Archive.BigQuery.Project,
		"NOTION_TOKEN":       &c.Archive.Notion.Token,
		"NOTION_DATABASE_ID": &c.Archive.Notion.DatabaseID,
		"HTTP_ADDR":          &c.HTTP.Addr,
		"LOG_LEVEL":          &c.Log.Level,
		"TZ_SCHEDULE":        &c.Scheduler.Timezone,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("BUDGET_THRESHOLD"); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSuffix(v, "%"))
		if err != nil {
			return fmt.Errorf("parsing BUDGET_THRESHOLD: %w", err)
		}
		c.Scheduler.BudgetThreshold = n
	}
	return nil
}

// Validate checks the fields the worker cannot start without.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Store {
	case StorePostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Database.Store))
	}
	if c.Scheduler.BudgetThreshold <= 0 || c.Scheduler.BudgetThreshold > 100 {
		errs = append(errs, fmt.Errorf("scheduler.budget_threshold must be in (0, 100], got %d", c.Scheduler.BudgetThreshold))
	}
	if c.Scheduler.Workers <= 0 {
		errs = append(errs, errors.New("scheduler.workers must be positive"))
	}
	if c.Scheduler.MaxAttempts <= 0 {
		errs = append(errs, errors.New("scheduler.max_attempts must be positive"))
	}
	if c.Scheduler.PerUserConcurrency <= 0 {
		errs = append(errs, errors.New("scheduler.per_user_concurrency must be positive"))
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
	}
	if c.Archive.Notion.Token != "" && c.Archive.Notion.DatabaseID == "" {
		errs = append(errs, errors.New("archive.notion.database_id is required when a token is set"))
	}
	return errors.Join(errs...)
}

// Location returns the scheduler time zone. Validate reports a bad name.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

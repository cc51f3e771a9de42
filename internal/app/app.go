// Package app assembles the scheduler components from configuration. The worker
// and the CLI share it so both run the same jobs against the same backends.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-scheduler/internal/archive"
	"github.com/dvloznov/finance-scheduler/internal/config"
	"github.com/dvloznov/finance-scheduler/internal/insights"
	"github.com/dvloznov/finance-scheduler/internal/jobs"
	jobsmem "github.com/dvloznov/finance-scheduler/internal/jobs/inmemory"
	"github.com/dvloznov/finance-scheduler/internal/notify"
	"github.com/dvloznov/finance-scheduler/internal/scheduler"
	"github.com/dvloznov/finance-scheduler/internal/store"
	"github.com/dvloznov/finance-scheduler/internal/store/inmemory"
	"github.com/dvloznov/finance-scheduler/internal/store/postgres"
	"github.com/dvloznov/finance-scheduler/internal/throttle"
)

// App holds the wired components. Optional integrations that are not
// configured fall back to local implementations: a LogSender instead of
// Resend, fallback insights instead of Gemini, and no archive sinks.
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	Store    store.Store
	Sender   notify.Sender
	Insights insights.Generator
	Archive  archive.Multi
	// History is the BigQuery sink when configured, for reading past reports.
	History *archive.BigQuerySink

	Processor *scheduler.Processor
	Budgets   *scheduler.BudgetAlerts
	Reports   *scheduler.MonthlyReports

	closers []io.Closer
}

// New opens the store and the configured integrations. On error everything
// opened so far is closed.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.open(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg, log := a.Config, a.Log

	switch cfg.Database.Store {
	case config.StoreMemory:
		a.Store = inmemory.New()
	default:
		pg, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return err
		}
		a.Store = pg
	}
	a.closers = append(a.closers, a.Store)

	if cfg.Email.ResendAPIKey != "" {
		a.Sender = notify.NewResendSender(cfg.Email.ResendAPIKey, cfg.Email.From)
	} else {
		log.Warn().Msg("RESEND_API_KEY not set, emails will only be logged")
		a.Sender = &notify.LogSender{Log: log}
	}

	if cfg.Insights.GeminiAPIKey != "" {
		gen, err := insights.NewGeminiGenerator(ctx, cfg.Insights.GeminiAPIKey, cfg.Insights.Model)
		if err != nil {
			return err
		}
		a.Insights = gen
	} else {
		log.Warn().Msg("GEMINI_API_KEY not set, monthly reports use fallback insights")
	}

	if err := a.openArchive(ctx); err != nil {
		return err
	}

	loc := cfg.Location()
	a.Processor = scheduler.NewProcessor(a.Store)
	a.Processor.Location = loc
	a.Budgets = scheduler.NewBudgetAlerts(a.Store, a.Sender, cfg.Scheduler.BudgetThreshold)
	a.Budgets.Location = loc
	a.Reports = scheduler.NewMonthlyReports(a.Store, a.Sender, a.Insights, a.archiveSink())
	a.Reports.Location = loc
	return nil
}

func (a *App) openArchive(ctx context.Context) error {
	ac := a.Config.Archive

	if ac.BigQuery.Project != "" {
		bq, err := archive.NewBigQuerySink(ctx, ac.BigQuery.Project, ac.BigQuery.Dataset, ac.BigQuery.Table)
		if err != nil {
			return err
		}
		a.History = bq
		a.Archive = append(a.Archive, bq)
		a.closers = append(a.closers, bq)
	}
	if ac.GCS.Bucket != "" {
		gcs, err := archive.NewGCSSink(ctx, ac.GCS.Bucket, ac.GCS.Prefix)
		if err != nil {
			return err
		}
		a.Archive = append(a.Archive, gcs)
		a.closers = append(a.closers, gcs)
	}
	if ac.Notion.Token != "" {
		a.Archive = append(a.Archive, archive.NewNotionSink(archive.NewNotionClient(ac.Notion.Token), ac.Notion.DatabaseID))
	}

	a.Log.Info().Int("sinks", len(a.Archive)).Msg("Report archive configured")
	return nil
}

func (a *App) archiveSink() archive.Sink {
	if len(a.Archive) == 0 {
		return nil
	}
	return a.Archive
}

// Schedule returns the configured cron expressions.
func (a *App) Schedule() scheduler.Schedule {
	return scheduler.Schedule{
		Recurring:      a.Config.Scheduler.RecurringCron,
		BudgetAlerts:   a.Config.Scheduler.BudgetAlertCron,
		MonthlyReports: a.Config.Scheduler.MonthlyCron,
	}
}

// NewQueue creates the event bus sized and throttled per configuration.
func (a *App) NewQueue(events jobs.EventStore) *jobsmem.Queue {
	sc := a.Config.Scheduler
	return jobsmem.NewQueue(jobsmem.Options{
		BufferSize:  sc.QueueSize,
		Workers:     sc.Workers,
		MaxAttempts: sc.MaxAttempts,
		RetryBase:   sc.RetryBase,
		Throttle:    throttle.New(sc.PerUserConcurrency, sc.PerUserRate),
		Store:       events,
	})
}

// NewTrigger creates the recurring trigger publishing to p.
func (a *App) NewTrigger(p jobs.Publisher) *scheduler.Trigger {
	t := scheduler.NewTrigger(a.Store, p)
	t.Location = a.Config.Location()
	return t
}

// Close releases the store and the archive clients.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing app: %w", err)
	}
	return nil
}

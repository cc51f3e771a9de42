package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-scheduler/internal/api"
	"github.com/dvloznov/finance-scheduler/internal/api/handlers"
	"github.com/dvloznov/finance-scheduler/internal/app"
	"github.com/dvloznov/finance-scheduler/internal/config"
	"github.com/dvloznov/finance-scheduler/internal/jobs/inmemory"
	"github.com/dvloznov/finance-scheduler/internal/logger"
	"github.com/dvloznov/finance-scheduler/internal/scheduler"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to a YAML config file (or set CONFIG_FILE env)")
	flag.Parse()

	boot := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		boot.Fatal().Err(err).Msg("Invalid config")
	}

	log, err := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	if err != nil {
		log.Warn().Err(err).Str("level", cfg.Log.Level).Msg("Unknown log level, using info")
	}

	// Create context that cancels on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.Close()

	// Event bus: trigger publishes, processor consumes
	events := inmemory.NewStore()
	queue := a.NewQueue(events)
	if err := queue.Start(ctx, a.Processor.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start event consumer")
	}
	trigger := a.NewTrigger(queue)

	crons := scheduler.NewCron(ctx, cfg.Location(), log)
	if err := crons.Register(a.Schedule(), trigger, a.Budgets, a.Reports); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule jobs")
	}
	crons.Start()

	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.NewRouter(log, events, &handlers.TriggersHandler{
			Recurring: trigger,
			Budgets:   a.Budgets,
			Reports:   a.Reports,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("Starting admin server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Admin server failed")
		}
	}()

	log.Info().
		Str("store", cfg.Database.Store).
		Str("timezone", cfg.Scheduler.Timezone).
		Str("recurring_cron", cfg.Scheduler.RecurringCron).
		Str("budget_alert_cron", cfg.Scheduler.BudgetAlertCron).
		Str("monthly_report_cron", cfg.Scheduler.MonthlyCron).
		Msg("Scheduler started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down scheduler...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// No new job runs; wait for the running ones
	select {
	case <-crons.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn().Msg("Timed out waiting for running jobs")
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Admin server forced to shutdown")
	}

	// Stop the queue and wait for in-flight events
	if err := queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Scheduler exited")
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-scheduler/internal/api/handlers"
	"github.com/dvloznov/finance-scheduler/internal/app"
	"github.com/dvloznov/finance-scheduler/internal/archive"
	"github.com/dvloznov/finance-scheduler/internal/config"
	"github.com/dvloznov/finance-scheduler/internal/domain"
	"github.com/dvloznov/finance-scheduler/internal/jobs"
	"github.com/dvloznov/finance-scheduler/internal/logger"
	"github.com/dvloznov/finance-scheduler/internal/recurrence"
	"github.com/dvloznov/finance-scheduler/internal/scheduler"
)

// openApp is replaced in tests.
var openApp = app.New

type rootOptions struct {
	configPath string
	timeout    time.Duration
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "finance-scheduler",
		Short: "Run the recurring transaction, budget alert and monthly report jobs once",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Abort the command after this long")

	rootCmd.AddCommand(
		newTriggerCommand(opts),
		newProcessCommand(opts),
		newCheckBudgetsCommand(opts),
		newMonthlyReportsCommand(opts),
		newNextDateCommand(),
		newReportsCommand(opts),
		newConfigCommand(),
	)
	return rootCmd
}

// withApp loads the configuration, builds the components and runs fn with a
// context carrying the logger.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON, Out: cmd.ErrOrStderr()})
	if err != nil {
		log.Warn().Err(err).Msg("Unknown log level, using info")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	a, err := openApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newTriggerCommand(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Process every due recurring transaction now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				pub := &inlinePublisher{log: logger.FromContext(ctx)}
				if !dryRun {
					pub.handler = a.Processor.Handle
				}
				res, err := a.NewTrigger(pub).Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Triggered %d recurring transactions\n", res.Triggered)
				if pub.failed > 0 {
					return fmt.Errorf("%d of %d events failed", pub.failed, res.Triggered)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List due transactions without processing them")
	return cmd
}

// inlinePublisher delivers each event to handler synchronously. A nil handler
// only logs the events.
type inlinePublisher struct {
	handler jobs.Handler
	log     zerolog.Logger
	failed  int
}

func (p *inlinePublisher) Send(ctx context.Context, events ...*jobs.Event) error {
	for _, e := range events {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		p.log.Info().
			Str("event_id", e.ID).
			Str("transaction_id", e.Data.TransactionID).
			Str("user_id", e.Data.UserID).
			Msg("Due recurring transaction")
		if p.handler == nil {
			continue
		}
		if err := p.handler(ctx, e); err != nil {
			p.failed++
		}
	}
	return nil
}

func (p *inlinePublisher) Close() error { return nil }

func newProcessCommand(opts *rootOptions) *cobra.Command {
	var txID, userID string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process one recurring transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				res, err := a.Processor.Process(ctx, jobs.EventData{TransactionID: txID, UserID: userID})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Outcome:        %s\n", res.Outcome)
				if res.Outcome == scheduler.OutcomeProcessed {
					fmt.Fprintf(out, "Occurrence:     %s\n", res.OccurrenceID)
					fmt.Fprintf(out, "Balance change: %s\n", res.BalanceChange.StringFixed(2))
					fmt.Fprintf(out, "Next date:      %s\n", res.NextRecurringDate)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&txID, "transaction-id", "", "Recurring transaction ID")
	cmd.Flags().StringVar(&userID, "user-id", "", "Owner of the transaction")
	_ = cmd.MarkFlagRequired("transaction-id")
	_ = cmd.MarkFlagRequired("user-id")
	return cmd
}

func newCheckBudgetsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check-budgets",
		Short: "Send budget alerts for this month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				res, err := a.Budgets.Run(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Checked %d budgets: %d alerted, %d skipped, %d failed\n",
					res.Checked, res.Alerted, res.Skipped, res.Failed)
				return nil
			})
		},
	}
}

func newMonthlyReportsCommand(opts *rootOptions) *cobra.Command {
	var month string
	cmd := &cobra.Command{
		Use:   "monthly-reports",
		Short: "Send monthly reports, for the previous month by default",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var target *civil.Date
			if month != "" {
				d, err := handlers.ParseMonth(month)
				if err != nil {
					return fmt.Errorf("--month must look like 2006-01: %w", err)
				}
				target = &d
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				var (
					res scheduler.ReportsResult
					err error
				)
				if target != nil {
					res, err = a.Reports.RunForMonth(ctx, *target)
				} else {
					res, err = a.Reports.Run(ctx)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d users, %d sent, %d archived, %d failed\n",
					res.Month, res.Users, res.Sent, res.Archived, res.Failed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "Month to report on, as 2006-01")
	return cmd
}

func newNextDateCommand() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "next-date <date> <interval>",
		Short: "Print the next recurring dates after a date",
		Long:  "Print the next recurring dates after <date> (2006-01-02) for DAILY, WEEKLY, MONTHLY or YEARLY.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := civil.ParseDate(args[0])
			if err != nil {
				return fmt.Errorf("invalid date %q: %w", args[0], err)
			}
			interval := domain.Interval(strings.ToUpper(args[1]))
			day := d.Day
			for i := 0; i < count; i++ {
				if d, err = recurrence.NextOnDay(d, interval, day); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 1, "How many dates to print")
	return cmd
}

func newReportsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "Inspect archived monthly reports",
	}

	var userID string
	var limit int
	history := &cobra.Command{
		Use:   "history",
		Short: "List a user's archived reports from BigQuery",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
				if a.History == nil {
					return errors.New("BigQuery archive is not configured (set BIGQUERY_PROJECT)")
				}
				rows, err := a.History.History(ctx, userID, limit)
				if err != nil {
					return err
				}
				printHistory(cmd.OutOrStdout(), rows)
				return nil
			})
		},
	}
	history.Flags().StringVar(&userID, "user-id", "", "User whose reports to list")
	history.Flags().IntVar(&limit, "limit", 12, "Maximum number of reports")
	_ = history.MarkFlagRequired("user-id")

	cmd.AddCommand(history)
	return cmd
}

func printHistory(out io.Writer, rows []*archive.ReportRow) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No reports archived.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PERIOD\tINCOME\tEXPENSES\tNET\tTRANSACTIONS")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			r.Period.String()[:7],
			r.TotalIncome.FloatString(2),
			r.TotalExpenses.FloatString(2),
			r.Net.FloatString(2),
			r.TransactionCount)
	}
	_ = tw.Flush()
}

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init <path>",
		Short: "Write the default configuration to a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(args[0], config.Default()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", args[0])
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Load and validate the configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			for _, spec := range []string{cfg.Scheduler.RecurringCron, cfg.Scheduler.BudgetAlertCron, cfg.Scheduler.MonthlyCron} {
				if err := scheduler.ValidateSpec(spec); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Config OK")
			return nil
		},
	})
	return cmd
}

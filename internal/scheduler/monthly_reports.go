package scheduler

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/dvloznov/finance-scheduler/internal/archive"
	"github.com/dvloznov/finance-scheduler/internal/domain"
	"github.com/dvloznov/finance-scheduler/internal/insights"
	"github.com/dvloznov/finance-scheduler/internal/logger"
	"github.com/dvloznov/finance-scheduler/internal/notify"
	"github.com/dvloznov/finance-scheduler/internal/store"
)

// ReportsResult counts what one monthly report run did.
type ReportsResult struct {
	Month    string `json:"month"`
	Users    int    `json:"users"`
	Sent     int    `json:"sent"`
	Archived int    `json:"archived"`
	Failed   int    `json:"failed"`
}

// MonthlyReports summarizes the previous month for every user, mails the
// summary and hands it to the archive.
type MonthlyReports struct {
	Clock
	store    store.Store
	sender   notify.Sender
	insights insights.Generator
	archive  archive.Sink
}

// NewMonthlyReports creates a report job. gen is wrapped so that it never
// fails; a nil sink disables archiving.
func NewMonthlyReports(s store.Store, sender notify.Sender, gen insights.Generator, sink archive.Sink) *MonthlyReports {
	return &MonthlyReports{
		store:    s,
		sender:   sender,
		insights: insights.WithFallback(gen),
		archive:  sink,
	}
}

// Run reports on the calendar month before now.
func (m *MonthlyReports) Run(ctx context.Context) (ReportsResult, error) {
	now := m.now()
	first := civil.Date{Year: now.Year(), Month: now.Month(), Day: 1}
	return m.RunForMonth(ctx, addMonths(first, -1))
}

// RunForMonth reports on the calendar month containing month.
func (m *MonthlyReports) RunForMonth(ctx context.Context, month civil.Date) (ReportsResult, error) {
	log := logger.FromContext(ctx)
	from := time.Date(month.Year, month.Month, 1, 0, 0, 0, 0, m.location())
	to := from.AddDate(0, 1, 0)
	label := from.Format("January 2006")

	users, err := m.store.ListUsers(ctx)
	if err != nil {
		return ReportsResult{}, fmt.Errorf("listing users: %w", err)
	}

	res := ReportsResult{Month: label}
	for _, u := range users {
		res.Users++
		ulog := log.With().Str("user_id", u.ID).Logger()
		uctx := logger.WithContext(ctx, ulog)

		report, html, err := m.build(uctx, u, from, to, label)
		if err != nil {
			res.Failed++
			ulog.Error().Err(err).Msg("Failed to build monthly report")
			continue
		}

		if err := m.sender.Send(uctx, notify.Message{
			To:      u.Email,
			Subject: notify.MonthlyReportSubject(label),
			HTML:    html,
			Tag:     notify.TagMonthlyReport,
		}); err != nil {
			res.Failed++
			ulog.Error().Err(err).Msg("Failed to send monthly report")
		} else {
			res.Sent++
		}

		if m.archive != nil {
			if err := m.archive.Put(uctx, report, html); err != nil {
				ulog.Warn().Err(err).Msg("Monthly report not fully archived")
			} else {
				res.Archived++
			}
		}
	}

	log.Info().
		Str("month", label).
		Int("users", res.Users).
		Int("sent", res.Sent).
		Int("failed", res.Failed).
		Msg("Monthly reports finished")
	return res, nil
}

func (m *MonthlyReports) build(ctx context.Context, u domain.User, from, to time.Time, label string) (*domain.MonthlyReport, string, error) {
	stats, err := m.store.MonthlyStats(ctx, u.ID, from, to)
	if err != nil {
		return nil, "", fmt.Errorf("loading stats: %w", err)
	}

	tips, err := m.insights.Generate(ctx, stats, label)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("user_id", u.ID).Msg("Insights unavailable, using fallback insights")
		tips = append([]string(nil), insights.Fallback...)
	}

	report := &domain.MonthlyReport{
		ID:          uuid.NewString(),
		User:        u,
		Stats:       stats,
		Insights:    tips,
		GeneratedAt: m.now(),
	}

	html, err := notify.RenderMonthlyReport(notify.MonthlyReportData{
		UserName:      u.Name,
		Month:         label,
		TotalIncome:   stats.TotalIncome,
		TotalExpenses: stats.TotalExpenses,
		Net:           stats.Net(),
		Categories:    notify.SortedCategories(stats.ByCategory),
		Insights:      tips,
	})
	if err != nil {
		return nil, "", err
	}
	return report, html, nil
}

func addMonths(d civil.Date, n int) civil.Date {
	t := time.Date(d.Year, d.Month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return civil.Date{Year: t.Year(), Month: t.Month(), Day: 1}
}

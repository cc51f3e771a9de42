package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-scheduler/internal/domain"
	"github.com/dvloznov/finance-scheduler/internal/logger"
	"github.com/dvloznov/finance-scheduler/internal/notify"
	"github.com/dvloznov/finance-scheduler/internal/store"
)

// DefaultBudgetThreshold is the share of the budget, in percent, that triggers an alert.
const DefaultBudgetThreshold = 80

var hundred = decimal.NewFromInt(100)

// BudgetAlertResult counts what one check did.
type BudgetAlertResult struct {
	Checked int `json:"checked"`
	Alerted int `json:"alerted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// BudgetAlerts emails users whose default account spending this month reached
// the threshold, at most once per calendar month. The month is claimed in the
// store before the email goes out, so overlapping runs send a single alert.
type BudgetAlerts struct {
	Clock
	store     store.Store
	sender    notify.Sender
	threshold decimal.Decimal
}

// NewBudgetAlerts creates a checker. A threshold <= 0 uses DefaultBudgetThreshold.
func NewBudgetAlerts(s store.Store, sender notify.Sender, thresholdPercent int) *BudgetAlerts {
	if thresholdPercent <= 0 {
		thresholdPercent = DefaultBudgetThreshold
	}
	return &BudgetAlerts{store: s, sender: sender, threshold: decimal.NewFromInt(int64(thresholdPercent))}
}

// PercentageUsed returns spent / budget * 100. ok is false for a non-positive budget.
func PercentageUsed(spent, budget decimal.Decimal) (pct decimal.Decimal, ok bool) {
	if !budget.IsPositive() {
		return decimal.Zero, false
	}
	return spent.Mul(hundred).Div(budget), true
}

// Run checks every budget. Failures on one budget are logged and counted; only
// a failure to list budgets is returned.
func (b *BudgetAlerts) Run(ctx context.Context) (BudgetAlertResult, error) {
	log := logger.FromContext(ctx)
	now := b.now()

	owners, err := b.store.ListBudgetOwners(ctx)
	if err != nil {
		return BudgetAlertResult{}, fmt.Errorf("listing budgets: %w", err)
	}

	var res BudgetAlertResult
	for i := range owners {
		res.Checked++
		alerted, err := b.check(ctx, &owners[i])
		switch {
		case err != nil:
			res.Failed++
			log.Error().Err(err).
				Str("budget_id", owners[i].Budget.ID).
				Str("user_id", owners[i].User.ID).
				Msg("Budget alert check failed")
		case alerted:
			res.Alerted++
		default:
			res.Skipped++
		}
	}

	log.Info().
		Int("checked", res.Checked).
		Int("alerted", res.Alerted).
		Int("failed", res.Failed).
		Time("now", now).
		Msg("Budget alert check finished")
	return res, nil
}

func (b *BudgetAlerts) check(ctx context.Context, o *domain.BudgetOwner) (bool, error) {
	if o.DefaultAccount == nil {
		return false, nil
	}
	now := b.now()
	if o.Budget.AlertedInMonthOf(now) {
		return false, nil
	}

	from, to := domain.MonthBounds(now)
	spent, err := b.store.SumExpenses(ctx, o.User.ID, o.DefaultAccount.ID, from, to)
	if err != nil {
		return false, fmt.Errorf("summing expenses: %w", err)
	}

	pct, ok := PercentageUsed(spent, o.Budget.Amount)
	if !ok || pct.LessThan(b.threshold) {
		return false, nil
	}

	html, err := notify.RenderBudgetAlert(notify.BudgetAlertData{
		UserName:       o.User.Name,
		AccountName:    o.DefaultAccount.Name,
		PercentageUsed: pct,
		BudgetAmount:   o.Budget.Amount,
		TotalExpenses:  spent,
	})
	if err != nil {
		return false, err
	}

	claimed, err := b.store.ClaimBudgetAlert(ctx, o.Budget.ID, now)
	if err != nil {
		return false, fmt.Errorf("claiming alert: %w", err)
	}
	if !claimed {
		return false, nil
	}

	// A failed send gives the month back so the next run retries it.
	if err := b.sender.Send(ctx, notify.Message{
		To:      o.User.Email,
		Subject: notify.BudgetAlertSubject(o.DefaultAccount.Name),
		HTML:    html,
		Tag:     notify.TagBudgetAlert,
	}); err != nil {
		err = fmt.Errorf("sending alert: %w", err)
		if rerr := b.store.ReleaseBudgetAlert(ctx, o.Budget.ID, now, o.Budget.LastAlertSent); rerr != nil {
			err = errors.Join(err, fmt.Errorf("releasing alert: %w", rerr))
		}
		return false, err
	}
	return true, nil
}

// Package archive stores generated monthly reports outside the primary database.
package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-scheduler/internal/domain"
	"github.com/dvloznov/finance-scheduler/internal/logger"
)

// Sink persists a rendered monthly report.
type Sink interface {
	Put(ctx context.Context, report *domain.MonthlyReport, html string) error
}

// Multi writes to every sink and joins their errors. One failing sink does not
// stop the others.
type Multi []Sink

var _ Sink = Multi(nil)

func (m Multi) Put(ctx context.Context, report *domain.MonthlyReport, html string) error {
	log := logger.FromContext(ctx)
	var errs []error
	for _, s := range m {
		if err := s.Put(ctx, report, html); err != nil {
			log.Error().Err(err).
				Str("sink", fmt.Sprintf("%T", s)).
				Str("user_id", report.User.ID).
				Str("report_id", report.ID).
				Msg("Failed to archive report")
			errs = append(errs, fmt.Errorf("%T: %w", s, err))
		}
	}
	return errors.Join(errs...)
}

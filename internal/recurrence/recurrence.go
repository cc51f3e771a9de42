// Package recurrence computes the scheduling dates of recurring transactions.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-scheduler/internal/domain"
)

// ErrInvalidInterval is returned for an interval that is not one of the known values.
var ErrInvalidInterval = errors.New("invalid recurrence interval")

// Next returns the date one interval after d. Month and year steps keep the day of
// month where it exists and clamp to the last day of the target month otherwise,
// so Jan 31 + MONTHLY is Feb 29 in a leap year.
func Next(d civil.Date, interval domain.Interval) (civil.Date, error) {
	return NextOnDay(d, interval, d.Day)
}

// NextOnDay is Next for a schedule whose month and year steps land on day,
// clamped to the length of the target month. Repeated steps with the same day
// do not drift: from Jan 31 they give Feb 29, Mar 31, Apr 30. A day outside
// 1..31 uses d.Day. Daily and weekly steps ignore day.
func NextOnDay(d civil.Date, interval domain.Interval, day int) (civil.Date, error) {
	if day < 1 || day > 31 {
		day = d.Day
	}
	switch interval {
	case domain.IntervalDaily:
		return d.AddDays(1), nil
	case domain.IntervalWeekly:
		return d.AddDays(7), nil
	case domain.IntervalMonthly:
		return addMonths(d, 1, day), nil
	case domain.IntervalYearly:
		return addMonths(d, 12, day), nil
	default:
		return civil.Date{}, fmt.Errorf("%w: %q", ErrInvalidInterval, interval)
	}
}

// NextAfter advances from anchor by whole intervals until the result is strictly
// after today. It always advances at least once. Month and year steps land on
// day as in NextOnDay.
func NextAfter(anchor, today civil.Date, interval domain.Interval, day int) (civil.Date, error) {
	next, err := NextOnDay(anchor, interval, day)
	if err != nil {
		return civil.Date{}, err
	}
	for !next.After(today) {
		if next, err = NextOnDay(next, interval, day); err != nil {
			return civil.Date{}, err
		}
	}
	return next, nil
}

// ScheduleDay returns the day of month a schedule currently at scheduled should
// keep. When scheduled sits on the last day of a month shorter than booked's
// day, it was clamped, and booked's day is restored.
func ScheduleDay(scheduled, booked civil.Date) int {
	if booked.Day > scheduled.Day && scheduled.Day == daysIn(scheduled.Year, scheduled.Month) {
		return booked.Day
	}
	return scheduled.Day
}

// Validate reports whether interval is a known recurrence interval.
func Validate(interval domain.Interval) error {
	_, err := Next(civil.Date{Year: 2000, Month: time.January, Day: 1}, interval)
	return err
}

func addMonths(d civil.Date, n, day int) civil.Date {
	total := int(d.Month) - 1 + n
	year := d.Year + total/12
	month := time.Month(total%12 + 1)

	if last := daysIn(year, month); day > last {
		day = last
	}
	return civil.Date{Year: year, Month: month, Day: day}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

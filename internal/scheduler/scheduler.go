// Package scheduler runs the recurring transaction, budget alert and monthly
// report jobs.
package scheduler

import "time"

// Clock supplies the current time in the scheduling time zone. The zero value
// uses time.Now in UTC.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

func (c Clock) now() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().In(c.location())
}

func (c Clock) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// FixedClock always reports t.
func FixedClock(t time.Time) Clock {
	return Clock{Now: func() time.Time { return t }, Location: t.Location()}
}

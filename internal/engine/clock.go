package engine

import (
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule marks a schedule expression that cannot be parsed.
// Such a monitor is never due until the expression is corrected.
var ErrInvalidSchedule = errors.New("invalid schedule expression")

// Five-field cron only: minute, hour, day-of-month, month, day-of-week.
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Clock computes next-due times from cron expressions. It is stateless:
// a pure function of expression and reference time, so "already ran this
// tick" bookkeeping stays with the dispatcher.
type Clock struct {
	loc *time.Location
}

func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = time.Local
	}
	return &Clock{loc: loc}
}

// Next returns the first due time strictly after the reference time.
func (c *Clock) Next(expr string, after time.Time) (time.Time, error) {
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidSchedule, "%q: %v", expr, err)
	}
	return sched.Next(after.In(c.loc)), nil
}

// ValidateSchedule reports whether expr is a well-formed five-field cron
// expression. Used by the management API at write time.
func ValidateSchedule(expr string) error {
	if _, err := scheduleParser.Parse(expr); err != nil {
		return errors.Wrapf(ErrInvalidSchedule, "%q: %v", expr, err)
	}
	return nil
}
